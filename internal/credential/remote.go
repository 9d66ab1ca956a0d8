package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/todoman/internal/model"
)

const (
	// defaultRemoteTimeout は認証プロバイダへのリクエストのタイムアウト。
	defaultRemoteTimeout = 5 * time.Second
	// maxRemoteBodySize はプロバイダのレスポンスとして読み込む最大バイト数。
	maxRemoteBodySize = 1 << 20
)

// RemoteConfig はRemoteStoreの設定。
type RemoteConfig struct {
	BaseURL string        // 例: https://xxxx.supabase.co/auth/v1
	APIKey  string        // apikeyヘッダーに設定する公開キー
	Timeout time.Duration // 0の場合はdefaultRemoteTimeout
}

// RemoteStore はGoTrue互換の外部認証プロバイダに本人確認を委譲するCredential Store。
// 同一トークンに対する同時のVerifyはsingleflightで1回の問い合わせにまとめる。
//
// プロバイダがレート制限やエラーを返した場合はErrUnavailableを返し、
// 仮のユーザーを作ることはしない。
type RemoteStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	verifies   singleflight.Group
}

// NewRemoteStore はRemoteStoreを生成する。
func NewRemoteStore(cfg RemoteConfig, logger *slog.Logger) (*RemoteStore, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("credential provider URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &RemoteStore{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// remoteUser はプロバイダのユーザー表現。
type remoteUser struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	CreatedAt    time.Time `json:"created_at"`
	UserMetadata struct {
		Name string `json:"name"`
	} `json:"user_metadata"`
}

func (u *remoteUser) toModel() *model.User {
	return &model.User{
		ID:        u.ID,
		Email:     model.NormalizeEmail(u.Email),
		Name:      u.UserMetadata.Name,
		CreatedAt: u.CreatedAt,
	}
}

// remoteSession は/tokenおよび/signupのレスポンス。
// メール確認が必要な設定の/signupはユーザーのみをトップレベルに返す。
type remoteSession struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int64       `json:"expires_in"`
	ExpiresAt   int64       `json:"expires_at"`
	User        *remoteUser `json:"user"`
	remoteUser
}

// remoteError はプロバイダのエラーレスポンス。バージョンによりキーが異なる。
type remoteError struct {
	ErrorCode        string `json:"error_code"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e *remoteError) text() string {
	return strings.ToLower(strings.Join([]string{
		e.ErrorCode, e.Error, e.ErrorDescription, e.Msg, e.Message,
	}, " "))
}

// statusError はプロバイダが2xx以外を返したことを表す。
type statusError struct {
	status int
	body   remoteError
}

func (e *statusError) Error() string {
	return fmt.Sprintf("credential provider returned status %d", e.status)
}

// Register はプロバイダにユーザーを登録する。
func (s *RemoteStore) Register(ctx context.Context, email, pw, name string) (*model.User, error) {
	user, _, err := s.RegisterWithSession(ctx, email, pw, name)
	return user, err
}

// RegisterWithSession はプロバイダにユーザーを登録し、/signupがセッションを返した場合はそのトークンも返す。
// メール確認が必要な設定ではトークンはnilになる。
func (s *RemoteStore) RegisterWithSession(ctx context.Context, email, pw, name string) (*model.User, *model.Token, error) {
	email = model.NormalizeEmail(email)
	if err := ValidateRegistration(email, pw, name); err != nil {
		return nil, nil, err
	}

	payload := map[string]any{
		"email":    email,
		"password": pw,
		"data":     map[string]string{"name": strings.TrimSpace(name)},
	}

	var session remoteSession
	err := s.do(ctx, http.MethodPost, "/signup", "", payload, &session)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && (se.status == http.StatusBadRequest || se.status == http.StatusUnprocessableEntity) {
			if strings.Contains(se.body.text(), "already") || se.body.ErrorCode == "user_already_exists" {
				return nil, nil, ErrEmailTaken
			}
			return nil, nil, fmt.Errorf("%w: %s", ErrInvalidInput, se.body.text())
		}
		return nil, nil, s.unavailable("signup", err)
	}

	u := session.User
	if u == nil {
		u = &session.remoteUser
	}
	if u.ID == "" {
		return nil, nil, s.unavailable("signup", errors.New("response has no user id"))
	}

	user := u.toModel()
	if session.AccessToken == "" {
		return user, nil, nil
	}
	return user, &model.Token{
		Value:     session.AccessToken,
		UserID:    user.ID,
		ExpiresAt: session.expiry(time.Now()),
	}, nil
}

// Authenticate はパスワードグラントでトークンを取得する。
func (s *RemoteStore) Authenticate(ctx context.Context, email, pw string) (*model.User, *model.Token, error) {
	payload := map[string]string{
		"email":    model.NormalizeEmail(email),
		"password": pw,
	}

	var session remoteSession
	err := s.do(ctx, http.MethodPost, "/token?grant_type=password", "", payload, &session)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && (se.status == http.StatusBadRequest || se.status == http.StatusUnauthorized) {
			if se.body.ErrorCode == "email_not_confirmed" || strings.Contains(se.body.text(), "not confirmed") {
				return nil, nil, ErrConfirmationRequired
			}
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, s.unavailable("token", err)
	}
	if session.AccessToken == "" || session.User == nil || session.User.ID == "" {
		return nil, nil, s.unavailable("token", errors.New("response has no session"))
	}

	user := session.User.toModel()
	return user, &model.Token{
		Value:     session.AccessToken,
		UserID:    user.ID,
		ExpiresAt: session.expiry(time.Now()),
	}, nil
}

// Verify はトークンでユーザーを取得する。
func (s *RemoteStore) Verify(ctx context.Context, raw string) (*model.User, error) {
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	// 呼び出し元の1つがキャンセルしても他の待機者を巻き込まないよう、
	// 問い合わせはキャンセルを切り離したコンテキストで行う（上限はhttp.Client.Timeout）。
	v, err, _ := s.verifies.Do(raw, func() (any, error) {
		var u remoteUser
		if err := s.do(context.WithoutCancel(ctx), http.MethodGet, "/user", raw, nil, &u); err != nil {
			return nil, err
		}
		return &u, nil
	})
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && (se.status == http.StatusUnauthorized || se.status == http.StatusForbidden) {
			if strings.Contains(se.body.text(), "expired") {
				return nil, ErrTokenExpired
			}
			return nil, ErrTokenInvalid
		}
		return nil, s.unavailable("user", err)
	}

	u := v.(*remoteUser)
	if u.ID == "" {
		return nil, ErrTokenInvalid
	}
	return u.toModel(), nil
}

// Revoke はプロバイダのセッションを終了する。
func (s *RemoteStore) Revoke(ctx context.Context, raw string) error {
	err := s.do(ctx, http.MethodPost, "/logout", raw, nil, nil)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && (se.status == http.StatusUnauthorized || se.status == http.StatusForbidden || se.status == http.StatusNotFound) {
			// 既に無効なセッション
			return nil
		}
		return s.unavailable("logout", err)
	}
	return nil
}

// do はプロバイダにJSONリクエストを送り、2xxの場合にoutへデコードする。
func (s *RemoteStore) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBodySize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &statusError{status: resp.StatusCode}
		_ = json.Unmarshal(data, &se.body)
		return se
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// unavailable はプロバイダ障害をログに記録し、ErrUnavailableとして返す。
// トークンやパスワードはログに含めない。
func (s *RemoteStore) unavailable(op string, err error) error {
	attrs := []any{
		slog.String("op", op),
		slog.String("error", err.Error()),
	}
	var se *statusError
	if errors.As(err, &se) {
		attrs = append(attrs, slog.Int("http_status", se.status))
	}
	s.logger.Error("credential provider unavailable", attrs...)
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func (s *remoteSession) expiry(now time.Time) time.Time {
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}
	if s.ExpiresIn > 0 {
		return now.Add(time.Duration(s.ExpiresIn) * time.Second)
	}
	return now.Add(time.Hour)
}

// compile-time interface check
var (
	_ Store            = (*RemoteStore)(nil)
	_ SessionRegistrar = (*RemoteStore)(nil)
)
