// Package auth はユーザー登録・ログイン・ログアウトと、ベアラートークンからの本人確認を提供する。
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/todoman/internal/credential"
	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/model"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	Timeout time.Duration // Credential Store呼び出しのタイムアウト
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	store   credential.Store
	config  ServiceConfig
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewService はServiceを生成する。
func NewService(store credential.Store, config ServiceConfig, mc metrics.MetricsCollector, logger *slog.Logger) *Service {
	return &Service{store: store, config: config, metrics: mc, logger: logger}
}

// Register はユーザーを登録し、トークンを発行する。
// Storeが登録時にセッションを返せる場合はそのトークンを使い、それ以外は続けてログインする。
// 登録済みでもメール確認待ちでトークンがない場合はCONFIRMATION_REQUIREDを返す。
func (s *Service) Register(ctx context.Context, email, password, name string) (*model.User, *model.Token, error) {
	email = model.NormalizeEmail(email)
	if err := credential.ValidateRegistration(email, password, name); err != nil {
		s.metrics.RecordAuthEvent("register", metrics.ResultFailure)
		return nil, nil, s.mapError("register", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	user, tok, err := s.register(ctx, email, password, strings.TrimSpace(name))
	if err != nil {
		s.metrics.RecordAuthEvent("register", metrics.ResultFailure)
		return nil, nil, s.mapError("register", err)
	}

	s.metrics.RecordAuthEvent("register", metrics.ResultSuccess)
	s.logger.Info("user registered", slog.String("user_id", user.ID))
	return user, tok, nil
}

func (s *Service) register(ctx context.Context, email, password, name string) (*model.User, *model.Token, error) {
	if reg, ok := s.store.(credential.SessionRegistrar); ok {
		user, tok, err := reg.RegisterWithSession(ctx, email, password, name)
		if err != nil {
			return nil, nil, err
		}
		if tok == nil {
			s.logger.Info("user registered, awaiting email confirmation", slog.String("user_id", user.ID))
			return nil, nil, credential.ErrConfirmationRequired
		}
		return user, tok, nil
	}

	user, err := s.store.Register(ctx, email, password, name)
	if err != nil {
		return nil, nil, err
	}
	_, tok, err := s.store.Authenticate(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}
	return user, tok, nil
}

// Login はメールアドレスとパスワードでログインする。
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, *model.Token, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return nil, nil, model.NewValidationError("email", "メールアドレスは必須です")
	}
	if password == "" {
		return nil, nil, model.NewValidationError("password", "パスワードは必須です")
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	user, tok, err := s.store.Authenticate(ctx, email, password)
	if err != nil {
		s.metrics.RecordAuthEvent("login", metrics.ResultFailure)
		return nil, nil, s.mapError("login", err)
	}

	s.metrics.RecordAuthEvent("login", metrics.ResultSuccess)
	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	return user, tok, nil
}

// Logout はトークンを失効させる。
func (s *Service) Logout(ctx context.Context, userID, rawToken string) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	if err := s.store.Revoke(ctx, rawToken); err != nil {
		s.metrics.RecordAuthEvent("logout", metrics.ResultFailure)
		return s.mapError("logout", err)
	}

	s.metrics.RecordAuthEvent("logout", metrics.ResultSuccess)
	s.logger.Info("user logged out", slog.String("user_id", userID))
	return nil
}

// mapError はCredential Storeのエラーを統一エラーに変換する。
// 依存先の障害はログに記録し、利用者には汎用的なエラーのみを返す。
func (s *Service) mapError(op string, err error) error {
	var inputErr *credential.InputError
	switch {
	case errors.As(err, &inputErr):
		return model.NewValidationError(inputErr.Field, inputErr.Reason)
	case errors.Is(err, credential.ErrInvalidInput):
		return model.NewValidationError("input", "入力内容が不正です")
	case errors.Is(err, credential.ErrEmailTaken):
		return model.NewEmailTakenError()
	case errors.Is(err, credential.ErrInvalidCredentials):
		return model.NewInvalidCredentialsError()
	case errors.Is(err, credential.ErrConfirmationRequired):
		return model.NewConfirmationRequiredError()
	case errors.Is(err, credential.ErrTokenInvalid), errors.Is(err, credential.ErrTokenExpired):
		return model.NewUnauthorizedError()
	case errors.Is(err, credential.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		s.logger.Error("credential store unavailable",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return model.NewDependencyUnavailableError()
	default:
		s.logger.Error("unexpected credential store error",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return model.NewInternalError()
	}
}
