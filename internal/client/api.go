package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/todoman/internal/model"
)

const (
	defaultTimeout      = 10 * time.Second
	maxResponseBodySize = 4 << 20
)

// TaskAPI はControllerが利用するタスク操作のインターフェース。
// APIClientとLocalBackendが実装する。
type TaskAPI interface {
	List(ctx context.Context) ([]model.Task, error)
	Create(ctx context.Context, title string, priority model.Priority) (*model.Task, error)
	Update(ctx context.Context, id string, req UpdateRequest) (*model.Task, error)
	Delete(ctx context.Context, id string) error
}

// UpdateRequest は部分更新の内容。nilの項目は送信しない。
type UpdateRequest struct {
	Title     *string         `json:"title,omitempty"`
	Priority  *model.Priority `json:"priority,omitempty"`
	Completed *bool           `json:"completed,omitempty"`
}

// Empty は更新する項目が1つもないかを返す。
func (r UpdateRequest) Empty() bool {
	return r.Title == nil && r.Priority == nil && r.Completed == nil
}

// Session は登録・ログインで得たユーザーとトークン。
type Session struct {
	User struct {
		ID        string    `json:"id"`
		Email     string    `json:"email"`
		Name      string    `json:"name"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// APIClient はタスクAPIのHTTPクライアント。
// ログイン後はベアラートークンを保持し、以降のリクエストに付与する。
type APIClient struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// APIOption はAPIClientのオプション。
type APIOption func(*APIClient)

// WithHTTPClient は使用するhttp.Clientを差し替える。
func WithHTTPClient(c *http.Client) APIOption {
	return func(a *APIClient) { a.httpClient = c }
}

// WithToken は保存済みのトークンを設定する。
func WithToken(token string) APIOption {
	return func(a *APIClient) { a.token = token }
}

// NewAPIClient はAPIClientを生成する。
func NewAPIClient(baseURL string, opts ...APIOption) *APIClient {
	c := &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token は現在のトークンを返す。
func (c *APIClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *APIClient) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Register はユーザーを登録し、得たトークンを保持する。
func (c *APIClient) Register(ctx context.Context, name, email, password string) (*Session, error) {
	var s Session
	body := map[string]string{"name": name, "email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/register", body, &s); err != nil {
		return nil, err
	}
	c.setToken(s.Token)
	return &s, nil
}

// Login はログインし、得たトークンを保持する。
func (c *APIClient) Login(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &s); err != nil {
		return nil, err
	}
	c.setToken(s.Token)
	return &s, nil
}

// Logout はトークンを失効させる。サーバーの応答に関わらず保持しているトークンは破棄する。
func (c *APIClient) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
	c.setToken("")
	return err
}

// List はタスク一覧を取得する。
func (c *APIClient) List(ctx context.Context) ([]model.Task, error) {
	tasks := []model.Task{}
	if err := c.do(ctx, http.MethodGet, "/todos", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Create はタスクを作成する。
func (c *APIClient) Create(ctx context.Context, title string, priority model.Priority) (*model.Task, error) {
	var task model.Task
	body := map[string]string{"title": title, "priority": string(priority)}
	if err := c.do(ctx, http.MethodPost, "/todos", body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Update はタスクを部分更新する。
func (c *APIClient) Update(ctx context.Context, id string, req UpdateRequest) (*model.Task, error) {
	var task model.Task
	if err := c.do(ctx, http.MethodPut, "/todos/"+id, req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Delete はタスクを削除する。
func (c *APIClient) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/todos/"+id, nil, nil)
}

// Stats はサーバーで集計したタスクの統計を取得する。
func (c *APIClient) Stats(ctx context.Context) (*model.TaskStats, error) {
	var stats model.TaskStats
	if err := c.do(ctx, http.MethodGet, "/todos/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// do はJSONリクエストを送信し、2xxの場合はoutにデコードする。
// 2xx以外は*Errorとして返す。
func (c *APIClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{}
		_ = json.Unmarshal(data, apiErr)
		apiErr.StatusCode = resp.StatusCode
		if apiErr.Status == "" {
			apiErr.Status = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TaskAPI = (*APIClient)(nil)
