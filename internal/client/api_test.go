package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/todoman/internal/auth"
	"github.com/hitoshi/todoman/internal/credential"
	"github.com/hitoshi/todoman/internal/handler"
	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/password"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/security"
	"github.com/hitoshi/todoman/internal/todo"
	"github.com/hitoshi/todoman/internal/token"
)

// newTestServer はインメモリストアで組み立てたAPIサーバーを起動する。
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	issuer, err := token.NewIssuer("0123456789abcdef0123456789abcdef", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	users := repository.NewMemoryUserRepo()
	revoked := repository.NewMemoryRevocationRepo()
	tasks := repository.NewMemoryTaskRepo()
	store := credential.NewLocalStore(users, revoked, password.NewBcryptHasher(0), issuer, logger)

	srv := httptest.NewServer(handler.NewRouter(&handler.RouterDeps{
		Resolver:    auth.NewLocalResolver(issuer, revoked, time.Second, metrics.Nop{}, logger),
		AuthService: auth.NewService(store, auth.ServiceConfig{Timeout: 5 * time.Second}, metrics.Nop{}, logger),
		TodoService: todo.NewService(tasks, security.NewTitleSanitizer(), todo.Config{StoreTimeout: time.Second}, metrics.Nop{}, logger),
		Mode:        "degraded",
		Logger:      logger,
	}))
	t.Cleanup(func() {
		srv.Close()
		tasks.Close()
	})
	return srv
}

func TestAPIClient_FullFlow(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := NewAPIClient(srv.URL + "/")

	sess, err := c.Register(ctx, "Alice", "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if sess.Token == "" || c.Token() != sess.Token {
		t.Fatalf("token not stored: session %q, client %q", sess.Token, c.Token())
	}

	created, err := c.Create(ctx, "buy milk", model.PriorityHigh)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.UserID != sess.User.ID || created.Completed {
		t.Errorf("created = %+v", created)
	}

	done := true
	updated, err := c.Update(ctx, created.ID, UpdateRequest{Completed: &done})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if !updated.Completed || updated.Title != "buy milk" || updated.Priority != model.PriorityHigh {
		t.Errorf("updated = %+v", updated)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Errorf("UpdatedAt did not advance: %v -> %v", created.UpdatedAt, updated.UpdatedAt)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 1 || stats.Completed != 1 || stats.CompletionRate != 100 {
		t.Errorf("stats = %+v", stats)
	}

	if err := c.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	list, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("List() = %+v, want empty", list)
	}

	if err := c.Delete(ctx, created.ID); !IsNotFound(err) {
		t.Errorf("second Delete() error = %v, want not found", err)
	}

	if err := c.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if c.Token() != "" {
		t.Error("token should be cleared after logout")
	}
	if _, err := c.List(ctx); !IsUnauthorized(err) {
		t.Errorf("List() after logout error = %v, want unauthorized", err)
	}
}

func TestAPIClient_LoginWithStoredToken(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	first := NewAPIClient(srv.URL)
	if _, err := first.Register(ctx, "Bob", "bob@example.com", "correct-horse"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := first.Create(ctx, "water plants", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	second := NewAPIClient(srv.URL)
	if _, err := second.Login(ctx, "BOB@example.com", "correct-horse"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	// 保存済みトークンで別のクライアントを生成しても同じ一覧が見える
	restored := NewAPIClient(srv.URL, WithToken(second.Token()))
	list, err := restored.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].Priority != model.PriorityMedium {
		t.Errorf("List() = %+v", list)
	}
}

func TestAPIClient_ErrorDecoding(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := NewAPIClient(srv.URL)

	_, err := c.Login(ctx, "nobody@example.com", "wrong-password")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Code != model.ErrCodeInvalidCredentials {
		t.Errorf("error = %+v", apiErr)
	}
	if apiErr.Retryable() {
		t.Error("invalid credentials should not be retryable")
	}

	if _, err := c.Register(ctx, "Carol", "carol@example.com", "correct-horse"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	_, err = c.Create(ctx, "   ", model.PriorityLow)
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != model.ErrCodeValidation {
		t.Errorf("empty title error = %v", err)
	}
}

func TestAPIClient_NonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewAPIClient(srv.URL).List(context.Background())

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.Status != "Bad Gateway" {
		t.Errorf("error = %+v", apiErr)
	}
	if !apiErr.Retryable() {
		t.Error("5xx should be retryable")
	}
}

func TestAPIClient_SendsBearerAndOmitsUnsetFields(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(model.Task{ID: "t1"})
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, WithToken("tok-123"))
	p := model.PriorityLow
	if _, err := c.Update(context.Background(), "t1", UpdateRequest{Priority: &p}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if strings.Contains(gotBody, "title") || strings.Contains(gotBody, "completed") {
		t.Errorf("body = %s, want only priority", gotBody)
	}
}

func TestAPIClient_RespectsContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewAPIClient(srv.URL).List(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}
