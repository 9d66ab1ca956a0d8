package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/todoman/internal/model"
)

// --- モック定義 ---

type mockResolver struct {
	resolveFn func(ctx context.Context, rawToken string) (*model.User, error)
	calls     int
}

func (m *mockResolver) Resolve(ctx context.Context, rawToken string) (*model.User, error) {
	m.calls++
	if m.resolveFn != nil {
		return m.resolveFn(ctx, rawToken)
	}
	return nil, model.NewUnauthorizedError()
}

func validResolver() *mockResolver {
	return &mockResolver{
		resolveFn: func(ctx context.Context, rawToken string) (*model.User, error) {
			if rawToken == "good-token" {
				return &model.User{ID: "user-guard", Email: "guard@example.com", Name: "Guard"}, nil
			}
			return nil, model.NewUnauthorizedError()
		},
	}
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

// --- テスト ---

func TestAuthGuard_ValidToken_InjectsUser(t *testing.T) {
	guard := NewAuthGuard(validResolver())

	var gotUserID, gotToken string
	var gotUser *model.User
	handler := guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = UserIDFromContext(r.Context())
		gotUser, _ = UserFromContext(r.Context())
		gotToken, _ = BearerTokenFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/todos", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotUserID != "user-guard" {
		t.Errorf("userID = %q, want %q", gotUserID, "user-guard")
	}
	if gotUser == nil || gotUser.Email != "guard@example.com" {
		t.Errorf("user = %+v, want guard@example.com", gotUser)
	}
	if gotToken != "good-token" {
		t.Errorf("token = %q, want %q", gotToken, "good-token")
	}
}

func TestAuthGuard_SchemeIsCaseInsensitive(t *testing.T) {
	guard := NewAuthGuard(validResolver())
	handler := guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/todos", nil)
	req.Header.Set("Authorization", "bearer good-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthGuard_MissingOrMalformedHeader_Returns401WithoutResolving(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"basic scheme", "Basic dXNlcjpwYXNz"},
		{"bearer without token", "Bearer"},
		{"bearer with blank token", "Bearer    "},
		{"token without scheme", "good-token"},
		{"token with spaces", "Bearer good token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := validResolver()
			guard := NewAuthGuard(resolver)
			handler := guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/todos", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			body := decodeErrorBody(t, w)
			if body.Error != "Unauthorized" {
				t.Errorf("error = %q, want %q", body.Error, "Unauthorized")
			}
			if resolver.calls != 0 {
				t.Errorf("resolver called %d times, want 0", resolver.calls)
			}
		})
	}
}

func TestAuthGuard_InvalidToken_Returns401(t *testing.T) {
	guard := NewAuthGuard(validResolver())
	handler := guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/todos", nil)
	req.Header.Set("Authorization", "Bearer forged")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := decodeErrorBody(t, w); body.Code != model.ErrCodeUnauthorized {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
	}
}

func TestAuthGuard_DependencyUnavailable_Returns500(t *testing.T) {
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, rawToken string) (*model.User, error) {
			return nil, model.NewDependencyUnavailableError()
		},
	}
	guard := NewAuthGuard(resolver)
	handler := guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/todos", nil)
	req.Header.Set("Authorization", "Bearer any")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if body := decodeErrorBody(t, w); body.Code != model.ErrCodeDependencyUnavailable {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeDependencyUnavailable)
	}
}

func TestAuthGuard_UnexpectedError_Returns500(t *testing.T) {
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, rawToken string) (*model.User, error) {
			return nil, errors.New("boom")
		},
	}
	handler := NewAuthGuard(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/todos", nil)
	req.Header.Set("Authorization", "Bearer any")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestAuthGuard_NilUser_Returns401(t *testing.T) {
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, rawToken string) (*model.User, error) {
			return nil, nil
		},
	}
	handler := NewAuthGuard(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/todos", nil)
	req.Header.Set("Authorization", "Bearer any")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// TestAuthGuard_UserIDReachesOuterLogger は外側のロギングミドルウェアが
// AuthGuardで解決したユーザーIDを記録できることを検証する。
func TestAuthGuard_UserIDReachesOuterLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := NewLoggingMiddleware(logger)(NewAuthGuard(validResolver())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/todos", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	if entry["user_id"] != "user-guard" {
		t.Errorf("user_id = %v, want %q", entry["user_id"], "user-guard")
	}
	if bytes.Contains(buf.Bytes(), []byte("good-token")) {
		t.Error("bearer token must not be logged")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"BEARER abc", "abc", true},
		{"  Bearer abc  ", "abc", true},
		{"Bearer", "", false},
		{"Token abc", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := bearerToken(tt.header)
		if got != tt.want || ok != tt.ok {
			t.Errorf("bearerToken(%q) = (%q, %v), want (%q, %v)", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}
