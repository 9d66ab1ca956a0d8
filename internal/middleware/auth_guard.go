// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/todoman/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey      = contextKey("user_id")
	userContextKey        = contextKey("user")
	bearerTokenContextKey = contextKey("bearer_token")
)

// IdentityResolver はベアラートークンをユーザーに解決するインターフェース。
// auth.IdentityResolverの部分集合として定義する。
type IdentityResolver interface {
	Resolve(ctx context.Context, rawToken string) (*model.User, error)
}

// NewAuthGuard はAuthorizationヘッダーのベアラートークンを検証するミドルウェアを返す。
// 解決したユーザーとトークンをリクエストコンテキストに注入する。
// ヘッダーがない、形式が不正、またはトークンが無効な場合は401を返す。
func NewAuthGuard(resolver IdentityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			user, err := resolver.Resolve(r.Context(), raw)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					WriteErrorResponse(w, StatusForAPIError(apiErr), apiErr)
					return
				}
				slog.Error("failed to resolve identity", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
			if user == nil || user.ID == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			ctx := ContextWithUser(r.Context(), user)
			ctx = context.WithValue(ctx, bearerTokenContextKey, raw)
			if rl, ok := ctx.Value(requestLogContextKey).(*requestLog); ok {
				rl.userID = user.ID
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken は "Bearer <token>" 形式のヘッダー値からトークンを取り出す。
// スキーム名は大文字小文字を区別しない。
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// AuthGuardを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserFromContext はAuthGuardが解決したユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	return user, ok && user != nil
}

// ContextWithUser はコンテキストにユーザーとそのIDを注入する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	ctx = context.WithValue(ctx, userContextKey, user)
	return ContextWithUserID(ctx, user.ID)
}

// BearerTokenFromContext はAuthGuardが検証したトークン文字列を取得する。ログアウトで使用する。
func BearerTokenFromContext(ctx context.Context) (string, bool) {
	raw, ok := ctx.Value(bearerTokenContextKey).(string)
	return raw, ok && raw != ""
}
