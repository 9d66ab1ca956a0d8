package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

var requestLogContextKey = contextKey("request_log")

// requestLog は内側のミドルウェアが解決した値をアクセスログへ渡すための入れ物。
type requestLog struct {
	userID string
}

// wrap はステータスコードと書き込みバイト数を記録するResponseWriterを返す。
func wrap(w http.ResponseWriter, r *http.Request) chimw.WrapResponseWriter {
	if ww, ok := w.(chimw.WrapResponseWriter); ok {
		return ww
	}
	return chimw.NewWrapResponseWriter(w, r.ProtoMajor)
}

// status は記録されたステータスコードを返す。何も書き込まれていなければ200。
func status(ww chimw.WrapResponseWriter) int {
	if s := ww.Status(); s != 0 {
		return s
	}
	return http.StatusOK
}

// NewLoggingMiddleware はアクセスログをJSON構造化ログで出力するミドルウェアを返す。
// method、path、status、bytes、duration_msと、あればrequest_idとuser_idを記録する。
// Authorizationヘッダーやリクエストボディは記録しない。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := wrap(w, r)
			rl := &requestLog{}

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), requestLogContextKey, rl)))

			code := status(ww)
			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", code),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if id := chimw.GetReqID(r.Context()); id != "" {
				args = append(args, slog.String("request_id", id))
			}
			userID := rl.userID
			if id, err := UserIDFromContext(r.Context()); err == nil {
				userID = id
			}
			if userID != "" {
				args = append(args, slog.String("user_id", userID))
			}

			level := slog.LevelInfo
			switch {
			case code >= 500:
				level = slog.LevelError
			case code >= 400:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}
