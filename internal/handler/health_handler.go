package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// HealthChecker は依存先の疎通確認を行うインターフェース。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// PingFunc は関数をHealthCheckerとして扱うためのアダプター。
type PingFunc func(ctx context.Context) error

// Ping はfを呼び出す。
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type healthResponse struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
}

// NewHealthHandler はヘルスチェックハンドラーを返す。
// checkerがnilの場合（縮退モード）は常にokを返す。
// GET /health
func NewHealthHandler(checker HealthChecker, mode string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()

			if err := checker.Ping(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Mode: mode})
				return
			}
		}

		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Mode: mode})
	}
}
