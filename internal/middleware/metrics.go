package middleware

import (
	"net/http"

	"github.com/hitoshi/todoman/internal/metrics"
)

// NewMetricsMiddleware はレスポンスのステータスコードを記録するミドルウェアを返す。
func NewMetricsMiddleware(mc metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := wrap(w, r)
			next.ServeHTTP(ww, r)
			mc.RecordHTTPStatus(status(ww))
		})
	}
}
