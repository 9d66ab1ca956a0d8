// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 操作結果のラベル値。
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやサービス層から利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordTaskOperation(op, result string)
	RecordAuthEvent(event, result string)
	RecordDependencyLatency(dependency string, duration time.Duration)
	SetDegradedMode(degraded bool)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus        *prometheus.CounterVec
	taskOperations    *prometheus.CounterVec
	authEvents        *prometheus.CounterVec
	dependencyLatency *prometheus.HistogramVec
	degradedMode      prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		taskOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoman_task_operations_total",
			Help: "タスク操作の種類と結果別の件数",
		}, []string{"op", "result"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoman_auth_events_total",
			Help: "認証イベントの種類と結果別の件数",
		}, []string{"event", "result"}),
		dependencyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "todoman_dependency_latency_seconds",
			Help:    "ストレージ・認証基盤呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"dependency"}),
		degradedMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "todoman_degraded_mode",
			Help: "縮退モード（インメモリストア）で稼働中の場合は1",
		}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.taskOperations,
		c.authEvents,
		c.dependencyLatency,
		c.degradedMode,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordTaskOperation はタスク操作の結果を記録する。
func (c *Collector) RecordTaskOperation(op, result string) {
	c.taskOperations.WithLabelValues(op, result).Inc()
}

// RecordAuthEvent は認証イベントの結果を記録する。
func (c *Collector) RecordAuthEvent(event, result string) {
	c.authEvents.WithLabelValues(event, result).Inc()
}

// RecordDependencyLatency は依存先呼び出しのレイテンシを記録する。
func (c *Collector) RecordDependencyLatency(dependency string, duration time.Duration) {
	c.dependencyLatency.WithLabelValues(dependency).Observe(duration.Seconds())
}

// SetDegradedMode は縮退モードかどうかを記録する。
func (c *Collector) SetDegradedMode(degraded bool) {
	if degraded {
		c.degradedMode.Set(1)
		return
	}
	c.degradedMode.Set(0)
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordTaskOperation(string, string) {}
func (Nop) RecordAuthEvent(string, string) {}
func (Nop) RecordDependencyLatency(string, time.Duration) {}
func (Nop) SetDegradedMode(bool) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
