// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアと整合性エンジンから利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordRequestDuration(duration time.Duration)
	RecordMutation(entity, operation string)
	RecordCascadeFailure(entity, operation string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus      *prometheus.CounterVec
	requestDuration prometheus.Histogram
	mutations       *prometheus.CounterVec
	cascadeFailures *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskboard_request_duration_seconds",
			Help:    "HTTPリクエスト処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_mutations_total",
			Help: "成功した変更操作のエンティティ・操作別合計数",
		}, []string{"entity", "operation"}),
		cascadeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_cascade_failure_total",
			Help: "一次書き込み後のカスケード書き込み失敗数。非ゼロは整合性の確認が必要",
		}, []string{"entity", "operation"}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.requestDuration,
		c.mutations,
		c.cascadeFailures,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestDuration はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestDuration(duration time.Duration) {
	c.requestDuration.Observe(duration.Seconds())
}

// RecordMutation は成功した変更操作を記録する。
func (c *Collector) RecordMutation(entity, operation string) {
	c.mutations.WithLabelValues(entity, operation).Inc()
}

// RecordCascadeFailure はカスケード書き込みの失敗を記録する。
func (c *Collector) RecordCascadeFailure(entity, operation string) {
	c.cascadeFailures.WithLabelValues(entity, operation).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
