// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値。
const (
	LoginSuccess     = "success"
	LoginAuthFailed  = "auth_failed"
	LoginUnreachable = "unreachable"
	LoginProtocol    = "protocol_error"
	LoginStorage     = "storage_error"
)

// 下書き操作結果のラベル値。
const (
	DraftResultSaved         = "saved"
	DraftResultEdited        = "edited"
	DraftResultDraftConflict = "draft_conflict"
	DraftResultEntryConflict = "entry_conflict"
	DraftResultError         = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とHTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(outcome string)
	RecordProviderLatency(operation string, duration time.Duration)
	RecordDraftOperation(operation, result string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	draftOps        *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sleepdiary_login_total",
			Help: "結果別のログイン試行数",
		}, []string{"outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sleepdiary_provider_latency_seconds",
			Help:    "Kubiosへのリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		draftOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sleepdiary_draft_operations_total",
			Help: "操作・結果別の下書き/エントリ書き込み数",
		}, []string{"operation", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sleepdiary_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.providerLatency,
		c.draftOps,
		c.httpStatus,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordProviderLatency はKubios呼び出しのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(operation string, duration time.Duration) {
	c.providerLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDraftOperation は下書き系操作の結果を記録する。
func (c *Collector) RecordDraftOperation(operation, result string) {
	c.draftOps.WithLabelValues(operation, result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordLogin(string)                           {}
func (NopCollector) RecordProviderLatency(string, time.Duration) {}
func (NopCollector) RecordDraftOperation(string, string)          {}
func (NopCollector) RecordHTTPStatus(int)                         {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
