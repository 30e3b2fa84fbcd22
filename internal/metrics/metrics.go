// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 再取得ジョブの結果ラベル
const (
	RefetchCached   = "cached"
	RefetchNotFound = "not_found"
	RefetchFailed   = "failed"
	RefetchDropped  = "dropped"
	// RefetchDiscarded は取得中に認可が取り消され、結果を保存しなかったことを示す。
	RefetchDiscarded = "discarded"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やワーカーから利用する。
type MetricsCollector interface {
	RecordTokenRefresh(success bool)
	RecordPageFetched()
	RecordRateLimitCooldown()
	RecordExport(success bool, rows int, duration time.Duration)
	RecordWebhookEvent(objectType, aspectType string)
	RecordRefetch(outcome string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	tokenRefresh    *prometheus.CounterVec
	pagesFetched    prometheus.Counter
	rateCooldowns   prometheus.Counter
	exports         *prometheus.CounterVec
	exportRows      prometheus.Counter
	exportLatency   prometheus.Histogram
	webhookEvents   *prometheus.CounterVec
	refetchOutcomes *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stravaexport_token_refresh_total",
			Help: "トークンリフレッシュの実行数",
		}, []string{"result"}),
		pagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stravaexport_pages_fetched_total",
			Help: "取得したアクティビティ一覧ページ数",
		}),
		rateCooldowns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stravaexport_rate_limit_cooldowns_total",
			Help: "短期レート制限に近づいたことによる待機回数",
		}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stravaexport_exports_total",
			Help: "エクスポート要求の処理数",
		}, []string{"result"}),
		exportRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stravaexport_export_rows_total",
			Help: "エクスポートした行数の合計",
		}),
		exportLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stravaexport_export_latency_seconds",
			Help:    "エクスポート処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stravaexport_webhook_events_total",
			Help: "受信したWebhookイベント数",
		}, []string{"object_type", "aspect_type"}),
		refetchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stravaexport_refetch_total",
			Help: "Webhook起因のアクティビティ再取得の結果別件数",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.tokenRefresh,
		c.pagesFetched,
		c.rateCooldowns,
		c.exports,
		c.exportRows,
		c.exportLatency,
		c.webhookEvents,
		c.refetchOutcomes,
	)

	return c
}

// RecordTokenRefresh はトークンリフレッシュの結果を記録する。
func (c *Collector) RecordTokenRefresh(success bool) {
	c.tokenRefresh.WithLabelValues(resultLabel(success)).Inc()
}

// RecordPageFetched は一覧ページの取得を記録する。
func (c *Collector) RecordPageFetched() {
	c.pagesFetched.Inc()
}

// RecordRateLimitCooldown はレート制限による待機を記録する。
func (c *Collector) RecordRateLimitCooldown() {
	c.rateCooldowns.Inc()
}

// RecordExport はエクスポートの結果を記録する。
func (c *Collector) RecordExport(success bool, rows int, duration time.Duration) {
	c.exports.WithLabelValues(resultLabel(success)).Inc()
	c.exportRows.Add(float64(rows))
	c.exportLatency.Observe(duration.Seconds())
}

// RecordWebhookEvent はWebhookイベントの受信を記録する。
func (c *Collector) RecordWebhookEvent(objectType, aspectType string) {
	c.webhookEvents.WithLabelValues(objectType, aspectType).Inc()
}

// RecordRefetch は再取得ジョブの結果を記録する。
func (c *Collector) RecordRefetch(outcome string) {
	c.refetchOutcomes.WithLabelValues(outcome).Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordTokenRefresh(bool)               {}
func (Nop) RecordPageFetched()                    {}
func (Nop) RecordRateLimitCooldown()              {}
func (Nop) RecordExport(bool, int, time.Duration) {}
func (Nop) RecordWebhookEvent(string, string)     {}
func (Nop) RecordRefetch(string)                  {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
