// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
	ResultEmpty   = "empty"
)

// MetricsCollector はメトリクス収集のインターフェース。
// スケジューラ、公開処理、外部連携クライアントから利用する。
type MetricsCollector interface {
	RecordCycle(result string, duration time.Duration)
	RecordPublished()
	RecordReconcile(operation, result string)
	RecordSocialContainer(tier, result string)
	RecordSocialPublish(result string)
	RecordWebhook(action, result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	published       prometheus.Counter
	reconcile       *prometheus.CounterVec
	socialContainer *prometheus.CounterVec
	socialPublish   *prometheus.CounterVec
	webhook         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pressroom_scheduler_cycles_total",
			Help: "公開スケジューラのサイクル数（結果別）",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pressroom_scheduler_cycle_seconds",
			Help:    "公開スケジューラ1サイクルの所要時間（秒）",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pressroom_articles_published_total",
			Help: "公開状態に遷移した記事の合計数",
		}),
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pressroom_reconcile_total",
			Help: "レコードストア同期の実行数（操作・結果別）",
		}, []string{"operation", "result"}),
		socialContainer: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pressroom_social_container_total",
			Help: "SNSメディアコンテナ作成の試行数（段階・結果別）",
		}, []string{"tier", "result"}),
		socialPublish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pressroom_social_publish_total",
			Help: "SNS投稿の実行数（結果別）",
		}, []string{"result"}),
		webhook: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pressroom_webhook_total",
			Help: "Webhook通知の送信数（アクション・結果別）",
		}, []string{"action", "result"}),
	}

	reg.MustRegister(
		c.cycles,
		c.cycleDuration,
		c.published,
		c.reconcile,
		c.socialContainer,
		c.socialPublish,
		c.webhook,
	)

	return c
}

// RecordCycle はスケジューラサイクルの結果と所要時間を記録する。
func (c *Collector) RecordCycle(result string, duration time.Duration) {
	c.cycles.WithLabelValues(result).Inc()
	c.cycleDuration.Observe(duration.Seconds())
}

// RecordPublished は記事の公開を記録する。
func (c *Collector) RecordPublished() {
	c.published.Inc()
}

// RecordReconcile はレコードストア同期の結果を記録する。
func (c *Collector) RecordReconcile(operation, result string) {
	c.reconcile.WithLabelValues(operation, result).Inc()
}

// RecordSocialContainer はメディアコンテナ作成の各段階の結果を記録する。
func (c *Collector) RecordSocialContainer(tier, result string) {
	c.socialContainer.WithLabelValues(tier, result).Inc()
}

// RecordSocialPublish はSNS投稿の結果を記録する。
func (c *Collector) RecordSocialPublish(result string) {
	c.socialPublish.WithLabelValues(result).Inc()
}

// RecordWebhook はWebhook通知の結果を記録する。
func (c *Collector) RecordWebhook(action, result string) {
	c.webhook.WithLabelValues(action, result).Inc()
}

// NopCollector は何も記録しないMetricsCollector。
// メトリクスを公開しないコマンドやテストで使う。
type NopCollector struct{}

func (NopCollector) RecordCycle(string, time.Duration) {}
func (NopCollector) RecordPublished() {}
func (NopCollector) RecordReconcile(string, string) {}
func (NopCollector) RecordSocialContainer(string, string) {}
func (NopCollector) RecordSocialPublish(string) {}
func (NopCollector) RecordWebhook(string, string) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
