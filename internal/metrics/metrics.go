// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// コレクション取得結果のラベル値
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Collector はPrometheusメトリクスを収集する。
// 変更フィード・ストア・サービス層・HTTPミドルウェアから利用する。
type Collector struct {
	httpRequests      *prometheus.CounterVec
	changeEvents      *prometheus.CounterVec
	changeDropped     prometheus.Counter
	collectionFetches *prometheus.CounterVec
	fetchDuration     prometheus.Histogram
	staleFetches      prometheus.Counter
	mutations         *prometheus.CounterVec
	workspacesActive  prometheus.Gauge
}

// NewCollector はCollectorを生成し、指定されたレジストリに登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoman_http_requests_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status"}),
		changeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoman_change_events_total",
			Help: "受信した行変更通知の数",
		}, []string{"table", "event"}),
		changeDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "todoman_change_events_dropped_total",
			Help: "解釈できずに破棄した変更通知の数",
		}),
		collectionFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoman_collection_fetches_total",
			Help: "TODOコレクションの取得回数",
		}, []string{"result"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "todoman_collection_fetch_duration_seconds",
			Help:    "TODOコレクション取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		staleFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "todoman_stale_fetches_discarded_total",
			Help: "より新しい取得が発行済みのため破棄した取得結果の数",
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoman_mutations_total",
			Help: "TODOへの書き込み操作の数",
		}, []string{"op", "result"}),
		workspacesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "todoman_workspaces_active",
			Help: "稼働中のワークスペース数",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.changeEvents,
		c.changeDropped,
		c.collectionFetches,
		c.fetchDuration,
		c.staleFetches,
		c.mutations,
		c.workspacesActive,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpRequests.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordChangeEvent は受信した変更通知を記録する。
func (c *Collector) RecordChangeEvent(table, event string) {
	c.changeEvents.WithLabelValues(table, event).Inc()
}

// RecordChangeEventDropped は破棄した変更通知を記録する。
func (c *Collector) RecordChangeEventDropped() {
	c.changeDropped.Inc()
}

// RecordCollectionFetch はコレクション取得の結果とレイテンシを記録する。
func (c *Collector) RecordCollectionFetch(err error, duration time.Duration) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	c.collectionFetches.WithLabelValues(result).Inc()
	c.fetchDuration.Observe(duration.Seconds())
}

// RecordStaleFetchDiscarded は破棄した古い取得結果を記録する。
func (c *Collector) RecordStaleFetchDiscarded() {
	c.staleFetches.Inc()
}

// RecordMutation は書き込み操作の結果を記録する。
func (c *Collector) RecordMutation(op string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	c.mutations.WithLabelValues(op, result).Inc()
}

// WorkspaceOpened は稼働中のワークスペース数を1増やす。
func (c *Collector) WorkspaceOpened() {
	c.workspacesActive.Inc()
}

// WorkspaceClosed は稼働中のワークスペース数を1減らす。
func (c *Collector) WorkspaceClosed() {
	c.workspacesActive.Dec()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
