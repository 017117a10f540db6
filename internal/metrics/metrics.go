// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector は紐付け処理のPrometheusメトリクスを収集する。
type Collector struct {
	bindingTotal        *prometheus.CounterVec
	bindingFailure      *prometheus.CounterVec
	bindingDuration     prometheus.Histogram
	contactsProvisioned prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		bindingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_binding_total",
			Help: "紐付け解決成功の合計数（解決経路別）",
		}, []string{"strategy"}),
		bindingFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_binding_failure_total",
			Help: "紐付け解決失敗の合計数（エラーコード別）",
		}, []string{"code"}),
		bindingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_binding_duration_seconds",
			Help:    "紐付け解決の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		contactsProvisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_contacts_provisioned_total",
			Help: "コンタクト同期で新規作成したピアアカウントの合計数",
		}),
	}

	reg.MustRegister(
		c.bindingTotal,
		c.bindingFailure,
		c.bindingDuration,
		c.contactsProvisioned,
	)

	return c
}

// RecordBinding は紐付け解決の成功を記録する。
func (c *Collector) RecordBinding(strategy string) {
	c.bindingTotal.WithLabelValues(strategy).Inc()
}

// RecordBindingFailure は紐付け解決の失敗を記録する。
func (c *Collector) RecordBindingFailure(code string) {
	c.bindingFailure.WithLabelValues(code).Inc()
}

// RecordBindingDuration は紐付け解決の所要時間を記録する。
func (c *Collector) RecordBindingDuration(d time.Duration) {
	c.bindingDuration.Observe(d.Seconds())
}

// RecordContactProvisioned はピアアカウントの新規作成を記録する。
func (c *Collector) RecordContactProvisioned() {
	c.contactsProvisioned.Inc()
}

// NopCollector は何も記録しないコレクター。テスト用。
type NopCollector struct{}

// RecordBinding は何もしない。
func (NopCollector) RecordBinding(string) {}

// RecordBindingFailure は何もしない。
func (NopCollector) RecordBindingFailure(string) {}

// RecordBindingDuration は何もしない。
func (NopCollector) RecordBindingDuration(time.Duration) {}

// RecordContactProvisioned は何もしない。
func (NopCollector) RecordContactProvisioned() {}
