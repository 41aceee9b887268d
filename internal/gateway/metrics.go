package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics はゲートウェイのPrometheusメトリクス。
type metrics struct {
	// requests は終了状態ごとのリクエスト数。
	requests *prometheus.CounterVec
	// duration は終了状態ごとの処理時間。
	duration *prometheus.HistogramVec
	// quotaRejections はクラスごとのクォータ超過数。
	quotaRejections *prometheus.CounterVec
	// upstreamDuration はサービスごとのバックエンド呼び出し時間。
	upstreamDuration *prometheus.HistogramVec
}

// newMetrics はメトリクスを生成し、指定したレジストリに登録する。
func newMetrics(registry *prometheus.Registry) *metrics {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)
	return &metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "requests_total",
				Help:      "Total number of proxied requests by terminal outcome",
			},
			[]string{"outcome", "class"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Proxied request latency by terminal outcome",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		quotaRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "quota_rejections_total",
				Help:      "Total number of requests rejected by the quota enforcer",
			},
			[]string{"class"},
		),
		upstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Name:      "upstream_duration_seconds",
				Help:      "Backend call latency by service",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service"},
		),
	}
}
