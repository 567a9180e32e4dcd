package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/prepress/preflight/observability"
)

type metrics struct {
	analyses    *prometheus.CounterVec
	duration    prometheus.Histogram
	uploadBytes prometheus.Histogram
	cacheHits   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		analyses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: observability.MetricAnalyzeTotal,
			Help: "Analyses served, by outcome.",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    observability.MetricAnalyzeDuration,
			Help:    "Time spent analyzing an upload.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		uploadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    observability.MetricUploadBytes,
			Help:    "Size of uploaded files.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: observability.MetricCacheHits,
			Help: "Uploads answered from the report cache.",
		}),
	}
}
