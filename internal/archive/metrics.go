package archive

import (
	"github.com/prometheus/client_golang/prometheus"
)

type cacheMetrics struct {
	requests *prometheus.CounterVec
	builds   *prometheus.CounterVec
	indexes  prometheus.GaugeFunc
}

func newCacheMetrics(cache *Cache) *cacheMetrics {
	return &cacheMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fwbundle",
			Name:      "index_cache_requests_total",
			Help:      "Archive index lookups by result (hit, miss, shared).",
		}, []string{"result"}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fwbundle",
			Name:      "index_builds_total",
			Help:      "Archive directory reads by status.",
		}, []string{"status"}),
		indexes: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "fwbundle",
			Name:      "index_cache_entries",
			Help:      "Archive indexes held in memory.",
		}, func() float64 {
			return float64(cache.Len())
		}),
	}
}

func (m *cacheMetrics) register(registerer prometheus.Registerer) {
	registerer.MustRegister(m.requests, m.builds, m.indexes)
}
