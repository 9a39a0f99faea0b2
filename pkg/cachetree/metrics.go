// metrics.go is a thin abstraction over Prometheus, the same shape as the
// teacher's pkg/metrics.go: a metricsSink interface with a no-op
// implementation used whenever the caller does not opt into WithMetrics,
// so the hot path never pays for a metric update it did not ask for.
//
// © 2025 btreecache authors. MIT License.
package cachetree

import "github.com/prometheus/client_golang/prometheus"

type metricsSink interface {
	incHit()
	incMiss()
	incEviction(dirty bool)
	setResident(n int64)
	setPinned(n int64)
}

type noopMetrics struct{}

func (noopMetrics) incHit()              {}
func (noopMetrics) incMiss()             {}
func (noopMetrics) incEviction(bool)     {}
func (noopMetrics) setResident(int64)    {}
func (noopMetrics) setPinned(int64)      {}

type promMetrics struct {
	hits           prometheus.Counter
	misses         prometheus.Counter
	evictions      prometheus.Counter
	dirtyEvictions prometheus.Counter
	resident       prometheus.Gauge
	pinned         prometheus.Gauge
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	pm := &promMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btreecache", Name: "hits_total", Help: "Cache hits on get_or_load.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btreecache", Name: "misses_total", Help: "Cache misses on get_or_load.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btreecache", Name: "evictions_total", Help: "Pages evicted by the policy.",
		}),
		dirtyEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btreecache", Name: "dirty_evictions_total", Help: "Evictions that required a flush.",
		}),
		resident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "btreecache", Name: "resident_objects", Help: "CacheObjects with core present.",
		}),
		pinned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "btreecache", Name: "pinned_objects", Help: "CacheObjects with pin_count > 0.",
		}),
	}
	reg.MustRegister(pm.hits, pm.misses, pm.evictions, pm.dirtyEvictions, pm.resident, pm.pinned)
	return pm
}

func (m *promMetrics) incHit()  { m.hits.Inc() }
func (m *promMetrics) incMiss() { m.misses.Inc() }
func (m *promMetrics) incEviction(dirty bool) {
	m.evictions.Inc()
	if dirty {
		m.dirtyEvictions.Inc()
	}
}
func (m *promMetrics) setResident(n int64) { m.resident.Set(float64(n)) }
func (m *promMetrics) setPinned(n int64)   { m.pinned.Set(float64(n)) }

func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
