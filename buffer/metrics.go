package buffer

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments the buffer manager the way the teacher names its
// page-operation counters (DbPgopsNewly/Cow/Clone/Split/Merge/Spill/
// Unspill in erigon-lib/kv's Tx interface): one counter family per
// operation, one gauge vector for pool occupancy.
type Metrics struct {
	poolSize  *prometheus.GaugeVec
	allocates *prometheus.CounterVec
	frees     prometheus.Counter
	evictions prometheus.Counter
	dirty     prometheus.Gauge
}

// NewMetrics registers the buffer manager's collectors against reg. A
// nil registry yields an unregistered, fully functional Metrics (useful
// for tests that don't want to touch the default registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		poolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ibkv",
			Subsystem: "buffer",
			Name:      "pool_size",
			Help:      "Number of frames currently in each buffer pool.",
		}, []string{"pool"}),
		allocates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ibkv",
			Subsystem: "buffer",
			Name:      "allocates_total",
			Help:      "Frame allocations by destination pool.",
		}, []string{"pool"}),
		frees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ibkv",
			Subsystem: "buffer",
			Name:      "frees_total",
			Help:      "Frames returned to the free pool.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ibkv",
			Subsystem: "buffer",
			Name:      "evictions_total",
			Help:      "Frames evicted to satisfy an allocation.",
		}),
		dirty: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ibkv",
			Subsystem: "buffer",
			Name:      "dirty_frames",
			Help:      "Frames currently marked dirty.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.poolSize, m.allocates, m.frees, m.evictions, m.dirty)
	}
	return m
}

func (m *Metrics) setPoolSize(p Pool, n int) { m.poolSize.WithLabelValues(p.String()).Set(float64(n)) }
func (m *Metrics) incAllocate(p Pool)        { m.allocates.WithLabelValues(p.String()).Inc() }
func (m *Metrics) incFree()                  { m.frees.Inc() }
func (m *Metrics) incEvict()                 { m.evictions.Inc() }
func (m *Metrics) incDirty()                 { m.dirty.Inc() }
func (m *Metrics) decDirty()                 { m.dirty.Dec() }
