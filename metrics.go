package goSession

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter (and, for latency metrics, one histogram)
// in the coordinator's Metrics.
type MetricID uint16

const (
	// MetricLoginSuccess counts logins that established a session.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected or failed logins.
	MetricLoginFailure
	// MetricRegisterSuccess counts accepted registrations.
	MetricRegisterSuccess
	// MetricRegisterFailure counts rejected or failed registrations.
	MetricRegisterFailure
	// MetricLogout counts logouts, including those whose remote call failed.
	MetricLogout
	// MetricRefreshSuccess counts refresh calls that produced a new access token.
	MetricRefreshSuccess
	// MetricRefreshFailure counts refresh calls that failed.
	MetricRefreshFailure
	// MetricRefreshQueued counts calls that waited on an in-flight refresh.
	MetricRefreshQueued
	// MetricRequestRetried counts requests replayed after a refresh.
	MetricRequestRetried
	// MetricRetryCeiling counts replays that were rejected again.
	MetricRetryCeiling
	// MetricSessionExpired counts sessions torn down by the pipeline.
	MetricSessionExpired
	// MetricReconcileSuccess counts successful "who am I" checks.
	MetricReconcileSuccess
	// MetricReconcileFailure counts "who am I" checks that tore the session down.
	MetricReconcileFailure
	// MetricNavigationAllowed counts navigations the guard let through.
	MetricNavigationAllowed
	// MetricNavigationRedirected counts navigations the guard redirected.
	MetricNavigationRedirected
	// MetricRefreshLatency is the latency histogram of refresh calls.
	MetricRefreshLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
	sumNs   uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a lock-free set of counters plus the refresh latency
// histogram. A nil *Metrics is valid and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of Metrics. Histogram buckets are
// non-cumulative; HistogramSums holds the summed observations.
type MetricsSnapshot struct {
	Counters      map[MetricID]uint64
	Histograms    map[MetricID][]uint64
	HistogramSums map[MetricID]time.Duration
}

// NewMetrics returns Metrics configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram id. Only MetricRefreshLatency has a
// histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id != MetricRefreshLatency {
		return
	}
	if d < 0 {
		d = 0
	}
	h := &m.histograms[id]
	atomic.AddUint64(&h.buckets[bucketIndex(d)], 1)
	atomic.AddUint64(&h.sumNs, uint64(d))
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when enabled, the latency histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:      map[MetricID]uint64{},
		Histograms:    map[MetricID][]uint64{},
		HistogramSums: map[MetricID]time.Duration{},
	}
	if m == nil || !m.enabled {
		return s
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		h := &m.histograms[MetricRefreshLatency]
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&h.buckets[i])
		}
		s.Histograms[MetricRefreshLatency] = buckets
		s.HistogramSums[MetricRefreshLatency] = time.Duration(atomic.LoadUint64(&h.sumNs))
	}

	return s
}

// Buckets are sized for a round trip to the auth service.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 25:
		return 0
	case ms <= 50:
		return 1
	case ms <= 100:
		return 2
	case ms <= 250:
		return 3
	case ms <= 500:
		return 4
	case ms <= 1000:
		return 5
	case ms <= 2500:
		return 6
	default:
		return 7
	}
}
