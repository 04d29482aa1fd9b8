package goGuard

import (
	"sync/atomic"
	"time"
)

// MetricID names one Engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricLoginMFAChallenged
	MetricSuspiciousLogin
	MetricMFALoginSuccess
	MetricMFALoginFailure
	MetricMFAAttemptsExceeded
	MetricMFAEnrolled
	MetricMFADisabled
	MetricMFADisableBlocked
	MetricRecoveryCodeUsed
	MetricRecoveryCodesRegenerated
	MetricLogout
	MetricSignupSuccess
	MetricSignupFailure
	MetricSignupRateLimited
	MetricPasswordPolicyRejected
	MetricPasswordResetRequested
	MetricPasswordResetRateLimited
	MetricPasswordUpdated
	MetricPermissionGranted
	MetricPermissionDenied
	MetricRateLimitHit
	MetricRateLimitStoreUnavailable
	MetricRateLimitPruned
	MetricAlertsNotified
	MetricLoginLatency
	MetricMFAVerifyLatency
	metricIDCount
)

const histBucketCount = 8

// histogramIDs are the metrics that record durations instead of counts.
var histogramIDs = [...]MetricID{MetricLoginLatency, MetricMFAVerifyLatency}

func isHistogram(id MetricID) bool {
	for _, h := range histogramIDs {
		if h == id {
			return true
		}
	}
	return false
}

// HistogramBounds are the upper bucket edges; the last bucket is open.
var HistogramBounds = [histBucketCount]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	0,
}

// counter sits alone on a cache line; Login bumps several from concurrent
// goroutines.
type counter struct {
	atomic.Uint64
	_ [56]byte
}

type histogram struct {
	buckets [histBucketCount]atomic.Uint64
	sumNS   atomic.Int64
}

func (h *histogram) observe(d time.Duration) {
	i := histBucketCount - 1
	for b, bound := range HistogramBounds[:histBucketCount-1] {
		if d <= bound {
			i = b
			break
		}
	}
	h.buckets[i].Add(1)
	h.sumNS.Add(int64(d))
}

func (h *histogram) load() ([]uint64, time.Duration) {
	out := make([]uint64, histBucketCount)
	for i := range h.buckets {
		out[i] = h.buckets[i].Load()
	}
	return out, time.Duration(h.sumNS.Load())
}

// Metrics holds the engine counters and latency histograms. A nil or
// disabled *Metrics records nothing.
type Metrics struct {
	enabled bool
	latency bool
	values  [metricIDCount]counter
	hists   [len(histogramIDs)]histogram
}

// MetricsSnapshot is a point-in-time copy. Histogram buckets are not
// cumulative; bucket i counts samples at or below HistogramBounds[i].
// HistogramSums holds the total observed duration per histogram.
type MetricsSnapshot struct {
	Counters      map[MetricID]uint64
	Histograms    map[MetricID][]uint64
	HistogramSums map[MetricID]time.Duration
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool { return m != nil && m.enabled }

func (m *Metrics) LatencyEnabled() bool { return m != nil && m.latency }

func (m *Metrics) Inc(id MetricID) { m.Add(id, 1) }

// Add increases a counter by n. Histogram IDs are ignored.
func (m *Metrics) Add(id MetricID, n uint64) {
	if !m.Enabled() || id >= metricIDCount || n == 0 || isHistogram(id) {
		return
	}
	m.values[id].Add(n)
}

// Observe records a duration sample on a histogram metric.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() {
		return
	}
	for i, h := range histogramIDs {
		if h == id {
			m.hists[i].observe(d)
			return
		}
	}
}

// Time starts a sample and returns the function that records it:
//
//	defer e.metrics.Time(MetricLoginLatency)()
func (m *Metrics) Time(id MetricID) func() {
	if !m.LatencyEnabled() {
		return func() {}
	}
	start := time.Now()
	return func() { m.Observe(id, time.Since(start)) }
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.values[id].Load()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:      map[MetricID]uint64{},
		Histograms:    map[MetricID][]uint64{},
		HistogramSums: map[MetricID]time.Duration{},
	}
	if !m.Enabled() {
		return s
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if !isHistogram(id) {
			s.Counters[id] = m.values[id].Load()
		}
	}
	if m.latency {
		for i, id := range histogramIDs {
			s.Histograms[id], s.HistogramSums[id] = m.hists[i].load()
		}
	}
	return s
}
