package fhircodegen

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Type graph categories used as metric labels.
const (
	CategoryPrimitive = "primitive"
	CategoryDatatype  = "datatype"
	CategoryResource  = "resource"
	CategoryProfile   = "profile"
)

// Cache names used as metric labels.
const (
	CacheStructure = "structure"
	CacheType      = "type"
	CachePrimitive = "primitive"
)

// Metrics tracks build and resolver activity using lock-free atomic counters
// and mirrors every recording into Prometheus collectors.
// All methods are safe for concurrent use and on a nil receiver.
type Metrics struct {
	buildsTotal  atomic.Uint64
	buildsFailed atomic.Uint64

	// Timing (stored as nanoseconds)
	buildTimeTotal atomic.Uint64
	buildTimeMax   atomic.Uint64

	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64

	primitives atomic.Uint64
	datatypes  atomic.Uint64
	resources  atomic.Uint64
	profiles   atomic.Uint64

	skipped         atomic.Uint64
	resolveFailures atomic.Uint64

	promBuilds          *prometheus.CounterVec
	promBuildDuration   prometheus.Histogram
	promTypes           *prometheus.GaugeVec
	promSkipped         *prometheus.CounterVec
	promCache           *prometheus.CounterVec
	promResolveFailures prometheus.Counter
}

// NewMetrics creates a Metrics instance. When reg is non-nil the Prometheus
// collectors are registered with it.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		promBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fhir_codegen",
			Name:      "builds_total",
			Help:      "Type graph builds by result.",
		}, []string{"result"}),
		promBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fhir_codegen",
			Name:      "build_duration_seconds",
			Help:      "Duration of type graph builds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		promTypes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fhir_codegen",
			Name:      "types",
			Help:      "Types in the last built graph by category.",
		}, []string{"category"}),
		promSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fhir_codegen",
			Name:      "skipped_items_total",
			Help:      "Definitions and search parameters skipped during builds.",
		}, []string{"reason"}),
		promCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fhir_codegen",
			Name:      "cache_requests_total",
			Help:      "Cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		promResolveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fhir_codegen",
			Name:      "resolve_failures_total",
			Help:      "Canonical URL lookups that failed or found nothing.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.promBuilds,
			m.promBuildDuration,
			m.promTypes,
			m.promSkipped,
			m.promCache,
			m.promResolveFailures,
		)
	}
	return m
}

// --- Recording Methods ---

// RecordBuild records a completed build.
func (m *Metrics) RecordBuild(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.buildsTotal.Add(1)
	result := "success"
	if err != nil {
		m.buildsFailed.Add(1)
		result = "failure"
	}
	m.promBuilds.WithLabelValues(result).Inc()
	m.promBuildDuration.Observe(duration.Seconds())

	ns := uint64(duration.Nanoseconds()) //nolint:gosec // durations are non-negative
	m.buildTimeTotal.Add(ns)
	for {
		old := m.buildTimeMax.Load()
		if ns <= old {
			break
		}
		if m.buildTimeMax.CompareAndSwap(old, ns) {
			break
		}
	}
}

// RecordTypes records the number of types of each category in a built graph.
func (m *Metrics) RecordTypes(category string, n int) {
	if m == nil {
		return
	}
	switch category {
	case CategoryPrimitive:
		m.primitives.Store(uint64(n)) //nolint:gosec // map sizes are non-negative
	case CategoryDatatype:
		m.datatypes.Store(uint64(n)) //nolint:gosec // map sizes are non-negative
	case CategoryResource:
		m.resources.Store(uint64(n)) //nolint:gosec // map sizes are non-negative
	case CategoryProfile:
		m.profiles.Store(uint64(n)) //nolint:gosec // map sizes are non-negative
	default:
		return
	}
	m.promTypes.WithLabelValues(category).Set(float64(n))
}

// RecordSkipped records an item dropped during a build.
func (m *Metrics) RecordSkipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.Add(1)
	m.promSkipped.WithLabelValues(reason).Inc()
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.cacheHits.Add(1)
	m.promCache.WithLabelValues(cache, "hit").Inc()
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.cacheMisses.Add(1)
	m.promCache.WithLabelValues(cache, "miss").Inc()
}

// RecordResolveFailure records a lookup that failed or found nothing.
func (m *Metrics) RecordResolveFailure() {
	if m == nil {
		return
	}
	m.resolveFailures.Add(1)
	m.promResolveFailures.Inc()
}

// --- Query Methods ---

// BuildsTotal returns the total number of builds.
func (m *Metrics) BuildsTotal() uint64 {
	if m == nil {
		return 0
	}
	return m.buildsTotal.Load()
}

// BuildsFailed returns the number of failed builds.
func (m *Metrics) BuildsFailed() uint64 {
	if m == nil {
		return 0
	}
	return m.buildsFailed.Load()
}

// AverageBuildTime returns the average build duration.
func (m *Metrics) AverageBuildTime() time.Duration {
	if m == nil {
		return 0
	}
	total := m.buildsTotal.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.buildTimeTotal.Load() / total) //nolint:gosec // nanoseconds within int64 range
}

// MaxBuildTime returns the longest build duration.
func (m *Metrics) MaxBuildTime() time.Duration {
	if m == nil {
		return 0
	}
	return time.Duration(m.buildTimeMax.Load()) //nolint:gosec // nanoseconds within int64 range
}

// CacheHits returns the total cache hits.
func (m *Metrics) CacheHits() uint64 {
	if m == nil {
		return 0
	}
	return m.cacheHits.Load()
}

// CacheMisses returns the total cache misses.
func (m *Metrics) CacheMisses() uint64 {
	if m == nil {
		return 0
	}
	return m.cacheMisses.Load()
}

// CacheHitRate returns the cache hit rate (0.0 to 1.0).
func (m *Metrics) CacheHitRate() float64 {
	if m == nil {
		return 0
	}
	hits := m.cacheHits.Load()
	total := hits + m.cacheMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// SkippedTotal returns the number of skipped items.
func (m *Metrics) SkippedTotal() uint64 {
	if m == nil {
		return 0
	}
	return m.skipped.Load()
}

// ResolveFailures returns the number of failed lookups.
func (m *Metrics) ResolveFailures() uint64 {
	if m == nil {
		return 0
	}
	return m.resolveFailures.Load()
}

// --- Export Methods ---

// Snapshot represents a point-in-time snapshot of all metrics.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	BuildsTotal     uint64  `json:"builds_total"`
	BuildsFailed    uint64  `json:"builds_failed"`
	AvgBuildTimeNs  uint64  `json:"avg_build_time_ns"`
	MaxBuildTimeNs  uint64  `json:"max_build_time_ns"`
	CacheHits       uint64  `json:"cache_hits"`
	CacheMisses     uint64  `json:"cache_misses"`
	CacheHitRate    float64 `json:"cache_hit_rate"`
	Primitives      uint64  `json:"primitives"`
	Datatypes       uint64  `json:"datatypes"`
	Resources       uint64  `json:"resources"`
	Profiles        uint64  `json:"profiles"`
	Skipped         uint64  `json:"skipped"`
	ResolveFailures uint64  `json:"resolve_failures"`
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{Timestamp: time.Now()}
	}
	return Snapshot{
		Timestamp:       time.Now(),
		BuildsTotal:     m.buildsTotal.Load(),
		BuildsFailed:    m.buildsFailed.Load(),
		AvgBuildTimeNs:  uint64(m.AverageBuildTime().Nanoseconds()), //nolint:gosec // non-negative
		MaxBuildTimeNs:  m.buildTimeMax.Load(),
		CacheHits:       m.cacheHits.Load(),
		CacheMisses:     m.cacheMisses.Load(),
		Primitives:      m.primitives.Load(),
		Datatypes:       m.datatypes.Load(),
		Resources:       m.resources.Load(),
		Profiles:        m.profiles.Load(),
		Skipped:         m.skipped.Load(),
		ResolveFailures: m.resolveFailures.Load(),
		CacheHitRate:    m.CacheHitRate(),
	}
}
