package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "procflow", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type and bucket."},
		[]string{"limiter", "bucket"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "procflow", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type and bucket."},
		[]string{"limiter", "bucket"},
	)
	WriteConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "procflow", Name: "write_conflicts_total", Help: "Number of document writes rejected with a version conflict."},
	)
	RevisionsAppended = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "procflow", Name: "revisions_appended_total", Help: "Number of revision snapshots appended to the version history."},
	)
	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "procflow", Name: "cache_hits_total", Help: "Number of cache hits on derived read views."},
	)
	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "procflow", Name: "cache_misses_total", Help: "Number of cache misses on derived read views."},
	)
	CacheBackendErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "procflow", Name: "cache_backend_errors_total", Help: "Number of cache backend failures absorbed by fail-open handling."},
	)
	AutosaveFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "procflow", Name: "autosave_flushes_total", Help: "Autosave flush outcomes."},
		[]string{"result"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(WriteConflicts)
	reg.MustRegister(RevisionsAppended)
	reg.MustRegister(CacheHits)
	reg.MustRegister(CacheMisses)
	reg.MustRegister(CacheBackendErrors)
	reg.MustRegister(AutosaveFlushes)
}
