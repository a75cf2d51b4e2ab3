package resolver

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeResolved = "resolved"
	outcomeAbsent   = "absent"
	outcomeFailed   = "failed"
	outcomeNotReady = "not_ready"
)

type metrics struct {
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	shared      prometheus.Counter
	resolutions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// newMetrics creates the resolver metrics and registers them with reg when it
// is not nil. Resolvers sharing a registry share its collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		cacheHits: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guestaddr_cache_hits_total",
			Help: "Resolutions answered from the address cache.",
		})),
		cacheMisses: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guestaddr_cache_misses_total",
			Help: "Resolutions not found in the address cache.",
		})),
		shared: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guestaddr_shared_resolutions_total",
			Help: "Resolutions that joined an in-flight resolution of the same key.",
		})),
		resolutions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guestaddr_resolutions_total",
			Help: "Resolution attempts by provider and outcome.",
		}, []string{"provider", "outcome"})),
		duration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guestaddr_resolution_duration_seconds",
			Help:    "Time spent running a provider strategy.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"})),
	}
}

// register adds c to reg. If an equal collector is already registered, that
// one is returned instead so its values keep accumulating. A collector that
// cannot be registered still works, it is just not exported.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}
