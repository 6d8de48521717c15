package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AcquireCounter tracks successful first acquisitions (reentrant
	// re-entries are not counted).
	AcquireCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dlock_acquire_total",
		Help: "Total number of successful lock acquisitions",
	})
	// ContentionCounter tracks acquisition attempts that found the lock
	// held by another holder.
	ContentionCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dlock_contention_total",
		Help: "Total number of contended acquisition attempts",
	})
	// ReleaseCounter tracks full releases (reentrant count back to zero).
	ReleaseCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dlock_release_total",
		Help: "Total number of full lock releases",
	})
	// RenewalCounter tracks successful lease renewals.
	RenewalCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dlock_renewal_total",
		Help: "Total number of successful lease renewals",
	})
	// LeaseLostCounter tracks leases found expired or taken during renewal.
	LeaseLostCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dlock_lease_lost_total",
		Help: "Total number of leases lost while locally held",
	})
	// HeldGauge reports the number of locks currently held by this process.
	HeldGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dlock_held",
		Help: "Current number of locks held by this process",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers dlock core metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AcquireCounter, ContentionCounter, ReleaseCounter,
		RenewalCounter, LeaseLostCounter, HeldGauge)
}
