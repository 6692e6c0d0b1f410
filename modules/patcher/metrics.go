package patcher

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/patchkit-go/patchkit/index"
)

// Metrics collects Prometheus counters describing one
// installer's activity. It is optional: a nil *Metrics is never passed to
// WrapCallbacks, and callers that don't need metrics just omit it.
type Metrics struct {
	VerifyBytesTotal      prometheus.Counter
	InstallBytesTotal     prometheus.Counter
	CorruptionsFoundTotal prometheus.Counter
	RepairAttemptsTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers a Metrics set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		VerifyBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "patchkit",
			Name:      "verify_bytes_total",
			Help:      "Total bytes verified against the patch index.",
		}),
		InstallBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "patchkit",
			Name:      "install_bytes_total",
			Help:      "Total bytes written to target files during install.",
		}),
		CorruptionsFoundTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "patchkit",
			Name:      "corruptions_found_total",
			Help:      "Total parts found missing or corrupt during verification.",
		}),
		RepairAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patchkit",
			Name:      "repair_attempts_total",
			Help:      "Total HTTP install task attempts, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.VerifyBytesTotal, m.InstallBytesTotal, m.CorruptionsFoundTotal, m.RepairAttemptsTotal)
	return m
}

// IncRepairAttempt records one HTTP install task attempt under outcome
// (e.g. "success", "transient_error", "cancelled", "exhausted"). A nil m is
// a no-op, so callers that build an httpInstallTask without a Metrics set
// (as unit tests do) never need a nil check of their own.
func (m *Metrics) IncRepairAttempt(outcome string) {
	if m == nil {
		return
	}
	m.RepairAttemptsTotal.WithLabelValues(outcome).Inc()
}

// WrapCallbacks returns a Callbacks that updates m on every event before
// forwarding to cb's own handlers, if set. Passing a nil m returns cb
// unchanged.
func (m *Metrics) WrapCallbacks(cb Callbacks) Callbacks {
	if m == nil {
		return cb
	}
	prevVerify := cb.OnVerifyProgress
	prevInstall := cb.OnInstallProgress
	prevCorruption := cb.OnCorruptionFound

	var lastVerify, lastInstall int64
	return Callbacks{
		OnVerifyProgress: func(targetIndex int, bytesDone, bytesTotal int64) {
			if delta := bytesDone - lastVerify; delta > 0 {
				m.VerifyBytesTotal.Add(float64(delta))
			}
			lastVerify = bytesDone
			if prevVerify != nil {
				prevVerify(targetIndex, bytesDone, bytesTotal)
			}
		},
		OnInstallProgress: func(sourceIndex int, bytesDone, bytesTotal int64) {
			if delta := bytesDone - lastInstall; delta > 0 {
				m.InstallBytesTotal.Add(float64(delta))
			}
			lastInstall = bytesDone
			if prevInstall != nil {
				prevInstall(sourceIndex, bytesDone, bytesTotal)
			}
		},
		OnCorruptionFound: func(part index.Part, result index.VerifyResult) {
			m.CorruptionsFoundTotal.Inc()
			if prevCorruption != nil {
				prevCorruption(part, result)
			}
		},
	}
}
