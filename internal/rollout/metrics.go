package rollout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// reloadsTotal counts policy refresh attempts.
	// Labels: result (success, error)
	reloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "rollout",
			Name:      "reloads_total",
			Help:      "Total number of rollout policy refresh attempts",
		},
		[]string{"result"},
	)

	// policyVersion exposes the number of snapshots installed since start.
	policyVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "rollout",
			Name:      "policy_version",
			Help:      "Number of rollout snapshots installed since process start",
		},
	)

	// operationsByMode tracks how many operations are in each rollout mode.
	// Labels: mode (off, percentage, on, forced_legacy)
	operationsByMode = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "rollout",
			Name:      "operations",
			Help:      "Number of operations per rollout mode in the current snapshot",
		},
		[]string{"mode"},
	)
)

func recordReload(success bool) {
	if success {
		reloadsTotal.WithLabelValues("success").Inc()
	} else {
		reloadsTotal.WithLabelValues("error").Inc()
	}
}

func updateModeGauges(snap Snapshot) {
	counts := map[Mode]int{ModeOff: 0, ModePercentage: 0, ModeOn: 0, ModeForcedLegacy: 0}
	for _, st := range snap.states {
		counts[st.Mode()]++
	}
	for mode, n := range counts {
		operationsByMode.WithLabelValues(mode.String()).Set(float64(n))
	}
}
