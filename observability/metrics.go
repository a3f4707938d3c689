// Package observability exposes the process-wide Prometheus collectors for
// dispatch, fusion, consensus and membership. Components record into the
// package-level collectors directly; Register is idempotent and must be
// called once before serving /metrics.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// DispatchesTotal counts orchestrator dispatches by terminal result.
	DispatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kenpire",
		Subsystem: "orchestrator",
		Name:      "dispatches_total",
		Help:      "Total task dispatches by result (fused, invalid, all_failed)",
	}, []string{"result"})

	// BackendCallsTotal counts individual backend invocations by outcome.
	BackendCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kenpire",
		Subsystem: "orchestrator",
		Name:      "backend_calls_total",
		Help:      "Total backend invocations by outcome (ok, transient, rejected, timeout)",
	}, []string{"backend", "outcome"})

	// AgreementScore observes the per-dispatch fusion agreement score.
	AgreementScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kenpire",
		Subsystem: "fuser",
		Name:      "agreement_score",
		Help:      "Distribution of fusion agreement scores",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	// ConsensusRoundsTotal counts finished consensus rounds by outcome.
	ConsensusRoundsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kenpire",
		Subsystem: "consensus",
		Name:      "rounds_total",
		Help:      "Total consensus rounds by outcome (committed, rejected, timed_out)",
	}, []string{"outcome"})

	// VotesTotal counts received votes by disposition.
	VotesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kenpire",
		Subsystem: "consensus",
		Name:      "votes_total",
		Help:      "Total votes processed by disposition (counted, duplicate, stale, abstained)",
	}, []string{"disposition"})

	// MeshPeers tracks the current number of live peers in the mesh view.
	MeshPeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kenpire",
		Subsystem: "mesh",
		Name:      "live_peers",
		Help:      "Current number of peers inside the liveness window",
	})

	// CardsStored tracks live entries in the smart-card cache.
	CardsStored = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kenpire",
		Subsystem: "smartcard",
		Name:      "cards_stored",
		Help:      "Current number of unexpired cards in the store",
	})
)

// Register registers all collectors into the default Prometheus registry (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(DispatchesTotal)
		prometheus.MustRegister(BackendCallsTotal)
		prometheus.MustRegister(AgreementScore)
		prometheus.MustRegister(ConsensusRoundsTotal)
		prometheus.MustRegister(VotesTotal)
		prometheus.MustRegister(MeshPeers)
		prometheus.MustRegister(CardsStored)
	})
}
