// Package metrics exposes the consensus core's observable counters and
// gauges via github.com/prometheus/client_golang, the teacher's own
// metrics dependency (previously unused retrieval noise in the copied
// tree — given a concrete home here).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every Prometheus collector the consensus core, mempool,
// and sync packages report to.
type Metrics struct {
	RoundsPerHeight   prometheus.Histogram
	TimeoutsFired     *prometheus.CounterVec
	QuorumLatency     prometheus.Histogram
	MempoolSize       prometheus.Gauge
	PeerScore         *prometheus.GaugeVec
	MessagesDropped   *prometheus.CounterVec
	HeightsCommitted  prometheus.Counter
	SyncBlocksApplied prometheus.Counter
}

// New constructs and registers every collector against reg. Callers
// typically pass prometheus.NewRegistry() so tests don't collide on the
// global default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RoundsPerHeight: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pallas",
			Subsystem: "consensus",
			Name:      "rounds_per_height",
			Help:      "Number of rounds consumed before a height committed.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		TimeoutsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pallas",
			Subsystem: "consensus",
			Name:      "timeouts_fired_total",
			Help:      "Count of propose/prevote/precommit timeouts fired, by step.",
		}, []string{"step"}),
		QuorumLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pallas",
			Subsystem: "consensus",
			Name:      "quorum_latency_seconds",
			Help:      "Time from entering a step to observing its vote quorum.",
			Buckets:   prometheus.DefBuckets,
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pallas",
			Subsystem: "mempool",
			Name:      "pending_transactions",
			Help:      "Current number of pending transactions in the pool.",
		}),
		PeerScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pallas",
			Subsystem: "sync",
			Name:      "peer_score",
			Help:      "Liveness score per peer; demoted peers read 0.",
		}, []string{"peer_id"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pallas",
			Subsystem: "consensus",
			Name:      "messages_dropped_total",
			Help:      "Count of messages dropped, by error kind.",
		}, []string{"reason"}),
		HeightsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pallas",
			Subsystem: "consensus",
			Name:      "heights_committed_total",
			Help:      "Count of heights successfully committed via the round protocol.",
		}),
		SyncBlocksApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pallas",
			Subsystem: "sync",
			Name:      "blocks_applied_total",
			Help:      "Count of blocks applied via block sync rather than the round protocol.",
		}),
	}

	reg.MustRegister(
		m.RoundsPerHeight,
		m.TimeoutsFired,
		m.QuorumLatency,
		m.MempoolSize,
		m.PeerScore,
		m.MessagesDropped,
		m.HeightsCommitted,
		m.SyncBlocksApplied,
	)
	return m
}
