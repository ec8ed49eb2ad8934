package observability

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	settlementOnce sync.Once
	settlementReg  *SettlementMetrics

	replayOnce sync.Once
	replayReg  *ReplayMetrics

	boardOnce sync.Once
	boardReg  *LeaderboardMetrics
)

// SettlementMetrics wraps collectors tracking settlement engine health.
type SettlementMetrics struct {
	latency      *prometheus.HistogramVec
	outcomes     *prometheus.CounterVec
	poolBalance  prometheus.Gauge
	pauseEngaged prometheus.Gauge
}

// Settlement exposes the lazily-initialised settlement metrics registry.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementReg = &SettlementMetrics{
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "arcadepool",
				Subsystem: "settlement",
				Name:      "settle_duration_seconds",
				Help:      "Latency distribution for settlement attempts.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"outcome"}),
			outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "arcadepool",
				Subsystem: "settlement",
				Name:      "outcomes_total",
				Help:      "Settlement attempts segmented by terminal outcome.",
			}, []string{"outcome", "reason"}),
			poolBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "arcadepool",
				Subsystem: "settlement",
				Name:      "pool_balance",
				Help:      "Pool balance observed at the last settlement attempt.",
			}),
			pauseEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "arcadepool",
				Subsystem: "settlement",
				Name:      "pause_engaged",
				Help:      "Whether the settlement pause guard is active (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			settlementReg.latency,
			settlementReg.outcomes,
			settlementReg.poolBalance,
			settlementReg.pauseEngaged,
		)
	})
	return settlementReg
}

// ObserveSettle records the duration and outcome of one settlement attempt.
func (m *SettlementMetrics) ObserveSettle(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(labelValue(outcome)).Observe(d.Seconds())
}

// RecordOutcome counts a settlement result; reason is empty for successes.
func (m *SettlementMetrics) RecordOutcome(outcome, reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "none"
	}
	m.outcomes.WithLabelValues(labelValue(outcome), reason).Inc()
}

// RecordPool updates the observed pool balance gauge.
func (m *SettlementMetrics) RecordPool(balance *big.Int) {
	if m == nil || balance == nil {
		return
	}
	f, _ := new(big.Float).SetInt(balance).Float64()
	m.poolBalance.Set(f)
}

// SetPause toggles the pause gauge.
func (m *SettlementMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.pauseEngaged.Set(1)
		return
	}
	m.pauseEngaged.Set(0)
}

// ReplayMetrics wraps collectors for the replay verification pipeline.
type ReplayMetrics struct {
	accepted prometheus.Counter
	rejected *prometheus.CounterVec
}

// Replay exposes the replay pipeline metrics registry.
func Replay() *ReplayMetrics {
	replayOnce.Do(func() {
		replayReg = &ReplayMetrics{
			accepted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "arcadepool",
				Subsystem: "replay",
				Name:      "accepted_total",
				Help:      "Count of replays that passed verification and were persisted.",
			}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "arcadepool",
				Subsystem: "replay",
				Name:      "rejected_total",
				Help:      "Count of rejected replay submissions segmented by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(replayReg.accepted, replayReg.rejected)
	})
	return replayReg
}

// RecordAccepted counts one accepted replay.
func (m *ReplayMetrics) RecordAccepted() {
	if m == nil {
		return
	}
	m.accepted.Inc()
}

// RecordRejected counts one rejection for the supplied reason.
func (m *ReplayMetrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(labelValue(reason)).Inc()
}

// LeaderboardMetrics tracks ranking refresh behaviour.
type LeaderboardMetrics struct {
	rebuilds prometheus.Counter
	size     prometheus.Gauge
}

// Leaderboard exposes the leaderboard metrics registry.
func Leaderboard() *LeaderboardMetrics {
	boardOnce.Do(func() {
		boardReg = &LeaderboardMetrics{
			rebuilds: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "arcadepool",
				Subsystem: "leaderboard",
				Name:      "rebuilds_total",
				Help:      "Count of completed leaderboard snapshot rebuilds.",
			}),
			size: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "arcadepool",
				Subsystem: "leaderboard",
				Name:      "entries",
				Help:      "Number of ranked entries in the current snapshot.",
			}),
		}
		prometheus.MustRegister(boardReg.rebuilds, boardReg.size)
	})
	return boardReg
}

// RecordRebuild notes a completed rebuild and the resulting snapshot size.
func (m *LeaderboardMetrics) RecordRebuild(entries int) {
	if m == nil {
		return
	}
	m.rebuilds.Inc()
	m.size.Set(float64(entries))
}

func labelValue(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "unknown"
	}
	return v
}
