package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var BidAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ccabid",
	Name:      "bid_attempts_total",
	Help:      "Total number of bid submission attempts, by result.",
}, []string{"result"})

var BidsTerminalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ccabid",
	Name:      "bids_terminal_total",
	Help:      "Total number of bids reaching a terminal state, by state.",
}, []string{"state"})

var SubmitStepErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ccabid",
	Name:      "submit_step_errors_total",
	Help:      "Total number of submit pipeline failures, by step.",
}, []string{"step"})

var BlocksHandledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ccabid",
	Name:      "blocks_handled_total",
	Help:      "Total number of block heads handled by the engine, by phase at arrival.",
}, []string{"phase"})

var CurrentPhase = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "ccabid",
	Name:      "phase",
	Help:      "Current engine phase, 0 (Submit) through 5 (Done).",
})

var LastBlockHeight = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "ccabid",
	Name:      "last_block_height",
	Help:      "Height of the most recent block head handled by the engine.",
})

var BidsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "ccabid",
	Name:      "bids",
	Help:      "Number of tracked bids, by lifecycle state.",
}, []string{"state"})

var TicksTraversed = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "ccabid",
	Name:      "ticks_traversed",
	Help:      "Tick list reads needed to resolve one insertion point.",
	Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512},
})

var RunsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ccabid",
	Name:      "runs_recorded_total",
	Help:      "Total number of run summaries written to a store, by result.",
}, []string{"store", "result"})
