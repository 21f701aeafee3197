package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the hunter exports.
type Metrics struct {
	RPCStalled    prometheus.Gauge
	RPCReconnects prometheus.Counter
	RPCLatency    prometheus.Histogram
	HeadBlock     prometheus.Gauge

	EventsDecoded     *prometheus.CounterVec // by kind
	EventsDuplicate   prometheus.Counter
	EventsUnknown     prometheus.Counter
	RangeSplits       prometheus.Counter
	BlocksSkipped     prometheus.Counter
	HandlerFailures   *prometheus.CounterVec // by kind
	ListenerLastBlock prometheus.Gauge

	FilterDecisions *prometheus.CounterVec // by result, check
	RiskRejections  *prometheus.CounterVec // by reason
	ClusterSignals  prometheus.Counter

	TxSubmitted *prometheus.CounterVec // by side
	TxOutcome   *prometheus.CounterVec // by side, outcome

	OpenPositions prometheus.Gauge
	RealizedPnL   prometheus.Gauge
	PositionExits *prometheus.CounterVec // by reason
}

// NewMetrics builds the collector set and registers it on reg.
// A nil reg yields working but unexported collectors, which is what tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RPCStalled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fourmeme_rpc_stalled",
			Help: "1 when no new block has been observed within the stall threshold",
		}),
		RPCReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fourmeme_rpc_reconnects_total",
			Help: "Successful RPC reconnects",
		}),
		RPCLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fourmeme_rpc_probe_latency_seconds",
			Help:    "Latency of eth_blockNumber liveness probes",
			Buckets: prometheus.DefBuckets,
		}),
		HeadBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fourmeme_chain_head_block",
			Help: "Most recent chain head observed",
		}),
		EventsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fourmeme_events_decoded_total",
			Help: "Decoded contract events dispatched to handlers",
		}, []string{"kind"}),
		EventsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fourmeme_events_duplicate_total",
			Help: "Events dropped by the (tx, logIndex) dedup cache",
		}),
		EventsUnknown: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fourmeme_events_unrecognized_total",
			Help: "Logs that no decoder variant or fallback layout matched",
		}),
		RangeSplits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fourmeme_listener_range_splits_total",
			Help: "Block ranges bisected after a rate-limit response",
		}),
		BlocksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fourmeme_listener_blocks_skipped_total",
			Help: "Single blocks abandoned after repeated rate limiting",
		}),
		HandlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fourmeme_handler_failures_total",
			Help: "Event handler errors and panics",
		}, []string{"kind"}),
		ListenerLastBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fourmeme_listener_last_block",
			Help: "Last block fully processed by the listener",
		}),
		FilterDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fourmeme_filter_decisions_total",
			Help: "Trade filter outcomes",
		}, []string{"result", "check"}),
		RiskRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fourmeme_risk_rejections_total",
			Help: "Buys refused by the risk manager",
		}, []string{"reason"}),
		ClusterSignals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fourmeme_cluster_signals_total",
			Help: "Token addresses released by the trend tracker",
		}),
		TxSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fourmeme_tx_submitted_total",
			Help: "Transactions submitted",
		}, []string{"side"}),
		TxOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fourmeme_tx_outcome_total",
			Help: "Transaction outcomes (success, reverted, unknown, error)",
		}, []string{"side", "outcome"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fourmeme_open_positions",
			Help: "Positions not yet closed",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fourmeme_realized_pnl_bnb",
			Help: "Realized PnL since start in BNB",
		}),
		PositionExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fourmeme_position_exits_total",
			Help: "Position sells by exit reason",
		}, []string{"reason"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RPCStalled, m.RPCReconnects, m.RPCLatency, m.HeadBlock,
			m.EventsDecoded, m.EventsDuplicate, m.EventsUnknown, m.RangeSplits,
			m.BlocksSkipped, m.HandlerFailures, m.ListenerLastBlock,
			m.FilterDecisions, m.RiskRejections, m.ClusterSignals,
			m.TxSubmitted, m.TxOutcome,
			m.OpenPositions, m.RealizedPnL, m.PositionExits,
		)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
