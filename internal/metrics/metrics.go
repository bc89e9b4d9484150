// Package metrics exposes Prometheus metrics the bot updates during operation:
//   - bot_dispatches_total{side,outcome}  – Signal dispatches by side and outcome (submitted|conflict|duplicate|rejected|risk_rejected)
//   - bot_orders_total{side,reason}       – Orders submitted (reason: signal|rotation|stop_loss|take_profit|regime)
//   - bot_rejections_total{category}      – Broker rejections by classified category
//   - bot_rotations_total                 – Rotation plans executed
//   - bot_unfunded_signals_total          – Signals that no rotation could fund
//   - bot_regime_state{regime}            – Current regime indicator (one labeled series set to 1)
//   - bot_cash_reserve_fraction           – Current cash fraction of equity (gauge)
//   - bot_active_stops                    – Number of ACTIVE stop records (gauge)
//
// These are registered in init() and served by the trader API at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_dispatches_total",
			Help: "Signal dispatches by side and outcome",
		},
		[]string{"side", "outcome"},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders submitted by side and reason",
		},
		[]string{"side", "reason"},
	)

	Rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_rejections_total",
			Help: "Broker rejections by classified category",
		},
		[]string{"category"},
	)

	Rotations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_rotations_total",
			Help: "Rotation plans executed",
		},
	)

	UnfundedSignals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_unfunded_signals_total",
			Help: "Signals that no rotation could fund",
		},
	)

	// RegimeState exposes one labeled series per regime flipped between 0/1
	// to keep dashboards simple.
	RegimeState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_regime_state",
			Help: "Current market regime indicator (bull/sideways/bear as separate labeled series)",
		},
		[]string{"regime"},
	)

	CashReserveFraction = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_cash_reserve_fraction",
			Help: "Current cash fraction of total equity",
		},
	)

	ActiveStops = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_active_stops",
			Help: "Number of ACTIVE stop records",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Dispatches,
		Orders,
		Rejections,
		Rotations,
		UnfundedSignals,
		RegimeState,
		CashReserveFraction,
		ActiveStops,
	)
}
