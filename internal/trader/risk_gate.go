package trader

import (
	"math"

	"stock-rotation-bot-go/internal/config"
	"stock-rotation-bot-go/internal/models"

	"go.uber.org/zap"
)

// RiskGate validates candidate orders against the configured watchlist and
// per-symbol exposure limits before they reach the dispatcher.
type RiskGate struct {
	risk   config.Risk
	logger *zap.Logger
}

// NewRiskGate creates a new risk gate.
func NewRiskGate(risk config.Risk, logger *zap.Logger) *RiskGate {
	return &RiskGate{
		risk:   risk,
		logger: logger.Named("risk-gate"),
	}
}

// Validate reports whether the signal may proceed to dispatch.
// currentPosition is the quantity already held for the signal's symbol
// (0 when flat). Symbols without a configured limit are allowed: missing
// limits mean "not restricted", not "forbidden".
func (g *RiskGate) Validate(sig models.Signal, currentPosition float64) bool {
	l := g.logger.With(
		zap.String("symbol", sig.Symbol),
		zap.String("side", sig.Side),
	)

	if !g.risk.OnWatchlist(sig.Symbol) {
		l.Info("Rejected: symbol not on watchlist")
		return false
	}

	limit, ok := g.risk.Limits[sig.Symbol]
	if !ok {
		l.Info("No risk limit configured for symbol, allowing")
		return true
	}

	if limit.MaxNotional > 0 {
		notional := sig.Quantity * sig.Price
		if notional > limit.MaxNotional {
			l.Info("Rejected: order notional exceeds limit",
				zap.Float64("notional", notional),
				zap.Float64("max_notional", limit.MaxNotional),
			)
			return false
		}
	}

	if limit.MaxPosition > 0 {
		signed := sig.Quantity
		if sig.Side == models.SideSell {
			signed = -signed
		}
		projected := math.Abs(currentPosition + signed)
		if projected > limit.MaxPosition {
			l.Info("Rejected: projected position exceeds limit",
				zap.Float64("projected_position", projected),
				zap.Float64("max_position", limit.MaxPosition),
			)
			return false
		}
	}

	return true
}
