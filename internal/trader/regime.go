package trader

import (
	"fmt"
	"sort"

	"stock-rotation-bot-go/internal/broker"
	"stock-rotation-bot-go/internal/config"
	"stock-rotation-bot-go/internal/metrics"
	"stock-rotation-bot-go/internal/models"

	"go.uber.org/zap"
)

// Regime is the coarse cross-market trend classification.
type Regime string

const (
	RegimeBull     Regime = "BULL"
	RegimeSideways Regime = "SIDEWAYS"
	RegimeBear     Regime = "BEAR"
)

// RegimePolicy pairs a regime with its target cash-reserve fraction and the
// fraction of positions eligible for forced reduction.
type RegimePolicy struct {
	CashReserve       float64
	PositionReduction float64
}

// PolicyFor returns the deleveraging policy for a regime.
func PolicyFor(r Regime) RegimePolicy {
	switch r {
	case RegimeBull:
		return RegimePolicy{CashReserve: 0.15, PositionReduction: 0}
	case RegimeBear:
		return RegimePolicy{CashReserve: 0.50, PositionReduction: 0.60}
	default:
		return RegimePolicy{CashReserve: 0.30, PositionReduction: 0.30}
	}
}

// RegimePlanner derives the market regime from a basket of reference indices
// versus their long moving average and plans portfolio-wide deleveraging to
// reach the regime's cash-reserve target. It never submits orders itself:
// plans go back through the dispatcher as ordinary SELL signals.
type RegimePlanner struct {
	client broker.GatewayClientInterface
	cfg    config.Regime
	logger *zap.Logger
}

// NewRegimePlanner creates a regime planner.
func NewRegimePlanner(client broker.GatewayClientInterface, cfg config.Regime, logger *zap.Logger) *RegimePlanner {
	return &RegimePlanner{
		client: client,
		cfg:    cfg,
		logger: logger.Named("regime"),
	}
}

// DetectRegime classifies the current market: all reference indices above
// their moving average is BULL, all below is BEAR, anything mixed SIDEWAYS.
func (p *RegimePlanner) DetectRegime() (Regime, error) {
	above, below := 0, 0

	for _, index := range p.cfg.Indices {
		bars, err := p.client.GetHistory(index, "day", p.cfg.MAPeriod)
		if err != nil {
			p.logger.Warn("Failed to fetch history for index", zap.String("index", index), zap.Error(err))
			continue
		}
		if len(bars) < p.cfg.MAPeriod {
			p.logger.Warn("Not enough history for index",
				zap.String("index", index),
				zap.Int("bars", len(bars)),
				zap.Int("needed", p.cfg.MAPeriod),
			)
			continue
		}

		var sum float64
		for _, b := range bars[len(bars)-p.cfg.MAPeriod:] {
			sum += b.Close
		}
		ma := sum / float64(p.cfg.MAPeriod)

		quote, err := p.client.GetQuote(index)
		if err != nil {
			p.logger.Warn("Failed to fetch quote for index", zap.String("index", index), zap.Error(err))
			continue
		}

		if quote.LastPrice > ma {
			above++
		} else {
			below++
		}
	}

	if above+below == 0 {
		return RegimeSideways, fmt.Errorf("no reference index could be evaluated")
	}

	var regime Regime
	switch {
	case below == 0:
		regime = RegimeBull
	case above == 0:
		regime = RegimeBear
	default:
		regime = RegimeSideways
	}

	for _, r := range []Regime{RegimeBull, RegimeSideways, RegimeBear} {
		v := 0.0
		if r == regime {
			v = 1.0
		}
		metrics.RegimeState.WithLabelValues(string(r)).Set(v)
	}

	p.logger.Info("Regime detected",
		zap.String("regime", string(regime)),
		zap.Int("above_ma", above),
		zap.Int("below_ma", below),
	)
	return regime, nil
}

// RunOnce recomputes the regime and, when the portfolio's cash fraction falls
// short of the regime's reserve target, emits a liquidation plan sized to
// close the gap. Holdings are selected by ascending holding-score (ties by
// symbol), full positions only, capped by the regime's position-reduction
// fraction. An empty plan means no deleveraging is currently required.
func (p *RegimePlanner) RunOnce(account models.AccountSnapshot, holdings []models.PositionHolding) (Regime, RotationPlan, error) {
	regime, err := p.DetectRegime()
	if err != nil {
		return regime, RotationPlan{}, err
	}
	policy := PolicyFor(regime)

	if account.TotalEquity <= 0 {
		return regime, RotationPlan{}, nil
	}
	cashFraction := account.Cash / account.TotalEquity
	metrics.CashReserveFraction.Set(cashFraction)

	gap := policy.CashReserve - cashFraction
	if gap <= 0 {
		return regime, RotationPlan{}, nil
	}
	needed := gap * account.TotalEquity

	// The reduction fraction caps how much of the book a single pass may
	// force out; in BULL it is zero and the reserve shortfall is left to
	// resolve through ordinary signal flow.
	var totalValue float64
	for _, h := range holdings {
		totalValue += h.MarketValue()
	}
	maxLiquidation := policy.PositionReduction * totalValue
	if needed > maxLiquidation {
		needed = maxLiquidation
	}
	if needed <= 0 {
		return regime, RotationPlan{}, nil
	}

	sorted := make([]models.PositionHolding, len(holdings))
	copy(sorted, holdings)
	sort.Slice(sorted, func(i, j int) bool {
		hi, hj := HoldingScore(sorted[i].SellScore), HoldingScore(sorted[j].SellScore)
		if hi != hj {
			return hi < hj
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})

	var plan RotationPlan
	var accumulated float64
	for _, h := range sorted {
		if accumulated >= needed {
			break
		}
		accumulated += h.MarketValue()
		plan.Entries = append(plan.Entries, RotationEntry{
			Symbol:   h.Symbol,
			Quantity: h.Quantity,
			Price:    h.CurrentPrice,
			Reason:   "regime",
		})
	}

	p.logger.Info("Deleveraging plan computed",
		zap.String("regime", string(regime)),
		zap.Float64("cash_fraction", cashFraction),
		zap.Float64("reserve_target", policy.CashReserve),
		zap.Int("positions", len(plan.Entries)),
	)
	return regime, plan, nil
}
