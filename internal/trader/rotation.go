package trader

import (
	"sort"

	"stock-rotation-bot-go/internal/models"

	"go.uber.org/zap"
)

const (
	rotationReasonTechnical   = "technical"
	rotationReasonOpportunity = "opportunity"
)

// rotationCandidate is a holding eligible for liquidation, with the derived
// scores the selection step orders by.
type rotationCandidate struct {
	Symbol       string
	Quantity     float64
	Price        float64
	SellScore    int
	HoldingScore int
	Reason       string
}

// RotationEntry is one full-position sell in a rotation plan.
type RotationEntry struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Reason   string  `json:"reason"`
}

// RotationPlan is an ordered, symbol-deduplicated liquidation sequence.
// An empty plan for an unfundable signal is a normal outcome.
type RotationPlan struct {
	Entries []RotationEntry `json:"entries"`
}

// Value returns the total liquidation value of the plan.
func (p RotationPlan) Value() float64 {
	var v float64
	for _, e := range p.Entries {
		v += e.Quantity * e.Price
	}
	return v
}

// RotationPlanner decides which holdings to liquidate when admitting a new
// signal needs capital beyond current buying power.
type RotationPlanner struct {
	threshold int // rotation threshold in score points
	minScore  int // minimum signal score for opportunity-cost rotation
	logger    *zap.Logger
}

// NewRotationPlanner creates a planner with the configured thresholds.
func NewRotationPlanner(threshold, minScore int, logger *zap.Logger) *RotationPlanner {
	return &RotationPlanner{
		threshold: threshold,
		minScore:  minScore,
		logger:    logger.Named("rotation"),
	}
}

// mergeCandidates builds the deduplicated candidate list from the two source
// criteria. Technical-weakness entries come first; opportunity-cost entries
// that name an already-seen symbol are dropped, preserving first-seen order.
// Technically weak positions are exited before merely less attractive ones.
func (p *RotationPlanner) mergeCandidates(sig models.Signal, holdings []models.PositionHolding, marginInUse bool) []rotationCandidate {
	seen := make(map[string]bool, len(holdings))
	var merged []rotationCandidate

	add := func(h models.PositionHolding, reason string) {
		if seen[h.Symbol] {
			return
		}
		seen[h.Symbol] = true
		merged = append(merged, rotationCandidate{
			Symbol:       h.Symbol,
			Quantity:     h.Quantity,
			Price:        h.CurrentPrice,
			SellScore:    h.SellScore,
			HoldingScore: HoldingScore(h.SellScore),
			Reason:       reason,
		})
	}

	for _, h := range holdings {
		if h.Symbol == sig.Symbol {
			// Selling the position the signal wants to enter would be circular.
			continue
		}
		if h.SellScore >= 40 {
			add(h, rotationReasonTechnical)
		}
	}

	if marginInUse && sig.Score >= p.minScore {
		for _, h := range holdings {
			if h.Symbol == sig.Symbol {
				continue
			}
			if sig.Score-HoldingScore(h.SellScore) > p.threshold {
				add(h, rotationReasonOpportunity)
			}
		}
	}

	return merged
}

// Plan produces a liquidation plan funding the signal's order cost.
// buyingPower is the account's current available buying power and
// requiredCost the full cost of the admitted order (price times quantity,
// quantity already rounded up to the symbol's lot).
//
// Selection is greedy over full positions in ascending holding-score order
// (ties broken by symbol for determinism). The returned bool is false when no
// combination of eligible holdings can fund the signal; the plan is then
// empty and the caller must report the signal as unfunded rather than drop it.
func (p *RotationPlanner) Plan(sig models.Signal, holdings []models.PositionHolding, marginInUse bool, buyingPower, requiredCost float64) (RotationPlan, bool) {
	candidates := p.mergeCandidates(sig, holdings, marginInUse)
	if len(candidates) == 0 {
		return RotationPlan{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].HoldingScore != candidates[j].HoldingScore {
			return candidates[i].HoldingScore < candidates[j].HoldingScore
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})

	var plan RotationPlan
	projected := buyingPower
	for _, c := range candidates {
		if projected >= requiredCost {
			break
		}
		projected += c.Quantity * c.Price
		plan.Entries = append(plan.Entries, RotationEntry{
			Symbol:   c.Symbol,
			Quantity: c.Quantity,
			Price:    c.Price,
			Reason:   c.Reason,
		})
		p.logger.Info("Selected holding for rotation",
			zap.String("symbol", c.Symbol),
			zap.Int("holding_score", c.HoldingScore),
			zap.Int("signal_score", sig.Score),
			zap.String("reason", c.Reason),
		)
	}

	if projected < requiredCost {
		p.logger.Info("Eligible holdings cannot fund signal",
			zap.String("symbol", sig.Symbol),
			zap.Float64("required", requiredCost),
			zap.Float64("projected", projected),
		)
		return RotationPlan{}, false
	}

	return plan, true
}
