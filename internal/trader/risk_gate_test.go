package trader

import (
	"testing"

	"stock-rotation-bot-go/internal/config"
	"stock-rotation-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestGate() *RiskGate {
	return NewRiskGate(config.Risk{
		Watchlist: []string{"AAPL", "MSFT", "NVDA"},
		Limits: map[string]config.RiskLimit{
			"AAPL": {MaxNotional: 10000, MaxPosition: 100},
		},
	}, zap.NewNop())
}

func TestRiskGate_RejectsOffWatchlistSymbol(t *testing.T) {
	gate := newTestGate()
	sig := models.Signal{Symbol: "TSLA", Side: models.SideBuy, Quantity: 1, Price: 100}
	assert.False(t, gate.Validate(sig, 0))
}

func TestRiskGate_AllowsSymbolWithoutLimits(t *testing.T) {
	gate := newTestGate()
	// MSFT is on the watchlist but has no limit entry: fail-open.
	sig := models.Signal{Symbol: "MSFT", Side: models.SideBuy, Quantity: 1000000, Price: 1000}
	assert.True(t, gate.Validate(sig, 0))
}

func TestRiskGate_RejectsNotionalBreach(t *testing.T) {
	gate := newTestGate()
	sig := models.Signal{Symbol: "AAPL", Side: models.SideBuy, Quantity: 200, Price: 100} // 20000 > 10000
	assert.False(t, gate.Validate(sig, 0))
}

func TestRiskGate_RejectsPositionBreach(t *testing.T) {
	gate := newTestGate()
	sig := models.Signal{Symbol: "AAPL", Side: models.SideBuy, Quantity: 60, Price: 100}
	// 50 held + 60 = 110 > 100 even though the notional is fine.
	assert.False(t, gate.Validate(sig, 50))
}

func TestRiskGate_SellReducesProjectedPosition(t *testing.T) {
	gate := newTestGate()
	sig := models.Signal{Symbol: "AAPL", Side: models.SideSell, Quantity: 60, Price: 100}
	// 90 held - 60 = 30, within the limit.
	assert.True(t, gate.Validate(sig, 90))
}

func TestRiskGate_AllowsWithinLimits(t *testing.T) {
	gate := newTestGate()
	sig := models.Signal{Symbol: "AAPL", Side: models.SideBuy, Quantity: 50, Price: 100}
	assert.True(t, gate.Validate(sig, 10))
}
