package trader

import (
	"errors"
	"testing"

	"stock-rotation-bot-go/internal/broker"
	"stock-rotation-bot-go/internal/config"
	"stock-rotation-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func flatBars(count int, closePrice float64) []broker.Bar {
	bars := make([]broker.Bar, count)
	for i := range bars {
		bars[i] = broker.Bar{Close: closePrice}
	}
	return bars
}

func newTestRegimePlanner(mockClient *MockGatewayClient) *RegimePlanner {
	return NewRegimePlanner(mockClient, config.Regime{
		Indices:  []string{"QQQ", "SPY"},
		MAPeriod: 5,
	}, zap.NewNop())
}

func TestDetectRegime_AllAboveIsBull(t *testing.T) {
	mockClient := new(MockGatewayClient)
	mockClient.On("GetHistory", "QQQ", "day", 5).Return(flatBars(5, 100.0), nil)
	mockClient.On("GetHistory", "SPY", "day", 5).Return(flatBars(5, 400.0), nil)
	mockClient.On("GetQuote", "QQQ").Return(&broker.Quote{Symbol: "QQQ", LastPrice: 110}, nil)
	mockClient.On("GetQuote", "SPY").Return(&broker.Quote{Symbol: "SPY", LastPrice: 410}, nil)

	regime, err := newTestRegimePlanner(mockClient).DetectRegime()

	assert.NoError(t, err)
	assert.Equal(t, RegimeBull, regime)
}

func TestDetectRegime_AllBelowIsBear(t *testing.T) {
	mockClient := new(MockGatewayClient)
	mockClient.On("GetHistory", "QQQ", "day", 5).Return(flatBars(5, 100.0), nil)
	mockClient.On("GetHistory", "SPY", "day", 5).Return(flatBars(5, 400.0), nil)
	mockClient.On("GetQuote", "QQQ").Return(&broker.Quote{Symbol: "QQQ", LastPrice: 90}, nil)
	mockClient.On("GetQuote", "SPY").Return(&broker.Quote{Symbol: "SPY", LastPrice: 390}, nil)

	regime, err := newTestRegimePlanner(mockClient).DetectRegime()

	assert.NoError(t, err)
	assert.Equal(t, RegimeBear, regime)
}

func TestDetectRegime_MixedIsSideways(t *testing.T) {
	mockClient := new(MockGatewayClient)
	mockClient.On("GetHistory", "QQQ", "day", 5).Return(flatBars(5, 100.0), nil)
	mockClient.On("GetHistory", "SPY", "day", 5).Return(flatBars(5, 400.0), nil)
	mockClient.On("GetQuote", "QQQ").Return(&broker.Quote{Symbol: "QQQ", LastPrice: 110}, nil)
	mockClient.On("GetQuote", "SPY").Return(&broker.Quote{Symbol: "SPY", LastPrice: 390}, nil)

	regime, err := newTestRegimePlanner(mockClient).DetectRegime()

	assert.NoError(t, err)
	assert.Equal(t, RegimeSideways, regime)
}

func TestDetectRegime_SkipsFailedIndex(t *testing.T) {
	mockClient := new(MockGatewayClient)
	mockClient.On("GetHistory", "QQQ", "day", 5).Return([]broker.Bar(nil), errors.New("gateway timeout"))
	mockClient.On("GetHistory", "SPY", "day", 5).Return(flatBars(5, 400.0), nil)
	mockClient.On("GetQuote", "SPY").Return(&broker.Quote{Symbol: "SPY", LastPrice: 410}, nil)

	regime, err := newTestRegimePlanner(mockClient).DetectRegime()

	assert.NoError(t, err)
	assert.Equal(t, RegimeBull, regime)
}

func TestDetectRegime_NoEvaluableIndexIsAnError(t *testing.T) {
	mockClient := new(MockGatewayClient)
	mockClient.On("GetHistory", "QQQ", "day", 5).Return([]broker.Bar(nil), errors.New("gateway timeout"))
	mockClient.On("GetHistory", "SPY", "day", 5).Return(flatBars(2, 400.0), nil) // too short

	_, err := newTestRegimePlanner(mockClient).DetectRegime()

	assert.Error(t, err)
}

func TestPolicyFor(t *testing.T) {
	assert.Equal(t, RegimePolicy{CashReserve: 0.15, PositionReduction: 0}, PolicyFor(RegimeBull))
	assert.Equal(t, RegimePolicy{CashReserve: 0.30, PositionReduction: 0.30}, PolicyFor(RegimeSideways))
	assert.Equal(t, RegimePolicy{CashReserve: 0.50, PositionReduction: 0.60}, PolicyFor(RegimeBear))
}

func mockSidewaysMarket(mockClient *MockGatewayClient) {
	mockClient.On("GetHistory", "QQQ", "day", 5).Return(flatBars(5, 100.0), nil)
	mockClient.On("GetHistory", "SPY", "day", 5).Return(flatBars(5, 400.0), nil)
	mockClient.On("GetQuote", "QQQ").Return(&broker.Quote{Symbol: "QQQ", LastPrice: 110}, nil)
	mockClient.On("GetQuote", "SPY").Return(&broker.Quote{Symbol: "SPY", LastPrice: 390}, nil)
}

func TestRunOnce_ReserveShortfallPlansLiquidation(t *testing.T) {
	mockClient := new(MockGatewayClient)
	mockSidewaysMarket(mockClient)

	// 10% cash against a 30% SIDEWAYS target: 2000 must come out of 9000 of
	// positions, within the 30% reduction cap (2700).
	account := models.AccountSnapshot{Cash: 1000, TotalEquity: 10000}
	holdings := []models.PositionHolding{
		{Symbol: "AAPL", Quantity: 10, CurrentPrice: 300, SellScore: 65}, // holding score 18
		{Symbol: "MSFT", Quantity: 20, CurrentPrice: 300, SellScore: 30}, // holding score 50
	}

	regime, plan, err := newTestRegimePlanner(mockClient).RunOnce(account, holdings)

	assert.NoError(t, err)
	assert.Equal(t, RegimeSideways, regime)
	// AAPL's weaker holding score puts its full position first; its 3000 of
	// value already covers the 2000 gap.
	assert.Len(t, plan.Entries, 1)
	assert.Equal(t, "AAPL", plan.Entries[0].Symbol)
	assert.Equal(t, 10.0, plan.Entries[0].Quantity)
}

func TestRunOnce_ReserveMetMeansNoPlan(t *testing.T) {
	mockClient := new(MockGatewayClient)
	mockSidewaysMarket(mockClient)

	account := models.AccountSnapshot{Cash: 4000, TotalEquity: 10000}
	holdings := []models.PositionHolding{
		{Symbol: "AAPL", Quantity: 10, CurrentPrice: 600, SellScore: 65},
	}

	_, plan, err := newTestRegimePlanner(mockClient).RunOnce(account, holdings)

	assert.NoError(t, err)
	assert.Empty(t, plan.Entries)
}

func TestRunOnce_BullNeverForcesSales(t *testing.T) {
	mockClient := new(MockGatewayClient)
	mockClient.On("GetHistory", "QQQ", "day", 5).Return(flatBars(5, 100.0), nil)
	mockClient.On("GetHistory", "SPY", "day", 5).Return(flatBars(5, 400.0), nil)
	mockClient.On("GetQuote", "QQQ").Return(&broker.Quote{Symbol: "QQQ", LastPrice: 110}, nil)
	mockClient.On("GetQuote", "SPY").Return(&broker.Quote{Symbol: "SPY", LastPrice: 410}, nil)

	// Zero cash against the 15% BULL target, but the BULL reduction fraction
	// is zero so nothing is liquidated.
	account := models.AccountSnapshot{Cash: 0, TotalEquity: 10000}
	holdings := []models.PositionHolding{
		{Symbol: "AAPL", Quantity: 10, CurrentPrice: 1000, SellScore: 65},
	}

	regime, plan, err := newTestRegimePlanner(mockClient).RunOnce(account, holdings)

	assert.NoError(t, err)
	assert.Equal(t, RegimeBull, regime)
	assert.Empty(t, plan.Entries)
}

func TestRunOnce_ReductionFractionCapsLiquidation(t *testing.T) {
	mockClient := new(MockGatewayClient)
	mockSidewaysMarket(mockClient)

	// 5000 needed to reach the reserve but the 30% cap allows only 1500.
	account := models.AccountSnapshot{Cash: 0, TotalEquity: 10000}
	holdings := []models.PositionHolding{
		{Symbol: "AAPL", Quantity: 10, CurrentPrice: 100, SellScore: 65},
		{Symbol: "MSFT", Quantity: 10, CurrentPrice: 100, SellScore: 64},
		{Symbol: "NVDA", Quantity: 10, CurrentPrice: 100, SellScore: 63},
		{Symbol: "TSLA", Quantity: 10, CurrentPrice: 100, SellScore: 62},
		{Symbol: "AMZN", Quantity: 10, CurrentPrice: 100, SellScore: 61},
	}

	_, plan, err := newTestRegimePlanner(mockClient).RunOnce(account, holdings)

	assert.NoError(t, err)
	// Cap is 0.30 * 5000 = 1500: two full 1000 positions cover it.
	assert.Len(t, plan.Entries, 2)
}

func TestRunOnce_ZeroEquityIsANoOp(t *testing.T) {
	mockClient := new(MockGatewayClient)
	mockSidewaysMarket(mockClient)

	_, plan, err := newTestRegimePlanner(mockClient).RunOnce(models.AccountSnapshot{}, nil)

	assert.NoError(t, err)
	assert.Empty(t, plan.Entries)
}
