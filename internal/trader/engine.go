package trader

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"stock-rotation-bot-go/internal/broker"
	"stock-rotation-bot-go/internal/config"
	"stock-rotation-bot-go/internal/metrics"
	"stock-rotation-bot-go/internal/models"
	"stock-rotation-bot-go/internal/notify"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dispatch reasons recorded with each trade.
const (
	ReasonSignal     = "signal"
	ReasonRotation   = "rotation"
	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
	ReasonRegime     = "regime"
)

// Engine wires the risk gate, rotation planner, dispatcher, stop tracker,
// order manager and regime planner around one shared concern: deciding,
// under scarce buying power, which orders are safe and worthwhile to submit.
type Engine struct {
	UUID      string
	Name      string
	StartTime time.Time

	logger     *zap.Logger
	cfg        *config.Config
	client     broker.GatewayClientInterface
	db         *gorm.DB
	sink       notify.Sink
	gate       *RiskGate
	stops      *StopTracker
	rotation   *RotationPlanner
	dispatcher *Dispatcher
	orders     *OrderManager
	regime     *RegimePlanner

	mu       sync.RWMutex // guards the account/holdings snapshot
	account  models.AccountSnapshot
	holdings map[string]models.PositionHolding
}

// NewEngine creates a fully wired trading engine.
func NewEngine(logger *zap.Logger, cfg *config.Config, client broker.GatewayClientInterface, db *gorm.DB, sink notify.Sink) (*Engine, error) {
	e := &Engine{
		UUID:      uuid.New().String(),
		Name:      "rotation-trader",
		StartTime: time.Now(),
		logger:    logger,
		cfg:       cfg,
		client:    client,
		db:        db,
		sink:      sink,
		holdings:  make(map[string]models.PositionHolding),
	}

	stops, err := NewStopTracker(db, e.holdsSymbol, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize stop tracker: %w", err)
	}

	e.gate = NewRiskGate(cfg.Risk, logger)
	e.stops = stops
	e.rotation = NewRotationPlanner(cfg.Trading.RotationThreshold, cfg.Trading.MinRotationScore, logger)
	e.orders = NewOrderManager(db, client, sink, cfg.Trading.DryRun, time.Duration(cfg.Trading.DedupeMinutes)*time.Minute, logger)
	e.dispatcher = NewDispatcher(time.Duration(cfg.Trading.CooldownSeconds)*time.Second, e.orders, sink, logger)
	e.regime = NewRegimePlanner(client, cfg.Regime, logger)

	return e, nil
}

// Stops exposes the stop tracker for callers that register protective levels
// alongside a signal.
func (e *Engine) Stops() *StopTracker { return e.stops }

// Orders exposes the order manager for maintenance operations.
func (e *Engine) Orders() *OrderManager { return e.orders }

// Run starts the engine's periodic loops and blocks until the context is
// cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("Initializing trading engine...")
	if err := e.refreshSnapshot(); err != nil {
		e.logger.Fatal("Failed to fetch initial account snapshot", zap.Error(err))
	}
	e.logger.Info("Engine initialized successfully.",
		zap.Int("holdings", len(e.holdings)),
		zap.Int("active_stops", len(e.stops.LoadActive())),
	)

	stopTicker := time.NewTicker(time.Duration(e.cfg.Trading.StopCheckSeconds) * time.Second)
	defer stopTicker.Stop()
	regimeTicker := time.NewTicker(time.Duration(e.cfg.Regime.IntervalMinutes) * time.Minute)
	defer regimeTicker.Stop()
	reconcileTicker := time.NewTicker(time.Duration(e.cfg.Trading.ReconcileSeconds) * time.Second)
	defer reconcileTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping trading engine...")
			return
		case <-stopTicker.C:
			e.checkStops()
		case <-regimeTicker.C:
			if err := e.runRegime(); err != nil {
				e.logger.Error("Regime cycle failed", zap.Error(err))
			}
		case <-reconcileTicker.C:
			if err := e.reconcile(); err != nil {
				e.logger.Error("Reconciliation failed", zap.Error(err))
			}
		}
	}
}

// refreshSnapshot pulls the current account and holdings from the gateway.
// The snapshot is allowed to go slightly stale between refreshes; decisions
// tolerate that rather than demanding strict consistency.
func (e *Engine) refreshSnapshot() error {
	resp, err := e.client.GetAccount()
	if err != nil {
		return err
	}

	holdings := make(map[string]models.PositionHolding, len(resp.Positions))
	for _, p := range resp.Positions {
		holdings[p.Symbol] = models.PositionHolding{
			Symbol:       p.Symbol,
			Quantity:     p.Quantity,
			EntryPrice:   p.EntryPrice,
			CurrentPrice: p.CurrentPrice,
			SellScore:    p.SellScore,
		}
	}

	e.mu.Lock()
	e.account = models.AccountSnapshot{
		Cash:        resp.Cash,
		BuyingPower: resp.BuyingPower,
		TotalEquity: resp.TotalEquity,
	}
	e.holdings = holdings
	e.mu.Unlock()
	return nil
}

func (e *Engine) snapshot() (models.AccountSnapshot, []models.PositionHolding) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	list := make([]models.PositionHolding, 0, len(e.holdings))
	for _, h := range e.holdings {
		list = append(list, h)
	}
	return e.account, list
}

func (e *Engine) holdsSymbol(symbol string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	h, ok := e.holdings[symbol]
	return ok && h.Quantity > 0
}

func (e *Engine) positionQuantity(symbol string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.holdings[symbol].Quantity
}

// HandleSignal is the single admission path for all signals: manual, scored
// upstream, rotation sells, protective exits and regime deleveraging all end
// up here.
func (e *Engine) HandleSignal(sig models.Signal) DispatchResult {
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now()
	}

	if err := e.refreshSnapshot(); err != nil {
		// Evaluate against the previous snapshot rather than dropping the
		// signal; staleness is tolerated, unavailability of the gateway is
		// what the submission path will surface anyway.
		e.logger.Warn("Using stale account snapshot", zap.Error(err))
	}

	if !e.gate.Validate(sig, e.positionQuantity(sig.Symbol)) {
		metrics.Dispatches.WithLabelValues(sig.Side, "risk_rejected").Inc()
		return DispatchResult{Outcome: "risk_rejected"}
	}

	if sig.Side == models.SideBuy {
		lot := e.cfg.Risk.LotSize(sig.Symbol, e.cfg.Trading.DefaultLotSize)
		sig.Quantity = roundUpToLot(sig.Quantity, lot)
		cost := sig.Price * sig.Quantity

		account, holdings := e.snapshot()
		if account.BuyingPower < cost {
			plan, funded := e.rotation.Plan(sig, holdings, account.MarginInUse(), account.BuyingPower, cost)
			if !funded {
				metrics.UnfundedSignals.Inc()
				e.sink.Send(fmt.Sprintf("Signal unfunded, awaiting capital: %s %s x%.0f needs %.2f (buying power %.2f)",
					sig.Side, sig.Symbol, sig.Quantity, cost, account.BuyingPower))
				return DispatchResult{Outcome: "unfunded", Detail: fmt.Sprintf("requires %.2f", cost)}
			}
			e.executePlan(plan, ReasonRotation)
			metrics.Rotations.Inc()
		}
	}

	return e.dispatcher.Dispatch(sig, ReasonSignal)
}

// executePlan turns a liquidation plan into ordinary SELL dispatches.
func (e *Engine) executePlan(plan RotationPlan, reason string) {
	for _, entry := range plan.Entries {
		result := e.dispatcher.Dispatch(models.Signal{
			Symbol:    entry.Symbol,
			Side:      models.SideSell,
			Quantity:  entry.Quantity,
			Price:     entry.Price,
			Timestamp: time.Now(),
		}, reason)
		if !result.Submitted {
			e.logger.Warn("Plan entry not submitted",
				zap.String("symbol", entry.Symbol),
				zap.String("outcome", result.Outcome),
				zap.String("reason", reason),
			)
		}
	}
}

// checkStops evaluates every active stop record against a live quote and
// dispatches protective exits for the ones that trigger.
func (e *Engine) checkStops() {
	for symbol, rec := range e.stops.LoadActive() {
		quote, err := e.client.GetQuote(symbol)
		if err != nil {
			e.logger.Warn("Failed to fetch quote for stop check", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		action := e.stops.Evaluate(symbol, quote.LastPrice)
		if action == StopNone {
			continue
		}

		reason := ReasonStopLoss
		if action == TakeProfitTriggered {
			reason = ReasonTakeProfit
		}

		result := e.dispatcher.Dispatch(models.Signal{
			Symbol:    symbol,
			Side:      models.SideSell,
			Quantity:  rec.Quantity,
			Price:     quote.LastPrice,
			Timestamp: time.Now(),
		}, reason)
		if !result.Submitted {
			// The record stays ACTIVE so the next tick retries the exit; a
			// conflicted dispatch must not consume the obligation. Submission
			// dedupe guards the rare retry after a failed status transition.
			e.logger.Warn("Protective exit not submitted, will retry",
				zap.String("symbol", symbol),
				zap.String("outcome", result.Outcome),
			)
			continue
		}

		e.sink.Send(fmt.Sprintf("Protective exit: %s %s x%.0f @ %.2f", reason, symbol, rec.Quantity, quote.LastPrice))
		if err := e.stops.MarkTriggered(symbol); err != nil {
			e.logger.Error("Failed to mark stop triggered", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// runRegime recomputes the deleveraging target and executes any resulting
// plan through the ordinary dispatch path.
func (e *Engine) runRegime() error {
	if err := e.refreshSnapshot(); err != nil {
		return err
	}
	account, holdings := e.snapshot()

	regime, plan, err := e.regime.RunOnce(account, holdings)
	if err != nil {
		return err
	}
	if len(plan.Entries) == 0 {
		return nil
	}

	e.sink.Send(fmt.Sprintf("Regime %s: deleveraging %d positions (%.2f)", regime, len(plan.Entries), plan.Value()))
	e.executePlan(plan, ReasonRegime)
	return nil
}

// reconcile finalizes orders the gateway no longer considers open,
// acknowledges fills with the dispatcher, and maintains stop records:
// confirmed SELLs close the symbol's protective exit, confirmed BUYs open
// one when protective levels are configured.
func (e *Engine) reconcile() error {
	// The holdings snapshot corroborates vanished BUYs: a fill leaves the
	// position in the account, a gateway-side cancellation does not. Without
	// a fresh snapshot every vanished order is accepted as filled.
	var confirm func(models.OrderRecord) bool
	if err := e.refreshSnapshot(); err != nil {
		e.logger.Warn("Snapshot refresh failed during reconciliation", zap.Error(err))
	} else {
		confirm = func(record models.OrderRecord) bool {
			if record.Side == models.SideBuy {
				return e.holdsSymbol(record.Symbol)
			}
			return true
		}
	}

	filled, err := e.orders.Reconcile(confirm)
	if err != nil {
		return err
	}
	if len(filled) == 0 {
		return nil
	}

	for _, record := range filled {
		e.dispatcher.AcknowledgeFill(record.Symbol, record.Side)

		switch record.Side {
		case models.SideSell:
			if !e.holdsSymbol(record.Symbol) {
				if err := e.stops.Close(record.Symbol); err != nil {
					e.logger.Error("Failed to close stop record", zap.String("symbol", record.Symbol), zap.Error(err))
				}
			}
		case models.SideBuy:
			slPct := e.cfg.Trading.StopLossPct
			tpPct := e.cfg.Trading.TakeProfitPct
			if slPct <= 0 || !e.holdsSymbol(record.Symbol) {
				continue
			}
			var takeProfit float64
			if tpPct > 0 {
				takeProfit = record.Price * (1 + tpPct)
			}
			if err := e.stops.Set(record.Symbol, record.Price, record.Price*(1-slPct), takeProfit, record.Quantity); err != nil {
				e.logger.Error("Failed to set stop record", zap.String("symbol", record.Symbol), zap.Error(err))
			}
		}
	}
	return nil
}

// roundUpToLot rounds a quantity up to the nearest whole lot.
func roundUpToLot(quantity, lot float64) float64 {
	if lot <= 0 {
		return quantity
	}
	return math.Ceil(quantity/lot) * lot
}
