package trader

import (
	"errors"
	"fmt"
	"sync"

	"stock-rotation-bot-go/internal/metrics"
	"stock-rotation-bot-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StopAction is the decision Evaluate reaches for a live price.
type StopAction int

const (
	StopNone StopAction = iota
	StopTriggered
	TakeProfitTriggered
)

// ErrPositionNotHeld is returned when a stop is set for a symbol the account
// does not hold. Creating the record anyway would leave an orphaned
// obligation nothing can ever flatten.
var ErrPositionNotHeld = errors.New("no held position for symbol")

// StopTracker is the durable registry of active stop-loss/take-profit
// obligations. Reads are served from an in-memory cache under a read lock so
// an unbounded number of concurrent readers never block on the database;
// writes update the database first and only then take the write lock for the
// map mutation.
type StopTracker struct {
	db     *gorm.DB
	holds  func(symbol string) bool
	logger *zap.Logger
	mu     sync.RWMutex
	active map[string]models.StopRecord
}

// NewStopTracker creates a tracker and warms its cache with all ACTIVE
// records. holds reports whether the account currently holds a symbol.
func NewStopTracker(db *gorm.DB, holds func(symbol string) bool, logger *zap.Logger) (*StopTracker, error) {
	t := &StopTracker{
		db:     db,
		holds:  holds,
		logger: logger.Named("stop-tracker"),
		active: make(map[string]models.StopRecord),
	}

	var records []models.StopRecord
	if err := db.Where("status = ?", models.StopStatusActive).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load active stop records: %w", err)
	}
	for _, r := range records {
		t.active[r.Symbol] = r
	}
	metrics.ActiveStops.Set(float64(len(t.active)))

	t.logger.Info("Loaded active stop records", zap.Int("count", len(records)))
	return t, nil
}

// LoadActive returns a snapshot of all ACTIVE records keyed by symbol.
func (t *StopTracker) LoadActive() map[string]models.StopRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make(map[string]models.StopRecord, len(t.active))
	for k, v := range t.active {
		snapshot[k] = v
	}
	return snapshot
}

// Get looks up the ACTIVE record for a symbol. A miss is not an error: it
// means no protective exit is registered for that symbol.
func (t *StopTracker) Get(symbol string) (models.StopRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.active[symbol]
	return rec, ok
}

// Set creates or replaces the ACTIVE record for a symbol. Replacement is
// atomic: any prior ACTIVE record for the symbol is closed in the same
// transaction that inserts the new one, so the one-ACTIVE-per-symbol
// invariant holds even across a crash between the two statements.
func (t *StopTracker) Set(symbol string, entry, stopLoss, takeProfit, quantity float64) error {
	if !t.holds(symbol) {
		return fmt.Errorf("cannot set stop for %s: %w", symbol, ErrPositionNotHeld)
	}
	if quantity <= 0 {
		return fmt.Errorf("cannot set stop for %s: quantity must be positive", symbol)
	}

	record := models.StopRecord{
		Symbol:     symbol,
		EntryPrice: entry,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Quantity:   quantity,
		Status:     models.StopStatusActive,
	}

	err := t.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.StopRecord{}).
			Where("symbol = ? AND status = ?", symbol, models.StopStatusActive).
			Update("status", models.StopStatusClosed).Error; err != nil {
			return err
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return fmt.Errorf("failed to persist stop record for %s: %w", symbol, err)
	}

	t.mu.Lock()
	t.active[symbol] = record
	metrics.ActiveStops.Set(float64(len(t.active)))
	t.mu.Unlock()

	t.logger.Info("Stop record set",
		zap.String("symbol", symbol),
		zap.Float64("stop_loss", stopLoss),
		zap.Float64("take_profit", takeProfit),
		zap.Float64("quantity", quantity),
	)
	return nil
}

// Evaluate decides what the live price demands for a symbol. It is a pure
// decision: triggering the exit and transitioning the record's status is the
// execution path's job.
func (t *StopTracker) Evaluate(symbol string, livePrice float64) StopAction {
	rec, ok := t.Get(symbol)
	if !ok {
		return StopNone
	}
	if livePrice <= rec.StopLoss {
		return StopTriggered
	}
	if rec.TakeProfit > 0 && livePrice >= rec.TakeProfit {
		return TakeProfitTriggered
	}
	return StopNone
}

// MarkTriggered transitions a symbol's ACTIVE record to TRIGGERED and drops
// it from the active cache. The protective SELL is in flight at this point.
func (t *StopTracker) MarkTriggered(symbol string) error {
	rec, ok := t.Get(symbol)
	if !ok {
		return fmt.Errorf("no active stop record for %s", symbol)
	}

	if err := t.db.Model(&models.StopRecord{}).
		Where("id = ?", rec.ID).
		Update("status", models.StopStatusTriggered).Error; err != nil {
		return fmt.Errorf("failed to mark stop triggered for %s: %w", symbol, err)
	}

	t.mu.Lock()
	delete(t.active, symbol)
	metrics.ActiveStops.Set(float64(len(t.active)))
	t.mu.Unlock()

	return nil
}

// Close transitions any non-CLOSED record for the symbol to CLOSED once the
// position is confirmed flattened.
func (t *StopTracker) Close(symbol string) error {
	if err := t.db.Model(&models.StopRecord{}).
		Where("symbol = ? AND status <> ?", symbol, models.StopStatusClosed).
		Update("status", models.StopStatusClosed).Error; err != nil {
		return fmt.Errorf("failed to close stop records for %s: %w", symbol, err)
	}

	t.mu.Lock()
	delete(t.active, symbol)
	metrics.ActiveStops.Set(float64(len(t.active)))
	t.mu.Unlock()

	return nil
}
