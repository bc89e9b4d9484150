package trader

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"stock-rotation-bot-go/internal/metrics"
	"stock-rotation-bot-go/internal/models"
	"stock-rotation-bot-go/internal/notify"

	"go.uber.org/zap"
)

// OrderSubmitter is the execution collaborator the dispatcher hands accepted
// signals to. Implemented by OrderManager.
type OrderSubmitter interface {
	Submit(sig models.Signal, reason string) (*models.OrderRecord, error)
}

// DispatchResult reports what happened to a dispatched signal. Rejections are
// results, not errors: the caller decides whether to care.
type DispatchResult struct {
	Submitted bool   `json:"submitted"`
	Outcome   string `json:"outcome"` // submitted, conflict, duplicate, rejected
	OrderID   string `json:"order_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Dispatcher serializes signal admission per symbol and blocks same-symbol
// opposite-side submissions inside the cooldown window. Cross-symbol
// dispatches proceed independently: the arena lock only guards map access,
// while each symbol's conflict-check-then-record-update sequence runs under
// that symbol's own mutex.
type Dispatcher struct {
	cooldown time.Duration
	orders   OrderSubmitter
	sink     notify.Sink
	logger   *zap.Logger

	mu      sync.Mutex // guards records and locks maps
	records map[string]*models.SignalRecord
	locks   map[string]*sync.Mutex

	now func() time.Time
}

// NewDispatcher creates a dispatcher with the given conflict cooldown.
func NewDispatcher(cooldown time.Duration, orders OrderSubmitter, sink notify.Sink, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cooldown: cooldown,
		orders:   orders,
		sink:     sink,
		logger:   logger.Named("dispatcher"),
		records:  make(map[string]*models.SignalRecord),
		locks:    make(map[string]*sync.Mutex),
		now:      time.Now,
	}
}

// lockFor returns the per-symbol mutex. A single global lock would serialize
// unrelated symbols, so each symbol gets its own.
func (d *Dispatcher) lockFor(symbol string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		d.locks[symbol] = l
	}
	return l
}

func (d *Dispatcher) getRecord(symbol string) *models.SignalRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.records[symbol]
}

func (d *Dispatcher) setRecord(rec *models.SignalRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[rec.Symbol] = rec
}

func (d *Dispatcher) deleteRecord(symbol string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.records, symbol)
}

// Dispatch admits a signal into an order submission. The conflict check and
// the record update run under the symbol's lock; the broker call does not.
// The record is written optimistically before the submission and rolled back
// on failure, so a concurrent same-symbol dispatch during the network call
// still sees the in-flight side.
func (d *Dispatcher) Dispatch(sig models.Signal, reason string) DispatchResult {
	lock := d.lockFor(sig.Symbol)
	lock.Lock()

	now := d.now()
	prev := d.getRecord(sig.Symbol)
	if prev != nil && prev.Side != sig.Side && now.Sub(prev.DispatchedAt) < d.cooldown {
		lock.Unlock()
		metrics.Dispatches.WithLabelValues(sig.Side, "conflict").Inc()
		detail := fmt.Sprintf("conflicting %s dispatched %s ago", prev.Side, now.Sub(prev.DispatchedAt).Round(time.Second))
		d.logger.Info("Blocked conflicting signal",
			zap.String("symbol", sig.Symbol),
			zap.String("side", sig.Side),
			zap.String("detail", detail),
		)
		d.sink.Send(fmt.Sprintf("Signal conflict: %s %s blocked (%s)", sig.Side, sig.Symbol, detail))
		return DispatchResult{Outcome: "conflict", Detail: detail}
	}

	d.setRecord(&models.SignalRecord{
		Symbol:       sig.Symbol,
		Side:         sig.Side,
		Quantity:     sig.Quantity,
		DispatchedAt: now,
	})
	lock.Unlock()

	record, err := d.orders.Submit(sig, reason)
	if err != nil {
		// Roll back the optimistic record so the failed dispatch does not
		// block the opposite side for a full cooldown.
		lock.Lock()
		if cur := d.getRecord(sig.Symbol); cur != nil && cur.DispatchedAt.Equal(now) {
			if prev != nil {
				d.setRecord(prev)
			} else {
				d.deleteRecord(sig.Symbol)
			}
		}
		lock.Unlock()

		if errors.Is(err, ErrDuplicateOrder) {
			metrics.Dispatches.WithLabelValues(sig.Side, "duplicate").Inc()
			return DispatchResult{Outcome: "duplicate", Detail: err.Error()}
		}
		metrics.Dispatches.WithLabelValues(sig.Side, "rejected").Inc()
		return DispatchResult{Outcome: "rejected", Detail: err.Error()}
	}

	metrics.Dispatches.WithLabelValues(sig.Side, "submitted").Inc()
	d.sink.Send(fmt.Sprintf("Submitted %s %s x%.0f @ %.2f (%s)",
		sig.Side, sig.Symbol, sig.Quantity, sig.Price, reason))
	return DispatchResult{Submitted: true, Outcome: "submitted", OrderID: record.OrderID}
}

// AcknowledgeFill is called when the execution-confirmation path confirms a
// fill. A fill on the opposite side of the recorded dispatch clears the
// record: the conflict window no longer applies once the opposing trade has
// actually happened. A matching side leaves the record untouched.
func (d *Dispatcher) AcknowledgeFill(symbol, side string) {
	lock := d.lockFor(symbol)
	lock.Lock()
	defer lock.Unlock()

	rec := d.getRecord(symbol)
	if rec == nil {
		return
	}
	if rec.Side != side {
		d.deleteRecord(symbol)
		d.logger.Info("Cleared dispatch record on opposing fill",
			zap.String("symbol", symbol),
			zap.String("filled_side", side),
		)
	}
}
