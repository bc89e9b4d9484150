package trader

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"stock-rotation-bot-go/internal/broker"
	"stock-rotation-bot-go/internal/metrics"
	"stock-rotation-bot-go/internal/models"
	"stock-rotation-bot-go/internal/notify"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrDuplicateOrder is returned when a submission is refused because an
// equivalent order was already recorded within the dedupe window.
var ErrDuplicateOrder = errors.New("duplicate order within dedupe window")

const submitMaxAttempts = 3

// CancelReport summarizes a batch cancellation run.
type CancelReport struct {
	Total      int  `json:"total"`
	Cancelable int  `json:"cancelable"`
	Succeeded  int  `json:"succeeded"`
	Failed     int  `json:"failed"`
	DryRun     bool `json:"dry_run"`
}

// OrderManager owns the local OrderRecord shadow: it deduplicates
// submissions, classifies broker rejections, and performs batch cancellation
// of stale orders.
type OrderManager struct {
	db           *gorm.DB
	client       broker.GatewayClientInterface
	sink         notify.Sink
	logger       *zap.Logger
	dryRun       bool
	dedupeWindow time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now     func() time.Time
	backoff func(attempt int) time.Duration
}

// NewOrderManager creates a new order lifecycle manager.
func NewOrderManager(db *gorm.DB, client broker.GatewayClientInterface, sink notify.Sink, dryRun bool, dedupeWindow time.Duration, logger *zap.Logger) *OrderManager {
	return &OrderManager{
		db:           db,
		client:       client,
		sink:         sink,
		logger:       logger.Named("orders"),
		dryRun:       dryRun,
		dedupeWindow: dedupeWindow,
		locks:        make(map[string]*sync.Mutex),
		now:          time.Now,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * time.Second // 1s, 2s, 4s
		},
	}
}

// lockFor returns the mutex serializing check-then-submit for one
// symbol/side pair. Unrelated pairs proceed concurrently.
func (m *OrderManager) lockFor(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// Submit records and submits an order for the signal. A duplicate within the
// dedupe window is refused before any broker contact: broker-side duplicate
// submissions compound risk under partial-fill races.
//
// The PENDING record is inserted under the symbol/side lock and itself blocks
// concurrent duplicates, so the lock is never held across the network call.
func (m *OrderManager) Submit(sig models.Signal, reason string) (*models.OrderRecord, error) {
	l := m.logger.With(
		zap.String("symbol", sig.Symbol),
		zap.String("side", sig.Side),
		zap.String("reason", reason),
	)

	lock := m.lockFor(sig.Symbol + "/" + sig.Side)
	lock.Lock()

	cutoff := m.now().Add(-m.dedupeWindow)
	var count int64
	err := m.db.Model(&models.OrderRecord{}).
		Where("symbol = ? AND side = ? AND created_ts > ? AND status IN ?",
			sig.Symbol, sig.Side, cutoff,
			[]string{models.OrderStatusPending, models.OrderStatusFilled}).
		Count(&count).Error
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("dedupe lookup failed: %w", err)
	}
	if count > 0 {
		lock.Unlock()
		l.Info("Refused duplicate submission within dedupe window")
		return nil, ErrDuplicateOrder
	}

	record := models.OrderRecord{
		OrderID:   uuid.New().String(), // dedupe-safe client order ID for retries
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		Quantity:  sig.Quantity,
		Price:     sig.Price,
		Status:    models.OrderStatusPending,
		CreatedTs: m.now(),
	}
	if err := m.db.Create(&record).Error; err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to record order: %w", err)
	}
	lock.Unlock()

	if m.dryRun {
		l.Warn("Dry run enabled. No real order will be submitted.")
		m.markFilled(&record, sig.Price, reason)
		return &record, nil
	}

	var lastErr error
	for attempt := 0; attempt < submitMaxAttempts; attempt++ {
		resp, err := m.client.SubmitOrder(&broker.SubmitOrderRequest{
			Symbol:        sig.Symbol,
			Side:          sig.Side,
			Quantity:      sig.Quantity,
			Price:         sig.Price,
			ClientOrderID: record.OrderID,
		})
		if err == nil {
			if resp.OrderID != "" {
				m.db.Model(&record).Update("order_id", resp.OrderID)
				record.OrderID = resp.OrderID
			}
			if resp.Status == models.OrderStatusFilled {
				m.markFilled(&record, sig.Price, reason)
			} else {
				metrics.Orders.WithLabelValues(sig.Side, reason).Inc()
			}
			return &record, nil
		}

		lastErr = err
		message := rejectionMessage(err)
		category := GetErrorCategory(message)
		metrics.Rejections.WithLabelValues(string(category)).Inc()

		if !IsRetryable(message) {
			m.db.Model(&record).Update("status", models.OrderStatusRejected)
			l.Error("Order rejected",
				zap.String("category", string(category)),
				zap.String("message", message),
			)
			if ShouldNotifyUser(category) {
				m.sink.Send(fmt.Sprintf("Order rejected: %s %s x%.0f (%s)",
					sig.Side, sig.Symbol, sig.Quantity, message))
			}
			return nil, fmt.Errorf("order rejected (%s): %w", category, err)
		}

		l.Warn("Retryable submission failure",
			zap.Int("attempt", attempt+1),
			zap.String("category", string(category)),
			zap.Error(err),
		)
		if attempt < submitMaxAttempts-1 {
			time.Sleep(m.backoff(attempt))
		}
	}

	// Retries exhausted: escalate as terminal. Unlike the classified
	// rejections above, exhaustion of transient failures is log-only.
	m.db.Model(&record).Update("status", models.OrderStatusRejected)
	l.Error("Order submission failed after retries", zap.Error(lastErr))
	return nil, fmt.Errorf("order submission failed after %d attempts: %w", submitMaxAttempts, lastErr)
}

// rejectionMessage extracts the gateway's business message when present so
// classification works on what the broker actually said.
func rejectionMessage(err error) string {
	var rej *broker.RejectionError
	if errors.As(err, &rej) {
		return rej.Message
	}
	return err.Error()
}

// markFilled transitions the record and appends the execution to the trade
// history consumed by the UI.
func (m *OrderManager) markFilled(record *models.OrderRecord, price float64, reason string) {
	m.db.Model(record).Update("status", models.OrderStatusFilled)
	record.Status = models.OrderStatusFilled

	trade := models.Trade{
		Symbol:        record.Symbol,
		Side:          record.Side,
		Price:         price,
		Quantity:      record.Quantity,
		QuoteQuantity: price * record.Quantity,
		Reason:        reason,
		Timestamp:     m.now().UnixMilli(),
		IsSimulation:  m.dryRun,
	}
	if err := m.db.Create(&trade).Error; err != nil {
		m.logger.Error("Failed to save trade record", zap.Error(err))
	}
	metrics.Orders.WithLabelValues(record.Side, reason).Inc()
}

// CancelOldOrders cancels orders still PENDING after keepDays. With dryRun it
// only reports what would be cancelled. An empty result is a valid no-op and
// never contacts the broker.
func (m *OrderManager) CancelOldOrders(keepDays int, dryRun bool) (CancelReport, error) {
	cutoff := m.now().AddDate(0, 0, -keepDays)

	var stale []models.OrderRecord
	if err := m.db.
		Where("status = ? AND created_ts < ?", models.OrderStatusPending, cutoff).
		Find(&stale).Error; err != nil {
		return CancelReport{}, fmt.Errorf("failed to query stale orders: %w", err)
	}

	report := CancelReport{Total: len(stale), DryRun: dryRun}
	if len(stale) == 0 {
		return report, nil
	}
	report.Cancelable = len(stale)
	if dryRun {
		m.logger.Info("Dry-run cancellation",
			zap.Int("total", report.Total),
			zap.Int("cancelable", report.Cancelable),
		)
		return report, nil
	}

	for _, order := range stale {
		if err := m.client.CancelOrder(order.OrderID); err != nil {
			report.Failed++
			m.logger.Error("Failed to cancel stale order",
				zap.String("order_id", order.OrderID),
				zap.Error(err),
			)
			continue
		}
		m.db.Model(&order).Update("status", models.OrderStatusCancelled)
		report.Succeeded++
	}

	m.logger.Info("Batch cancellation complete",
		zap.Int("total", report.Total),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// Reconcile compares local PENDING records against the gateway's open-order
// list and finalizes the ones the gateway no longer considers open. confirm
// decides whether a vanished order actually executed; orders it rejects are
// marked CANCELLED without a trade row. A nil confirm accepts every vanished
// order as filled. Returns the records that reached FILLED so the caller can
// acknowledge fills.
func (m *OrderManager) Reconcile(confirm func(models.OrderRecord) bool) ([]models.OrderRecord, error) {
	var pending []models.OrderRecord
	if err := m.db.Where("status = ?", models.OrderStatusPending).Find(&pending).Error; err != nil {
		return nil, fmt.Errorf("failed to load pending orders: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	open, err := m.client.ListOpenOrders()
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}
	openSet := make(map[string]bool, len(open))
	for _, o := range open {
		openSet[o.OrderID] = true
	}

	var filled []models.OrderRecord
	for _, record := range pending {
		if openSet[record.OrderID] {
			continue
		}
		// No longer open at the gateway: a fill unless the caller's evidence
		// says otherwise (e.g. a vanished BUY with no position behind it was
		// cancelled or expired gateway-side).
		if confirm != nil && !confirm(record) {
			m.db.Model(&record).Update("status", models.OrderStatusCancelled)
			m.logger.Info("Reconciled vanished order as cancelled",
				zap.String("order_id", record.OrderID),
				zap.String("symbol", record.Symbol),
				zap.String("side", record.Side),
			)
			continue
		}
		m.markFilled(&record, record.Price, "reconcile")
		filled = append(filled, record)
	}

	if len(filled) > 0 {
		m.logger.Info("Reconciled filled orders", zap.Int("count", len(filled)))
	}
	return filled, nil
}
