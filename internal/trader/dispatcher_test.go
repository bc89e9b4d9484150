package trader

import (
	"errors"
	"testing"
	"time"

	"stock-rotation-bot-go/internal/models"
	"stock-rotation-bot-go/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// MockSubmitter is a mock implementation of the OrderSubmitter interface.
type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Submit(sig models.Signal, reason string) (*models.OrderRecord, error) {
	args := m.Called(sig.Symbol, sig.Side, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.OrderRecord), args.Error(1)
}

func newTestDispatcher(submitter OrderSubmitter) *Dispatcher {
	return NewDispatcher(60*time.Second, submitter, notify.NopSink{}, zap.NewNop())
}

func buySignal(symbol string) models.Signal {
	return models.Signal{Symbol: symbol, Side: models.SideBuy, Quantity: 10, Price: 100}
}

func sellSignal(symbol string) models.Signal {
	return models.Signal{Symbol: symbol, Side: models.SideSell, Quantity: 10, Price: 100}
}

func TestDispatch_SubmitsAndRecords(t *testing.T) {
	submitter := new(MockSubmitter)
	submitter.On("Submit", "AAPL", "BUY", ReasonSignal).
		Return(&models.OrderRecord{OrderID: "o-1"}, nil)
	d := newTestDispatcher(submitter)

	result := d.Dispatch(buySignal("AAPL"), ReasonSignal)

	assert.True(t, result.Submitted)
	assert.Equal(t, "submitted", result.Outcome)
	assert.Equal(t, "o-1", result.OrderID)
	submitter.AssertExpectations(t)
}

func TestDispatch_OppositeSideBlockedWithinCooldown(t *testing.T) {
	submitter := new(MockSubmitter)
	submitter.On("Submit", "AAPL", "BUY", ReasonSignal).
		Return(&models.OrderRecord{OrderID: "o-1"}, nil)
	d := newTestDispatcher(submitter)

	d.Dispatch(buySignal("AAPL"), ReasonSignal)
	result := d.Dispatch(sellSignal("AAPL"), ReasonStopLoss)

	assert.False(t, result.Submitted)
	assert.Equal(t, "conflict", result.Outcome)
	submitter.AssertNotCalled(t, "Submit", "AAPL", "SELL", ReasonStopLoss)
}

func TestDispatch_OppositeSideAllowedAfterCooldown(t *testing.T) {
	submitter := new(MockSubmitter)
	submitter.On("Submit", "AAPL", mock.Anything, mock.Anything).
		Return(&models.OrderRecord{OrderID: "o-1"}, nil)
	d := newTestDispatcher(submitter)

	d.Dispatch(buySignal("AAPL"), ReasonSignal)

	d.now = func() time.Time { return time.Now().Add(61 * time.Second) }
	result := d.Dispatch(sellSignal("AAPL"), ReasonStopLoss)

	assert.True(t, result.Submitted)
	submitter.AssertNumberOfCalls(t, "Submit", 2)
}

func TestDispatch_SameSideNeverConflicts(t *testing.T) {
	submitter := new(MockSubmitter)
	submitter.On("Submit", "AAPL", "BUY", ReasonSignal).
		Return(&models.OrderRecord{OrderID: "o-1"}, nil).Once()
	submitter.On("Submit", "AAPL", "BUY", ReasonSignal).
		Return(nil, ErrDuplicateOrder).Once()
	d := newTestDispatcher(submitter)

	first := d.Dispatch(buySignal("AAPL"), ReasonSignal)
	second := d.Dispatch(buySignal("AAPL"), ReasonSignal)

	assert.Equal(t, "submitted", first.Outcome)
	// Same side passes the conflict check; dedupe happens downstream.
	assert.Equal(t, "duplicate", second.Outcome)
}

func TestDispatch_DifferentSymbolsAreIndependent(t *testing.T) {
	submitter := new(MockSubmitter)
	submitter.On("Submit", mock.Anything, mock.Anything, mock.Anything).
		Return(&models.OrderRecord{OrderID: "o-1"}, nil)
	d := newTestDispatcher(submitter)

	d.Dispatch(buySignal("AAPL"), ReasonSignal)
	result := d.Dispatch(sellSignal("MSFT"), ReasonSignal)

	assert.True(t, result.Submitted)
}

func TestDispatch_FailedSubmissionRollsBackRecord(t *testing.T) {
	submitter := new(MockSubmitter)
	submitter.On("Submit", "AAPL", "BUY", ReasonSignal).
		Return(nil, errors.New("gateway timeout")).Once()
	submitter.On("Submit", "AAPL", "SELL", ReasonStopLoss).
		Return(&models.OrderRecord{OrderID: "o-2"}, nil).Once()
	d := newTestDispatcher(submitter)

	first := d.Dispatch(buySignal("AAPL"), ReasonSignal)
	assert.Equal(t, "rejected", first.Outcome)

	// The failed BUY must not hold the conflict window against a SELL.
	second := d.Dispatch(sellSignal("AAPL"), ReasonStopLoss)
	assert.True(t, second.Submitted)
}

func TestDispatch_RollbackRestoresPriorRecord(t *testing.T) {
	submitter := new(MockSubmitter)
	submitter.On("Submit", "AAPL", "BUY", ReasonSignal).
		Return(&models.OrderRecord{OrderID: "o-1"}, nil).Once()
	submitter.On("Submit", "AAPL", "BUY", ReasonSignal).
		Return(nil, errors.New("gateway timeout")).Once()
	d := newTestDispatcher(submitter)

	d.Dispatch(buySignal("AAPL"), ReasonSignal)

	// A later same-side dispatch fails; the original BUY record survives and
	// still blocks the opposite side.
	d.now = func() time.Time { return time.Now().Add(10 * time.Second) }
	d.Dispatch(buySignal("AAPL"), ReasonSignal)

	result := d.Dispatch(sellSignal("AAPL"), ReasonStopLoss)
	assert.Equal(t, "conflict", result.Outcome)
}

func TestAcknowledgeFill_OpposingFillClearsRecord(t *testing.T) {
	submitter := new(MockSubmitter)
	submitter.On("Submit", "AAPL", mock.Anything, mock.Anything).
		Return(&models.OrderRecord{OrderID: "o-1"}, nil)
	d := newTestDispatcher(submitter)

	d.Dispatch(buySignal("AAPL"), ReasonSignal)
	d.AcknowledgeFill("AAPL", models.SideSell)

	// With the record cleared a SELL dispatches immediately.
	result := d.Dispatch(sellSignal("AAPL"), ReasonStopLoss)
	assert.True(t, result.Submitted)
}

func TestAcknowledgeFill_MatchingFillKeepsRecord(t *testing.T) {
	submitter := new(MockSubmitter)
	submitter.On("Submit", "AAPL", "BUY", ReasonSignal).
		Return(&models.OrderRecord{OrderID: "o-1"}, nil)
	d := newTestDispatcher(submitter)

	d.Dispatch(buySignal("AAPL"), ReasonSignal)
	d.AcknowledgeFill("AAPL", models.SideBuy)

	result := d.Dispatch(sellSignal("AAPL"), ReasonStopLoss)
	assert.Equal(t, "conflict", result.Outcome)
}

func TestAcknowledgeFill_NoRecordIsANoOp(t *testing.T) {
	d := newTestDispatcher(new(MockSubmitter))
	d.AcknowledgeFill("AAPL", models.SideSell)
}
