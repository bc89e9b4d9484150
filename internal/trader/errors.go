package trader

import "strings"

// ErrorCategory classifies a broker rejection message. The set is closed so
// retry/notify decisions can switch over it exhaustively.
type ErrorCategory string

const (
	CategoryInsufficientHoldings ErrorCategory = "insufficient_holdings"
	CategoryInsufficientCash     ErrorCategory = "insufficient_cash"
	CategoryMarketClosed         ErrorCategory = "market_closed"
	CategoryTradingSuspended     ErrorCategory = "trading_suspended"
	CategoryLotSizeError         ErrorCategory = "lot_size_error"
	CategoryTimeout              ErrorCategory = "timeout"
	CategoryNetworkError         ErrorCategory = "network_error"
	CategoryOther                ErrorCategory = "other"
	CategoryUnknown              ErrorCategory = "unknown"
)

// errorKeywords is the ordered classification table. Matching is
// case-insensitive substring; the first hit wins, so more specific keywords
// come before catch-alls.
var errorKeywords = []struct {
	keyword  string
	category ErrorCategory
}{
	{"insufficient holdings", CategoryInsufficientHoldings},
	{"insufficient cash", CategoryInsufficientCash},
	{"insufficient buying power", CategoryInsufficientCash},
	{"market closed", CategoryMarketClosed},
	{"market is closed", CategoryMarketClosed},
	{"symbol suspended", CategoryTradingSuspended},
	{"trading halted", CategoryTradingSuspended},
	{"order quantity exceeds limit", CategoryLotSizeError},
	{"lot size", CategoryLotSizeError},
	{"invalid symbol", CategoryOther},
	{"symbol not found", CategoryOther},
	{"timeout", CategoryTimeout},
	{"timed out", CategoryTimeout},
	{"network", CategoryNetworkError},
	{"connection", CategoryNetworkError},
}

// GetErrorCategory classifies a broker rejection message. An empty message
// classifies as unknown.
func GetErrorCategory(message string) ErrorCategory {
	if message == "" {
		return CategoryUnknown
	}
	lower := strings.ToLower(message)
	for _, e := range errorKeywords {
		if strings.Contains(lower, e.keyword) {
			return e.category
		}
	}
	return CategoryUnknown
}

// IsRetryable reports whether a submission that failed with this message may
// be retried. Only messages matching the non-retryable keyword categories are
// terminal; transient categories and unclassifiable messages are retried.
func IsRetryable(message string) bool {
	switch GetErrorCategory(message) {
	case CategoryInsufficientHoldings,
		CategoryInsufficientCash,
		CategoryMarketClosed,
		CategoryTradingSuspended,
		CategoryLotSizeError,
		CategoryOther:
		return false
	case CategoryTimeout, CategoryNetworkError, CategoryUnknown:
		return true
	}
	return true
}

// ShouldNotifyUser reports whether a rejection of this category must surface
// a user-visible notification. The rest are logged only.
func ShouldNotifyUser(category ErrorCategory) bool {
	switch category {
	case CategoryInsufficientHoldings,
		CategoryInsufficientCash,
		CategoryLotSizeError,
		CategoryTradingSuspended:
		return true
	default:
		return false
	}
}
