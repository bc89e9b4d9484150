package models

// PositionHolding is a snapshot of one held position. Snapshots are refreshed
// from the broker account endpoint and may be slightly stale; the core never
// mutates them.
type PositionHolding struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
	SellScore    int     `json:"sell_score"` // 0-100, higher = more pressure to exit
}

// MarketValue returns the current liquidation value of the position.
func (h PositionHolding) MarketValue() float64 {
	return h.Quantity * h.CurrentPrice
}

// AccountSnapshot mirrors the broker's view of available capital.
type AccountSnapshot struct {
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
	TotalEquity float64 `json:"total_equity"`
}

// MarginInUse reports whether the account is borrowing, i.e. available cash
// has gone negative.
func (a AccountSnapshot) MarginInUse() bool {
	return a.Cash < 0
}
