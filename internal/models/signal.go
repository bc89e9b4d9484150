package models

import "time"

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Signal is a scored, directional trade recommendation produced by upstream
// scoring. It is ephemeral: consumed once by the dispatcher.
type Signal struct {
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"` // "BUY" or "SELL"
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Score     int       `json:"score"` // 0-100, higher = stronger conviction
	Timestamp time.Time `json:"timestamp"`
}

// SignalRecord remembers the most recently dispatched signal per symbol.
// It exists only for opposite-side conflict detection and is never used as
// position truth, so it lives in memory and is rebuilt empty on restart.
type SignalRecord struct {
	Symbol       string
	Side         string
	Quantity     float64
	DispatchedAt time.Time
}
