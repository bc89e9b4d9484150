package models

import "gorm.io/gorm"

// Trade represents a confirmed execution record in the database.
type Trade struct {
	gorm.Model
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"` // "BUY" or "SELL"
	Price         float64 `json:"price"`
	Quantity      float64 `json:"quantity"`
	QuoteQuantity float64 `json:"quote_quantity"`
	Reason        string  `json:"reason"` // signal, rotation, stop_loss, take_profit, regime
	Timestamp     int64   `json:"timestamp"`
	IsSimulation  bool    `json:"is_simulation"`
	Profit        float64 `json:"profit,omitempty"`
}
