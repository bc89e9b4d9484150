package models

import "gorm.io/gorm"

const (
	StopStatusActive    = "ACTIVE"
	StopStatusTriggered = "TRIGGERED"
	StopStatusClosed    = "CLOSED"
)

// StopRecord is a persisted protective exit obligation for a position.
// At most one ACTIVE record may exist per symbol.
type StopRecord struct {
	gorm.Model
	Symbol     string  `gorm:"index" json:"symbol"`
	EntryPrice float64 `gorm:"not null" json:"entry_price"`
	StopLoss   float64 `gorm:"not null" json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"` // 0 means no take-profit configured
	Quantity   float64 `gorm:"not null" json:"quantity"`
	Status     string  `gorm:"index;default:ACTIVE" json:"status"`
}
