package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	OrderStatusPending   = "PENDING"
	OrderStatusFilled    = "FILLED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRejected  = "REJECTED"
)

// OrderRecord is the local shadow of a broker order. It exists for
// deduplication and staleness checks only; the broker remains the source of
// truth for fills.
type OrderRecord struct {
	gorm.Model
	OrderID   string    `gorm:"uniqueIndex" json:"order_id"`
	Symbol    string    `gorm:"index" json:"symbol"`
	Side      string    `gorm:"index" json:"side"`
	Quantity  float64   `gorm:"not null" json:"quantity"`
	Price     float64   `json:"price"`
	Status    string    `gorm:"index;default:PENDING" json:"status"`
	CreatedTs time.Time `gorm:"index" json:"created_ts"`
}
