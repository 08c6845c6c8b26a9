package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PointsTransaction is an append-only ledger entry. The unique index on
// ReceiptID guarantees at most one entry per receipt regardless of retries.
type PointsTransaction struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ReceiptID    string          `gorm:"size:36;not null;uniqueIndex:uk_receipt" json:"receipt_id"`
	CustomerID   string          `gorm:"size:36;not null;index:idx_customer_business" json:"customer_id"`
	BusinessID   string          `gorm:"size:36;not null;index:idx_customer_business" json:"business_id"`
	AmountSpent  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount_spent"`
	Currency     string          `gorm:"size:8" json:"currency"`
	PointsEarned int64           `gorm:"not null" json:"points_earned"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (PointsTransaction) TableName() string {
	return "points_transactions"
}
