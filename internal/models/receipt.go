package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReceiptStatus string

const (
	ReceiptStatusUploaded   ReceiptStatus = "uploaded"
	ReceiptStatusProcessing ReceiptStatus = "processing"
	ReceiptStatusProcessed  ReceiptStatus = "processed"
	ReceiptStatusFailed     ReceiptStatus = "failed"
)

// Receipt is created by the upload flow in status "uploaded"; only the
// processing pipeline mutates its status and extracted fields. Status moves
// strictly forward: uploaded -> processing -> processed | failed.
type Receipt struct {
	ID               string              `gorm:"primaryKey;size:36" json:"id"`
	CustomerID       string              `gorm:"size:36;not null;index" json:"customer_id"`
	BusinessID       string              `gorm:"size:36;not null;index" json:"business_id"`
	ImagePath        string              `gorm:"size:512;not null" json:"image_path"`
	Status           ReceiptStatus       `gorm:"size:20;not null;default:uploaded;index" json:"status"`
	DetectedMerchant string              `gorm:"size:255" json:"detected_merchant"`
	ExtractedAmount  decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"extracted_amount"`
	Currency         string              `gorm:"size:8" json:"currency"`
	PointsEarned     int64               `gorm:"not null;default:0" json:"points_earned"`
	FailureCode      string              `gorm:"size:40" json:"failure_code"`
	FailureReason    string              `gorm:"size:512" json:"failure_reason"`
	ProcessedAt      *time.Time          `json:"processed_at"`
	CreatedAt        time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Receipt) TableName() string {
	return "receipts"
}
