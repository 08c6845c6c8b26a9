package models

import (
	"time"
)

// Customer carries a cached points aggregate. The points_transactions ledger is
// the source of truth; TotalPoints is derived and reconcilable.
type Customer struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	TotalPoints        int64     `gorm:"not null;default:0" json:"total_points"`
	ReferredBusinessID *string   `gorm:"size:36;index" json:"referred_business_id"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Customer) TableName() string {
	return "customers"
}
