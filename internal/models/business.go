package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Business struct {
	ID   string `gorm:"primaryKey;size:36" json:"id"`
	Name string `gorm:"size:255;not null" json:"name"`
	// PointsPerUnit is the spend required to earn one point, e.g. 100 means
	// one point per 100 currency units.
	PointsPerUnit   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"points_per_unit"`
	TrackingPixelID string          `gorm:"size:64" json:"tracking_pixel_id"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Business) TableName() string {
	return "businesses"
}

// TrackingConfigured reports whether the business has conversion tracking set up.
func (b *Business) TrackingConfigured() bool {
	return b.TrackingPixelID != ""
}
