package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/chrisraro/Giya-sub000/internal/models"
	apperrors "github.com/chrisraro/Giya-sub000/pkg/errors"
)

type ReceiptRepository struct {
	db *gorm.DB
}

func NewReceiptRepository(db *gorm.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

func (r *ReceiptRepository) GetByID(ctx context.Context, id string) (*models.Receipt, error) {
	var receipt models.Receipt
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&receipt).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// ClaimProcessing moves the receipt from "uploaded" to "processing" with a
// single conditional update. The affected-rows count is the claim: zero rows
// means another invocation already owns or finished this receipt.
func (r *ReceiptRepository) ClaimProcessing(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Receipt{}).
		Where("id = ? AND status = ?", id, models.ReceiptStatusUploaded).
		Update("status", models.ReceiptStatusProcessing)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkProcessed writes the extracted data, points and processed timestamp
// together with the terminal status change.
func (r *ReceiptRepository) MarkProcessed(ctx context.Context, id, merchant string, amount decimal.NullDecimal, currency string, points int64) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&models.Receipt{}).
		Where("id = ? AND status = ?", id, models.ReceiptStatusProcessing).
		Updates(map[string]interface{}{
			"status":            models.ReceiptStatusProcessed,
			"detected_merchant": merchant,
			"extracted_amount":  amount,
			"currency":          currency,
			"points_earned":     points,
			"processed_at":      now,
		}).Error
}

// MarkFailed records the terminal failure together with whatever was extracted
// before the failing gate, for audit and support.
func (r *ReceiptRepository) MarkFailed(ctx context.Context, id, code, reason, merchant string, amount decimal.NullDecimal, currency string) error {
	return r.db.WithContext(ctx).
		Model(&models.Receipt{}).
		Where("id = ? AND status = ?", id, models.ReceiptStatusProcessing).
		Updates(map[string]interface{}{
			"status":            models.ReceiptStatusFailed,
			"failure_code":      code,
			"failure_reason":    reason,
			"detected_merchant": merchant,
			"extracted_amount":  amount,
			"currency":          currency,
		}).Error
}

// RequeueLedgerFailures returns receipts that validated but could not be
// recorded on the ledger to the "uploaded" state so the pipeline retries them.
func (r *ReceiptRepository) RequeueLedgerFailures(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Receipt{}).
		Where("status = ? AND failure_code = ?", models.ReceiptStatusFailed, apperrors.ErrLedgerWrite).
		Updates(map[string]interface{}{
			"status":         models.ReceiptStatusUploaded,
			"failure_code":   "",
			"failure_reason": "",
		})
	return result.RowsAffected, result.Error
}

// RequeueStaleProcessing recovers receipts abandoned mid-flight, e.g. by a
// crash after the claim.
func (r *ReceiptRepository) RequeueStaleProcessing(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Receipt{}).
		Where("status = ? AND updated_at < ?", models.ReceiptStatusProcessing, before).
		Update("status", models.ReceiptStatusUploaded)
	return result.RowsAffected, result.Error
}
