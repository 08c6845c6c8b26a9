package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/chrisraro/Giya-sub000/internal/models"
)

// LedgerRepository owns the append-only points ledger and the customer
// aggregate it backs. It runs on the service's own trusted database handle:
// the pipeline credits balances on the customer's behalf, so these writes are
// never made through a user-scoped connection.
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Credit atomically appends one ledger entry and bumps the customer's cached
// aggregate. The increment is executed in SQL, never read-modify-write, so
// concurrent credits for the same customer cannot lose updates. The unique
// index on receipt_id makes a second credit for the same receipt fail the
// whole transaction.
func (r *LedgerRepository) Credit(ctx context.Context, entry *models.PointsTransaction) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return err
		}

		result := tx.Model(&models.Customer{}).
			Where("id = ?", entry.CustomerID).
			Update("total_points", gorm.Expr("total_points + ?", entry.PointsEarned))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("customer %s not found", entry.CustomerID)
		}
		return nil
	})
}

// CountByCustomerAndBusiness returns how many ledger entries the customer has
// at the business, including any entry committed in this request.
func (r *LedgerRepository) CountByCustomerAndBusiness(ctx context.Context, customerID, businessID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PointsTransaction{}).
		Where("customer_id = ? AND business_id = ?", customerID, businessID).
		Count(&count).Error
	return count, err
}

func (r *LedgerRepository) CountByReceipt(ctx context.Context, receiptID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PointsTransaction{}).
		Where("receipt_id = ?", receiptID).
		Count(&count).Error
	return count, err
}

// SumByCustomer computes the customer's true balance from the ledger.
func (r *LedgerRepository) SumByCustomer(ctx context.Context, customerID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.PointsTransaction{}).
		Where("customer_id = ?", customerID).
		Select("COALESCE(SUM(points_earned), 0)").
		Scan(&total).Error
	return total, err
}
