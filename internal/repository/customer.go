package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/chrisraro/Giya-sub000/internal/models"
)

type CustomerRepository struct {
	db *gorm.DB
}

func NewCustomerRepository(db *gorm.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) GetByID(ctx context.Context, id string) (*models.Customer, error) {
	var customer models.Customer
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&customer).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *CustomerRepository) ListAll(ctx context.Context) ([]models.Customer, error) {
	var customers []models.Customer
	err := r.db.WithContext(ctx).Find(&customers).Error
	return customers, err
}

// SetTotalPoints overwrites the cached aggregate. Only the reconciler uses
// this, when repairing drift against the ledger.
func (r *CustomerRepository) SetTotalPoints(ctx context.Context, id string, total int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Customer{}).
		Where("id = ?", id).
		Update("total_points", total).Error
}
