package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/chrisraro/Giya-sub000/internal/models"
)

type BusinessRepository struct {
	db *gorm.DB
}

func NewBusinessRepository(db *gorm.DB) *BusinessRepository {
	return &BusinessRepository{db: db}
}

func (r *BusinessRepository) GetByID(ctx context.Context, id string) (*models.Business, error) {
	var business models.Business
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&business).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &business, nil
}
