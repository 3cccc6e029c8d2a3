package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/kasirhub/pos_backend/utils"
)

// Business is an opaque collaborator here: the back office only reads it to
// scope shifts and orders. Full business CRUD lives in another service.
type Business struct {
	ID           string    `gorm:"primary_key;size:64" json:"id"`
	Name         string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Timezone     string    `gorm:"size:50" json:"timezone"`
	CurrencyCode string    `gorm:"size:10;default:IDR" json:"currency_code"`
	IsActive     *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetBusinessById(ctx context.Context, db *gorm.DB, businessId string) (*Business, error) {
	var business Business
	if err := db.WithContext(ctx).Where("id = ?", businessId).Take(&business).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &business, nil
}
