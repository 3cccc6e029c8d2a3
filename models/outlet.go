package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/kasirhub/pos_backend/utils"
)

type Outlet struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;size:64;not null" json:"business_id" binding:"required"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Address    string    `gorm:"type:text" json:"address"`
	Phone      string    `gorm:"size:20" json:"phone"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetOutletById(ctx context.Context, db *gorm.DB, businessId string, outletId int) (*Outlet, error) {
	var outlet Outlet
	if err := db.WithContext(ctx).
		Where("id = ? AND business_id = ?", outletId, businessId).
		Take(&outlet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &outlet, nil
}
