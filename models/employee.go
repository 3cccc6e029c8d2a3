package models

import "time"

type Employee struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"index;size:64;not null" json:"business_id" binding:"required"`
	OutletId   int    `gorm:"index" json:"outlet_id"`
	// UserId links an employee to a login account; zero when the employee
	// has no POS login of their own.
	UserId    int       `gorm:"index" json:"user_id"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Role      string    `gorm:"size:50" json:"role"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type User struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;size:64;not null" json:"business_id"`
	Name       string    `gorm:"size:100;not null" json:"name"`
	Email      string    `gorm:"size:255;index" json:"email"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
