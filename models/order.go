package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is a sale. ShiftId is nullable: self-service orders arrive without a
// shift and are later claimed by reconciliation. Once set it is never cleared.
type Order struct {
	ID          int    `gorm:"primary_key" json:"id"`
	BusinessId  string `gorm:"index;size:64;not null" json:"business_id" binding:"required"`
	OutletId    int    `gorm:"index;not null" json:"outlet_id" binding:"required"`
	EmployeeId  int    `gorm:"index" json:"employee_id"`
	UserId      int    `gorm:"index" json:"user_id"`
	ShiftId     *int   `gorm:"index" json:"shift_id"`
	OrderNumber string `gorm:"size:64;index" json:"order_number"`

	Type          OrderType          `gorm:"size:20;not null;default:ordinary" json:"type"`
	PaymentStatus OrderPaymentStatus `gorm:"size:20;not null;index;default:unpaid" json:"payment_status"`

	Total        decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"total"`
	ChangeAmount decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"change_amount"`

	Payments []Payment `gorm:"foreignKey:OrderId" json:"payments,omitempty"`

	CreatedAt time.Time `gorm:"index;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Payment is one attempt to pay (part of) an order. Client retries may leave
// several rows per (order, method); only the newest row in a countable status
// is real money.
type Payment struct {
	ID        int             `gorm:"primary_key" json:"id"`
	OrderId   int             `gorm:"index;not null" json:"order_id" binding:"required"`
	Method    PaymentMethod   `gorm:"size:20;not null" json:"method" binding:"required"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Status    PaymentStatus   `gorm:"size:20;not null;index" json:"status"`
	Reference string          `gorm:"size:255" json:"reference"`
	CreatedAt time.Time       `gorm:"index;autoCreateTime" json:"created_at"`
}
