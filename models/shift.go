package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Shift is one cashier session at one outlet, from open to close.
//
// While the shift is open the reconciliation engine repeatedly rewrites the
// expected_* columns and transaction counts; close fixes the actual_* and
// difference columns once and the row is immutable afterwards.
//
// Arithmetic note: ExpectedTotal is sales-only (sum of order totals) while
// ActualTotal includes the opening float counted in the drawer, so
// TotalDifference structurally carries the opening balance as an apparent
// surplus. This matches the behaviour the field teams reconcile against;
// do not "fix" it here. See workflow/shiftLifecycle_test.go.
type Shift struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"index;size:64;not null" json:"business_id" binding:"required"`
	OutletId   int    `gorm:"index;not null" json:"outlet_id" binding:"required"`
	UserId     int    `gorm:"index;not null" json:"user_id" binding:"required"`
	EmployeeId int    `gorm:"index" json:"employee_id"`

	Status   ShiftStatus `gorm:"size:20;not null;index" json:"status"`
	OpenedAt time.Time   `gorm:"not null" json:"opened_at"`
	ClosedAt *time.Time  `json:"closed_at"`

	OpeningBalance decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"opening_balance"`

	ExpectedCash     decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"expected_cash"`
	ExpectedCard     decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"expected_card"`
	ExpectedTransfer decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"expected_transfer"`
	ExpectedQris     decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"expected_qris"`
	ExpectedTotal    decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"expected_total"`

	ActualCash     decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"actual_cash"`
	ActualCard     decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"actual_card"`
	ActualTransfer decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"actual_transfer"`
	ActualQris     decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"actual_qris"`
	ActualTotal    decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"actual_total"`

	CashDifference  decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"cash_difference"`
	TotalDifference decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"total_difference"`

	CashTransactions     int `gorm:"default:0" json:"cash_transactions"`
	CardTransactions     int `gorm:"default:0" json:"card_transactions"`
	TransferTransactions int `gorm:"default:0" json:"transfer_transactions"`
	QrisTransactions     int `gorm:"default:0" json:"qris_transactions"`
	TotalTransactions    int `gorm:"default:0" json:"total_transactions"`

	ClosingNotes string `gorm:"type:text" json:"closing_notes"`
	ClosedBy     int    `gorm:"default:0" json:"closed_by"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *Shift) IsOpen() bool {
	return s.Status == ShiftStatusOpen
}

// MethodTotals returns the expected amount, actual amount and transaction
// count recorded for one payment method.
func (s *Shift) MethodTotals(m PaymentMethod) (expected, actual decimal.Decimal, count int) {
	switch m {
	case PaymentMethodCash:
		return s.ExpectedCash, s.ActualCash, s.CashTransactions
	case PaymentMethodCard:
		return s.ExpectedCard, s.ActualCard, s.CardTransactions
	case PaymentMethodTransfer:
		return s.ExpectedTransfer, s.ActualTransfer, s.TransferTransactions
	case PaymentMethodQris:
		return s.ExpectedQris, s.ActualQris, s.QrisTransactions
	default:
		return decimal.Zero, decimal.Zero, 0
	}
}
