package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ShiftStore owns reads and writes of shift rows. The reconciliation engine is
// the sole writer of the expected_* columns; close is the sole writer of the
// actual_*/difference columns.
type ShiftStore struct {
	db *gorm.DB
}

func NewShiftStore(db *gorm.DB) *ShiftStore {
	return &ShiftStore{db: db}
}

func (s *ShiftStore) ShiftById(ctx context.Context, businessId string, shiftId int) (*Shift, error) {
	var shift Shift
	if err := s.db.WithContext(ctx).
		Where("id = ? AND business_id = ?", shiftId, businessId).
		Take(&shift).Error; err != nil {
		return nil, err
	}
	return &shift, nil
}

// ActiveShift returns the open shift for (user, outlet), or nil when none.
func (s *ShiftStore) ActiveShift(ctx context.Context, businessId string, userId int, outletId int) (*Shift, error) {
	var shift Shift
	err := s.db.WithContext(ctx).
		Where("business_id = ? AND user_id = ? AND outlet_id = ? AND status = ?",
			businessId, userId, outletId, ShiftStatusOpen).
		Order("opened_at DESC").
		First(&shift).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &shift, nil
}

func (s *ShiftStore) CreateShift(ctx context.Context, shift *Shift) error {
	return s.db.WithContext(ctx).Create(shift).Error
}

// SaveReconciliation persists the expected_* columns and transaction counts.
// Guarded on status=open so a late reconcile can never touch a closed shift.
func (s *ShiftStore) SaveReconciliation(ctx context.Context, shift *Shift) error {
	return s.db.WithContext(ctx).
		Model(&Shift{}).
		Where("id = ? AND status = ?", shift.ID, ShiftStatusOpen).
		Updates(map[string]interface{}{
			"expected_cash":         shift.ExpectedCash,
			"expected_card":         shift.ExpectedCard,
			"expected_transfer":     shift.ExpectedTransfer,
			"expected_qris":         shift.ExpectedQris,
			"expected_total":        shift.ExpectedTotal,
			"cash_transactions":     shift.CashTransactions,
			"card_transactions":     shift.CardTransactions,
			"transfer_transactions": shift.TransferTransactions,
			"qris_transactions":     shift.QrisTransactions,
			"total_transactions":    shift.TotalTransactions,
		}).Error
}

// CloseShift finalizes the shift with a conditional update keyed on
// status=open. Returns false when the shift was already closed (or is being
// closed concurrently); the caller must report that as a conflict, never
// overwrite.
func (s *ShiftStore) CloseShift(ctx context.Context, shift *Shift) (bool, error) {
	now := time.Now()
	if shift.ClosedAt == nil {
		shift.ClosedAt = &now
	}
	res := s.db.WithContext(ctx).
		Model(&Shift{}).
		Where("id = ? AND status = ?", shift.ID, ShiftStatusOpen).
		Updates(map[string]interface{}{
			"status":           ShiftStatusClosed,
			"closed_at":        shift.ClosedAt,
			"actual_cash":      shift.ActualCash,
			"actual_card":      shift.ActualCard,
			"actual_transfer":  shift.ActualTransfer,
			"actual_qris":      shift.ActualQris,
			"actual_total":     shift.ActualTotal,
			"cash_difference":  shift.CashDifference,
			"total_difference": shift.TotalDifference,
			"closing_notes":    shift.ClosingNotes,
			"closed_by":        shift.ClosedBy,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// EmployeeIdForUser resolves the employee record behind a POS login.
// Returns 0 when the user has no employee record.
func (s *ShiftStore) EmployeeIdForUser(ctx context.Context, businessId string, userId int) (int, error) {
	var employee Employee
	err := s.db.WithContext(ctx).
		Where("business_id = ? AND user_id = ?", businessId, userId).
		Take(&employee).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return employee.ID, nil
}
