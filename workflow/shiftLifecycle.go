package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/kasirhub/pos_backend/models"
	"github.com/kasirhub/pos_backend/utils"
)

var (
	ErrShiftNotFound      = errors.New("shift not found")
	ErrShiftAlreadyOpen   = errors.New("an open shift already exists for this user and outlet")
	ErrShiftAlreadyClosed = errors.New("shift is already closed")
	// ErrShiftCloseContended means another close on the same shift holds the
	// lock right now; the caller should retry or report a conflict.
	ErrShiftCloseContended = errors.New("shift close already in progress")
)

// ShiftStoreAPI is the full shift persistence surface the lifecycle
// controller drives. models.ShiftStore implements it.
type ShiftStoreAPI interface {
	ShiftWriter
	ShiftById(ctx context.Context, businessId string, shiftId int) (*models.Shift, error)
	ActiveShift(ctx context.Context, businessId string, userId int, outletId int) (*models.Shift, error)
	CreateShift(ctx context.Context, shift *models.Shift) error
	CloseShift(ctx context.Context, shift *models.Shift) (bool, error)
}

// ShiftLocker serializes close attempts per shift across instances.
type ShiftLocker interface {
	WithShiftLock(ctx context.Context, shiftId int, fn func(ctx context.Context) error) error
}

type CloseShiftInput struct {
	ShiftId        int
	ActualCash     decimal.Decimal
	Notes          string
	ClosedBy       int
	OutletOverride *int
}

// ShiftLifecycle orchestrates open -> active -> closing -> closed, invoking
// the reconciliation engine on every status read and once more,
// authoritatively, at close.
type ShiftLifecycle struct {
	shifts ShiftStoreAPI
	engine *ReconcileEngine
	locker ShiftLocker
	logger *logrus.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewShiftLifecycle(shifts ShiftStoreAPI, engine *ReconcileEngine, locker ShiftLocker, logger *logrus.Logger) *ShiftLifecycle {
	return &ShiftLifecycle{
		shifts: shifts,
		engine: engine,
		locker: locker,
		logger: logger,
		Now:    time.Now,
	}
}

// Open creates a new shift. At most one open shift may exist per
// (user, outlet); the opening balance is fixed here and never changes.
func (w *ShiftLifecycle) Open(ctx context.Context, businessId string, outletId int, userId int, openingBalance decimal.Decimal) (*models.Shift, error) {
	existing, err := w.shifts.ActiveShift(ctx, businessId, userId, outletId)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrShiftAlreadyOpen
	}

	employeeId, err := w.shifts.EmployeeIdForUser(ctx, businessId, userId)
	if err != nil {
		return nil, err
	}

	shift := &models.Shift{
		BusinessId:     businessId,
		OutletId:       outletId,
		UserId:         userId,
		EmployeeId:     employeeId,
		Status:         models.ShiftStatusOpen,
		OpenedAt:       w.Now(),
		OpeningBalance: openingBalance,
	}
	if err := w.shifts.CreateShift(ctx, shift); err != nil {
		return nil, err
	}
	return shift, nil
}

// Active returns the open shift for (user, outlet) with freshly reconciled
// totals, or (nil, nil, nil) when no shift is open. Reads recompute, they
// never serve a stale snapshot.
func (w *ShiftLifecycle) Active(ctx context.Context, businessId string, userId int, outletId int) (*models.Shift, *ReconciliationResult, error) {
	shift, err := w.shifts.ActiveShift(ctx, businessId, userId, outletId)
	if err != nil {
		return nil, nil, err
	}
	if shift == nil {
		return nil, nil, nil
	}
	result, err := w.engine.Reconcile(ctx, shift, w.Now())
	if err != nil {
		return nil, nil, err
	}
	return shift, result, nil
}

// Close finalizes the shift: one authoritative reconcile, non-cash actuals
// trusted as reconciled, cash counted by hand, differences fixed, then the
// conditional status flip. Runs under the per-shift lock so two concurrent
// closes cannot both finalize with different drawer counts.
func (w *ShiftLifecycle) Close(ctx context.Context, businessId string, input CloseShiftInput) (*models.Shift, *ReconciliationResult, error) {
	var (
		closed *models.Shift
		recon  *ReconciliationResult
	)

	err := w.locker.WithShiftLock(ctx, input.ShiftId, func(ctx context.Context) error {
		shift, err := w.shifts.ShiftById(ctx, businessId, input.ShiftId)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrShiftNotFound
			}
			return err
		}
		if !shift.IsOpen() {
			return ErrShiftAlreadyClosed
		}

		now := w.Now()
		outletId := utils.DereferencePtr(input.OutletOverride, shift.OutletId)
		if outletId <= 0 {
			outletId = shift.OutletId
		}

		recon, err = w.engine.ReconcileWithOutlet(ctx, shift, now, outletId)
		if err != nil {
			return err
		}

		ApplyCloseout(shift, input.ActualCash)
		shift.ClosedAt = &now
		shift.ClosingNotes = input.Notes
		shift.ClosedBy = input.ClosedBy

		ok, err := w.shifts.CloseShift(ctx, shift)
		if err != nil {
			return err
		}
		if !ok {
			return ErrShiftAlreadyClosed
		}
		shift.Status = models.ShiftStatusClosed
		closed = shift

		if w.logger != nil {
			w.logger.WithFields(logrus.Fields{
				"module":           "ShiftLifecycle",
				"business_id":      shift.BusinessId,
				"shift_id":         shift.ID,
				"cash_difference":  shift.CashDifference.String(),
				"total_difference": shift.TotalDifference.String(),
			}).Info("shift closed")
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return closed, recon, nil
}

// ApplyCloseout fills the actual_* and difference columns from the reconciled
// expected values and the hand-counted cash. Pure and deterministic: same
// shift state and same actualCash always produce the same differences.
//
// Non-cash instruments cannot be counted physically, so their actuals are
// trusted equal to the reconciled expectations. Note the documented quirk:
// ActualTotal includes the opening float sitting in the drawer while
// ExpectedTotal is sales-only, so TotalDifference carries the opening balance
// unless the caller accounts for it.
func ApplyCloseout(shift *models.Shift, actualCash decimal.Decimal) {
	shift.ActualCash = actualCash
	shift.ActualCard = shift.ExpectedCard
	shift.ActualTransfer = shift.ExpectedTransfer
	shift.ActualQris = shift.ExpectedQris
	shift.ActualTotal = shift.ActualCash.Add(shift.ActualCard).Add(shift.ActualTransfer).Add(shift.ActualQris)
	shift.CashDifference = shift.ActualCash.Sub(shift.ExpectedCash)
	shift.TotalDifference = shift.ActualTotal.Sub(shift.ExpectedTotal)
}
