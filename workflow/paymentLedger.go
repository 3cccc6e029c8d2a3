package workflow

import (
	"context"
	"time"

	"github.com/kasirhub/pos_backend/models"
)

// OrderSource is the persistence surface the reconciliation engine reads
// orders and payments through, and binds orphans through. models.OrderLedger
// is the gorm implementation; tests plug in fakes.
type OrderSource interface {
	OrdersByShift(ctx context.Context, shiftId int) ([]models.Order, error)
	OrphanSelfServiceOrders(ctx context.Context, businessId string, outletId int, from, to time.Time) ([]models.Order, error)
	OrdersByEmployeeWindow(ctx context.Context, businessId string, outletId int, employeeId int, from, to time.Time) ([]models.Order, error)
	PaymentsForOrders(ctx context.Context, orderIds []int) (map[int][]models.Payment, error)
	BindOrderToShift(ctx context.Context, orderId int, shiftId int) (bool, error)
}

// PaymentLedger supplies reconciliation with a deduplicated payment view:
// per order, per method, the single payment row that actually counts.
type PaymentLedger struct {
	source OrderSource
}

func NewPaymentLedger(source OrderSource) *PaymentLedger {
	return &PaymentLedger{source: source}
}

// DeduplicatedPayments returns, for each order, the method -> payment map
// after collapsing client retries: last write wins per method.
func (l *PaymentLedger) DeduplicatedPayments(ctx context.Context, orderIds []int) (map[int]map[models.PaymentMethod]models.Payment, error) {
	raw, err := l.source.PaymentsForOrders(ctx, orderIds)
	if err != nil {
		return nil, err
	}
	result := make(map[int]map[models.PaymentMethod]models.Payment, len(raw))
	for orderId, payments := range raw {
		result[orderId] = DeduplicatePayments(payments)
	}
	return result, nil
}

// DeduplicatePayments keeps, per method, the most recent payment (by
// created_at) among those in a countable status. A failed attempt followed by
// a successful retry therefore contributes exactly once; a success shadowed
// only by later failed rows still counts.
func DeduplicatePayments(payments []models.Payment) map[models.PaymentMethod]models.Payment {
	byMethod := make(map[models.PaymentMethod]models.Payment)
	for _, p := range payments {
		if !p.Status.CountsTowardTotals() {
			continue
		}
		best, ok := byMethod[p.Method]
		if !ok || !p.CreatedAt.Before(best.CreatedAt) {
			byMethod[p.Method] = p
		}
	}
	return byMethod
}
