package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// OrderLedger is the read/bind surface reconciliation works against.
// Constructed once with its data source and passed by parameter; no
// package-level DB access.
type OrderLedger struct {
	db *gorm.DB
}

func NewOrderLedger(db *gorm.DB) *OrderLedger {
	return &OrderLedger{db: db}
}

func (l *OrderLedger) OrdersByShift(ctx context.Context, shiftId int) ([]Order, error) {
	var orders []Order
	err := l.db.WithContext(ctx).
		Where("shift_id = ? AND payment_status = ?", shiftId, OrderPaymentStatusPaid).
		Order("created_at").
		Find(&orders).Error
	return orders, err
}

// OrphanSelfServiceOrders returns paid self-service orders in the window that
// no shift has claimed yet.
func (l *OrderLedger) OrphanSelfServiceOrders(ctx context.Context, businessId string, outletId int, from, to time.Time) ([]Order, error) {
	var orders []Order
	err := l.db.WithContext(ctx).
		Where("business_id = ? AND outlet_id = ? AND type = ? AND payment_status = ? AND shift_id IS NULL AND created_at >= ? AND created_at <= ?",
			businessId, outletId, OrderTypeSelfService, OrderPaymentStatusPaid, from, to).
		Order("created_at").
		Find(&orders).Error
	return orders, err
}

func (l *OrderLedger) OrdersByEmployeeWindow(ctx context.Context, businessId string, outletId int, employeeId int, from, to time.Time) ([]Order, error) {
	var orders []Order
	err := l.db.WithContext(ctx).
		Where("business_id = ? AND outlet_id = ? AND employee_id = ? AND payment_status = ? AND created_at >= ? AND created_at <= ?",
			businessId, outletId, employeeId, OrderPaymentStatusPaid, from, to).
		Order("created_at").
		Find(&orders).Error
	return orders, err
}

func (l *OrderLedger) PaymentsForOrders(ctx context.Context, orderIds []int) (map[int][]Payment, error) {
	result := make(map[int][]Payment, len(orderIds))
	if len(orderIds) == 0 {
		return result, nil
	}
	var payments []Payment
	if err := l.db.WithContext(ctx).
		Where("order_id IN ?", orderIds).
		Order("created_at").
		Find(&payments).Error; err != nil {
		return nil, err
	}
	for _, p := range payments {
		result[p.OrderId] = append(result[p.OrderId], p)
	}
	return result, nil
}

// BindOrderToShift claims an orphan order for a shift. The shift_id IS NULL
// guard makes the claim at-most-once under concurrent reconciliation runs;
// returns false when another run (or shift) got there first.
func (l *OrderLedger) BindOrderToShift(ctx context.Context, orderId int, shiftId int) (bool, error) {
	res := l.db.WithContext(ctx).
		Model(&Order{}).
		Where("id = ? AND shift_id IS NULL", orderId).
		Update("shift_id", shiftId)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
