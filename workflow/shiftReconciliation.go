package workflow

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kasirhub/pos_backend/models"
)

// ShiftWriter is the slice of the shift store reconciliation needs.
type ShiftWriter interface {
	SaveReconciliation(ctx context.Context, shift *models.Shift) error
	EmployeeIdForUser(ctx context.Context, businessId string, userId int) (int, error)
}

// ReconciliationWarning is a non-fatal mismatch between the order-derived and
// payment-derived shift totals. It is logged and returned, never raised to the
// cashier, and never overrides the order-derived total.
type ReconciliationWarning struct {
	ExpectedTotal   decimal.Decimal `json:"expected_total"`
	SumFromPayments decimal.Decimal `json:"sum_from_payments"`
	Gap             decimal.Decimal `json:"gap"`
}

type ReconciliationResult struct {
	TotalTransactions int `json:"total_transactions"`

	ExpectedCash     decimal.Decimal `json:"expected_cash"`
	ExpectedCard     decimal.Decimal `json:"expected_card"`
	ExpectedTransfer decimal.Decimal `json:"expected_transfer"`
	ExpectedQris     decimal.Decimal `json:"expected_qris"`
	ExpectedTotal    decimal.Decimal `json:"expected_total"`

	CashReceived decimal.Decimal `json:"cash_received"`
	CashChange   decimal.Decimal `json:"cash_change"`
	NetCashSales decimal.Decimal `json:"net_cash_sales"`

	BoundOrderIds []int `json:"bound_order_ids,omitempty"`

	Warning *ReconciliationWarning `json:"warning,omitempty"`
}

// ReconcileEngine computes the expected per-method totals of an open shift and
// claims orphan self-service orders for it. It is the sole writer of the
// shift's expected_* columns.
type ReconcileEngine struct {
	orders OrderSource
	ledger *PaymentLedger
	shifts ShiftWriter
	logger *logrus.Logger

	// tolerance is the warning threshold for the order-vs-payment consistency
	// check, in currency minor units.
	tolerance decimal.Decimal

	// bindOrphans gates the orphan-claiming side effect.
	bindOrphans bool
}

func NewReconcileEngine(orders OrderSource, shifts ShiftWriter, logger *logrus.Logger, tolerance decimal.Decimal, bindOrphans bool) *ReconcileEngine {
	return &ReconcileEngine{
		orders:      orders,
		ledger:      NewPaymentLedger(orders),
		shifts:      shifts,
		logger:      logger,
		tolerance:   tolerance,
		bindOrphans: bindOrphans,
	}
}

// Reconcile recomputes the shift's expected totals as of now and persists them
// on the shift row. The shift struct is mutated in place with the fresh
// values. Mismatches surface as warnings only; an error return means the
// underlying store failed, not that the money disagrees.
func (e *ReconcileEngine) Reconcile(ctx context.Context, shift *models.Shift, now time.Time) (*ReconciliationResult, error) {
	return e.ReconcileWithOutlet(ctx, shift, now, shift.OutletId)
}

// ReconcileWithOutlet reconciles against an explicit outlet, used at close
// time when the closing request's outlet context differs from the one the
// shift was opened under.
func (e *ReconcileEngine) ReconcileWithOutlet(ctx context.Context, shift *models.Shift, now time.Time, outletId int) (*ReconciliationResult, error) {
	result := &ReconciliationResult{}

	primary, err := e.orders.OrdersByShift(ctx, shift.ID)
	if err != nil {
		return nil, err
	}

	orphans, err := e.orders.OrphanSelfServiceOrders(ctx, shift.BusinessId, outletId, shift.OpenedAt, now)
	if err != nil {
		return nil, err
	}

	// Claim orphans one by one. A lost race or a failed write skips that
	// order only; the next reconcile pass will see it either in the primary
	// set (bound to us) or not at all (bound elsewhere).
	var bound []models.Order
	if e.bindOrphans {
		for _, orphan := range orphans {
			ok, bindErr := e.orders.BindOrderToShift(ctx, orphan.ID, shift.ID)
			if bindErr != nil {
				e.logWarn(shift, "bindOrphan", logrus.Fields{"order_id": orphan.ID}, bindErr.Error())
				continue
			}
			if !ok {
				continue
			}
			result.BoundOrderIds = append(result.BoundOrderIds, orphan.ID)
			bound = append(bound, orphan)
		}
	}

	// With no orders bound to the shift yet, fall back to the cashier's own
	// paid orders in the shift window.
	base := primary
	if len(base) == 0 {
		employeeId := shift.EmployeeId
		if employeeId == 0 {
			employeeId, err = e.shifts.EmployeeIdForUser(ctx, shift.BusinessId, shift.UserId)
			if err != nil {
				return nil, err
			}
		}
		if employeeId > 0 {
			base, err = e.orders.OrdersByEmployeeWindow(ctx, shift.BusinessId, outletId, employeeId, shift.OpenedAt, now)
			if err != nil {
				return nil, err
			}
		}
	}

	orders := unionById(base, bound)

	orderIds := make([]int, 0, len(orders))
	for _, o := range orders {
		orderIds = append(orderIds, o.ID)
	}
	paymentsByOrder, err := e.ledger.DeduplicatedPayments(ctx, orderIds)
	if err != nil {
		return nil, err
	}

	var (
		cashReceived, cashChange            decimal.Decimal
		cardTotal, transferTotal, qrisTotal decimal.Decimal
		expectedTotal                       decimal.Decimal
		cashTx, cardTx, transferTx, qrisTx  int
	)

	for _, order := range orders {
		// expected_total always comes from the order's own total; payment
		// rows never feed it.
		expectedTotal = expectedTotal.Add(order.Total)

		byMethod := paymentsByOrder[order.ID]
		if p, ok := byMethod[models.PaymentMethodCash]; ok {
			cashReceived = cashReceived.Add(p.Amount)
			cashChange = cashChange.Add(order.ChangeAmount)
			cashTx++
		}
		if p, ok := byMethod[models.PaymentMethodCard]; ok {
			cardTotal = cardTotal.Add(p.Amount)
			cardTx++
		}
		if p, ok := byMethod[models.PaymentMethodTransfer]; ok {
			transferTotal = transferTotal.Add(p.Amount)
			transferTx++
		}
		if p, ok := byMethod[models.PaymentMethodQris]; ok {
			qrisTotal = qrisTotal.Add(p.Amount)
			qrisTx++
		}
	}

	netCashSales := cashReceived.Sub(cashChange)
	expectedCash := shift.OpeningBalance.Add(netCashSales)

	result.TotalTransactions = len(orders)
	result.ExpectedCash = expectedCash
	result.ExpectedCard = cardTotal
	result.ExpectedTransfer = transferTotal
	result.ExpectedQris = qrisTotal
	result.ExpectedTotal = expectedTotal
	result.CashReceived = cashReceived
	result.CashChange = cashChange
	result.NetCashSales = netCashSales

	// Consistency check: order-derived vs payment-derived totals. The
	// order-derived expected_total stays authoritative regardless.
	sumFromPayments := netCashSales.Add(cardTotal).Add(transferTotal).Add(qrisTotal)
	gap := expectedTotal.Sub(sumFromPayments).Abs()
	if gap.GreaterThan(e.tolerance) {
		result.Warning = &ReconciliationWarning{
			ExpectedTotal:   expectedTotal,
			SumFromPayments: sumFromPayments,
			Gap:             gap,
		}
		e.logWarn(shift, "consistencyCheck", logrus.Fields{
			"expected_total":    expectedTotal.String(),
			"sum_from_payments": sumFromPayments.String(),
			"gap":               gap.String(),
		}, "order-derived and payment-derived totals disagree")
	}

	shift.ExpectedCash = expectedCash
	shift.ExpectedCard = cardTotal
	shift.ExpectedTransfer = transferTotal
	shift.ExpectedQris = qrisTotal
	shift.ExpectedTotal = expectedTotal
	shift.CashTransactions = cashTx
	shift.CardTransactions = cardTx
	shift.TransferTransactions = transferTx
	shift.QrisTransactions = qrisTx
	shift.TotalTransactions = len(orders)

	if err := e.shifts.SaveReconciliation(ctx, shift); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *ReconcileEngine) logWarn(shift *models.Shift, context string, fields logrus.Fields, msg string) {
	if e.logger == nil {
		return
	}
	entry := e.logger.WithFields(logrus.Fields{
		"module":      "ShiftReconciliation",
		"context":     context,
		"business_id": shift.BusinessId,
		"shift_id":    shift.ID,
	})
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Warn(msg)
}

func unionById(a, b []models.Order) []models.Order {
	seen := make(map[int]bool, len(a)+len(b))
	out := make([]models.Order, 0, len(a)+len(b))
	for _, o := range a {
		if !seen[o.ID] {
			seen[o.ID] = true
			out = append(out, o)
		}
	}
	for _, o := range b {
		if !seen[o.ID] {
			seen[o.ID] = true
			out = append(out, o)
		}
	}
	return out
}
