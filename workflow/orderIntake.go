package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/kasirhub/pos_backend/models"
	"github.com/kasirhub/pos_backend/utils"
)

const orderCreateHandler = "OrderCreate"

// ErrInvalidOrder marks a submission the server can never accept. Retrying
// the same payload is pointless; the API reports it as 422.
var ErrInvalidOrder = errors.New("invalid order submission")

type NewPayment struct {
	Method    string          `json:"method" binding:"required,paymentmethod"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
	// PaidAt preserves the client-side payment time for offline orders that
	// reach the server long after the sale happened.
	PaidAt *time.Time `json:"paid_at"`
}

type NewOrder struct {
	OutletId     int             `json:"outlet_id" binding:"required"`
	EmployeeId   int             `json:"employee_id"`
	UserId       int             `json:"user_id"`
	OrderNumber  string          `json:"order_number"`
	Type         string          `json:"type" binding:"omitempty,ordertype"`
	Total        decimal.Decimal `json:"total"`
	ChangeAmount decimal.Decimal `json:"change_amount"`
	Payments     []NewPayment    `json:"payments"`
	// PlacedAt preserves the client-side creation time; zero means "now".
	PlacedAt *time.Time `json:"placed_at"`
}

// OrderIntake is the server side of the offline queue: it applies
// order-creation submissions exactly once per idempotency key.
type OrderIntake struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewOrderIntake(db *gorm.DB, logger *logrus.Logger) *OrderIntake {
	return &OrderIntake{db: db, logger: logger}
}

func (oi *OrderIntake) validate(input *NewOrder) error {
	switch models.OrderType(input.Type) {
	case models.OrderTypeOrdinary, models.OrderTypeSelfService:
	case "":
		input.Type = string(models.OrderTypeOrdinary)
	default:
		return fmt.Errorf("invalid order type %q", input.Type)
	}
	if input.Total.IsNegative() {
		return errors.New("order total must not be negative")
	}
	if input.ChangeAmount.IsNegative() {
		return errors.New("change amount must not be negative")
	}
	for i := range input.Payments {
		p := &input.Payments[i]
		method, ok := models.ParsePaymentMethod(p.Method)
		if !ok {
			return fmt.Errorf("invalid payment method %q", p.Method)
		}
		p.Method = string(method)
		if p.Amount.IsNegative() {
			return errors.New("payment amount must not be negative")
		}
		if p.Status == "" {
			p.Status = string(models.PaymentStatusPaid)
		}
	}
	return nil
}

// Create applies an order-creation submission. The idempotency key is the
// sole deduplication handle: resubmitting the same key returns the order the
// first submission created, with duplicate=true, and produces no new rows.
func (oi *OrderIntake) Create(ctx context.Context, businessId string, idempotencyKey string, input *NewOrder) (*models.Order, bool, error) {
	if businessId == "" {
		return nil, false, fmt.Errorf("%w: business id is required", ErrInvalidOrder)
	}
	if idempotencyKey == "" {
		return nil, false, fmt.Errorf("%w: idempotency key is required", ErrInvalidOrder)
	}
	if err := oi.validate(input); err != nil {
		return nil, false, fmt.Errorf("%w: %s", ErrInvalidOrder, err)
	}

	db := oi.db.WithContext(ctx)

	// Referential checks before touching the idempotency table: a payload
	// against an unknown business or outlet can never become valid, so the
	// terminal should park it instead of retrying.
	if _, err := models.GetBusinessById(ctx, db, businessId); err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, false, fmt.Errorf("%w: unknown business %q", ErrInvalidOrder, businessId)
		}
		return nil, false, err
	}
	if _, err := models.GetOutletById(ctx, db, businessId, input.OutletId); err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, false, fmt.Errorf("%w: unknown outlet %d", ErrInvalidOrder, input.OutletId)
		}
		return nil, false, err
	}

	applied, referenceId, err := BeginIdempotency(db, businessId, orderCreateHandler, idempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if applied {
		var existing models.Order
		if err := db.Preload("Payments").
			Where("id = ? AND business_id = ?", referenceId, businessId).
			Take(&existing).Error; err != nil {
			return nil, false, err
		}
		return &existing, true, nil
	}

	placedAt := time.Now()
	if input.PlacedAt != nil && !input.PlacedAt.IsZero() {
		placedAt = *input.PlacedAt
	}

	order := models.Order{
		BusinessId:   businessId,
		OutletId:     input.OutletId,
		EmployeeId:   input.EmployeeId,
		UserId:       input.UserId,
		OrderNumber:  input.OrderNumber,
		Type:         models.OrderType(input.Type),
		Total:        input.Total,
		ChangeAmount: input.ChangeAmount,
		CreatedAt:    placedAt,
	}

	var validPaid decimal.Decimal
	for _, p := range input.Payments {
		paidAt := placedAt
		if p.PaidAt != nil && !p.PaidAt.IsZero() {
			paidAt = *p.PaidAt
		}
		payment := models.Payment{
			Method:    models.PaymentMethod(p.Method),
			Amount:    p.Amount,
			Status:    models.PaymentStatus(p.Status),
			Reference: p.Reference,
			CreatedAt: paidAt,
		}
		if payment.Status.CountsTowardTotals() {
			validPaid = validPaid.Add(p.Amount)
		}
		order.Payments = append(order.Payments, payment)
	}

	order.PaymentStatus = models.OrderPaymentStatusUnpaid
	if validPaid.GreaterThanOrEqual(order.Total) && len(order.Payments) > 0 {
		order.PaymentStatus = models.OrderPaymentStatusPaid
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&order).Error
	})
	if err != nil {
		_ = MarkIdempotencyFailed(db, businessId, orderCreateHandler, idempotencyKey, err)
		return nil, false, err
	}

	if err := MarkIdempotencySucceeded(db, businessId, orderCreateHandler, idempotencyKey, order.ID); err != nil {
		// The order exists; a failed mark only risks a duplicate-return on
		// retry, never a duplicate order (the STARTED row still blocks).
		oi.logError("markSucceeded", businessId, idempotencyKey, err)
	}

	return &order, false, nil
}

func (oi *OrderIntake) logError(context string, businessId string, key string, err error) {
	if oi.logger == nil {
		return
	}
	oi.logger.WithFields(logrus.Fields{
		"module":          "OrderIntake",
		"context":         context,
		"business_id":     businessId,
		"idempotency_key": key,
	}).Error(err.Error())
}
