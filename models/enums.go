package models

import "strings"

type ShiftStatus string

const (
	ShiftStatusOpen   ShiftStatus = "open"
	ShiftStatusClosed ShiftStatus = "closed"
)

type OrderType string

const (
	OrderTypeOrdinary    OrderType = "ordinary"
	OrderTypeSelfService OrderType = "self_service"
)

type OrderPaymentStatus string

const (
	OrderPaymentStatusUnpaid   OrderPaymentStatus = "unpaid"
	OrderPaymentStatusPaid     OrderPaymentStatus = "paid"
	OrderPaymentStatusRefunded OrderPaymentStatus = "refunded"
	OrderPaymentStatusVoid     OrderPaymentStatus = "void"
)

type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "cash"
	PaymentMethodCard     PaymentMethod = "card"
	PaymentMethodTransfer PaymentMethod = "transfer"
	PaymentMethodQris     PaymentMethod = "qris"
)

// Label is the human-readable form used on close-out sheets.
func (m PaymentMethod) Label() string {
	if m == PaymentMethodQris {
		return "QRIS"
	}
	return strings.ToUpper(string(m[:1])) + string(m[1:])
}

func AllPaymentMethods() []PaymentMethod {
	return []PaymentMethod{PaymentMethodCash, PaymentMethodCard, PaymentMethodTransfer, PaymentMethodQris}
}

func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(s))) {
	case PaymentMethodCash:
		return PaymentMethodCash, true
	case PaymentMethodCard:
		return PaymentMethodCard, true
	case PaymentMethodTransfer:
		return PaymentMethodTransfer, true
	case PaymentMethodQris:
		return PaymentMethodQris, true
	}
	return "", false
}

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusSuccess    PaymentStatus = "success"
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusSettlement PaymentStatus = "settlement"
	PaymentStatusCapture    PaymentStatus = "capture"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// CountsTowardTotals reports whether a payment attempt in this status is part
// of the shift financial picture. Gateways report the same economic event
// under several names (success/paid/settlement/capture), all of which count;
// pending and failed attempts never do.
func (s PaymentStatus) CountsTowardTotals() bool {
	switch s {
	case PaymentStatusSuccess, PaymentStatusPaid, PaymentStatusSettlement, PaymentStatusCapture:
		return true
	}
	return false
}
