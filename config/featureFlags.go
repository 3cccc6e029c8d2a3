package config

import (
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kasirhub/pos_backend/utils"
)

// ReconcileTolerance is the maximum allowed gap, in currency minor units,
// between order-derived and payment-derived shift totals before the
// reconciliation engine records a warning. The order-derived total stays
// authoritative either way.
//
// Set via env:
// - RECONCILE_TOLERANCE=100
func ReconcileTolerance() decimal.Decimal {
	v := strings.TrimSpace(os.Getenv("RECONCILE_TOLERANCE"))
	if v == "" {
		return decimal.NewFromInt(100)
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		return decimal.NewFromInt(100)
	}
	return d
}

// SelfServiceOrderBinding controls whether reconciliation claims orphan
// self-service orders for the open shift. Enabled unless explicitly turned off.
//
// Set via env:
// - BIND_SELF_SERVICE_ORDERS=false
func SelfServiceOrderBinding() bool {
	return utils.BoolFromEnv("BIND_SELF_SERVICE_ORDERS", true)
}
