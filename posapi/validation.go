package posapi

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/kasirhub/pos_backend/models"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("paymentmethod", validPaymentMethod)
		_ = v.RegisterValidation("ordertype", validOrderType)
	}
}

func validPaymentMethod(fl validator.FieldLevel) bool {
	_, ok := models.ParsePaymentMethod(fl.Field().String())
	return ok
}

func validOrderType(fl validator.FieldLevel) bool {
	switch models.OrderType(fl.Field().String()) {
	case models.OrderTypeOrdinary, models.OrderTypeSelfService:
		return true
	}
	return false
}
