package posapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/kasirhub/pos_backend/config"
	"github.com/kasirhub/pos_backend/models"
	"github.com/kasirhub/pos_backend/reports"
	"github.com/kasirhub/pos_backend/utils"
	"github.com/kasirhub/pos_backend/workflow"
)

type OpenShiftRequest struct {
	OutletId       int             `json:"outlet_id" binding:"required"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

type CloseShiftRequest struct {
	ActualCash decimal.Decimal `json:"actual_cash"`
	Notes      string          `json:"notes"`
	OutletId   *int            `json:"outlet_id"`
}

type ShiftResponse struct {
	Shift          *models.Shift                  `json:"shift"`
	Reconciliation *workflow.ReconciliationResult `json:"reconciliation,omitempty"`
}

type OrderResponse struct {
	OrderId   int  `json:"order_id"`
	Duplicate bool `json:"duplicate"`
}

// API wires the shift lifecycle and order intake onto gin routes.
type API struct {
	lifecycle *workflow.ShiftLifecycle
	intake    *workflow.OrderIntake
	shifts    workflow.ShiftStoreAPI
	logger    *logrus.Logger
}

func NewAPI(lifecycle *workflow.ShiftLifecycle, intake *workflow.OrderIntake, shifts workflow.ShiftStoreAPI, logger *logrus.Logger) *API {
	return &API{lifecycle: lifecycle, intake: intake, shifts: shifts, logger: logger}
}

func (a *API) Register(r gin.IRouter) {
	api := r.Group("/api")
	api.Use(CorrelationMiddleware(), IdentityMiddleware(), RequestLogMiddleware(a.logger))

	api.GET("/shifts/active", a.activeShift)
	api.POST("/shifts/open", a.openShift)
	api.POST("/shifts/:id/close", a.closeShift)
	api.GET("/shifts/:id/report.xlsx", a.shiftReport)
	api.POST("/orders", a.createOrder)
}

func (a *API) activeShift(c *gin.Context) {
	ctx := c.Request.Context()
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	userId, _ := utils.GetUserIdFromContext(ctx)
	outletId, ok := utils.GetOutletIdFromContext(ctx)
	if !ok {
		if v, err := strconv.Atoi(c.Query("outlet_id")); err == nil {
			outletId = v
		}
	}
	if outletId == 0 || userId == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "outlet and user are required"})
		return
	}

	shift, recon, err := a.lifecycle.Active(ctx, businessId, userId, outletId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if shift == nil {
		c.JSON(http.StatusOK, gin.H{"shift": nil})
		return
	}
	c.JSON(http.StatusOK, ShiftResponse{Shift: shift, Reconciliation: recon})
}

func (a *API) openShift(c *gin.Context) {
	ctx := c.Request.Context()
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	userId, _ := utils.GetUserIdFromContext(ctx)

	var req OpenShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.OpeningBalance.IsNegative() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "opening balance must not be negative"})
		return
	}
	if userId == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is required"})
		return
	}

	shift, err := a.lifecycle.Open(ctx, businessId, req.OutletId, userId, req.OpeningBalance)
	if err != nil {
		if errors.Is(err, workflow.ErrShiftAlreadyOpen) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, ShiftResponse{Shift: shift})
}

func (a *API) closeShift(c *gin.Context) {
	ctx := c.Request.Context()
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	userId, _ := utils.GetUserIdFromContext(ctx)

	shiftId, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shift id"})
		return
	}

	var req CloseShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ActualCash.IsNegative() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "actual cash must not be negative"})
		return
	}

	shift, recon, err := a.lifecycle.Close(ctx, businessId, workflow.CloseShiftInput{
		ShiftId:        shiftId,
		ActualCash:     req.ActualCash,
		Notes:          req.Notes,
		ClosedBy:       userId,
		OutletOverride: req.OutletId,
	})
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrShiftNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, workflow.ErrShiftAlreadyClosed):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, workflow.ErrShiftCloseContended):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, ShiftResponse{Shift: shift, Reconciliation: recon})
}

func (a *API) shiftReport(c *gin.Context) {
	ctx := c.Request.Context()
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	shiftId, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shift id"})
		return
	}

	shift, err := a.shifts.ShiftById(ctx, businessId, shiftId)
	if err != nil {
		if errors.Is(err, workflow.ErrShiftNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "shift not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Closed shifts are immutable, so the rendered workbook can be cached.
	cacheKey := fmt.Sprintf("shift-report:%s:%d", businessId, shiftId)
	if !shift.IsOpen() {
		var cached []byte
		if hit, err := config.GetRedisObject(cacheKey, &cached); err == nil && hit {
			a.writeWorkbook(c, shiftId, cached)
			return
		}
	}

	f, err := reports.ShiftCloseoutWorkbook(shift)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if !shift.IsOpen() {
		if err := config.SetRedisObject(cacheKey, buf.Bytes(), time.Hour); err != nil {
			a.logWarn("shiftReport", businessId, err)
		}
	}
	a.writeWorkbook(c, shiftId, buf.Bytes())
}

func (a *API) writeWorkbook(c *gin.Context, shiftId int, data []byte) {
	c.Header("Content-Disposition", "attachment; filename=shift-"+strconv.Itoa(shiftId)+".xlsx")
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

// createOrder is the landing point for offline-queue submissions. The
// X-Idempotency-Key header deduplicates retries; a key seen before answers
// with the original order and duplicate=true. A submission whose key is mid
// apply answers 429 so the terminal backs off and retries.
func (a *API) createOrder(c *gin.Context) {
	ctx := c.Request.Context()
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	idempotencyKey := c.GetHeader("X-Idempotency-Key")
	if idempotencyKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Idempotency-Key header is required"})
		return
	}

	var input workflow.NewOrder
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, duplicate, err := a.intake.Create(ctx, businessId, idempotencyKey, &input)
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrIdempotencyInProgress):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		case errors.Is(err, workflow.ErrInvalidOrder):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	status := http.StatusCreated
	if duplicate {
		status = http.StatusOK
	}
	c.JSON(status, OrderResponse{OrderId: order.ID, Duplicate: duplicate})
}

func (a *API) logWarn(context string, businessId string, err error) {
	if a.logger == nil {
		return
	}
	a.logger.WithFields(logrus.Fields{
		"module":      "PosApi",
		"context":     context,
		"business_id": businessId,
	}).Warn(err.Error())
}
