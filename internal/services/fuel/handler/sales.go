package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"petrolink-system/config"
	"petrolink-system/internal/database/models"
	"petrolink-system/internal/gateway/middleware"
	shifthandler "petrolink-system/internal/services/shift/handler"
)

// invalidateShiftCaches clears the current-shift cache owned by the shift
// package. Submitting sales closes and locks the shift, so the cached OPEN
// shift must not outlive the commit.
func (s *FuelHandler) invalidateShiftCaches(ctx context.Context, stationID int64) {
	_ = s.redis.Del(ctx, fmt.Sprintf("%s%d", shifthandler.CURRENT_SHIFT_CACHE_PREFIX, stationID))
}

func (s *FuelHandler) ListShiftSales(c *gin.Context) {
	shiftID, err := strconv.ParseInt(c.Param("shiftId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid shift id"))
		return
	}

	var sales []models.NozzleSale
	if err := s.db.Preload("Nozzle").Where("shift_id = ?", shiftID).
		Order("nozzle_id asc").Find(&sales).Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	c.JSON(http.StatusOK, successResponse("nozzle sales retrieved successfully", sales))
}

type UpdateSaleRequest struct {
	QuantityLiters *float64 `json:"quantity_liters,omitempty"`
	CardAmount     *float64 `json:"card_amount,omitempty"`
	CashAmount     *float64 `json:"cash_amount,omitempty"`
}

// UpdateSale edits a single sale row before the shift is submitted. Tank
// levels are untouched here; they only move on submission.
func (s *FuelHandler) UpdateSale(c *gin.Context) {
	saleID, err := strconv.ParseInt(c.Param("saleId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid sale id"))
		return
	}

	var req UpdateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	var sale models.NozzleSale
	if err := s.db.First(&sale, saleID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, errorResponse("sale not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	var shift models.Shift
	if err := s.db.First(&shift, sale.ShiftID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}
	if shift.Locked {
		c.JSON(http.StatusConflict, errorResponse("shift is locked"))
		return
	}

	ident, _ := middleware.IdentityFrom(c)
	if ident.Role == models.RoleStationManager && (ident.StationID == nil || *ident.StationID != shift.StationID) {
		c.JSON(http.StatusForbidden, errorResponse("you can only edit sales for your assigned station"))
		return
	}

	updates := map[string]interface{}{}
	if req.QuantityLiters != nil {
		if *req.QuantityLiters < 0 {
			c.JSON(http.StatusBadRequest, errorResponse("quantity must not be negative"))
			return
		}
		updates["quantity_liters"] = decimal.NewFromFloat(*req.QuantityLiters)
	}
	if req.CardAmount != nil {
		if *req.CardAmount < 0 {
			c.JSON(http.StatusBadRequest, errorResponse("card amount must not be negative"))
			return
		}
		updates["card_amount"] = decimal.NewFromFloat(*req.CardAmount)
	}
	if req.CashAmount != nil {
		if *req.CashAmount < 0 {
			c.JSON(http.StatusBadRequest, errorResponse("cash amount must not be negative"))
			return
		}
		updates["cash_amount"] = decimal.NewFromFloat(*req.CashAmount)
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, errorResponse("nothing to update"))
		return
	}

	if err := s.db.Model(&models.NozzleSale{}).Where("id = ?", sale.ID).Updates(updates).Error; err != nil {
		config.LogError(config.GetLogger(), "fuel", "UpdateSale", "update sale", sale.ID, err)
		c.JSON(http.StatusInternalServerError, errorResponse("failed to update sale"))
		return
	}

	if err := s.db.Preload("Nozzle").First(&sale, sale.ID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	c.JSON(http.StatusOK, successResponse("sale updated successfully", sale))
}

type UpdateShiftPaymentsRequest struct {
	CardAmount float64 `json:"card_amount" binding:"gte=0"`
	CashAmount float64 `json:"cash_amount" binding:"gte=0"`
}

// UpdateShiftPayments writes the shift-level card and cash figures onto every
// sale row of the shift so totals can read them from any one row.
func (s *FuelHandler) UpdateShiftPayments(c *gin.Context) {
	shiftID, err := strconv.ParseInt(c.Param("shiftId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid shift id"))
		return
	}

	var req UpdateShiftPaymentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("card and cash amounts are required"))
		return
	}

	var shift models.Shift
	if err := s.db.First(&shift, shiftID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, errorResponse("shift not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}
	if shift.Locked {
		c.JSON(http.StatusConflict, errorResponse("shift is locked"))
		return
	}

	ident, _ := middleware.IdentityFrom(c)
	if ident.Role == models.RoleStationManager && (ident.StationID == nil || *ident.StationID != shift.StationID) {
		c.JSON(http.StatusForbidden, errorResponse("you can only edit sales for your assigned station"))
		return
	}

	if err := s.db.Model(&models.NozzleSale{}).Where("shift_id = ?", shift.ID).
		Updates(map[string]interface{}{
			"card_amount": decimal.NewFromFloat(req.CardAmount),
			"cash_amount": decimal.NewFromFloat(req.CashAmount),
		}).Error; err != nil {
		config.LogError(config.GetLogger(), "fuel", "UpdateShiftPayments", "update payments", shift.ID, err)
		c.JSON(http.StatusInternalServerError, errorResponse("failed to update payments"))
		return
	}

	var sales []models.NozzleSale
	if err := s.db.Where("shift_id = ?", shift.ID).Order("nozzle_id asc").Find(&sales).Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	c.JSON(http.StatusOK, successResponse("shift payments updated successfully", sales))
}

// SubmitSales finalizes a shift from its sale rows: every tank must cover the
// liters dispensed through its nozzles, tanks are decremented, the shift is
// closed and locked, and a cash transaction is opened for the custody
// workflow. All of it happens in one transaction.
func (s *FuelHandler) SubmitSales(c *gin.Context) {
	shiftID, err := strconv.ParseInt(c.Param("shiftId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid shift id"))
		return
	}

	ident, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("authentication required"))
		return
	}

	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var shift models.Shift
	if err := tx.Clauses(lockForUpdate()).First(&shift, shiftID).Error; err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, errorResponse("shift not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}
	if shift.Locked {
		tx.Rollback()
		c.JSON(http.StatusConflict, errorResponse("shift is already locked"))
		return
	}

	if ident.Role == models.RoleStationManager && (ident.StationID == nil || *ident.StationID != shift.StationID) {
		tx.Rollback()
		c.JSON(http.StatusForbidden, errorResponse("you can only submit sales for your assigned station"))
		return
	}

	var sales []models.NozzleSale
	if err := tx.Preload("Nozzle").Where("shift_id = ?", shift.ID).
		Order("nozzle_id asc").Find(&sales).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}
	if len(sales) == 0 {
		tx.Rollback()
		c.JSON(http.StatusConflict, errorResponse("shift has no sale rows"))
		return
	}

	deltas := saleTankDeltas(sales)
	if err := applyTankDeltas(tx, deltas); err != nil {
		tx.Rollback()
		if _, ok := err.(insufficientFuelError); ok {
			c.JSON(http.StatusConflict, errorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse("failed to update tank levels"))
		return
	}

	totals := computeSaleTotals(sales)

	now := time.Now()
	if err := tx.Model(&models.Shift{}).Where("id = ?", shift.ID).Updates(map[string]interface{}{
		"status":    models.ShiftClosed,
		"locked":    true,
		"locked_by": ident.UserID,
		"end_time":  now,
	}).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, errorResponse("failed to close shift"))
		return
	}

	cashOnHand := totals.Revenue.Sub(totals.Card)
	transaction := models.CashTransaction{
		ShiftID:      shift.ID,
		StationID:    shift.StationID,
		LitersSold:   totals.Liters,
		RatePerLiter: totals.AverageRate,
		TotalRevenue: totals.Revenue,
		CardPayments: totals.Card,
		CashOnHand:   cashOnHand,
		BankDeposit:  decimal.Zero,
		CashToAM:     cashOnHand,
		Status:       models.CashPendingAcceptance,
	}
	var existing models.CashTransaction
	if err := tx.Where("shift_id = ?", shift.ID).First(&existing).Error; err == nil {
		tx.Rollback()
		c.JSON(http.StatusConflict, errorResponse("cash transaction already exists for this shift"))
		return
	} else if err != gorm.ErrRecordNotFound {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}
	if err := tx.Create(&transaction).Error; err != nil {
		tx.Rollback()
		config.LogError(config.GetLogger(), "fuel", "SubmitSales", "create cash transaction", shift.ID, err)
		c.JSON(http.StatusInternalServerError, errorResponse("failed to create cash transaction"))
		return
	}

	// With an assigned area manager the custody hand-off is opened
	// immediately; without one the SM initiates it later.
	var submitter models.User
	if err := tx.First(&submitter, ident.UserID).Error; err == nil && submitter.AreaManagerID != nil {
		transfer := models.CashTransfer{
			CashTransactionID: transaction.ID,
			FromUserID:        submitter.ID,
			ToUserID:          *submitter.AreaManagerID,
			Status:            models.CashPendingAcceptance,
		}
		if err := tx.Create(&transfer).Error; err != nil {
			tx.Rollback()
			c.JSON(http.StatusInternalServerError, errorResponse("failed to create cash transfer"))
			return
		}
		transaction.Transfer = &transfer
	}

	if err := tx.Commit().Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("failed to commit transaction"))
		return
	}

	s.invalidatePriceCaches(c.Request.Context(), shift.StationID)
	s.invalidateShiftCaches(c.Request.Context(), shift.StationID)
	s.publishFuelEvent(c.Request.Context(), FuelEvent{
		EventType: EventSalesSubmitted,
		ShiftID:   shift.ID,
		StationID: shift.StationID,
		ActorID:   ident.UserID,
		Timestamp: now,
	})

	c.JSON(http.StatusCreated, successResponse("sales submitted successfully", gin.H{
		"shift_id":         shift.ID,
		"liters_sold":      totals.Liters,
		"total_revenue":    totals.Revenue,
		"card_payments":    totals.Card,
		"cash_payments":    totals.Cash,
		"rate_per_liter":   totals.AverageRate,
		"cash_transaction": transaction,
	}))
}

const EventSalesSubmitted = "sales_submitted"

type FuelEvent struct {
	EventType string    `json:"event_type"`
	ShiftID   int64     `json:"shift_id"`
	StationID int64     `json:"station_id"`
	ActorID   int64     `json:"actor_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *FuelHandler) publishFuelEvent(ctx context.Context, event FuelEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	channel := fmt.Sprintf("fuel:events:%s", event.EventType)
	if err := s.redis.Publish(ctx, channel, payload).Err(); err != nil {
		return err
	}
	return s.redis.Publish(ctx, "fuel:events:all", payload).Err()
}
