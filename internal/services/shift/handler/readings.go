package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"petrolink-system/config"
	"petrolink-system/internal/database/models"
	"petrolink-system/internal/gateway/middleware"
)

type SubmitReadingsRequest struct {
	Readings []ReadingInput `json:"readings" binding:"required,min=1"`
}

func (s *ShiftHandler) ListReadings(c *gin.Context) {
	shiftID, err := strconv.ParseInt(c.Param("shiftId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid shift id"))
		return
	}

	var readings []models.NozzleReading
	if err := s.db.Preload("Nozzle.Tank").Where("shift_id = ?", shiftID).Find(&readings).Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	c.JSON(http.StatusOK, successResponse("readings retrieved successfully", readings))
}

// SubmitReadings records a batch of closing readings for a shift. Opening
// readings come from the previous shift's closing values (zero when none),
// consumption per nozzle must be non-negative, and the per-tank totals are
// subtracted from tank levels in the same transaction as the reading upserts.
func (s *ShiftHandler) SubmitReadings(c *gin.Context) {
	shiftID, err := strconv.ParseInt(c.Param("shiftId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid shift id"))
		return
	}

	var req SubmitReadingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("readings array is required"))
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
		c.JSON(http.StatusConflict, errorResponse("shift is locked"))
		return
	}

	if ident.Role == models.RoleStationManager && (ident.StationID == nil || *ident.StationID != shift.StationID) {
		tx.Rollback()
		c.JSON(http.StatusForbidden, errorResponse("you can only submit readings for your assigned station"))
		return
	}

	var nozzles []models.Nozzle
	if err := tx.Where("station_id = ?", shift.StationID).Find(&nozzles).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}
	nozzlesByID := make(map[int64]models.Nozzle, len(nozzles))
	for _, nozzle := range nozzles {
		nozzlesByID[nozzle.ID] = nozzle
	}

	// Existing rows for this shift: resubmissions keep their opening value
	// and contribute only the consumption difference to the tanks.
	var existing []models.NozzleReading
	if err := tx.Where("shift_id = ?", shift.ID).Find(&existing).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	openings := make(map[int64]decimal.Decimal)
	priorConsumption := make(map[int64]decimal.Decimal)

	var previous models.Shift
	err = tx.Where("station_id = ? AND id <> ? AND start_time <= ?", shift.StationID, shift.ID, shift.StartTime).
		Order("start_time desc").First(&previous).Error
	if err == nil {
		var previousReadings []models.NozzleReading
		if err := tx.Where("shift_id = ?", previous.ID).Find(&previousReadings).Error; err != nil {
			tx.Rollback()
			c.JSON(http.StatusInternalServerError, errorResponse("database error"))
			return
		}
		openings = openingReadings(previousReadings)
	} else if err != gorm.ErrRecordNotFound {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	for _, reading := range existing {
		openings[reading.NozzleID] = reading.OpeningReading
		if reading.Consumption != nil {
			priorConsumption[reading.NozzleID] = *reading.Consumption
		}
	}

	plan, err := planReadings(req.Readings, openings, priorConsumption, nozzlesByID)
	if err != nil {
		tx.Rollback()
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
		return
	}

	for _, planned := range plan.Readings {
		closing := planned.Closing
		consumption := planned.Consumption
		reading := models.NozzleReading{
			ShiftID:        shift.ID,
			NozzleID:       planned.NozzleID,
			OpeningReading: planned.Opening,
			ClosingReading: &closing,
			Consumption:    &consumption,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "shift_id"}, {Name: "nozzle_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"closing_reading", "consumption", "updated_at"}),
		}).Create(&reading).Error; err != nil {
			tx.Rollback()
			config.LogError(config.GetLogger(), "shift", "SubmitReadings", "upsert reading", planned.NozzleID, err)
			c.JSON(http.StatusInternalServerError, errorResponse("failed to save readings"))
			return
		}
	}

	if err := applyTankDeltas(tx, plan.TankDeltas); err != nil {
		tx.Rollback()
		if _, ok := err.(insufficientFuelError); ok {
			c.JSON(http.StatusConflict, errorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse("failed to update tank levels"))
		return
	}

	if err := tx.Commit().Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("failed to commit transaction"))
		return
	}

	s.invalidateShiftCaches(c.Request.Context(), shift.StationID)
	s.publishShiftEvent(c.Request.Context(), ShiftEvent{
		EventType: EventReadingsSubmitted,
		ShiftID:   shift.ID,
		StationID: shift.StationID,
		ActorID:   ident.UserID,
		Timestamp: time.Now(),
	})

	var saved []models.NozzleReading
	if err := s.db.Preload("Nozzle").Where("shift_id = ?", shift.ID).Find(&saved).Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("failed to reload readings"))
		return
	}

	c.JSON(http.StatusCreated, successResponse("readings saved successfully", saved))
}

type UpdateReadingRequest struct {
	ClosingReading *float64 `json:"closing_reading" binding:"required"`
}

// UpdateReading corrects a single reading on an unlocked shift. The tank is
// adjusted by the difference between the new and old consumption.
func (s *ShiftHandler) UpdateReading(c *gin.Context) {
	shiftID, err := strconv.ParseInt(c.Param("shiftId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid shift id"))
		return
	}
	readingID, err := strconv.ParseInt(c.Param("readingId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid reading id"))
		return
	}

	var req UpdateReadingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("closing reading is required"))
		return
	}

	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var reading models.NozzleReading
	if err := tx.Clauses(lockForUpdate()).Preload("Nozzle").First(&reading, readingID).Error; err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, errorResponse("reading not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	if reading.ShiftID != shiftID {
		tx.Rollback()
		c.JSON(http.StatusBadRequest, errorResponse("reading does not belong to this shift"))
		return
	}

	var shift models.Shift
	if err := tx.First(&shift, reading.ShiftID).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}
	if shift.Locked {
		tx.Rollback()
		c.JSON(http.StatusConflict, errorResponse("shift is locked"))
		return
	}

	closing := decimal.NewFromFloat(*req.ClosingReading)
	newConsumption := closing.Sub(reading.OpeningReading)
	if newConsumption.IsNegative() {
		tx.Rollback()
		c.JSON(http.StatusConflict, errorResponse(fmt.Sprintf(
			"closing reading is below the opening reading (%s < %s)",
			closing.String(), reading.OpeningReading.String(),
		)))
		return
	}

	oldConsumption := decimal.Zero
	if reading.Consumption != nil {
		oldConsumption = *reading.Consumption
	}
	diff := newConsumption.Sub(oldConsumption)

	if err := tx.Model(&models.NozzleReading{}).Where("id = ?", reading.ID).Updates(map[string]interface{}{
		"closing_reading": closing,
		"consumption":     newConsumption,
	}).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, errorResponse("failed to update reading"))
		return
	}

	if err := applyTankDeltas(tx, map[int64]decimal.Decimal{reading.Nozzle.TankID: diff}); err != nil {
		tx.Rollback()
		if _, ok := err.(insufficientFuelError); ok {
			c.JSON(http.StatusConflict, errorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse("failed to update tank level"))
		return
	}

	if err := tx.Commit().Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("failed to commit transaction"))
		return
	}

	s.invalidateShiftCaches(c.Request.Context(), shift.StationID)

	reading.ClosingReading = &closing
	reading.Consumption = &newConsumption
	c.JSON(http.StatusOK, successResponse("reading updated successfully", reading))
}

type insufficientFuelError struct {
	tankID int64
	level  decimal.Decimal
	needed decimal.Decimal
}

func (e insufficientFuelError) Error() string {
	return fmt.Sprintf("insufficient fuel in tank %d: current %sL, needed %sL",
		e.tankID, e.level.String(), e.needed.String())
}

// applyTankDeltas subtracts the given amounts from tank levels inside the
// caller's transaction, failing without partial writes when any tank would
// go negative.
func applyTankDeltas(tx *gorm.DB, deltas map[int64]decimal.Decimal) error {
	for tankID, delta := range deltas {
		if delta.IsZero() {
			continue
		}

		var tank models.Tank
		if err := tx.Clauses(lockForUpdate()).First(&tank, tankID).Error; err != nil {
			return err
		}

		newLevel := tank.CurrentLevel.Sub(delta)
		if newLevel.IsNegative() {
			return insufficientFuelError{tankID: tankID, level: tank.CurrentLevel, needed: delta}
		}

		if err := tx.Model(&models.Tank{}).Where("id = ?", tankID).
			Update("current_level", newLevel).Error; err != nil {
			return err
		}
	}
	return nil
}
