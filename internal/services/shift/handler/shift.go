package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"petrolink-system/config"
	"petrolink-system/internal/database/models"
	"petrolink-system/internal/gateway/middleware"
)

const (
	CURRENT_SHIFT_CACHE_PREFIX = "shift:current:"
	CACHE_TTL_SHORT            = 5 * time.Minute
)

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func successResponse(message string, data interface{}) APIResponse {
	return APIResponse{Success: true, Message: message, Data: data}
}

func errorResponse(message string) APIResponse {
	return APIResponse{Success: false, Message: message}
}

func lockForUpdate() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}

type ShiftHandler struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewShiftHandler(db *gorm.DB, redisClient *redis.Client) *ShiftHandler {
	return &ShiftHandler{
		db:    db,
		redis: redisClient,
	}
}

func (s *ShiftHandler) invalidateShiftCaches(ctx context.Context, stationID int64) {
	_ = s.redis.Del(ctx, fmt.Sprintf("%s%d", CURRENT_SHIFT_CACHE_PREFIX, stationID))
}

type CreateShiftRequest struct {
	ShiftType string `json:"shift_type" binding:"required"`
}

func (s *ShiftHandler) CreateShift(c *gin.Context) {
	stationID, err := strconv.ParseInt(c.Param("stationId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid station id"))
		return
	}

	var req CreateShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("shift type must be DAY or NIGHT"))
		return
	}

	shiftType := models.ShiftType(req.ShiftType)
	if !shiftType.Valid() {
		c.JSON(http.StatusBadRequest, errorResponse("shift type must be DAY or NIGHT"))
		return
	}

	ident, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("authentication required"))
		return
	}
	if ident.Role == models.RoleStationManager && (ident.StationID == nil || *ident.StationID != stationID) {
		c.JSON(http.StatusForbidden, errorResponse("you can only create shifts for your assigned station"))
		return
	}

	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	// Lock the station row so two racing creations serialize on the
	// one-open-shift check.
	var station models.Station
	if err := tx.Clauses(lockForUpdate()).First(&station, stationID).Error; err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, errorResponse("station not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	var open models.Shift
	err = tx.Where("station_id = ? AND status = ? AND locked = ?", stationID, models.ShiftOpen, false).
		First(&open).Error
	if err == nil {
		tx.Rollback()
		c.JSON(http.StatusConflict, errorResponse("there is already an open shift for this station"))
		return
	} else if err != gorm.ErrRecordNotFound {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	// DAY shifts start at midnight, NIGHT shifts at noon.
	now := time.Now()
	startHour := 0
	if shiftType == models.ShiftNight {
		startHour = 12
	}
	startTime := time.Date(now.Year(), now.Month(), now.Day(), startHour, 0, 0, 0, now.Location())

	shift := models.Shift{
		StationID: stationID,
		ShiftType: shiftType,
		Status:    models.ShiftOpen,
		Locked:    false,
		StartTime: startTime,
	}

	if err := tx.Create(&shift).Error; err != nil {
		tx.Rollback()
		config.LogError(config.GetLogger(), "shift", "CreateShift", "create shift", stationID, err)
		c.JSON(http.StatusInternalServerError, errorResponse("failed to create shift"))
		return
	}

	if err := s.initializeNozzleSales(tx, &shift); err != nil {
		tx.Rollback()
		config.LogError(config.GetLogger(), "shift", "CreateShift", "initialize sales", shift.ID, err)
		c.JSON(http.StatusInternalServerError, errorResponse("failed to initialize nozzle sales"))
		return
	}

	if err := tx.Commit().Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("failed to commit transaction"))
		return
	}

	s.invalidateShiftCaches(c.Request.Context(), stationID)
	s.publishShiftEvent(c.Request.Context(), ShiftEvent{
		EventType: EventShiftCreated,
		ShiftID:   shift.ID,
		StationID: stationID,
		ActorID:   ident.UserID,
		Timestamp: time.Now(),
	})

	c.JSON(http.StatusCreated, successResponse("shift created successfully", shift))
}

// initializeNozzleSales seeds one sale row per station nozzle with the
// current fuel price snapshotted on it. Stations with no configured
// hardware get a default tank and nozzle per fuel type first.
func (s *ShiftHandler) initializeNozzleSales(tx *gorm.DB, shift *models.Shift) error {
	var nozzles []models.Nozzle
	if err := tx.Where("station_id = ?", shift.StationID).Find(&nozzles).Error; err != nil {
		return err
	}

	if len(nozzles) == 0 {
		provisioned, err := provisionDefaultNozzles(tx, shift.StationID)
		if err != nil {
			return err
		}
		nozzles = provisioned
	}

	prices, err := currentPriceMap(tx, shift.StationID)
	if err != nil {
		return err
	}

	for _, nozzle := range nozzles {
		sale := models.NozzleSale{
			ShiftID:       shift.ID,
			NozzleID:      nozzle.ID,
			PricePerLiter: prices[nozzle.FuelType], // zero when no price is set
		}
		if err := tx.Create(&sale).Error; err != nil {
			return err
		}
	}

	return nil
}

func provisionDefaultNozzles(tx *gorm.DB, stationID int64) ([]models.Nozzle, error) {
	fuelTypes := []models.FuelType{models.FuelOctane91, models.FuelOctane95, models.FuelDiesel}

	nozzles := make([]models.Nozzle, 0, len(fuelTypes))
	for _, fuelType := range fuelTypes {
		tank := models.Tank{
			StationID: stationID,
			FuelType:  fuelType,
		}
		if err := tx.Create(&tank).Error; err != nil {
			return nil, err
		}

		nozzle := models.Nozzle{
			Name:      fmt.Sprintf("ST%d-%s-1", stationID, fuelType),
			StationID: stationID,
			TankID:    tank.ID,
			FuelType:  fuelType,
		}
		if err := tx.Create(&nozzle).Error; err != nil {
			return nil, err
		}
		nozzles = append(nozzles, nozzle)
	}

	return nozzles, nil
}

// currentPriceMap resolves the active price per fuel type: the row with the
// latest effective_from per (station, fuel type).
func currentPriceMap(tx *gorm.DB, stationID int64) (map[models.FuelType]decimal.Decimal, error) {
	var prices []models.FuelPrice
	if err := tx.Where("station_id = ?", stationID).
		Order("effective_from desc").Find(&prices).Error; err != nil {
		return nil, err
	}

	result := make(map[models.FuelType]decimal.Decimal)
	for _, price := range prices {
		if _, ok := result[price.FuelType]; !ok {
			result[price.FuelType] = price.PricePerLiter
		}
	}
	return result, nil
}

// GetCurrentShift returns the station's open, unlocked shift; null when none.
func (s *ShiftHandler) GetCurrentShift(c *gin.Context) {
	stationID, err := strconv.ParseInt(c.Param("stationId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid station id"))
		return
	}

	ctx := c.Request.Context()
	cacheKey := fmt.Sprintf("%s%d", CURRENT_SHIFT_CACHE_PREFIX, stationID)

	if cached, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
		var shift models.Shift
		if json.Unmarshal([]byte(cached), &shift) == nil {
			c.JSON(http.StatusOK, successResponse("current shift retrieved successfully", shift))
			return
		}
	}

	var shift models.Shift
	err = s.db.Where("station_id = ? AND status = ? AND locked = ?", stationID, models.ShiftOpen, false).
		Order("start_time desc").First(&shift).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusOK, successResponse("no open shift", nil))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	if payload, err := json.Marshal(shift); err == nil {
		_ = s.redis.Set(ctx, cacheKey, payload, CACHE_TTL_SHORT)
	}

	c.JSON(http.StatusOK, successResponse("current shift retrieved successfully", shift))
}

func (s *ShiftHandler) ListShifts(c *gin.Context) {
	stationID, err := strconv.ParseInt(c.Param("stationId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid station id"))
		return
	}

	ident, _ := middleware.IdentityFrom(c)
	if ident.Role == models.RoleStationManager && (ident.StationID == nil || *ident.StationID != stationID) {
		c.JSON(http.StatusForbidden, errorResponse("you can only view shifts for your assigned station"))
		return
	}

	var shifts []models.Shift
	if err := s.db.Preload("NozzleSales.Nozzle.Tank").
		Where("station_id = ?", stationID).
		Order("start_time desc").Find(&shifts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	c.JSON(http.StatusOK, successResponse("shifts retrieved successfully", shifts))
}

func (s *ShiftHandler) GetShiftDetails(c *gin.Context) {
	shiftID, err := strconv.ParseInt(c.Param("shiftId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid shift id"))
		return
	}

	var shift models.Shift
	if err := s.db.Preload("NozzleSales.Nozzle.Tank").Preload("Readings.Nozzle").
		First(&shift, shiftID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, errorResponse("shift not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	ident, _ := middleware.IdentityFrom(c)
	if ident.Role == models.RoleStationManager && (ident.StationID == nil || *ident.StationID != shift.StationID) {
		c.JSON(http.StatusForbidden, errorResponse("you can only view shifts for your assigned station"))
		return
	}

	c.JSON(http.StatusOK, successResponse("shift retrieved successfully", shift))
}

func (s *ShiftHandler) LockShift(c *gin.Context) {
	shiftID, err := strconv.ParseInt(c.Param("shiftId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid shift id"))
		return
	}

	ident, _ := middleware.IdentityFrom(c)

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
		c.JSON(http.StatusConflict, errorResponse("shift is already locked"))
		return
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":    models.ShiftLocked,
		"locked":    true,
		"locked_by": ident.UserID,
	}
	if shift.EndTime == nil {
		updates["end_time"] = now
	}

	if err := s.db.Model(&models.Shift{}).Where("id = ?", shift.ID).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("failed to lock shift"))
		return
	}

	s.invalidateShiftCaches(c.Request.Context(), shift.StationID)
	s.publishShiftEvent(c.Request.Context(), ShiftEvent{
		EventType: EventShiftLocked,
		ShiftID:   shift.ID,
		StationID: shift.StationID,
		ActorID:   ident.UserID,
		Timestamp: now,
	})

	c.JSON(http.StatusOK, successResponse("shift locked successfully", nil))
}

// UnlockShift reverts a locked shift to CLOSED so readings can be corrected.
// Tank decrements already applied stay applied.
func (s *ShiftHandler) UnlockShift(c *gin.Context) {
	shiftID, err := strconv.ParseInt(c.Param("shiftId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid shift id"))
		return
	}

	ident, _ := middleware.IdentityFrom(c)

	var shift models.Shift
	if err := s.db.First(&shift, shiftID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, errorResponse("shift not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	if !shift.Locked {
		c.JSON(http.StatusConflict, errorResponse("shift is not locked"))
		return
	}

	if err := s.db.Model(&models.Shift{}).Where("id = ?", shift.ID).Updates(map[string]interface{}{
		"status":    models.ShiftClosed,
		"locked":    false,
		"locked_by": ident.UserID,
	}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("failed to unlock shift"))
		return
	}

	s.invalidateShiftCaches(c.Request.Context(), shift.StationID)
	s.publishShiftEvent(c.Request.Context(), ShiftEvent{
		EventType: EventShiftUnlocked,
		ShiftID:   shift.ID,
		StationID: shift.StationID,
		ActorID:   ident.UserID,
		Timestamp: time.Now(),
	})

	c.JSON(http.StatusOK, successResponse("shift unlocked successfully", nil))
}

func (s *ShiftHandler) DeleteShift(c *gin.Context) {
	shiftID, err := strconv.ParseInt(c.Param("shiftId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid shift id"))
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

	// Cascades to readings and nozzle sales.
	if err := s.db.Select("Readings", "NozzleSales").Delete(&shift).Error; err != nil {
		config.LogError(config.GetLogger(), "shift", "DeleteShift", "delete", shift.ID, err)
		c.JSON(http.StatusInternalServerError, errorResponse("failed to delete shift"))
		return
	}

	s.invalidateShiftCaches(c.Request.Context(), shift.StationID)

	c.JSON(http.StatusOK, successResponse("shift deleted successfully", nil))
}

// --- Pub/Sub Related ---

const (
	EventShiftCreated      = "shift_created"
	EventShiftLocked       = "shift_locked"
	EventShiftUnlocked     = "shift_unlocked"
	EventReadingsSubmitted = "readings_submitted"
)

type ShiftEvent struct {
	EventType string    `json:"event_type"`
	ShiftID   int64     `json:"shift_id"`
	StationID int64     `json:"station_id"`
	ActorID   int64     `json:"actor_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *ShiftHandler) publishShiftEvent(ctx context.Context, event ShiftEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := fmt.Sprintf("fuel:events:%s", event.EventType)
	if err := s.redis.Publish(ctx, channel, eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	if err := s.redis.Publish(ctx, "fuel:events:all", eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish to all channel: %w", err)
	}

	return nil
}
