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
	"gorm.io/gorm/clause"

	"petrolink-system/config"
	"petrolink-system/internal/database/models"
	"petrolink-system/internal/gateway/middleware"
)

type RecordDeliveryRequest struct {
	LitersDelivered float64 `json:"liters_delivered" binding:"required,gt=0"`
	DeliveryDate    *string `json:"delivery_date,omitempty"`
	AramcoTicket    *string `json:"aramco_ticket,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

func lockForUpdate() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}

// checkDeliveryCapacity rejects a delivery that would overfill the tank.
// Tanks without a registered capacity accept any amount.
func checkDeliveryCapacity(tank models.Tank, liters decimal.Decimal) error {
	if tank.Capacity == nil {
		return nil
	}
	newLevel := tank.CurrentLevel.Add(liters)
	if newLevel.GreaterThan(*tank.Capacity) {
		return fmt.Errorf(
			"delivery exceeds tank capacity: capacity %sL, current %sL, delivery %sL, new total %sL",
			tank.Capacity.String(), tank.CurrentLevel.String(), liters.String(), newLevel.String(),
		)
	}
	return nil
}

// RecordDelivery handles the tank-scoped route.
func (s *InventoryHandler) RecordDelivery(c *gin.Context) {
	tankID, err := strconv.ParseInt(c.Param("tankId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid tank id"))
		return
	}

	var req RecordDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("liters delivered is required and must be positive"))
		return
	}

	s.recordDelivery(c, tankID, nil, req)
}

type RecordStationDeliveryRequest struct {
	TankID int64 `json:"tank_id" binding:"required"`
	RecordDeliveryRequest
}

// RecordStationDelivery handles the station-scoped route, with the tank
// named in the body. The tank must belong to the station in the path.
func (s *InventoryHandler) RecordStationDelivery(c *gin.Context) {
	stationID, err := strconv.ParseInt(c.Param("stationId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid station id"))
		return
	}

	var req RecordStationDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("tank id and a positive liters delivered are required"))
		return
	}

	s.recordDelivery(c, req.TankID, &stationID, req.RecordDeliveryRequest)
}

func (s *InventoryHandler) recordDelivery(c *gin.Context, tankID int64, stationID *int64, req RecordDeliveryRequest) {
	ident, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("authentication required"))
		return
	}

	liters := decimal.NewFromFloat(req.LitersDelivered)

	deliveryDate := time.Now()
	if req.DeliveryDate != nil {
		parsed, err := time.Parse(time.RFC3339, *req.DeliveryDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("delivery date must be RFC3339"))
			return
		}
		deliveryDate = parsed
	}

	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var tank models.Tank
	if err := tx.Clauses(lockForUpdate()).First(&tank, tankID).Error; err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, errorResponse("tank not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	if stationID != nil && tank.StationID != *stationID {
		tx.Rollback()
		c.JSON(http.StatusBadRequest, errorResponse("tank does not belong to this station"))
		return
	}

	if err := checkDeliveryCapacity(tank, liters); err != nil {
		tx.Rollback()
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
		return
	}

	delivery := models.TankerDelivery{
		TankID:          tank.ID,
		LitersDelivered: liters,
		DeliveryDate:    deliveryDate,
		RecordedBy:      ident.UserID,
		AramcoTicket:    req.AramcoTicket,
		Notes:           req.Notes,
	}

	if err := tx.Create(&delivery).Error; err != nil {
		tx.Rollback()
		config.LogError(config.GetLogger(), "inventory", "RecordDelivery", "insert delivery", tank.ID, err)
		c.JSON(http.StatusInternalServerError, errorResponse("failed to record delivery"))
		return
	}

	tank.CurrentLevel = tank.CurrentLevel.Add(liters)
	if err := tx.Model(&models.Tank{}).Where("id = ?", tank.ID).
		Update("current_level", tank.CurrentLevel).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, errorResponse("failed to update tank level"))
		return
	}

	if err := tx.Commit().Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("failed to commit transaction"))
		return
	}

	s.InvalidateInventoryCaches(c.Request.Context(), tank.StationID)
	s.publishInventoryEvent(c.Request.Context(), InventoryEvent{
		EventType: EventDeliveryRecorded,
		TankID:    tank.ID,
		StationID: tank.StationID,
		Liters:    liters.String(),
		ActorID:   ident.UserID,
		Timestamp: time.Now(),
	})

	c.JSON(http.StatusCreated, successResponse("delivery recorded successfully", gin.H{
		"delivery": delivery,
		"tank":     tank,
	}))
}

func (s *InventoryHandler) ListDeliveries(c *gin.Context) {
	query := s.db.Preload("Tank.Station").Preload("Recorder").
		Order("delivery_date desc")

	if tankParam := c.Query("tank_id"); tankParam != "" {
		tankID, err := strconv.ParseInt(tankParam, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid tank id"))
			return
		}
		query = query.Where("tank_id = ?", tankID)
	}

	var deliveries []models.TankerDelivery
	if err := query.Find(&deliveries).Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	c.JSON(http.StatusOK, successResponse("deliveries retrieved successfully", deliveries))
}

// --- Pub/Sub Related ---

const EventDeliveryRecorded = "delivery_recorded"

type InventoryEvent struct {
	EventType string    `json:"event_type"`
	TankID    int64     `json:"tank_id"`
	StationID int64     `json:"station_id"`
	Liters    string    `json:"liters"`
	ActorID   int64     `json:"actor_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *InventoryHandler) publishInventoryEvent(ctx context.Context, event InventoryEvent) error {
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
