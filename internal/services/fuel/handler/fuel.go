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
	PRICES_CACHE_PREFIX = "fuel:prices:"
	CACHE_TTL_MEDIUM    = 30 * time.Minute
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

type FuelHandler struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewFuelHandler(db *gorm.DB, redisClient *redis.Client) *FuelHandler {
	return &FuelHandler{
		db:    db,
		redis: redisClient,
	}
}

func (s *FuelHandler) invalidatePriceCaches(ctx context.Context, stationIDs ...int64) {
	for _, id := range stationIDs {
		_ = s.redis.Del(ctx, fmt.Sprintf("%s%d", PRICES_CACHE_PREFIX, id))
	}
}

// --- Fuel Prices ---

type SetFuelPriceRequest struct {
	StationID     int64   `json:"station_id" binding:"required"`
	FuelType      string  `json:"fuel_type" binding:"required"`
	PricePerLiter float64 `json:"price_per_liter" binding:"required,gt=0"`
	EffectiveFrom *string `json:"effective_from,omitempty"`
}

func (s *FuelHandler) SetFuelPrice(c *gin.Context) {
	var req SetFuelPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	fuelType := models.FuelType(req.FuelType)
	if !fuelType.Valid() {
		c.JSON(http.StatusBadRequest, errorResponse("fuel type must be 91, 95 or DIESEL"))
		return
	}

	var station models.Station
	if err := s.db.First(&station, req.StationID).Error; err != nil {
		c.JSON(http.StatusNotFound, errorResponse("station not found"))
		return
	}

	ident, _ := middleware.IdentityFrom(c)

	effectiveFrom := time.Now()
	if req.EffectiveFrom != nil {
		parsed, err := time.Parse(time.RFC3339, *req.EffectiveFrom)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("effective from must be RFC3339"))
			return
		}
		effectiveFrom = parsed
	}

	price := models.FuelPrice{
		StationID:     req.StationID,
		FuelType:      fuelType,
		PricePerLiter: decimal.NewFromFloat(req.PricePerLiter),
		EffectiveFrom: effectiveFrom,
		CreatedBy:     ident.UserID,
	}

	if err := s.db.Create(&price).Error; err != nil {
		config.LogError(config.GetLogger(), "fuel", "SetFuelPrice", "create", req.StationID, err)
		c.JSON(http.StatusInternalServerError, errorResponse("error creating fuel price"))
		return
	}

	s.invalidatePriceCaches(c.Request.Context(), req.StationID)

	c.JSON(http.StatusCreated, successResponse("fuel price created successfully", price))
}

// latestPrices keeps the row with the newest effective_from per fuel type.
// Input must already be sorted by effective_from descending.
func latestPrices(prices []models.FuelPrice) []models.FuelPrice {
	latest := make([]models.FuelPrice, 0, 3)
	seen := make(map[models.FuelType]bool, 3)
	for _, price := range prices {
		if seen[price.FuelType] {
			continue
		}
		seen[price.FuelType] = true
		latest = append(latest, price)
	}
	return latest
}

func (s *FuelHandler) ListStationPrices(c *gin.Context) {
	stationID, err := strconv.ParseInt(c.Param("stationId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid station id"))
		return
	}

	ctx := c.Request.Context()
	cacheKey := fmt.Sprintf("%s%d", PRICES_CACHE_PREFIX, stationID)

	if cached, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
		var prices []models.FuelPrice
		if json.Unmarshal([]byte(cached), &prices) == nil {
			c.JSON(http.StatusOK, successResponse("fuel prices retrieved successfully", prices))
			return
		}
	}

	var prices []models.FuelPrice
	if err := s.db.Where("station_id = ?", stationID).
		Order("effective_from desc").Find(&prices).Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	current := latestPrices(prices)

	if payload, err := json.Marshal(current); err == nil {
		_ = s.redis.Set(ctx, cacheKey, payload, CACHE_TTL_MEDIUM)
	}

	c.JSON(http.StatusOK, successResponse("fuel prices retrieved successfully", current))
}

func (s *FuelHandler) ListAllPrices(c *gin.Context) {
	var prices []models.FuelPrice
	if err := s.db.Preload("Station").Order("effective_from desc").Find(&prices).Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	c.JSON(http.StatusOK, successResponse("fuel prices retrieved successfully", prices))
}
