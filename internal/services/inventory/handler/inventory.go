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

	"petrolink-system/config"
	"petrolink-system/internal/database/models"
	"petrolink-system/internal/gateway/middleware"
)

const (
	TANKS_CACHE_PREFIX   = "inventory:tanks:"
	NOZZLES_CACHE_PREFIX = "inventory:nozzles:"
	STATIONS_CACHE_KEY   = "inventory:stations"
	CACHE_TTL_SHORT      = 5 * time.Minute
	CACHE_TTL_MEDIUM     = 30 * time.Minute
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

type InventoryHandler struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewInventoryHandler(db *gorm.DB, redisClient *redis.Client) *InventoryHandler {
	return &InventoryHandler{
		db:    db,
		redis: redisClient,
	}
}

func (s *InventoryHandler) InvalidateInventoryCaches(ctx context.Context, stationIDs ...int64) {
	_ = s.redis.Del(ctx, STATIONS_CACHE_KEY)

	for _, id := range stationIDs {
		_ = s.redis.Del(ctx,
			fmt.Sprintf("%s%d", TANKS_CACHE_PREFIX, id),
			fmt.Sprintf("%s%d", NOZZLES_CACHE_PREFIX, id),
		)
	}
}

// --- Stations ---

type CreateStationRequest struct {
	Name          string  `json:"name" binding:"required"`
	Address       *string `json:"address,omitempty"`
	AreaManagerID *int64  `json:"area_manager_id,omitempty"`
}

func (s *InventoryHandler) CreateStation(c *gin.Context) {
	var req CreateStationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	if req.AreaManagerID != nil {
		var am models.User
		if err := s.db.First(&am, *req.AreaManagerID).Error; err != nil || am.Role != models.RoleAreaManager {
			c.JSON(http.StatusBadRequest, errorResponse("area manager must be an existing AM user"))
			return
		}
	}

	station := models.Station{
		Name:          req.Name,
		Address:       req.Address,
		AreaManagerID: req.AreaManagerID,
	}

	if err := s.db.Create(&station).Error; err != nil {
		config.LogError(config.GetLogger(), "inventory", "CreateStation", "create", req.Name, err)
		c.JSON(http.StatusInternalServerError, errorResponse("error creating station"))
		return
	}

	s.InvalidateInventoryCaches(c.Request.Context())

	c.JSON(http.StatusCreated, successResponse("station created successfully", station))
}

func (s *InventoryHandler) ListStations(c *gin.Context) {
	ident, _ := middleware.IdentityFrom(c)

	var stations []models.Station

	query := s.db.Model(&models.Station{})
	// Station managers only see their own station. The shared cache key
	// holds the full list, so it only serves the unscoped callers.
	scoped := ident.Role == models.RoleStationManager
	if scoped {
		if ident.StationID == nil {
			c.JSON(http.StatusOK, successResponse("stations retrieved successfully", []models.Station{}))
			return
		}
		query = query.Where("id = ?", *ident.StationID)
	}

	ctx := c.Request.Context()
	if !scoped {
		if cached, err := s.redis.Get(ctx, STATIONS_CACHE_KEY).Result(); err == nil {
			var cachedStations []models.Station
			if json.Unmarshal([]byte(cached), &cachedStations) == nil {
				c.JSON(http.StatusOK, successResponse("stations retrieved successfully", cachedStations))
				return
			}
		}
	}

	if err := query.Find(&stations).Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	if !scoped {
		if payload, err := json.Marshal(stations); err == nil {
			_ = s.redis.Set(ctx, STATIONS_CACHE_KEY, payload, CACHE_TTL_MEDIUM)
		}
	}

	c.JSON(http.StatusOK, successResponse("stations retrieved successfully", stations))
}

func (s *InventoryHandler) GetStation(c *gin.Context) {
	stationID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid station id"))
		return
	}

	var station models.Station
	if err := s.db.Preload("Tanks").Preload("Nozzles").First(&station, stationID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, errorResponse("station not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	c.JSON(http.StatusOK, successResponse("station retrieved successfully", station))
}

// --- Tanks ---

type CreateTankRequest struct {
	FuelType     string   `json:"fuel_type" binding:"required"`
	Capacity     *float64 `json:"capacity,omitempty"`
	CurrentLevel *float64 `json:"current_level,omitempty"`
}

func (s *InventoryHandler) CreateTank(c *gin.Context) {
	stationID, err := strconv.ParseInt(c.Param("stationId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid station id"))
		return
	}

	var req CreateTankRequest
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
	if err := s.db.First(&station, stationID).Error; err != nil {
		c.JSON(http.StatusNotFound, errorResponse("station not found"))
		return
	}

	tank := models.Tank{
		StationID: stationID,
		FuelType:  fuelType,
	}
	if req.Capacity != nil {
		cap := decimal.NewFromFloat(*req.Capacity)
		if cap.IsNegative() {
			c.JSON(http.StatusBadRequest, errorResponse("capacity cannot be negative"))
			return
		}
		tank.Capacity = &cap
	}
	if req.CurrentLevel != nil {
		level := decimal.NewFromFloat(*req.CurrentLevel)
		if level.IsNegative() {
			c.JSON(http.StatusBadRequest, errorResponse("current level cannot be negative"))
			return
		}
		if tank.Capacity != nil && level.GreaterThan(*tank.Capacity) {
			c.JSON(http.StatusBadRequest, errorResponse("current level cannot exceed capacity"))
			return
		}
		tank.CurrentLevel = level
	}

	if err := s.db.Create(&tank).Error; err != nil {
		config.LogError(config.GetLogger(), "inventory", "CreateTank", "create", stationID, err)
		c.JSON(http.StatusInternalServerError, errorResponse("error creating tank"))
		return
	}

	s.InvalidateInventoryCaches(c.Request.Context(), stationID)

	c.JSON(http.StatusCreated, successResponse("tank created successfully", tank))
}

func (s *InventoryHandler) ListTanks(c *gin.Context) {
	stationID, err := strconv.ParseInt(c.Param("stationId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid station id"))
		return
	}

	ctx := c.Request.Context()
	cacheKey := fmt.Sprintf("%s%d", TANKS_CACHE_PREFIX, stationID)

	if cached, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
		var tanks []models.Tank
		if json.Unmarshal([]byte(cached), &tanks) == nil {
			c.JSON(http.StatusOK, successResponse("tanks retrieved successfully", tanks))
			return
		}
	}

	var tanks []models.Tank
	if err := s.db.Preload("Nozzles").Where("station_id = ?", stationID).Find(&tanks).Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	if payload, err := json.Marshal(tanks); err == nil {
		_ = s.redis.Set(ctx, cacheKey, payload, CACHE_TTL_SHORT)
	}

	c.JSON(http.StatusOK, successResponse("tanks retrieved successfully", tanks))
}

// --- Nozzles ---

type CreateNozzleRequest struct {
	Name   string `json:"name" binding:"required"`
	TankID int64  `json:"tank_id" binding:"required"`
}

func (s *InventoryHandler) CreateNozzle(c *gin.Context) {
	stationID, err := strconv.ParseInt(c.Param("stationId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid station id"))
		return
	}

	var req CreateNozzleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	var tank models.Tank
	if err := s.db.First(&tank, req.TankID).Error; err != nil {
		c.JSON(http.StatusNotFound, errorResponse("tank not found"))
		return
	}
	if tank.StationID != stationID {
		c.JSON(http.StatusBadRequest, errorResponse("tank does not belong to this station"))
		return
	}

	var existing models.Nozzle
	if err := s.db.Where("name = ?", req.Name).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, errorResponse("nozzle name already exists"))
		return
	} else if err != gorm.ErrRecordNotFound {
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	// Nozzle fuel type always follows its tank.
	nozzle := models.Nozzle{
		Name:      req.Name,
		StationID: stationID,
		TankID:    tank.ID,
		FuelType:  tank.FuelType,
	}

	if err := s.db.Create(&nozzle).Error; err != nil {
		config.LogError(config.GetLogger(), "inventory", "CreateNozzle", "create", req.Name, err)
		c.JSON(http.StatusInternalServerError, errorResponse("error creating nozzle"))
		return
	}

	s.InvalidateInventoryCaches(c.Request.Context(), stationID)

	c.JSON(http.StatusCreated, successResponse("nozzle created successfully", nozzle))
}

func (s *InventoryHandler) ListNozzles(c *gin.Context) {
	stationID, err := strconv.ParseInt(c.Param("stationId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid station id"))
		return
	}

	ctx := c.Request.Context()
	cacheKey := fmt.Sprintf("%s%d", NOZZLES_CACHE_PREFIX, stationID)

	if cached, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
		var nozzles []models.Nozzle
		if json.Unmarshal([]byte(cached), &nozzles) == nil {
			c.JSON(http.StatusOK, successResponse("nozzles retrieved successfully", nozzles))
			return
		}
	}

	var nozzles []models.Nozzle
	if err := s.db.Preload("Tank").Where("station_id = ?", stationID).Order("name asc").Find(&nozzles).Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	if payload, err := json.Marshal(nozzles); err == nil {
		_ = s.redis.Set(ctx, cacheKey, payload, CACHE_TTL_SHORT)
	}

	c.JSON(http.StatusOK, successResponse("nozzles retrieved successfully", nozzles))
}
