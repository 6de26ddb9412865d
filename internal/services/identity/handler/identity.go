package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"petrolink-system/config"
	"petrolink-system/internal/database/models"
	"petrolink-system/internal/gateway/middleware"
	"petrolink-system/internal/utils"
)

const (
	USER_LIST_CACHE_KEY = "identity:users"
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

type IdentityHandler struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewIdentityHandler(db *gorm.DB, redisClient *redis.Client) *IdentityHandler {
	return &IdentityHandler{
		db:    db,
		redis: redisClient,
	}
}

func (s *IdentityHandler) InvalidateUserCaches(ctx context.Context) {
	_ = s.redis.Del(ctx, USER_LIST_CACHE_KEY)
}

type LoginRequest struct {
	EmployeeID string `json:"employee_id" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

type RegisterRequest struct {
	EmployeeID    string `json:"employee_id" binding:"required"`
	Name          string `json:"name" binding:"required"`
	Password      string `json:"password" binding:"required,min=6"`
	Role          string `json:"role" binding:"required"`
	StationID     *int64 `json:"station_id,omitempty"`
	AreaManagerID *int64 `json:"area_manager_id,omitempty"`
}

func (s *IdentityHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	var user models.User
	if err := s.db.Where("employee_id = ? AND is_active = ?", req.EmployeeID, true).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusUnauthorized, errorResponse("invalid employee id or password"))
			return
		}
		config.LogError(config.GetLogger(), "identity", "Login", "load user", req.EmployeeID, err)
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse("invalid employee id or password"))
		return
	}

	token, exp, err := utils.GenerateToken(user.ID, user.EmployeeID, string(user.Role), user.StationID, 24*time.Hour)
	if err != nil {
		config.LogError(config.GetLogger(), "identity", "Login", "sign token", user.ID, err)
		c.JSON(http.StatusInternalServerError, errorResponse("error generating token"))
		return
	}

	c.JSON(http.StatusOK, successResponse("login successful", gin.H{
		"token":      token,
		"expires_at": exp,
		"user":       user,
	}))
}

func (s *IdentityHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	role := models.UserRole(req.Role)
	if !role.Valid() {
		c.JSON(http.StatusBadRequest, errorResponse("role must be Admin, SM or AM"))
		return
	}

	var existing models.User
	if err := s.db.Where("employee_id = ?", req.EmployeeID).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, errorResponse("employee id already exists"))
		return
	} else if err != gorm.ErrRecordNotFound {
		c.JSON(http.StatusInternalServerError, errorResponse("database error while checking existing user"))
		return
	}

	if req.StationID != nil {
		var station models.Station
		if err := s.db.First(&station, *req.StationID).Error; err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid station specified"))
			return
		}
	}

	if req.AreaManagerID != nil {
		var am models.User
		if err := s.db.First(&am, *req.AreaManagerID).Error; err != nil || am.Role != models.RoleAreaManager {
			c.JSON(http.StatusBadRequest, errorResponse("area manager must be an existing AM user"))
			return
		}
	}

	pwHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("error hashing password"))
		return
	}

	newUser := models.User{
		EmployeeID:    req.EmployeeID,
		Name:          req.Name,
		Password:      string(pwHash),
		Role:          role,
		StationID:     req.StationID,
		AreaManagerID: req.AreaManagerID,
		IsActive:      true,
	}

	if err := s.db.Create(&newUser).Error; err != nil {
		config.LogError(config.GetLogger(), "identity", "Register", "create user", req.EmployeeID, err)
		c.JSON(http.StatusInternalServerError, errorResponse("error creating user"))
		return
	}

	s.InvalidateUserCaches(c.Request.Context())

	c.JSON(http.StatusCreated, successResponse("user registered successfully", newUser))
}

func (s *IdentityHandler) GetUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid user id"))
		return
	}

	var user models.User
	if err := s.db.Preload("Station").Preload("AreaManager").First(&user, userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, errorResponse("user not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	c.JSON(http.StatusOK, successResponse("user retrieved successfully", user))
}

func (s *IdentityHandler) ListUsers(c *gin.Context) {
	ctx := c.Request.Context()

	if cached, err := s.redis.Get(ctx, USER_LIST_CACHE_KEY).Result(); err == nil {
		var users []models.User
		if json.Unmarshal([]byte(cached), &users) == nil {
			c.JSON(http.StatusOK, successResponse("users retrieved successfully", users))
			return
		}
	}

	var users []models.User
	if err := s.db.Preload("Station").Order("created_at desc").Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	if payload, err := json.Marshal(users); err == nil {
		_ = s.redis.Set(ctx, USER_LIST_CACHE_KEY, payload, CACHE_TTL_MEDIUM)
	}

	c.JSON(http.StatusOK, successResponse("users retrieved successfully", users))
}

// Me returns the caller's own user row; the front end uses it to bootstrap
// role-dependent navigation after login.
func (s *IdentityHandler) Me(c *gin.Context) {
	ident, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("authentication required"))
		return
	}

	var user models.User
	if err := s.db.Preload("Station").Preload("AreaManager").First(&user, ident.UserID).Error; err != nil {
		c.JSON(http.StatusNotFound, errorResponse("user not found"))
		return
	}

	c.JSON(http.StatusOK, successResponse("user retrieved successfully", user))
}
