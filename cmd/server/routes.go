package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"petrolink-system/config"
	"petrolink-system/internal/database"
	"petrolink-system/internal/database/models"
	"petrolink-system/internal/gateway/middleware"
	cashhandler "petrolink-system/internal/services/cash/handler"
	fuelhandler "petrolink-system/internal/services/fuel/handler"
	identityhandler "petrolink-system/internal/services/identity/handler"
	inventoryhandler "petrolink-system/internal/services/inventory/handler"
	shifthandler "petrolink-system/internal/services/shift/handler"
	"petrolink-system/internal/storage"
	"petrolink-system/internal/utils"
)

func main() {
	cfg := config.LoadConfig()
	logger := config.GetLogger()

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}
	utils.SetJWTSecret(cfg.Auth.JWTSecret)

	db, err := database.NewConnection(cfg.DB.DSN())
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatalf("failed to run migrations: %v", err)
	}

	redisClient := config.NewRedisClient(cfg.Redis)

	var receipts storage.ReceiptStore
	if cfg.Storage.ReceiptsBucket != "" {
		receipts, err = storage.NewGCSReceiptStore(cfg.Storage.ReceiptsBucket)
		if err != nil {
			logger.Fatalf("failed to initialize receipt storage: %v", err)
		}
	} else {
		logger.Warn("RECEIPTS_BUCKET not set, cash deposits will be rejected")
		receipts = storage.UnconfiguredReceiptStore{}
	}

	identityHandler := identityhandler.NewIdentityHandler(db, redisClient)
	inventoryHandler := inventoryhandler.NewInventoryHandler(db, redisClient)
	shiftHandler := shifthandler.NewShiftHandler(db, redisClient)
	fuelHandler := fuelhandler.NewFuelHandler(db, redisClient)
	cashHandler := cashhandler.NewCashHandler(db, redisClient, receipts)

	r := gin.Default()

	r.Use(middleware.CORS())
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit())

	r.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		checks := gin.H{"database": "up", "redis": "up"}

		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			checks["database"] = "down"
			status = http.StatusServiceUnavailable
		}
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			checks["redis"] = "down"
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, gin.H{"status": http.StatusText(status), "checks": checks})
	})

	// --- Public API Group ---
	public := r.Group("/api/v1")
	{
		auth := public.Group("/auth")
		{
			auth.POST("/login", identityHandler.Login)
		}
	}

	// --- Protected API Group ---
	protected := r.Group("/api/v1")
	if cfg.Auth.DevEmployeeID != "" {
		logger.Warnf("development identity enabled for employee %s", cfg.Auth.DevEmployeeID)
		protected.Use(middleware.DevIdentity(db, cfg.Auth.DevEmployeeID))
	} else {
		protected.Use(middleware.JWTAuth())
	}
	{
		auth := protected.Group("/auth")
		{
			auth.GET("/me", identityHandler.Me)
			auth.POST("/register", middleware.RequireRole(models.RoleAdmin), identityHandler.Register)
		}

		users := protected.Group("/users")
		{
			users.GET("", middleware.RequireRole(models.RoleAdmin), identityHandler.ListUsers)
			users.GET("/:id", identityHandler.GetUser)
		}

		stations := protected.Group("/stations")
		{
			stations.GET("", inventoryHandler.ListStations)
			stations.GET("/:id", inventoryHandler.GetStation)
			stations.POST("", middleware.RequireRole(models.RoleAdmin), inventoryHandler.CreateStation)
		}

		inventory := protected.Group("/inventory")
		{
			inventory.GET("/stations/:stationId/tanks", inventoryHandler.ListTanks)
			inventory.POST("/stations/:stationId/tanks", middleware.RequireRole(models.RoleAdmin), inventoryHandler.CreateTank)
			inventory.GET("/stations/:stationId/nozzles", inventoryHandler.ListNozzles)
			inventory.POST("/stations/:stationId/nozzles", middleware.RequireRole(models.RoleAdmin), inventoryHandler.CreateNozzle)

			inventory.POST("/tanks/:tankId/deliveries", middleware.RequireRole(models.RoleAdmin, models.RoleStationManager), inventoryHandler.RecordDelivery)
			inventory.POST("/stations/:stationId/deliveries", middleware.RequireRole(models.RoleAdmin, models.RoleStationManager), inventoryHandler.RecordStationDelivery)
			inventory.GET("/deliveries", inventoryHandler.ListDeliveries)

			shifts := inventory.Group("/shifts")
			{
				shifts.POST("/stations/:stationId/create", middleware.RequireRole(models.RoleStationManager, models.RoleAdmin), shiftHandler.CreateShift)
				shifts.GET("/stations/:stationId/current", shiftHandler.GetCurrentShift)
				shifts.GET("/stations/:stationId/all", shiftHandler.ListShifts)
				shifts.GET("/:shiftId/details", shiftHandler.GetShiftDetails)
				shifts.POST("/:shiftId/lock", middleware.RequireRole(models.RoleStationManager, models.RoleAdmin), shiftHandler.LockShift)
				shifts.POST("/:shiftId/unlock", middleware.RequireRole(models.RoleAdmin), shiftHandler.UnlockShift)
				shifts.DELETE("/:shiftId", middleware.RequireRole(models.RoleAdmin), shiftHandler.DeleteShift)

				shifts.GET("/:shiftId/readings", shiftHandler.ListReadings)
				shifts.POST("/:shiftId/readings", middleware.RequireRole(models.RoleStationManager, models.RoleAdmin), shiftHandler.SubmitReadings)
				shifts.PUT("/:shiftId/readings/:readingId", middleware.RequireRole(models.RoleStationManager, models.RoleAdmin), shiftHandler.UpdateReading)
			}
		}

		fuel := protected.Group("/fuel")
		{
			fuel.POST("/prices", middleware.RequireRole(models.RoleAdmin), fuelHandler.SetFuelPrice)
			fuel.GET("/prices", middleware.RequireRole(models.RoleAdmin), fuelHandler.ListAllPrices)
			fuel.GET("/prices/stations/:stationId", fuelHandler.ListStationPrices)

			fuel.GET("/sales/shifts/:shiftId", fuelHandler.ListShiftSales)
			fuel.PUT("/sales/:saleId", middleware.RequireRole(models.RoleStationManager, models.RoleAdmin), fuelHandler.UpdateSale)
			fuel.PUT("/sales/shifts/:shiftId/payments", middleware.RequireRole(models.RoleStationManager, models.RoleAdmin), fuelHandler.UpdateShiftPayments)
			fuel.POST("/sales/shifts/:shiftId/submit", middleware.RequireRole(models.RoleStationManager, models.RoleAdmin), fuelHandler.SubmitSales)
		}

		cash := protected.Group("/cash")
		{
			cash.POST("/shifts/:shiftId/transactions", middleware.RequireRole(models.RoleStationManager, models.RoleAdmin), cashHandler.CreateTransaction)
			cash.GET("/transactions", cashHandler.ListTransactions)
			cash.POST("/transactions/:id/transfer", middleware.RequireRole(models.RoleStationManager, models.RoleAdmin), cashHandler.InitiateTransfer)
			cash.POST("/transactions/:id/accept", middleware.RequireRole(models.RoleAreaManager, models.RoleAdmin), cashHandler.AcceptTransfer)
			cash.POST("/transactions/:id/deposit", middleware.RequireRole(models.RoleAreaManager, models.RoleAdmin), cashHandler.Deposit)
			cash.GET("/floating-cash", middleware.RequireRole(models.RoleAdmin), cashHandler.GetFloatingCash)
		}
	}

	logger.Infof("starting server on port %s", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
}
