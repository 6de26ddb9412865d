package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"petrolink-system/config"
	"petrolink-system/internal/database"
	"petrolink-system/internal/database/models"
	"petrolink-system/internal/gateway/middleware"
	fuelhandler "petrolink-system/internal/services/fuel/handler"
	"petrolink-system/internal/services/shift/handler"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setupIntegrationEnv(t *testing.T) (*gorm.DB, *redis.Client) {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	pgName, pgPort := startPostgresContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(pgName) })

	dsn := fmt.Sprintf(
		"host=127.0.0.1 port=%s user=postgres password=testpw dbname=petrolink_test sslmode=disable",
		pgPort,
	)

	// The postgres entrypoint restarts once after initdb, so the first
	// connection attempts can fail even after pg_isready succeeds.
	var db *gorm.DB
	var err error
	deadline := time.Now().Add(60 * time.Second)
	for {
		db, err = database.NewConnection(dsn)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("connect to postgres: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	rdb := config.NewRedisClient(config.RedisConfig{Host: "127.0.0.1", Port: redisPort})
	return db, rdb
}

func newTestRouter(db *gorm.DB, rdb *redis.Client, ident middleware.Identity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.WithIdentity(ident))

	shiftHandler := handler.NewShiftHandler(db, rdb)
	fuelHandler := fuelhandler.NewFuelHandler(db, rdb)

	r.POST("/api/v1/inventory/shifts/stations/:stationId/create", shiftHandler.CreateShift)
	r.GET("/api/v1/inventory/shifts/stations/:stationId/current", shiftHandler.GetCurrentShift)
	r.POST("/api/v1/inventory/shifts/:shiftId/readings", shiftHandler.SubmitReadings)
	r.POST("/api/v1/fuel/sales/shifts/:shiftId/submit", fuelHandler.SubmitSales)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeShift(t *testing.T, w *httptest.ResponseRecorder) models.Shift {
	t.Helper()
	var envelope apiEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	var shift models.Shift
	if err := json.Unmarshal(envelope.Data, &shift); err != nil {
		t.Fatalf("decode shift: %v", err)
	}
	return shift
}

func TestCreateShiftRejectsSecondOpenShift(t *testing.T) {
	db, rdb := setupIntegrationEnv(t)

	station := models.Station{Name: "North Station"}
	if err := db.Create(&station).Error; err != nil {
		t.Fatalf("create station: %v", err)
	}

	r := newTestRouter(db, rdb, middleware.Identity{UserID: 1, Role: models.RoleAdmin})
	path := fmt.Sprintf("/api/v1/inventory/shifts/stations/%d/create", station.ID)

	if w := doJSON(t, r, http.MethodPost, path, gin.H{"shift_type": "DAY"}); w.Code != http.StatusCreated {
		t.Fatalf("first shift: status %d, body %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, r, http.MethodPost, path, gin.H{"shift_type": "NIGHT"}); w.Code != http.StatusConflict {
		t.Fatalf("second shift: status %d, want 409, body %s", w.Code, w.Body.String())
	}

	var count int64
	if err := db.Model(&models.Shift{}).Where("station_id = ?", station.ID).Count(&count).Error; err != nil {
		t.Fatalf("count shifts: %v", err)
	}
	if count != 1 {
		t.Fatalf("shift count = %d, want 1 (rejected creation must not leave a row)", count)
	}
}

func TestSubmitReadingsUpsertsAndRollsBackAtomically(t *testing.T) {
	db, rdb := setupIntegrationEnv(t)

	station := models.Station{Name: "East Station"}
	if err := db.Create(&station).Error; err != nil {
		t.Fatalf("create station: %v", err)
	}
	tank := models.Tank{StationID: station.ID, FuelType: models.FuelOctane91, CurrentLevel: decimal.NewFromInt(100)}
	if err := db.Create(&tank).Error; err != nil {
		t.Fatalf("create tank: %v", err)
	}
	nozzle := models.Nozzle{Name: "E-91-1", StationID: station.ID, TankID: tank.ID, FuelType: models.FuelOctane91}
	if err := db.Create(&nozzle).Error; err != nil {
		t.Fatalf("create nozzle: %v", err)
	}

	r := newTestRouter(db, rdb, middleware.Identity{UserID: 1, Role: models.RoleAdmin})

	w := doJSON(t, r, http.MethodPost,
		fmt.Sprintf("/api/v1/inventory/shifts/stations/%d/create", station.ID), gin.H{"shift_type": "DAY"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create shift: status %d, body %s", w.Code, w.Body.String())
	}
	shift := decodeShift(t, w)
	readingsPath := fmt.Sprintf("/api/v1/inventory/shifts/%d/readings", shift.ID)

	submit := func(closing float64) *httptest.ResponseRecorder {
		return doJSON(t, r, http.MethodPost, readingsPath, gin.H{
			"readings": []gin.H{{"nozzle_id": nozzle.ID, "closing_reading": closing}},
		})
	}
	tankLevel := func() decimal.Decimal {
		var fresh models.Tank
		if err := db.First(&fresh, tank.ID).Error; err != nil {
			t.Fatalf("reload tank: %v", err)
		}
		return fresh.CurrentLevel
	}

	if w := submit(60); w.Code != http.StatusCreated {
		t.Fatalf("first submission: status %d, body %s", w.Code, w.Body.String())
	}
	if level := tankLevel(); !level.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("tank level after first submission = %s, want 40", level)
	}

	// Resubmission corrects the closing value and draws down only the
	// difference; the reading row is updated in place.
	if w := submit(80); w.Code != http.StatusCreated {
		t.Fatalf("resubmission: status %d, body %s", w.Code, w.Body.String())
	}
	if level := tankLevel(); !level.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("tank level after resubmission = %s, want 20", level)
	}
	var readings []models.NozzleReading
	if err := db.Where("shift_id = ?", shift.ID).Find(&readings).Error; err != nil {
		t.Fatalf("load readings: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("reading rows = %d, want 1 (resubmission must upsert)", len(readings))
	}

	// A submission the tank cannot cover fails whole: the reading keeps its
	// previous closing value and the tank level is untouched.
	if w := submit(200); w.Code != http.StatusConflict {
		t.Fatalf("oversized submission: status %d, want 409, body %s", w.Code, w.Body.String())
	}
	if level := tankLevel(); !level.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("tank level after rejected submission = %s, want 20", level)
	}
	var kept models.NozzleReading
	if err := db.Where("shift_id = ? AND nozzle_id = ?", shift.ID, nozzle.ID).First(&kept).Error; err != nil {
		t.Fatalf("reload reading: %v", err)
	}
	if kept.ClosingReading == nil || !kept.ClosingReading.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("closing reading after rejected submission = %v, want 80", kept.ClosingReading)
	}
}

func TestSubmitSalesClearsCurrentShiftCache(t *testing.T) {
	db, rdb := setupIntegrationEnv(t)
	ctx := context.Background()

	station := models.Station{Name: "West Station"}
	if err := db.Create(&station).Error; err != nil {
		t.Fatalf("create station: %v", err)
	}
	tank := models.Tank{StationID: station.ID, FuelType: models.FuelOctane95, CurrentLevel: decimal.NewFromInt(500)}
	if err := db.Create(&tank).Error; err != nil {
		t.Fatalf("create tank: %v", err)
	}
	nozzle := models.Nozzle{Name: "W-95-1", StationID: station.ID, TankID: tank.ID, FuelType: models.FuelOctane95}
	if err := db.Create(&nozzle).Error; err != nil {
		t.Fatalf("create nozzle: %v", err)
	}

	am := models.User{EmployeeID: "AM-100", Name: "Area Manager", Password: "x", Role: models.RoleAreaManager, IsActive: true}
	if err := db.Create(&am).Error; err != nil {
		t.Fatalf("create area manager: %v", err)
	}
	sm := models.User{
		EmployeeID: "SM-100", Name: "Station Manager", Password: "x",
		Role: models.RoleStationManager, StationID: &station.ID, AreaManagerID: &am.ID, IsActive: true,
	}
	if err := db.Create(&sm).Error; err != nil {
		t.Fatalf("create station manager: %v", err)
	}

	r := newTestRouter(db, rdb, middleware.Identity{
		UserID: sm.ID, EmployeeID: sm.EmployeeID, Role: models.RoleStationManager, StationID: &station.ID,
	})

	w := doJSON(t, r, http.MethodPost,
		fmt.Sprintf("/api/v1/inventory/shifts/stations/%d/create", station.ID), gin.H{"shift_type": "DAY"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create shift: status %d, body %s", w.Code, w.Body.String())
	}
	shift := decodeShift(t, w)

	currentPath := fmt.Sprintf("/api/v1/inventory/shifts/stations/%d/current", station.ID)
	if w := doJSON(t, r, http.MethodGet, currentPath, nil); w.Code != http.StatusOK {
		t.Fatalf("get current shift: status %d", w.Code)
	}
	cacheKey := fmt.Sprintf("%s%d", handler.CURRENT_SHIFT_CACHE_PREFIX, station.ID)
	if exists, err := rdb.Exists(ctx, cacheKey).Result(); err != nil || exists != 1 {
		t.Fatalf("current-shift cache not populated (exists=%d, err=%v)", exists, err)
	}

	if err := db.Model(&models.NozzleSale{}).Where("shift_id = ?", shift.ID).
		Update("quantity_liters", decimal.NewFromInt(50)).Error; err != nil {
		t.Fatalf("set sale quantity: %v", err)
	}

	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/v1/fuel/sales/shifts/%d/submit", shift.ID), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("submit sales: status %d, body %s", w.Code, w.Body.String())
	}

	// The submission closed and locked the shift; a stale cached OPEN shift
	// must not survive it.
	if exists, err := rdb.Exists(ctx, cacheKey).Result(); err != nil || exists != 0 {
		t.Fatalf("current-shift cache still present after submission (exists=%d, err=%v)", exists, err)
	}

	var closed models.Shift
	if err := db.First(&closed, shift.ID).Error; err != nil {
		t.Fatalf("reload shift: %v", err)
	}
	if closed.Status != models.ShiftClosed || !closed.Locked {
		t.Fatalf("shift after submission = %s/locked=%v, want CLOSED/locked", closed.Status, closed.Locked)
	}

	var transaction models.CashTransaction
	if err := db.Preload("Transfer").Where("shift_id = ?", shift.ID).First(&transaction).Error; err != nil {
		t.Fatalf("load cash transaction: %v", err)
	}
	if transaction.Status != models.CashPendingAcceptance {
		t.Fatalf("cash transaction status = %s, want PENDING_ACCEPTANCE", transaction.Status)
	}
	if transaction.Transfer == nil || transaction.Transfer.ToUserID != am.ID {
		t.Fatalf("cash transfer missing or not addressed to the area manager: %+v", transaction.Transfer)
	}

	if level := tankLevelOf(t, db, tank.ID); !level.Equal(decimal.NewFromInt(450)) {
		t.Fatalf("tank level after sales submission = %s, want 450", level)
	}
}

func tankLevelOf(t *testing.T, db *gorm.DB, tankID int64) decimal.Decimal {
	t.Helper()
	var tank models.Tank
	if err := db.First(&tank, tankID).Error; err != nil {
		t.Fatalf("reload tank: %v", err)
	}
	return tank.CurrentLevel
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("petrolink-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startPostgresContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("petrolink-test-postgres-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "POSTGRES_PASSWORD=testpw",
		"-e", "POSTGRES_DB=petrolink_test",
		"-p", "127.0.0.1:0:5432",
		"postgres:16-alpine",
	)
	if err != nil {
		t.Fatalf("start postgres container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "5432/tcp")
	if err != nil {
		t.Fatalf("postgres docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "pg_isready", "-U", "postgres")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("postgres did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
