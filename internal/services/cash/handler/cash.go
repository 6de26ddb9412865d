package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
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
	"petrolink-system/internal/storage"
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

type CashHandler struct {
	db       *gorm.DB
	redis    *redis.Client
	receipts storage.ReceiptStore
}

func NewCashHandler(db *gorm.DB, redisClient *redis.Client, receipts storage.ReceiptStore) *CashHandler {
	return &CashHandler{
		db:       db,
		redis:    redisClient,
		receipts: receipts,
	}
}

type CreateTransactionRequest struct {
	LitersSold   float64 `json:"liters_sold" binding:"required,gt=0"`
	RatePerLiter float64 `json:"rate_per_liter" binding:"required,gt=0"`
	CardPayments float64 `json:"card_payments" binding:"gte=0"`
	BankDeposit  float64 `json:"bank_deposit" binding:"gte=0"`
}

// CreateTransaction opens a cash record for a shift by hand, for stations
// that settle a shift without going through the sales submission flow.
func (s *CashHandler) CreateTransaction(c *gin.Context) {
	shiftID, err := strconv.ParseInt(c.Param("shiftId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid shift id"))
		return
	}

	var req CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	ident, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("authentication required"))
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

	if ident.Role == models.RoleStationManager && (ident.StationID == nil || *ident.StationID != shift.StationID) {
		c.JSON(http.StatusForbidden, errorResponse("you can only record cash for your assigned station"))
		return
	}

	liters := decimal.NewFromFloat(req.LitersSold)
	rate := decimal.NewFromFloat(req.RatePerLiter)
	card := decimal.NewFromFloat(req.CardPayments)
	bankDeposit := decimal.NewFromFloat(req.BankDeposit)

	totalRevenue := liters.Mul(rate)
	cashOnHand := totalRevenue.Sub(card)
	cashToAM := cashOnHand.Sub(bankDeposit)
	if cashToAM.IsNegative() {
		c.JSON(http.StatusBadRequest, errorResponse("bank deposit exceeds cash on hand"))
		return
	}

	transaction := models.CashTransaction{
		ShiftID:      shift.ID,
		StationID:    shift.StationID,
		LitersSold:   liters,
		RatePerLiter: rate,
		TotalRevenue: totalRevenue,
		CardPayments: card,
		CashOnHand:   cashOnHand,
		BankDeposit:  bankDeposit,
		CashToAM:     cashToAM,
		Status:       models.CashPendingAcceptance,
	}

	var existing models.CashTransaction
	if err := s.db.Where("shift_id = ?", shift.ID).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, errorResponse("cash transaction already exists for this shift"))
		return
	} else if err != gorm.ErrRecordNotFound {
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	if err := s.db.Create(&transaction).Error; err != nil {
		config.LogError(config.GetLogger(), "cash", "CreateTransaction", "create", shift.ID, err)
		c.JSON(http.StatusInternalServerError, errorResponse("failed to create cash transaction"))
		return
	}

	s.publishCashEvent(c.Request.Context(), CashEvent{
		EventType:     EventCashTransactionCreated,
		TransactionID: transaction.ID,
		StationID:     transaction.StationID,
		ActorID:       ident.UserID,
		Status:        transaction.Status,
		Timestamp:     time.Now(),
	})

	c.JSON(http.StatusCreated, successResponse("cash transaction created successfully", transaction))
}

// ListTransactions is role-scoped: SMs see their station, AMs see cash still
// in flight, admins see everything.
func (s *CashHandler) ListTransactions(c *gin.Context) {
	ident, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("authentication required"))
		return
	}

	query := s.db.Preload("Station").Preload("Transfer").Order("created_at desc")
	switch ident.Role {
	case models.RoleStationManager:
		if ident.StationID == nil {
			c.JSON(http.StatusForbidden, errorResponse("no station assigned"))
			return
		}
		query = query.Where("station_id = ?", *ident.StationID)
	case models.RoleAreaManager:
		query = query.Where("status IN ?", []models.CashStatus{
			models.CashPendingAcceptance, models.CashWithAreaManager,
		})
	}

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var transactions []models.CashTransaction
	if err := query.Find(&transactions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	c.JSON(http.StatusOK, successResponse("cash transactions retrieved successfully", transactions))
}

// InitiateTransfer hands a transaction's cash to the SM's assigned area
// manager, opening the custody chain.
func (s *CashHandler) InitiateTransfer(c *gin.Context) {
	transactionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid transaction id"))
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

	var transaction models.CashTransaction
	if err := tx.Clauses(lockForUpdate()).First(&transaction, transactionID).Error; err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, errorResponse("cash transaction not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	if ident.Role == models.RoleStationManager && (ident.StationID == nil || *ident.StationID != transaction.StationID) {
		tx.Rollback()
		c.JSON(http.StatusForbidden, errorResponse("you can only transfer cash for your assigned station"))
		return
	}

	var existing models.CashTransfer
	if err := tx.Where("cash_transaction_id = ?", transaction.ID).First(&existing).Error; err == nil {
		tx.Rollback()
		c.JSON(http.StatusConflict, errorResponse(ErrAlreadyTransferred.Error()))
		return
	} else if err != gorm.ErrRecordNotFound {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	if transaction.Status != models.CashPendingAcceptance {
		tx.Rollback()
		c.JSON(http.StatusConflict, errorResponse("cash transaction is not pending acceptance"))
		return
	}

	var sender models.User
	if err := tx.First(&sender, ident.UserID).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}
	if sender.AreaManagerID == nil {
		tx.Rollback()
		c.JSON(http.StatusBadRequest, errorResponse("no area manager assigned to you"))
		return
	}

	transfer := models.CashTransfer{
		CashTransactionID: transaction.ID,
		FromUserID:        sender.ID,
		ToUserID:          *sender.AreaManagerID,
		Status:            models.CashPendingAcceptance,
	}
	if err := tx.Create(&transfer).Error; err != nil {
		tx.Rollback()
		config.LogError(config.GetLogger(), "cash", "InitiateTransfer", "create transfer", transaction.ID, err)
		c.JSON(http.StatusInternalServerError, errorResponse("failed to create cash transfer"))
		return
	}

	if err := tx.Commit().Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("failed to commit transaction"))
		return
	}

	s.publishCashEvent(c.Request.Context(), CashEvent{
		EventType:     EventCashTransferInitiated,
		TransactionID: transaction.ID,
		StationID:     transaction.StationID,
		ActorID:       ident.UserID,
		Status:        transfer.Status,
		Timestamp:     time.Now(),
	})

	c.JSON(http.StatusCreated, successResponse("cash transfer initiated successfully", transfer))
}

// AcceptTransfer confirms physical receipt of the cash by the designated
// area manager, moving transaction and transfer to WITH_AM together.
func (s *CashHandler) AcceptTransfer(c *gin.Context) {
	transactionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid transaction id"))
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

	transfer, ok := s.lockTransfer(c, tx, transactionID)
	if !ok {
		return
	}

	if err := canAccept(transfer, ident.UserID); err != nil {
		tx.Rollback()
		if err == ErrWrongRecipient {
			c.JSON(http.StatusForbidden, errorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
		return
	}

	if err := advanceCustody(tx, &transfer, models.CashWithAreaManager, nil, nil); err != nil {
		tx.Rollback()
		config.LogError(config.GetLogger(), "cash", "AcceptTransfer", "advance", transfer.ID, err)
		c.JSON(http.StatusInternalServerError, errorResponse("failed to accept transfer"))
		return
	}

	if err := tx.Commit().Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("failed to commit transaction"))
		return
	}

	s.publishCashEvent(c.Request.Context(), CashEvent{
		EventType:     EventCashAccepted,
		TransactionID: transfer.CashTransactionID,
		ActorID:       ident.UserID,
		Status:        transfer.Status,
		Timestamp:     time.Now(),
	})

	c.JSON(http.StatusOK, successResponse("cash transfer accepted successfully", transfer))
}

// Deposit closes the custody chain: the area manager banks the cash and
// uploads the deposit receipt, which lands in object storage.
func (s *CashHandler) Deposit(c *gin.Context) {
	transactionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid transaction id"))
		return
	}

	ident, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("authentication required"))
		return
	}

	fileHeader, err := c.FormFile("receipt")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("receipt file is required"))
		return
	}

	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	transfer, ok := s.lockTransfer(c, tx, transactionID)
	if !ok {
		return
	}

	if err := canDeposit(transfer); err != nil {
		tx.Rollback()
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
		return
	}

	if transfer.ToUserID != ident.UserID && ident.Role != models.RoleAdmin {
		tx.Rollback()
		c.JSON(http.StatusForbidden, errorResponse("only the holding area manager can deposit this cash"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		tx.Rollback()
		c.JSON(http.StatusBadRequest, errorResponse("could not read receipt file"))
		return
	}
	defer file.Close()

	// The upload happens before the commit. A commit failure can leave an
	// orphaned object in the bucket; the status never moves without a
	// stored receipt, which is the invariant that matters here.
	contentType := fileHeader.Header.Get("Content-Type")
	receiptURL, err := s.receipts.Upload(c.Request.Context(), filepath.Base(fileHeader.Filename), contentType, file)
	if err != nil {
		tx.Rollback()
		config.LogError(config.GetLogger(), "cash", "Deposit", "upload receipt", transfer.ID, err)
		c.JSON(http.StatusInternalServerError, errorResponse("failed to upload receipt"))
		return
	}

	now := time.Now()
	if err := advanceCustody(tx, &transfer, models.CashDeposited, &receiptURL, &now); err != nil {
		tx.Rollback()
		config.LogError(config.GetLogger(), "cash", "Deposit", "advance", transfer.ID, err)
		c.JSON(http.StatusInternalServerError, errorResponse("failed to record deposit"))
		return
	}

	if err := tx.Commit().Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("failed to commit transaction"))
		return
	}

	s.publishCashEvent(c.Request.Context(), CashEvent{
		EventType:     EventCashDeposited,
		TransactionID: transfer.CashTransactionID,
		ActorID:       ident.UserID,
		Status:        transfer.Status,
		Timestamp:     now,
	})

	c.JSON(http.StatusOK, successResponse("cash deposited successfully", transfer))
}

// lockTransfer fetches the transfer for a transaction with a row lock,
// writing the error response and rolling back on failure.
func (s *CashHandler) lockTransfer(c *gin.Context, tx *gorm.DB, transactionID int64) (models.CashTransfer, bool) {
	var transfer models.CashTransfer
	err := tx.Clauses(lockForUpdate()).
		Where("cash_transaction_id = ?", transactionID).First(&transfer).Error
	if err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, errorResponse("cash transfer not found"))
			return transfer, false
		}
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return transfer, false
	}
	return transfer, true
}

type FloatingCashBreakdown struct {
	PendingAcceptance decimal.Decimal `json:"pending_acceptance"`
	WithAreaManager   decimal.Decimal `json:"with_area_manager"`
}

type FloatingCashReport struct {
	Total     decimal.Decimal       `json:"total"`
	Breakdown FloatingCashBreakdown `json:"breakdown"`
	Count     int                   `json:"count"`
}

// GetFloatingCash totals undeposited cash across all stations for admins:
// everything handed over or awaiting hand-off, grouped by custody stage.
func (s *CashHandler) GetFloatingCash(c *gin.Context) {
	var transactions []models.CashTransaction
	if err := s.db.Where("status <> ?", models.CashDeposited).Find(&transactions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	report := FloatingCashReport{
		Total: decimal.Zero,
		Breakdown: FloatingCashBreakdown{
			PendingAcceptance: decimal.Zero,
			WithAreaManager:   decimal.Zero,
		},
		Count: len(transactions),
	}
	for _, transaction := range transactions {
		report.Total = report.Total.Add(transaction.CashToAM)
		switch transaction.Status {
		case models.CashPendingAcceptance:
			report.Breakdown.PendingAcceptance = report.Breakdown.PendingAcceptance.Add(transaction.CashToAM)
		case models.CashWithAreaManager:
			report.Breakdown.WithAreaManager = report.Breakdown.WithAreaManager.Add(transaction.CashToAM)
		}
	}

	c.JSON(http.StatusOK, successResponse("floating cash retrieved successfully", report))
}

const (
	EventCashTransactionCreated = "cash_transaction_created"
	EventCashTransferInitiated  = "cash_transfer_initiated"
	EventCashAccepted           = "cash_accepted"
	EventCashDeposited          = "cash_deposited"
)

type CashEvent struct {
	EventType     string            `json:"event_type"`
	TransactionID int64             `json:"transaction_id"`
	StationID     int64             `json:"station_id,omitempty"`
	ActorID       int64             `json:"actor_id"`
	Status        models.CashStatus `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
}

func (s *CashHandler) publishCashEvent(ctx context.Context, event CashEvent) error {
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
