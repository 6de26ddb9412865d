package handler

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"petrolink-system/internal/database/models"
)

// Custody moves strictly from PENDING_ACCEPTANCE to WITH_AM to DEPOSITED. The
// transaction and its transfer always change status together, so a reader of
// either row sees the same stage.

var (
	ErrAlreadyTransferred = errors.New("cash transfer already exists for this transaction")
	ErrAlreadyAccepted    = errors.New("cash has already been accepted")
	ErrAlreadyDeposited   = errors.New("cash has already been deposited")
	ErrNotYetAccepted     = errors.New("cash must be accepted by the area manager before deposit")
	ErrWrongRecipient     = errors.New("only the designated recipient can accept this transfer")
)

func canAccept(transfer models.CashTransfer, actorUserID int64) error {
	if transfer.ToUserID != actorUserID {
		return ErrWrongRecipient
	}
	switch transfer.Status {
	case models.CashWithAreaManager:
		return ErrAlreadyAccepted
	case models.CashDeposited:
		return ErrAlreadyDeposited
	}
	return nil
}

func canDeposit(transfer models.CashTransfer) error {
	switch transfer.Status {
	case models.CashPendingAcceptance:
		return ErrNotYetAccepted
	case models.CashDeposited:
		return ErrAlreadyDeposited
	}
	return nil
}

// advanceCustody moves the transfer and its transaction to the target status
// in the caller's transaction. Deposit details are stamped on the transfer
// when provided.
func advanceCustody(tx *gorm.DB, transfer *models.CashTransfer, target models.CashStatus, receiptURL *string, depositedAt *time.Time) error {
	transferUpdates := map[string]interface{}{"status": target}
	if receiptURL != nil {
		transferUpdates["receipt_url"] = *receiptURL
	}
	if depositedAt != nil {
		transferUpdates["deposited_at"] = *depositedAt
	}

	if err := tx.Model(&models.CashTransfer{}).Where("id = ?", transfer.ID).
		Updates(transferUpdates).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.CashTransaction{}).Where("id = ?", transfer.CashTransactionID).
		Update("status", target).Error; err != nil {
		return err
	}

	transfer.Status = target
	if receiptURL != nil {
		transfer.ReceiptURL = receiptURL
	}
	if depositedAt != nil {
		transfer.DepositedAt = depositedAt
	}
	return nil
}
