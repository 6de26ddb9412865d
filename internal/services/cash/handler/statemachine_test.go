package handler

import (
	"testing"

	"petrolink-system/internal/database/models"
)

func TestCanAcceptPendingTransfer(t *testing.T) {
	transfer := models.CashTransfer{ToUserID: 7, Status: models.CashPendingAcceptance}

	if err := canAccept(transfer, 7); err != nil {
		t.Fatalf("designated recipient should accept a pending transfer: %v", err)
	}
}

func TestCanAcceptRejectsWrongRecipient(t *testing.T) {
	transfer := models.CashTransfer{ToUserID: 7, Status: models.CashPendingAcceptance}

	if err := canAccept(transfer, 8); err != ErrWrongRecipient {
		t.Fatalf("expected ErrWrongRecipient, got %v", err)
	}
}

func TestCanAcceptRejectsRepeatAcceptance(t *testing.T) {
	transfer := models.CashTransfer{ToUserID: 7, Status: models.CashWithAreaManager}

	if err := canAccept(transfer, 7); err != ErrAlreadyAccepted {
		t.Fatalf("expected ErrAlreadyAccepted, got %v", err)
	}
}

func TestCanAcceptRejectsDepositedTransfer(t *testing.T) {
	transfer := models.CashTransfer{ToUserID: 7, Status: models.CashDeposited}

	if err := canAccept(transfer, 7); err != ErrAlreadyDeposited {
		t.Fatalf("expected ErrAlreadyDeposited, got %v", err)
	}
}

func TestCanDepositRequiresAcceptanceFirst(t *testing.T) {
	transfer := models.CashTransfer{Status: models.CashPendingAcceptance}

	if err := canDeposit(transfer); err != ErrNotYetAccepted {
		t.Fatalf("expected ErrNotYetAccepted, got %v", err)
	}
}

func TestCanDepositAcceptedTransfer(t *testing.T) {
	transfer := models.CashTransfer{Status: models.CashWithAreaManager}

	if err := canDeposit(transfer); err != nil {
		t.Fatalf("accepted cash should be depositable: %v", err)
	}
}

func TestCanDepositRejectsRepeatDeposit(t *testing.T) {
	transfer := models.CashTransfer{Status: models.CashDeposited}

	if err := canDeposit(transfer); err != ErrAlreadyDeposited {
		t.Fatalf("expected ErrAlreadyDeposited, got %v", err)
	}
}
