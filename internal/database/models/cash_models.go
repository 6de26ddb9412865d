package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CashStatus string

const (
	CashPendingAcceptance CashStatus = "PENDING_ACCEPTANCE"
	CashWithAreaManager   CashStatus = "WITH_AM"
	CashDeposited         CashStatus = "DEPOSITED"
)

type CashTransaction struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ShiftID      int64           `gorm:"uniqueIndex;not null" json:"shift_id"`
	StationID    int64           `gorm:"index;not null" json:"station_id"`
	LitersSold   decimal.Decimal `gorm:"type:decimal(12,3);not null" json:"liters_sold"`
	RatePerLiter decimal.Decimal `gorm:"type:decimal(12,3);not null" json:"rate_per_liter"`
	TotalRevenue decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_revenue"`
	CardPayments decimal.Decimal `gorm:"type:decimal(12,2);default:0" json:"card_payments"`
	CashOnHand   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"cash_on_hand"`
	BankDeposit  decimal.Decimal `gorm:"type:decimal(12,2);default:0" json:"bank_deposit"`
	CashToAM     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"cash_to_am"`
	// Status mirrors the paired CashTransfer and only changes through it.
	Status    CashStatus `gorm:"size:30;index;not null;default:PENDING_ACCEPTANCE" json:"status"`
	CreatedAt *time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt *time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Station  *Station      `gorm:"foreignKey:StationID" json:"station,omitempty"`
	Shift    *Shift        `gorm:"foreignKey:ShiftID" json:"shift,omitempty"`
	Transfer *CashTransfer `gorm:"foreignKey:CashTransactionID" json:"transfer,omitempty"`
}

type CashTransfer struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	CashTransactionID int64      `gorm:"uniqueIndex;not null" json:"cash_transaction_id"`
	FromUserID        int64      `gorm:"not null" json:"from_user_id"`
	ToUserID          int64      `gorm:"not null" json:"to_user_id"`
	Status            CashStatus `gorm:"size:30;not null;default:PENDING_ACCEPTANCE" json:"status"`
	ReceiptURL        *string    `gorm:"size:500" json:"receipt_url"`
	DepositedAt       *time.Time `json:"deposited_at"`
	CreatedAt         *time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         *time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	FromUser *User `gorm:"foreignKey:FromUserID" json:"from_user,omitempty"`
	ToUser   *User `gorm:"foreignKey:ToUserID" json:"to_user,omitempty"`
}
