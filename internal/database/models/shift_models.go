package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ShiftType string

const (
	ShiftDay   ShiftType = "DAY"
	ShiftNight ShiftType = "NIGHT"
)

func (s ShiftType) Valid() bool {
	return s == ShiftDay || s == ShiftNight
}

type ShiftStatus string

const (
	ShiftOpen   ShiftStatus = "OPEN"
	ShiftClosed ShiftStatus = "CLOSED"
	ShiftLocked ShiftStatus = "LOCKED"
)

type Shift struct {
	ID        int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	StationID int64       `gorm:"index;not null" json:"station_id"`
	ShiftType ShiftType   `gorm:"size:10;not null" json:"shift_type"`
	Status    ShiftStatus `gorm:"size:10;not null;default:OPEN" json:"status"`
	Locked    bool        `gorm:"default:false" json:"locked"`
	// LockedBy records the last user who locked or unlocked the shift.
	LockedBy  *int64     `json:"locked_by"`
	StartTime time.Time  `gorm:"not null" json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	CreatedAt *time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt *time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Station     *Station        `gorm:"foreignKey:StationID" json:"station,omitempty"`
	Readings    []NozzleReading `gorm:"foreignKey:ShiftID;constraint:OnDelete:CASCADE" json:"readings,omitempty"`
	NozzleSales []NozzleSale    `gorm:"foreignKey:ShiftID;constraint:OnDelete:CASCADE" json:"nozzle_sales,omitempty"`
}

type NozzleReading struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ShiftID        int64           `gorm:"uniqueIndex:idx_reading_shift_nozzle;not null" json:"shift_id"`
	NozzleID       int64           `gorm:"uniqueIndex:idx_reading_shift_nozzle;not null" json:"nozzle_id"`
	OpeningReading decimal.Decimal `gorm:"type:decimal(12,3);not null" json:"opening_reading"`
	// ClosingReading stays nil until the reading is submitted.
	ClosingReading *decimal.Decimal `gorm:"type:decimal(12,3)" json:"closing_reading"`
	Consumption    *decimal.Decimal `gorm:"type:decimal(12,3)" json:"consumption"`
	CreatedAt      *time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      *time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Nozzle *Nozzle `gorm:"foreignKey:NozzleID" json:"nozzle,omitempty"`
}

type NozzleSale struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ShiftID        int64           `gorm:"uniqueIndex:idx_sale_shift_nozzle;not null" json:"shift_id"`
	NozzleID       int64           `gorm:"uniqueIndex:idx_sale_shift_nozzle;not null" json:"nozzle_id"`
	QuantityLiters decimal.Decimal `gorm:"type:decimal(12,3);default:0" json:"quantity_liters"`
	// PricePerLiter is snapshotted from the station's current fuel price at
	// shift creation so later price changes never alter closed shifts.
	PricePerLiter decimal.Decimal `gorm:"type:decimal(12,3);not null" json:"price_per_liter"`
	// Card/cash amounts are shift-level figures replicated on every row of
	// the shift; totals must read them once, never sum them across rows.
	CardAmount decimal.Decimal `gorm:"type:decimal(12,2);default:0" json:"card_amount"`
	CashAmount decimal.Decimal `gorm:"type:decimal(12,2);default:0" json:"cash_amount"`
	CreatedAt  *time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  *time.Time      `gorm:"autoUpdateTime" json:"updated_at"`

	Nozzle *Nozzle `gorm:"foreignKey:NozzleID" json:"nozzle,omitempty"`
}
