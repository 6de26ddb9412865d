package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type FuelType string

const (
	FuelOctane91 FuelType = "91"
	FuelOctane95 FuelType = "95"
	FuelDiesel   FuelType = "DIESEL"
)

func (f FuelType) Valid() bool {
	switch f {
	case FuelOctane91, FuelOctane95, FuelDiesel:
		return true
	}
	return false
}

type Station struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string     `gorm:"size:255;not null" json:"name"`
	Address       *string    `gorm:"size:255" json:"address"`
	AreaManagerID *int64     `json:"area_manager_id"`
	CreatedAt     *time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     *time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	AreaManager *User    `gorm:"foreignKey:AreaManagerID" json:"area_manager,omitempty"`
	Tanks       []Tank   `gorm:"foreignKey:StationID" json:"tanks,omitempty"`
	Nozzles     []Nozzle `gorm:"foreignKey:StationID" json:"nozzles,omitempty"`
}

type Tank struct {
	ID        int64    `gorm:"primaryKey;autoIncrement" json:"id"`
	StationID int64    `gorm:"index;not null" json:"station_id"`
	FuelType  FuelType `gorm:"size:20;not null" json:"fuel_type"`
	// Capacity is nullable: tanks without a registered capacity skip the
	// overfill check on deliveries.
	Capacity     *decimal.Decimal `gorm:"type:decimal(12,3)" json:"capacity"`
	CurrentLevel decimal.Decimal  `gorm:"type:decimal(12,3);default:0" json:"current_level"`
	CreatedAt    *time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    *time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Station *Station `gorm:"foreignKey:StationID" json:"station,omitempty"`
	Nozzles []Nozzle `gorm:"foreignKey:TankID" json:"nozzles,omitempty"`
}

type Nozzle struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string     `gorm:"uniqueIndex;size:100;not null" json:"name"`
	StationID int64      `gorm:"index;not null" json:"station_id"`
	TankID    int64      `gorm:"index;not null" json:"tank_id"`
	FuelType  FuelType   `gorm:"size:20;not null" json:"fuel_type"`
	CreatedAt *time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt *time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Tank *Tank `gorm:"foreignKey:TankID" json:"tank,omitempty"`
}

type TankerDelivery struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TankID          int64           `gorm:"index;not null" json:"tank_id"`
	LitersDelivered decimal.Decimal `gorm:"type:decimal(12,3);not null" json:"liters_delivered"`
	DeliveryDate    time.Time       `gorm:"not null" json:"delivery_date"`
	RecordedBy      int64           `gorm:"not null" json:"recorded_by"`
	AramcoTicket    *string         `gorm:"size:100" json:"aramco_ticket"`
	Notes           *string         `gorm:"size:255" json:"notes"`
	CreatedAt       *time.Time      `gorm:"autoCreateTime" json:"created_at"`

	Tank     *Tank `gorm:"foreignKey:TankID" json:"tank,omitempty"`
	Recorder *User `gorm:"foreignKey:RecordedBy" json:"recorder,omitempty"`
}

type FuelPrice struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	StationID     int64           `gorm:"index;not null" json:"station_id"`
	FuelType      FuelType        `gorm:"size:20;not null" json:"fuel_type"`
	PricePerLiter decimal.Decimal `gorm:"type:decimal(12,3);not null" json:"price_per_liter"`
	EffectiveFrom time.Time       `gorm:"index;not null" json:"effective_from"`
	CreatedBy     int64           `gorm:"not null" json:"created_by"`
	CreatedAt     *time.Time      `gorm:"autoCreateTime" json:"created_at"`

	Station *Station `gorm:"foreignKey:StationID" json:"station,omitempty"`
}
