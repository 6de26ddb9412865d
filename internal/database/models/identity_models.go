package models

import "time"

type UserRole string

const (
	RoleAdmin          UserRole = "Admin"
	RoleStationManager UserRole = "SM"
	RoleAreaManager    UserRole = "AM"
)

func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleStationManager, RoleAreaManager:
		return true
	}
	return false
}

type User struct {
	ID         int64    `gorm:"primaryKey;autoIncrement" json:"id"`
	EmployeeID string   `gorm:"uniqueIndex;not null" json:"employee_id"`
	Name       string   `gorm:"not null" json:"name"`
	Password   string   `gorm:"not null" json:"-"`
	Role       UserRole `gorm:"size:20;not null" json:"role"`
	StationID  *int64   `json:"station_id"`
	// AreaManagerID is the AM who takes cash custody from this user's shifts.
	AreaManagerID *int64     `json:"area_manager_id"`
	IsActive      bool       `gorm:"default:true" json:"is_active"`
	CreatedAt     *time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     *time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Station     *Station `gorm:"foreignKey:StationID" json:"station,omitempty"`
	AreaManager *User    `gorm:"foreignKey:AreaManagerID" json:"area_manager,omitempty"`
}
