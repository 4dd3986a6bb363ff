package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Статусы транспортных средств
const (
	VehicleStatusActive      = "active"
	VehicleStatusMaintenance = "maintenance"
	VehicleStatusDefective   = "defective"
	VehicleStatusInactive    = "inactive"
)

// Статусы водителей
const (
	DriverStatusActive   = "active"
	DriverStatusInactive = "inactive"
)

// Vehicle рекламный автомобиль (LED-экран на шасси)
type Vehicle struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name         string    `json:"name" gorm:"not null;type:varchar(100)"`
	Registration string    `json:"registration" gorm:"type:varchar(20);index"`
	Status       string    `json:"status" gorm:"not null;type:varchar(20);default:'active'"`
	StatusNote   string    `json:"status_note" gorm:"type:text"`
	DriverID     *string   `json:"driver_id" gorm:"type:varchar(36);index"`
	DriverName   string    `json:"driver_name" gorm:"type:varchar(100)"` // кэш имени водителя
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified" gorm:"autoUpdateTime"`
}

func (Vehicle) TableName() string {
	return "vehicles"
}

func (v *Vehicle) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Status == "" {
		v.Status = VehicleStatusActive
	}
	return nil
}

// Validate проверяет обязательные поля и статус
func (v *Vehicle) Validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return errors.New("vehicle name is required")
	}
	if !IsValidVehicleStatus(v.Status) {
		return errors.New("invalid vehicle status: " + v.Status)
	}
	return nil
}

// Display возвращает строку вида "name (registration)"
func (v *Vehicle) Display() string {
	if v.Registration == "" {
		return v.Name
	}
	return v.Name + " (" + v.Registration + ")"
}

// IsValidVehicleStatus проверяет допустимость статуса транспортного средства
func IsValidVehicleStatus(status string) bool {
	switch status {
	case VehicleStatusActive, VehicleStatusMaintenance, VehicleStatusDefective, VehicleStatusInactive:
		return true
	}
	return false
}

// Driver водитель рекламного автомобиля
type Driver struct {
	ID                  string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name                string    `json:"name" gorm:"not null;type:varchar(100)"`
	Phone               string    `json:"phone" gorm:"type:varchar(30)"`
	LicenseNumber       string    `json:"license_number" gorm:"type:varchar(50)"`
	Status              string    `json:"status" gorm:"not null;type:varchar(20);default:'active'"`
	AssignedVehicle     *string   `json:"assigned_vehicle" gorm:"type:varchar(36);index"`
	AssignedVehicleName string    `json:"assigned_vehicle_name" gorm:"type:varchar(100)"` // кэш имени автомобиля
	CreatedAt           time.Time `json:"created_at"`
	LastModified        time.Time `json:"last_modified" gorm:"autoUpdateTime"`
}

func (Driver) TableName() string {
	return "drivers"
}

func (d *Driver) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = DriverStatusActive
	}
	return nil
}

// Validate проверяет обязательные поля и статус
func (d *Driver) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("driver name is required")
	}
	if d.Status != DriverStatusActive && d.Status != DriverStatusInactive {
		return errors.New("invalid driver status: " + d.Status)
	}
	return nil
}

// DriverAssignmentHistory журнал закреплений водителей за автомобилями
type DriverAssignmentHistory struct {
	ID          string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	DriverID    string     `json:"driver_id" gorm:"not null;type:varchar(36);index"`
	VehicleID   string     `json:"vehicle_id" gorm:"not null;type:varchar(36);index"`
	VehicleName string     `json:"vehicle_name" gorm:"type:varchar(100)"` // снимок имени на момент закрепления
	StartDate   time.Time  `json:"start_date" gorm:"not null"`
	EndDate     *time.Time `json:"end_date"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (DriverAssignmentHistory) TableName() string {
	return "driver_assignment_history"
}

func (h *DriverAssignmentHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	return nil
}

// IsOpen возвращает true для действующего закрепления
func (h *DriverAssignmentHistory) IsOpen() bool {
	return h.EndDate == nil
}
