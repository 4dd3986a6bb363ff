package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Типы событий в расписании
const (
	ScheduleEventCampaign    = "campaign"
	ScheduleEventTransit     = "transit"
	ScheduleEventMaintenance = "maintenance"
	ScheduleEventLeave       = "leave"
	ScheduleEventOther       = "other"
)

// ScheduleEntry общие поля записи расписания автомобиля или водителя
type ScheduleEntry struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	StartDate   time.Time `json:"start_date" gorm:"not null;type:date"`
	EndDate     time.Time `json:"end_date" gorm:"not null;type:date"`
	EventType   string    `json:"event_type" gorm:"not null;type:varchar(30)"`
	Origin      string    `json:"origin" gorm:"type:varchar(100)"`
	Destination string    `json:"destination" gorm:"type:varchar(100)"`
	Details     string    `json:"details" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate проверяет порядок дат и тип события
func (s *ScheduleEntry) Validate() error {
	if s.EventType == "" {
		return errors.New("event_type is required")
	}
	if s.StartDate.IsZero() || s.EndDate.IsZero() {
		return errors.New("start_date and end_date are required")
	}
	if DateOnly(s.StartDate).After(DateOnly(s.EndDate)) {
		return errors.New("start_date must not be after end_date")
	}
	return nil
}

// VehicleSchedule запись расписания автомобиля
type VehicleSchedule struct {
	ScheduleEntry
	VehicleID string `json:"vehicle_id" gorm:"not null;type:varchar(36);index"`
}

func (VehicleSchedule) TableName() string {
	return "vehicle_schedules"
}

func (s *VehicleSchedule) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// DriverSchedule запись расписания водителя
type DriverSchedule struct {
	ScheduleEntry
	DriverID string `json:"driver_id" gorm:"not null;type:varchar(36);index"`
}

func (DriverSchedule) TableName() string {
	return "driver_schedules"
}

func (s *DriverSchedule) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}
