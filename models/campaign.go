package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MetaKey служебный ключ в city_periods, несущий shared_mode во входном JSON
const MetaKey = "__meta__"

// DefaultDailyHours часы показа по умолчанию
const DefaultDailyHours = "09:00-18:00"

// CityPeriod период работы кампании в городе (даты включительно)
type CityPeriod struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DaySchedule переопределение расписания на конкретный день
type DaySchedule struct {
	Active bool   `json:"active"`
	Hours  string `json:"hours,omitempty"`
}

// TransitPeriod переезд конкретного автомобиля между городами
type TransitPeriod struct {
	VehicleID   string  `json:"vehicle_id"`
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	Start       string  `json:"start"`
	End         string  `json:"end"`
	Hours       string  `json:"hours"`
	Km          float64 `json:"km"`
	Duration    string  `json:"duration"`
}

// AdditionalVehicle дополнительный автомобиль кампании
type AdditionalVehicle struct {
	VehicleID string `json:"vehicle_id"`
}

// CityPeriods периоды по городам
type CityPeriods map[string][]CityPeriod

// CitySchedules переопределения по городам и датам
type CitySchedules map[string]map[string]DaySchedule

// TimelineRow строка скомпилированного таймлайна
type TimelineRow struct {
	Vehicle string `json:"vehicle"`
	City    string `json:"city"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Hours   string `json:"hours"`
}

// Campaign рекламная кампания
type Campaign struct {
	ID                 string                                 `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CampaignName       string                                 `json:"campaign_name" gorm:"not null;type:varchar(200)"`
	ClientName         string                                 `json:"client_name" gorm:"type:varchar(200);index"`
	VehicleID          string                                 `json:"vehicle_id" gorm:"type:varchar(36);index"`
	AdditionalVehicles datatypes.JSONType[[]AdditionalVehicle] `json:"additional_vehicles"`
	CityPeriods        datatypes.JSONType[CityPeriods]         `json:"city_periods"`
	SharedMode         bool                                   `json:"shared_mode"`
	CitySchedules      datatypes.JSONType[CitySchedules]       `json:"city_schedules"`
	TransitPeriods     datatypes.JSONType[[]TransitPeriod]     `json:"transit_periods"`
	DailyHours         string                                 `json:"daily_hours" gorm:"type:varchar(50);default:'09:00-18:00'"`
	VehicleTimeline    datatypes.JSONType[[]TimelineRow]       `json:"vehicle_timeline"`
	DriverTimeline     datatypes.JSON                         `json:"driver_timeline"`
	CostPerKm          decimal.Decimal                        `json:"cost_per_km" gorm:"type:decimal(12,2);default:0"`
	FixedCosts         decimal.Decimal                        `json:"fixed_costs" gorm:"type:decimal(12,2);default:0"`
	ExpectedRevenue    decimal.Decimal                        `json:"expected_revenue" gorm:"type:decimal(12,2);default:0"`
	LoopDuration       int                                    `json:"loop_duration"` // длительность цикла показа, секунды
	CreatedAt          time.Time                              `json:"created_at"`
	LastModified       time.Time                              `json:"last_modified" gorm:"autoUpdateTime"`

	Spots []CampaignSpot `json:"spots,omitempty" gorm:"foreignKey:CampaignID;constraint:OnDelete:CASCADE"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.DailyHours == "" {
		c.DailyHours = DefaultDailyHours
	}
	return nil
}

// VehicleIDs возвращает основной и дополнительные автомобили без повторов и пустых значений
func (c *Campaign) VehicleIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}
	add(c.VehicleID)
	for _, av := range c.AdditionalVehicles.Data() {
		add(av.VehicleID)
	}
	return ids
}

// TotalTransitKm суммирует километраж переездов
func (c *Campaign) TotalTransitKm() decimal.Decimal {
	total := decimal.Zero
	for _, tp := range c.TransitPeriods.Data() {
		total = total.Add(decimal.NewFromFloat(tp.Km))
	}
	return total
}

// DecodeCityPeriods разбирает city_periods из входного JSON.
// Ключ __meta__ извлекается отдельно и возвращается как shared_mode (nil если не задан).
func DecodeCityPeriods(data []byte) (CityPeriods, *bool, error) {
	periods := CityPeriods{}
	if len(data) == 0 || string(data) == "null" {
		return periods, nil, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("city_periods must be an object: %w", err)
	}

	var shared *bool
	for city, value := range raw {
		if city == MetaKey {
			var meta struct {
				SharedMode *bool `json:"shared_mode"`
			}
			if err := json.Unmarshal(value, &meta); err != nil {
				return nil, nil, fmt.Errorf("invalid __meta__: %w", err)
			}
			shared = meta.SharedMode
			continue
		}
		if strings.TrimSpace(city) == "" {
			return nil, nil, errors.New("city name must not be empty")
		}
		var list []CityPeriod
		if err := json.Unmarshal(value, &list); err != nil {
			return nil, nil, fmt.Errorf("city_periods[%s] must be a list of {start, end}: %w", city, err)
		}
		periods[city] = list
	}
	return periods, shared, nil
}

// CampaignSpot рекламный ролик кампании
type CampaignSpot struct {
	ID              string                              `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CampaignID      string                              `json:"campaign_id" gorm:"not null;type:varchar(36);index"`
	Name            string                              `json:"name" gorm:"not null;type:varchar(200)"`
	FilePath        string                              `json:"file_path" gorm:"type:text"`
	FileName        string                              `json:"file_name" gorm:"type:varchar(255)"`
	DurationSeconds int                                 `json:"duration_seconds" gorm:"default:10"`
	Status          string                              `json:"status" gorm:"type:varchar(20);default:'OK'"`
	OrderIndex      int                                 `json:"order_index" gorm:"default:0"`
	TargetCities    datatypes.JSONType[[]string]        `json:"target_cities"`
	TargetVehicles  datatypes.JSONType[[]string]        `json:"target_vehicles"`
	SpotSharedMode  bool                                `json:"spot_shared_mode"`
	SpotPeriods     datatypes.JSONType[CityPeriods]     `json:"spot_periods"`
	SpotSchedules   datatypes.JSONType[CitySchedules]   `json:"spot_schedules"`
	StartDate       string                              `json:"start_date" gorm:"type:varchar(10)"`
	EndDate         string                              `json:"end_date" gorm:"type:varchar(10)"`
	HourlySchedule  datatypes.JSONType[map[string]bool] `json:"hourly_schedule"`
	IsActive        bool                                `json:"is_active"`
	CreatedAt       time.Time                           `json:"created_at"`
	LastModified    time.Time                           `json:"last_modified" gorm:"autoUpdateTime"`
}

func (CampaignSpot) TableName() string {
	return "campaign_spots"
}

func (s *CampaignSpot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.DurationSeconds <= 0 {
		s.DurationSeconds = 10
	}
	if s.Status == "" {
		s.Status = "OK"
	}
	return nil
}

// Validate проверяет название, длительность и даты ролика
func (s *CampaignSpot) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("spot name is required")
	}
	if s.DurationSeconds < 0 {
		return errors.New("duration_seconds must not be negative")
	}
	var start, end time.Time
	var err error
	if s.StartDate != "" {
		if start, err = ParseDate(s.StartDate); err != nil {
			return err
		}
	}
	if s.EndDate != "" {
		if end, err = ParseDate(s.EndDate); err != nil {
			return err
		}
	}
	if s.StartDate != "" && s.EndDate != "" && start.After(end) {
		return errors.New("spot start_date must not be after end_date")
	}
	return nil
}

// SchemaMigration примененная миграция схемы
type SchemaMigration struct {
	Version      int       `json:"version" gorm:"primaryKey;autoIncrement:false"`
	Name         string    `json:"name" gorm:"not null;type:varchar(200)"`
	DataLossNote string    `json:"data_loss_note" gorm:"type:text"`
	AppliedAt    time.Time `json:"applied_at"`
}

func (SchemaMigration) TableName() string {
	return "schema_migrations"
}
