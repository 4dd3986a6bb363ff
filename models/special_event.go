package models

import (
	"errors"
	"strings"
	"time"
)

// SpecialEvent событие в городе, влияющее на трафик (фестиваль, матч, ярмарка)
type SpecialEvent struct {
	City                 string  `json:"city"`
	Name                 string  `json:"name"`
	StartDate            string  `json:"start_date"`
	EndDate              string  `json:"end_date"`
	TimeStart            string  `json:"time_start,omitempty"`
	TimeEnd              string  `json:"time_end,omitempty"`
	Location             string  `json:"location,omitempty"`
	TrafficMultiplier    float64 `json:"traffic_multiplier"`
	PedestrianMultiplier float64 `json:"pedestrian_multiplier"`
	IsSingleDay          bool    `json:"is_single_day"`
}

// Normalize подставляет значения по умолчанию
func (e *SpecialEvent) Normalize() {
	e.City = strings.TrimSpace(e.City)
	e.Name = strings.TrimSpace(e.Name)
	if e.TrafficMultiplier == 0 {
		e.TrafficMultiplier = 1.0
	}
	if e.PedestrianMultiplier == 0 {
		e.PedestrianMultiplier = 1.0
	}
	if e.EndDate == "" || e.IsSingleDay {
		e.EndDate = e.StartDate
	}
	e.IsSingleDay = e.StartDate == e.EndDate
}

// Validate проверяет ключ, даты и множители события
func (e *SpecialEvent) Validate() error {
	if e.City == "" {
		return errors.New("event city is required")
	}
	if e.Name == "" {
		return errors.New("event name is required")
	}
	start, err := ParseDate(e.StartDate)
	if err != nil {
		return err
	}
	end, err := ParseDate(e.EndDate)
	if err != nil {
		return err
	}
	if start.After(end) {
		return errors.New("event start_date must not be after end_date")
	}
	if e.TrafficMultiplier <= 0 || e.PedestrianMultiplier <= 0 {
		return errors.New("multipliers must be positive")
	}
	return nil
}

// ActiveOn проверяет, идет ли событие в указанный день
func (e *SpecialEvent) ActiveOn(day time.Time) bool {
	start, err := ParseDate(e.StartDate)
	if err != nil {
		return false
	}
	end, err := ParseDate(e.EndDate)
	if err != nil {
		return false
	}
	d := DateOnly(day)
	return !d.Before(start) && !d.After(end)
}

// Overlaps проверяет пересечение события с диапазоном дат
func (e *SpecialEvent) Overlaps(from, to time.Time) bool {
	start, err := ParseDate(e.StartDate)
	if err != nil {
		return false
	}
	end, err := ParseDate(e.EndDate)
	if err != nil {
		return false
	}
	return !end.Before(DateOnly(from)) && !start.After(DateOnly(to))
}
