package models

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Предпочтения источника данных города
const (
	PreferencePublic = "public"
	PreferenceINS    = "ins"
	PreferenceBRAT   = "brat"
	PreferenceManual = "manual"
)

// Источники демографических данных
const (
	SourcePublic = "Public"
	SourceINS    = "INS"
	SourceBRAT   = "BRAT"
	SourceManual = "Manual"
)

// ModalSplit распределение поездок по видам транспорта, проценты
type ModalSplit struct {
	Auto            float64 `json:"auto"`
	Walking         float64 `json:"walking"`
	Cycling         float64 `json:"cycling"`
	PublicTransport float64 `json:"public_transport"`
}

// Total сумма долей
func (m ModalSplit) Total() float64 {
	return m.Auto + m.Walking + m.Cycling + m.PublicTransport
}

// CitySnapshot демографический срез города за период
type CitySnapshot struct {
	Population           int64      `json:"population"`
	County               string     `json:"county"`
	ActivePopulationPct  float64    `json:"active_population_pct"`
	DailyTrafficTotal    int64      `json:"daily_traffic_total"`
	DailyPedestrianTotal int64      `json:"daily_pedestrian_total"`
	ModalSplit           ModalSplit `json:"modal_split"`
	AvgCommuteDistanceKm float64    `json:"avg_commute_distance_km"`
	Description          string     `json:"description,omitempty"`
	Source               string     `json:"source,omitempty"`
	LastUpdated          string     `json:"last_updated,omitempty"`
}

// Validate проверяет неотрицательность показателей и сумму modal split
func (s *CitySnapshot) Validate() error {
	if s.Population < 0 || s.DailyTrafficTotal < 0 || s.DailyPedestrianTotal < 0 {
		return errors.New("population and traffic totals must not be negative")
	}
	if s.ActivePopulationPct < 0 || s.ActivePopulationPct > 100 {
		return errors.New("active_population_pct must be within 0..100")
	}
	if s.ModalSplit.Auto < 0 || s.ModalSplit.Walking < 0 || s.ModalSplit.Cycling < 0 || s.ModalSplit.PublicTransport < 0 {
		return errors.New("modal_split shares must not be negative")
	}
	if s.ModalSplit.Total() > 100.0001 {
		return errors.New("modal_split shares must sum to at most 100")
	}
	if s.AvgCommuteDistanceKm < 0 {
		return errors.New("avg_commute_distance_km must not be negative")
	}
	return nil
}

// CityRecord все срезы города и указатель на текущий
type CityRecord struct {
	Name    string                  `json:"name"`
	Periods map[string]CitySnapshot `json:"periods"`
	Current string                  `json:"current"`
}

// CurrentSnapshot возвращает текущий срез города
func (r *CityRecord) CurrentSnapshot() (CitySnapshot, bool) {
	if r.Periods == nil {
		return CitySnapshot{}, false
	}
	s, ok := r.Periods[r.Current]
	return s, ok
}

// UpdatePreference предпочтение источника обновления для города
type UpdatePreference struct {
	Preference string    `json:"preference"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsValidPreference проверяет значение предпочтения
func IsValidPreference(p string) bool {
	switch p {
	case PreferencePublic, PreferenceINS, PreferenceBRAT, PreferenceManual:
		return true
	}
	return false
}

// NormalizeCityName строит ключ сравнения названий городов (без диакритики, в нижнем регистре)
func NormalizeCityName(name string) string {
	decomposed := norm.NFD.String(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
