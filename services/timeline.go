package services

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"backend_dooh/models"
)

// Виды сегментов таймлайна
const (
	SegmentCampaign = "campaign"
	SegmentTransit  = "transit"
)

// TransitPrefix префикс города транзитного сегмента
const TransitPrefix = "TRANSIT: "

// maxPeriodDays ограничение длины одного периода при разворачивании по дням
const maxPeriodDays = 3660

// Segment непрерывный отрезок работы автомобиля в одном городе с одинаковыми часами
type Segment struct {
	VehicleID string `json:"vehicle_id"`
	Kind      string `json:"kind"`
	City      string `json:"city"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Hours     string `json:"hours"`
}

// Days длина сегмента в календарных днях включительно
func (s Segment) Days() int {
	start, err1 := models.ParseDate(s.Start)
	end, err2 := models.ParseDate(s.End)
	if err1 != nil || err2 != nil {
		return 0
	}
	return models.DaysBetween(start, end) + 1
}

// DayRun сжатый диапазон дней одного города
type DayRun struct {
	Start string
	End   string
	Hours string
}

// TimelineInput данные кампании для построения таймлайна
type TimelineInput struct {
	VehicleID          string
	AdditionalVehicles []string
	CityPeriods        models.CityPeriods
	SharedMode         bool
	CitySchedules      models.CitySchedules
	TransitPeriods     []models.TransitPeriod
	DailyHours         string
}

// TimelineInputFromCampaign извлекает входные данные движка из кампании
func TimelineInputFromCampaign(c *models.Campaign) TimelineInput {
	additional := make([]string, 0, len(c.AdditionalVehicles.Data()))
	for _, av := range c.AdditionalVehicles.Data() {
		additional = append(additional, av.VehicleID)
	}
	return TimelineInput{
		VehicleID:          c.VehicleID,
		AdditionalVehicles: additional,
		CityPeriods:        c.CityPeriods.Data(),
		SharedMode:         c.SharedMode,
		CitySchedules:      c.CitySchedules.Data(),
		TransitPeriods:     c.TransitPeriods.Data(),
		DailyHours:         c.DailyHours,
	}
}

// VehicleTimeline хронологический список сегментов одного автомобиля
type VehicleTimeline struct {
	VehicleID string    `json:"vehicle_id"`
	Segments  []Segment `json:"segments"`
}

// TimelineResult результат компиляции кампании
type TimelineResult struct {
	Vehicles []VehicleTimeline            `json:"vehicles"`
	DailyLog map[string]map[string]string `json:"daily_log"`
	Warnings []string                     `json:"warnings,omitempty"`
}

// BuildTimeline компилирует кампанию в сегменты по автомобилям.
// Некорректные периоды и переезды пропускаются с предупреждением, построение не прерывается.
// Ошибка возвращается только для режима без общего расписания.
func BuildTimeline(in TimelineInput) (*TimelineResult, error) {
	if !in.SharedMode {
		return nil, validationError(errors.New("per-vehicle schedule mode (shared_mode=false) is not supported"))
	}

	result := &TimelineResult{DailyLog: make(map[string]map[string]string)}
	warn := func(format string, args ...interface{}) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(format, args...))
	}

	dailyHours := strings.TrimSpace(in.DailyHours)
	if dailyHours == "" {
		dailyHours = models.DefaultDailyHours
	}

	vehicles := uniqueVehicles(in.VehicleID, in.AdditionalVehicles)

	cities := make([]string, 0, len(in.CityPeriods))
	for city := range in.CityPeriods {
		if city == models.MetaKey {
			continue
		}
		cities = append(cities, city)
	}
	sort.Strings(cities)

	// Разворачивание по дням; более поздний период перезаписывает часы
	for _, city := range cities {
		overrides := in.CitySchedules[city]
		for i, period := range in.CityPeriods[city] {
			start, err := models.ParseDate(period.Start)
			if err != nil {
				warn("%s period #%d skipped: bad start: %v", city, i+1, err)
				continue
			}
			end, err := models.ParseDate(period.End)
			if err != nil {
				warn("%s period #%d skipped: bad end: %v", city, i+1, err)
				continue
			}
			if start.After(end) {
				warn("%s period #%d skipped: start %s is after end %s", city, i+1, period.Start, period.End)
				continue
			}
			if models.DaysBetween(start, end) >= maxPeriodDays {
				warn("%s period #%d skipped: longer than %d days", city, i+1, maxPeriodDays)
				continue
			}

			for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
				key := models.FormatDate(d)
				hours := dailyHours
				if override, ok := overrides[key]; ok {
					if !override.Active {
						continue
					}
					if h := strings.TrimSpace(override.Hours); h != "" {
						hours = h
					}
				}
				if result.DailyLog[city] == nil {
					result.DailyLog[city] = make(map[string]string)
				}
				result.DailyLog[city][key] = hours
			}
		}
	}

	var shared []Segment
	for _, city := range cities {
		for _, run := range CompressDays(result.DailyLog[city]) {
			shared = append(shared, Segment{
				Kind:  SegmentCampaign,
				City:  city,
				Start: run.Start,
				End:   run.End,
				Hours: run.Hours,
			})
		}
	}

	known := make(map[string]bool, len(vehicles))
	for _, v := range vehicles {
		known[v] = true
	}
	transits := make(map[string][]Segment)
	for i, tp := range in.TransitPeriods {
		if !known[tp.VehicleID] {
			warn("transit #%d dropped: vehicle %q is not part of the campaign", i+1, tp.VehicleID)
			continue
		}
		start, err := models.ParseDate(tp.Start)
		if err != nil {
			warn("transit #%d skipped: bad start: %v", i+1, err)
			continue
		}
		endStr := tp.End
		if strings.TrimSpace(endStr) == "" {
			endStr = tp.Start
		}
		end, err := models.ParseDate(endStr)
		if err != nil {
			warn("transit #%d skipped: bad end: %v", i+1, err)
			continue
		}
		if start.After(end) {
			warn("transit #%d skipped: start %s is after end %s", i+1, tp.Start, endStr)
			continue
		}
		transits[tp.VehicleID] = append(transits[tp.VehicleID], Segment{
			VehicleID: tp.VehicleID,
			Kind:      SegmentTransit,
			City:      TransitPrefix + tp.Origin + " -> " + tp.Destination,
			Start:     models.FormatDate(start),
			End:       models.FormatDate(end),
			Hours:     tp.Hours,
		})
	}

	for _, v := range vehicles {
		segments := make([]Segment, 0, len(shared)+len(transits[v]))
		for _, s := range shared {
			s.VehicleID = v
			segments = append(segments, s)
		}
		segments = append(segments, transits[v]...)
		sort.SliceStable(segments, func(i, j int) bool { return segments[i].Start < segments[j].Start })
		result.Vehicles = append(result.Vehicles, VehicleTimeline{VehicleID: v, Segments: segments})
	}

	return result, nil
}

// CompressDays объединяет подряд идущие дни с одинаковыми часами
func CompressDays(days map[string]string) []DayRun {
	if len(days) == 0 {
		return nil
	}
	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var runs []DayRun
	var current *DayRun
	var prev time.Time
	for _, key := range keys {
		day, err := models.ParseDate(key)
		if err != nil {
			continue
		}
		hours := days[key]
		if current != nil && hours == current.Hours && day.Equal(prev.AddDate(0, 0, 1)) {
			current.End = key
			prev = day
			continue
		}
		if current != nil {
			runs = append(runs, *current)
		}
		current = &DayRun{Start: key, End: key, Hours: hours}
		prev = day
	}
	if current != nil {
		runs = append(runs, *current)
	}
	return runs
}

// Rows формирует строки экспорта; display возвращает отображаемое имя автомобиля
func (r *TimelineResult) Rows(display func(vehicleID string) string) []models.TimelineRow {
	var rows []models.TimelineRow
	for _, vt := range r.Vehicles {
		name := vt.VehicleID
		if display != nil {
			if d := display(vt.VehicleID); d != "" {
				name = d
			}
		}
		for _, s := range vt.Segments {
			rows = append(rows, models.TimelineRow{
				Vehicle: name,
				City:    s.City,
				Start:   s.Start,
				End:     s.End,
				Hours:   s.Hours,
			})
		}
	}
	return rows
}

// VehicleStats сводка таймлайна одного автомобиля
type VehicleStats struct {
	VehicleID    string  `json:"vehicle_id"`
	ActiveDays   int     `json:"active_days"`
	TransitDays  int     `json:"transit_days"`
	Cities       int     `json:"cities"`
	TotalHours   float64 `json:"total_hours"`
	UnparsedDays int     `json:"unparsed_days"`
}

// Stats считает активные дни и часы по каждому автомобилю
func (r *TimelineResult) Stats() []VehicleStats {
	stats := make([]VehicleStats, 0, len(r.Vehicles))
	for _, vt := range r.Vehicles {
		st := VehicleStats{VehicleID: vt.VehicleID}
		cities := make(map[string]bool)
		for _, s := range vt.Segments {
			days := s.Days()
			if s.Kind == SegmentTransit {
				st.TransitDays += days
				continue
			}
			st.ActiveDays += days
			cities[s.City] = true
			if h, ok := ParseHoursSpan(s.Hours); ok {
				st.TotalHours += h * float64(days)
			} else {
				st.UnparsedDays += days
			}
		}
		st.Cities = len(cities)
		stats = append(stats, st)
	}
	return stats
}

// ParseHoursSpan считает длительность интервала "09:00-18:00" или "10-12" в часах.
// Интервал через полночь считается до следующего дня.
func ParseHoursSpan(s string) (float64, bool) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return 0, false
	}
	from, ok1 := parseClock(parts[0])
	to, ok2 := parseClock(parts[1])
	if !ok1 || !ok2 {
		return 0, false
	}
	if to <= from {
		to += 24 * 60
	}
	return float64(to-from) / 60, true
}

// parseClock разбирает "HH:MM" или "HH" в минуты от полуночи
func parseClock(s string) (int, bool) {
	s = strings.TrimSpace(s)
	hh, mm := s, "0"
	if i := strings.IndexByte(s, ':'); i >= 0 {
		hh, mm = s[:i], s[i+1:]
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func uniqueVehicles(primary string, additional []string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, id := range append([]string{primary}, additional...) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
