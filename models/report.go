package models

// ReportFormat представляет формат экспорта отчета
type ReportFormat string

const (
	ReportFormatPDF   ReportFormat = "pdf"
	ReportFormatExcel ReportFormat = "xlsx"
	ReportFormatCSV   ReportFormat = "csv"
	ReportFormatJSON  ReportFormat = "json"
)

// ParseReportFormat приводит строку к ReportFormat, excel принимается как синоним xlsx
func ParseReportFormat(s string) (ReportFormat, bool) {
	switch s {
	case "pdf":
		return ReportFormatPDF, true
	case "xlsx", "excel":
		return ReportFormatExcel, true
	case "csv", "":
		return ReportFormatCSV, true
	case "json":
		return ReportFormatJSON, true
	}
	return "", false
}

// ContentType возвращает MIME тип формата
func (f ReportFormat) ContentType() string {
	switch f {
	case ReportFormatPDF:
		return "application/pdf"
	case ReportFormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ReportFormatJSON:
		return "application/json"
	default:
		return "text/csv"
	}
}

// TimelineExportHeaders колонки экспорта таймлайна
var TimelineExportHeaders = []string{"Vehicle", "City", "Start", "End", "Hours"}

// CampaignReportRequest входные данные генератора отчета по кампании.
// Незаполненные демографические показатели берутся из текущего среза города.
type CampaignReportRequest struct {
	ClientName           string   `json:"client_name"`
	CampaignName         string   `json:"campaign_name"`
	City                 string   `json:"city"`
	StartDate            string   `json:"start_date"`
	EndDate              string   `json:"end_date"`
	DailyHours           string   `json:"daily_hours"`
	TotalHours           float64  `json:"total_hours"`
	VehicleSpeedKmh      float64  `json:"vehicle_speed_kmh"`
	StationingMinPerHour float64  `json:"stationing_min_per_hour"`
	Population           *int64   `json:"population,omitempty"`
	DailyTrafficTotal    *int64   `json:"daily_traffic_total,omitempty"`
	DailyPedestrianTotal *int64   `json:"daily_pedestrian_total,omitempty"`
	ActivePopulationPct  *float64 `json:"active_population_pct,omitempty"`
	AvgCommuteDistanceKm *float64 `json:"avg_commute_distance_km,omitempty"`
	LoopDurationSeconds  int      `json:"loop_duration_seconds,omitempty"`
	SpotDurationSeconds  int      `json:"spot_duration_seconds,omitempty"`
}

// CampaignReportData рассчитанные показатели отчета по кампании
type CampaignReportData struct {
	Request               CampaignReportRequest `json:"request"`
	Population            int64                 `json:"population"`
	DailyTrafficTotal     int64                 `json:"daily_traffic_total"`
	DailyPedestrianTotal  int64                 `json:"daily_pedestrian_total"`
	ActivePopulationPct   float64               `json:"active_population_pct"`
	AvgCommuteDistanceKm  float64               `json:"avg_commute_distance_km"`
	DemographicsSource    string                `json:"demographics_source"`
	Days                  int                   `json:"days"`
	TotalHours            float64               `json:"total_hours"`
	DrivingHours          float64               `json:"driving_hours"`
	StationingHours       float64               `json:"stationing_hours"`
	DistanceKm            float64               `json:"distance_km"`
	SpotPlaysPerHour      float64               `json:"spot_plays_per_hour"`
	TotalSpotPlays        float64               `json:"total_spot_plays"`
	LoopSharePct          float64               `json:"loop_share_pct"`       // доля ролика в цикле
	SpotAirtimeMinutes    float64               `json:"spot_airtime_minutes"` // суммарное время показа ролика
	TrafficMultiplier     float64               `json:"traffic_multiplier"`
	PedestrianMultiplier  float64               `json:"pedestrian_multiplier"`
	EstimatedVehicleViews float64               `json:"estimated_vehicle_views"`
	EstimatedPedestrian   float64               `json:"estimated_pedestrian_views"`
	EstimatedImpressions  float64               `json:"estimated_impressions"`
	Events                []SpecialEvent        `json:"events"`
}
