package services

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"backend_dooh/models"

	"github.com/jung-kurt/gofpdf"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"
)

// Значения по умолчанию для оценки охвата
const (
	DefaultVehicleSpeedKmh     = 20.0
	DefaultLoopDurationSeconds = 60
	DefaultSpotDurationSeconds = 10
	// доля потока, замечающая экран при движении и на стоянке
	vehicleExposureShare    = 0.10
	pedestrianExposureShare = 0.15
)

// ReportService экспортирует таймлайны и формирует отчеты по кампаниям
type ReportService struct {
	Campaigns *CampaignService
	Cities    *CityService
	Events    *SpecialEventService
	OutputDir string
	log       zerolog.Logger
	now       func() time.Time
}

// NewReportService создает новый экземпляр ReportService
func NewReportService(campaigns *CampaignService, cities *CityService, events *SpecialEventService, outputDir string, log zerolog.Logger) *ReportService {
	return &ReportService{
		Campaigns: campaigns,
		Cities:    cities,
		Events:    events,
		OutputDir: outputDir,
		log:       log.With().Str("service", "reports").Logger(),
		now:       time.Now,
	}
}

// ReportData табличные данные экспорта
type ReportData struct {
	Title   string            `json:"title"`
	Headers []string          `json:"headers"`
	Rows    [][]string        `json:"rows"`
	Summary map[string]string `json:"summary,omitempty"`
}

// TimelineReportData переводит строки таймлайна в табличный вид
func TimelineReportData(title string, rows []models.TimelineRow) *ReportData {
	data := &ReportData{Title: title, Headers: models.TimelineExportHeaders}
	for _, r := range rows {
		data.Rows = append(data.Rows, []string{r.Vehicle, r.City, r.Start, r.End, r.Hours})
	}
	return data
}

// WriteReport пишет данные в w в указанном формате
func WriteReport(w io.Writer, data *ReportData, format models.ReportFormat) error {
	switch format {
	case models.ReportFormatCSV:
		return writeCSV(w, data)
	case models.ReportFormatExcel:
		return writeExcel(w, data)
	case models.ReportFormatPDF:
		return writeTablePDF(w, data)
	case models.ReportFormatJSON:
		return writeJSON(w, data)
	}
	return validationError(fmt.Errorf("unsupported format: %s", format))
}

// ExportTimeline компилирует таймлайн кампании и пишет его в w
func (rs *ReportService) ExportTimeline(w io.Writer, campaignID string, format models.ReportFormat) (*CompiledTimeline, error) {
	compiled, err := rs.Campaigns.CompileTimeline(campaignID)
	if err != nil {
		return nil, err
	}
	data := TimelineReportData(compiled.CampaignName, compiled.Rows)
	if err := WriteReport(w, data, format); err != nil {
		return nil, passThrough("export timeline", err)
	}
	return compiled, nil
}

// ExportTimelineFile сохраняет экспорт таймлайна в каталог отчетов и возвращает путь
func (rs *ReportService) ExportTimelineFile(campaignID string, format models.ReportFormat) (string, error) {
	path, err := rs.reportPath("timeline_"+campaignID, format)
	if err != nil {
		return "", err
	}
	err = writeFile(path, func(w io.Writer) error {
		_, err := rs.ExportTimeline(w, campaignID, format)
		return err
	})
	if err != nil {
		return "", err
	}
	rs.log.Info().Str("campaign_id", campaignID).Str("path", path).Msg("timeline exported")
	return path, nil
}

// BuildCampaignReport рассчитывает показатели отчета; пустые демографические поля
// заполняются из текущего среза города, события периода масштабируют оценки
func (rs *ReportService) BuildCampaignReport(req models.CampaignReportRequest) (*models.CampaignReportData, error) {
	if strings.TrimSpace(req.City) == "" {
		return nil, validationError(errors.New("city is required"))
	}
	start, err := models.ParseDate(req.StartDate)
	if err != nil {
		return nil, validationError(fmt.Errorf("start_date: %v", err))
	}
	end, err := models.ParseDate(req.EndDate)
	if err != nil {
		return nil, validationError(fmt.Errorf("end_date: %v", err))
	}
	if start.After(end) {
		return nil, validationError(errors.New("start_date must not be after end_date"))
	}
	if req.StationingMinPerHour < 0 || req.StationingMinPerHour > 60 {
		return nil, validationError(errors.New("stationing_min_per_hour must be within 0..60"))
	}

	data := &models.CampaignReportData{Request: req, DemographicsSource: "request"}

	needsSnapshot := req.Population == nil || req.DailyTrafficTotal == nil || req.DailyPedestrianTotal == nil ||
		req.ActivePopulationPct == nil || req.AvgCommuteDistanceKm == nil
	var snap models.CitySnapshot
	if needsSnapshot && rs.Cities != nil {
		snap, err = rs.Cities.CurrentSnapshot(req.City)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if err == nil {
			data.DemographicsSource = snap.Source
			if data.DemographicsSource == "" {
				data.DemographicsSource = "city data"
			}
		}
	}
	data.Population = pickInt(req.Population, snap.Population)
	data.DailyTrafficTotal = pickInt(req.DailyTrafficTotal, snap.DailyTrafficTotal)
	data.DailyPedestrianTotal = pickInt(req.DailyPedestrianTotal, snap.DailyPedestrianTotal)
	data.ActivePopulationPct = pickFloat(req.ActivePopulationPct, snap.ActivePopulationPct)
	data.AvgCommuteDistanceKm = pickFloat(req.AvgCommuteDistanceKm, snap.AvgCommuteDistanceKm)

	data.Days = models.DaysBetween(start, end) + 1
	data.TotalHours = req.TotalHours
	if data.TotalHours <= 0 {
		daily := req.DailyHours
		if daily == "" {
			daily = models.DefaultDailyHours
		}
		perDay, ok := ParseHoursSpan(daily)
		if !ok {
			return nil, validationError(fmt.Errorf("daily_hours %q is not a HH:MM-HH:MM range", daily))
		}
		data.TotalHours = perDay * float64(data.Days)
	}

	speed := req.VehicleSpeedKmh
	if speed <= 0 {
		speed = DefaultVehicleSpeedKmh
	}
	data.StationingHours = data.TotalHours * req.StationingMinPerHour / 60
	data.DrivingHours = data.TotalHours - data.StationingHours
	data.DistanceKm = data.DrivingHours * speed

	loop := req.LoopDurationSeconds
	if loop <= 0 {
		loop = DefaultLoopDurationSeconds
	}
	spot := req.SpotDurationSeconds
	if spot <= 0 {
		spot = DefaultSpotDurationSeconds
	}
	if spot > loop {
		return nil, validationError(fmt.Errorf("spot_duration_seconds %d exceeds loop of %d seconds", spot, loop))
	}
	data.SpotPlaysPerHour = 3600 / float64(loop)
	data.TotalSpotPlays = data.SpotPlaysPerHour * data.TotalHours
	data.LoopSharePct = float64(spot) / float64(loop) * 100
	data.SpotAirtimeMinutes = data.TotalSpotPlays * float64(spot) / 60

	multipliers := &EventMultipliers{Traffic: 1, Pedestrian: 1}
	if rs.Events != nil {
		if multipliers, err = rs.Events.Multipliers(req.City, start, end); err != nil {
			return nil, err
		}
	}
	data.TrafficMultiplier = multipliers.Traffic
	data.PedestrianMultiplier = multipliers.Pedestrian
	data.Events = multipliers.Events

	hourlyTraffic := float64(data.DailyTrafficTotal) / 24
	hourlyPedestrian := float64(data.DailyPedestrianTotal) / 24
	data.EstimatedVehicleViews = math.Round(hourlyTraffic * data.DrivingHours * vehicleExposureShare * data.TrafficMultiplier)
	data.EstimatedPedestrian = math.Round(hourlyPedestrian * data.TotalHours * pedestrianExposureShare * data.PedestrianMultiplier)
	data.EstimatedImpressions = data.EstimatedVehicleViews + data.EstimatedPedestrian
	return data, nil
}

// WriteCampaignReport пишет отчет по кампании; PDF оформляется как документ, остальные форматы таблицей
func WriteCampaignReport(w io.Writer, data *models.CampaignReportData, format models.ReportFormat) error {
	if format == models.ReportFormatPDF {
		return writeCampaignPDF(w, data)
	}
	if format == models.ReportFormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	return WriteReport(w, campaignReportTable(data), format)
}

// GenerateCampaignReport рассчитывает отчет и сохраняет его в каталог отчетов
func (rs *ReportService) GenerateCampaignReport(req models.CampaignReportRequest, format models.ReportFormat) (string, *models.CampaignReportData, error) {
	data, err := rs.BuildCampaignReport(req)
	if err != nil {
		return "", nil, err
	}
	path, err := rs.reportPath("campaign_"+slug(req.CampaignName), format)
	if err != nil {
		return "", nil, err
	}
	if err := writeFile(path, func(w io.Writer) error { return WriteCampaignReport(w, data, format) }); err != nil {
		return "", nil, err
	}
	rs.log.Info().Str("campaign", req.CampaignName).Str("path", path).Msg("campaign report generated")
	return path, data, nil
}

func campaignReportTable(d *models.CampaignReportData) *ReportData {
	r := d.Request
	rows := [][]string{
		{"Client", r.ClientName},
		{"Campaign", r.CampaignName},
		{"City", r.City},
		{"Period", r.StartDate + " - " + r.EndDate},
		{"Days", fmt.Sprint(d.Days)},
		{"Total hours", fmt.Sprintf("%.1f", d.TotalHours)},
		{"Driving hours", fmt.Sprintf("%.1f", d.DrivingHours)},
		{"Stationing hours", fmt.Sprintf("%.1f", d.StationingHours)},
		{"Distance, km", fmt.Sprintf("%.0f", d.DistanceKm)},
		{"Population", fmt.Sprint(d.Population)},
		{"Daily traffic", fmt.Sprint(d.DailyTrafficTotal)},
		{"Daily pedestrians", fmt.Sprint(d.DailyPedestrianTotal)},
		{"Active population, %", fmt.Sprintf("%.1f", d.ActivePopulationPct)},
		{"Avg commute, km", fmt.Sprintf("%.1f", d.AvgCommuteDistanceKm)},
		{"Demographics source", d.DemographicsSource},
		{"Spot plays per hour", fmt.Sprintf("%.1f", d.SpotPlaysPerHour)},
		{"Total spot plays", fmt.Sprintf("%.0f", d.TotalSpotPlays)},
		{"Loop share, %", fmt.Sprintf("%.1f", d.LoopSharePct)},
		{"Spot airtime, min", fmt.Sprintf("%.0f", d.SpotAirtimeMinutes)},
		{"Traffic multiplier", fmt.Sprintf("%.2f", d.TrafficMultiplier)},
		{"Pedestrian multiplier", fmt.Sprintf("%.2f", d.PedestrianMultiplier)},
		{"Estimated vehicle views", fmt.Sprintf("%.0f", d.EstimatedVehicleViews)},
		{"Estimated pedestrian views", fmt.Sprintf("%.0f", d.EstimatedPedestrian)},
		{"Estimated impressions", fmt.Sprintf("%.0f", d.EstimatedImpressions)},
	}
	for _, e := range d.Events {
		rows = append(rows, []string{"Event", fmt.Sprintf("%s (%s - %s)", e.Name, e.StartDate, e.EndDate)})
	}
	return &ReportData{Title: r.CampaignName, Headers: []string{"Metric", "Value"}, Rows: rows}
}

// writeCSV генерирует CSV
func writeCSV(w io.Writer, data *ReportData) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(data.Headers); err != nil {
		return err
	}
	for _, row := range data.Rows {
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// writeExcel генерирует XLSX с автофильтром по заголовкам
func writeExcel(w io.Writer, data *ReportData) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	sheetName := "Timeline"
	if len(data.Headers) != len(models.TimelineExportHeaders) {
		sheetName = "Report"
	}
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	for i, header := range data.Headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheetName, cell, cell, bold); err != nil {
			return err
		}
	}
	for rowIdx, row := range data.Rows {
		for colIdx, value := range row {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return err
			}
		}
	}

	if len(data.Headers) > 0 {
		lastCol, _ := excelize.ColumnNumberToName(len(data.Headers))
		_ = f.SetColWidth(sheetName, "A", lastCol, 22)
		endCell, _ := excelize.CoordinatesToCellName(len(data.Headers), len(data.Rows)+1)
		if err := f.AutoFilter(sheetName, "A1:"+endCell, []excelize.AutoFilterOptions{}); err != nil {
			return err
		}
	}
	return f.Write(w)
}

// writeTablePDF генерирует PDF таблицу в альбомной ориентации
func writeTablePDF(w io.Writer, data *ReportData) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdfTranslator(pdf)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, tr(data.Title), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	widths := columnWidths(len(data.Headers))
	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for i, header := range data.Headers {
		pdf.CellFormat(widths[i], 7, tr(header), "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, row := range data.Rows {
		for i, value := range row {
			if i >= len(widths) {
				break
			}
			pdf.CellFormat(widths[i], 6, tr(value), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
	return pdf.Output(w)
}

// writeCampaignPDF генерирует отчет по кампании
func writeCampaignPDF(w io.Writer, d *models.CampaignReportData) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdfTranslator(pdf)
	pdf.SetTitle(tr(d.Request.CampaignName), false)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, tr("Campaign report: "+d.Request.CampaignName), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, tr("Client: "+d.Request.ClientName), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("City: %s, %s - %s", d.Request.City, d.Request.StartDate, d.Request.EndDate)), "", 1, "L", false, 0, "")
	pdf.Ln(6)

	table := campaignReportTable(d)
	pdf.SetFont("Arial", "", 10)
	for _, row := range table.Rows[4:] {
		pdf.CellFormat(80, 7, tr(row[0]), "1", 0, "L", false, 0, "")
		pdf.CellFormat(80, 7, tr(row[1]), "1", 1, "R", false, 0, "")
	}
	return pdf.Output(w)
}

func writeJSON(w io.Writer, data *ReportData) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	rows := make([]map[string]string, 0, len(data.Rows))
	for _, row := range data.Rows {
		item := make(map[string]string, len(data.Headers))
		for i, h := range data.Headers {
			if i < len(row) {
				item[h] = row[i]
			}
		}
		rows = append(rows, item)
	}
	return encoder.Encode(map[string]interface{}{
		"title":   data.Title,
		"headers": data.Headers,
		"rows":    rows,
	})
}

// pdfTranslator убирает диакритику, которой нет в cp1252 (ș, ț, ă), и перекодирует текст
func pdfTranslator(pdf *gofpdf.Fpdf) func(string) string {
	toCP1252 := pdf.UnicodeTranslatorFromDescriptor("")
	return func(s string) string {
		var b strings.Builder
		for _, r := range norm.NFD.String(s) {
			if unicode.Is(unicode.Mn, r) {
				continue
			}
			b.WriteRune(r)
		}
		return toCP1252(norm.NFC.String(b.String()))
	}
}

func columnWidths(n int) []float64 {
	if n == len(models.TimelineExportHeaders) {
		return []float64{70, 80, 30, 30, 40}
	}
	widths := make([]float64, n)
	for i := range widths {
		widths[i] = 270 / float64(n)
	}
	return widths
}

func (rs *ReportService) reportPath(name string, format models.ReportFormat) (string, error) {
	dir := rs.OutputDir
	if dir == "" {
		dir = "reports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", storageError("create reports dir", err)
	}
	fileName := fmt.Sprintf("%s_%s.%s", name, rs.now().Format("20060102_150405"), format)
	return filepath.Join(dir, fileName), nil
}

func writeFile(path string, write func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return storageError("create report file", err)
	}
	if err := write(file); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}
	if err := file.Close(); err != nil {
		return storageError("close report file", err)
	}
	return nil
}

func slug(s string) string {
	s = models.NormalizeCityName(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case b.Len() > 0 && !strings.HasSuffix(b.String(), "_"):
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "report"
	}
	return out
}

func pickInt(v *int64, fallback int64) int64 {
	if v != nil {
		return *v
	}
	return fallback
}

func pickFloat(v *float64, fallback float64) float64 {
	if v != nil {
		return *v
	}
	return fallback
}
