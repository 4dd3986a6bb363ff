package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"backend_dooh/models"
	"backend_dooh/services"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Сформировать отчет по кампании",
	Long: `Рассчитывает охват кампании в городе и сохраняет отчет в каталог отчетов.

Параметры задаются флагами или JSON файлом запроса (--request).
Пустые демографические поля берутся из текущего среза города.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

var (
	reportRequestFile string
	reportFormat      string
	reportOut         string
	reportReq         models.CampaignReportRequest
)

func init() {
	f := reportCmd.Flags()
	f.StringVar(&reportRequestFile, "request", "", "JSON файл с параметрами отчета")
	f.StringVarP(&reportFormat, "format", "f", "pdf", "формат: pdf, xlsx, csv, json")
	f.StringVarP(&reportOut, "out", "o", "", "путь файла вместо каталога отчетов")

	f.StringVar(&reportReq.City, "city", "", "город")
	f.StringVar(&reportReq.ClientName, "client", "", "клиент")
	f.StringVar(&reportReq.CampaignName, "campaign", "", "название кампании")
	f.StringVar(&reportReq.StartDate, "start", "", "дата начала YYYY-MM-DD")
	f.StringVar(&reportReq.EndDate, "end", "", "дата окончания YYYY-MM-DD")
	f.StringVar(&reportReq.DailyHours, "daily-hours", "", "часы работы, например 08:00-20:00")
	f.Float64Var(&reportReq.TotalHours, "total-hours", 0, "общее число часов, если не задан период")
	f.Float64Var(&reportReq.VehicleSpeedKmh, "speed", 0, "средняя скорость, км/ч")
	f.Float64Var(&reportReq.StationingMinPerHour, "stationing", 0, "минут стоянки в час")
	f.IntVar(&reportReq.LoopDurationSeconds, "loop", 0, "длительность цикла показа, сек")
	f.IntVar(&reportReq.SpotDurationSeconds, "spot", 0, "длительность ролика, сек")
}

func runReport(cmd *cobra.Command, _ []string) error {
	format, ok := models.ParseReportFormat(reportFormat)
	if !ok {
		return fmt.Errorf("неподдерживаемый формат: %s", reportFormat)
	}

	req := reportReq
	if reportRequestFile != "" {
		raw, err := os.ReadFile(reportRequestFile)
		if err != nil {
			return err
		}
		req = models.CampaignReportRequest{}
		if err := json.Unmarshal(raw, &req); err != nil {
			return fmt.Errorf("некорректный файл запроса: %w", err)
		}
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if reportOut == "" {
		path, data, err := a.svc.Reports.GenerateCampaignReport(req, format)
		if err != nil {
			return err
		}
		a.log.Info().Str("city", req.City).Float64("impressions", data.EstimatedImpressions).Msg("report generated")
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	}

	data, err := a.svc.Reports.BuildCampaignReport(req)
	if err != nil {
		return err
	}
	f, err := os.Create(reportOut)
	if err != nil {
		return err
	}
	err = services.WriteCampaignReport(f, data, format)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(reportOut)
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), reportOut)
	return nil
}
