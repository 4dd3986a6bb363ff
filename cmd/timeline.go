package cmd

import (
	"fmt"
	"os"

	"backend_dooh/models"

	"github.com/spf13/cobra"
)

var timelineCmd = &cobra.Command{
	Use:   "timeline <campaign-id>",
	Short: "Скомпилировать таймлайн кампании и выгрузить его",
	Long: `Компилирует кампанию в хронологию по автомобилям и пишет экспорт.

Без --out файл сохраняется в каталог отчетов, "-" выводит экспорт в stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: runTimeline,
}

var (
	timelineFormat string
	timelineOut    string
	timelineStore  bool
)

func init() {
	timelineCmd.Flags().StringVarP(&timelineFormat, "format", "f", "csv", "формат: csv, xlsx, pdf, json")
	timelineCmd.Flags().StringVarP(&timelineOut, "out", "o", "", "путь файла или - для stdout")
	timelineCmd.Flags().BoolVar(&timelineStore, "store", false, "сохранить строки таймлайна в кампании")
}

func runTimeline(cmd *cobra.Command, args []string) error {
	format, ok := models.ParseReportFormat(timelineFormat)
	if !ok {
		return fmt.Errorf("неподдерживаемый формат: %s", timelineFormat)
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	campaignID := args[0]
	if timelineStore {
		compiled, err := a.svc.Campaigns.StoreTimeline(campaignID)
		if err != nil {
			return err
		}
		a.log.Info().Str("campaign_id", campaignID).Int("rows", len(compiled.Rows)).Msg("timeline stored")
	}

	switch timelineOut {
	case "":
		path, err := a.svc.Reports.ExportTimelineFile(campaignID, format)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
	case "-":
		if _, err := a.svc.Reports.ExportTimeline(cmd.OutOrStdout(), campaignID, format); err != nil {
			return err
		}
	default:
		f, err := os.Create(timelineOut)
		if err != nil {
			return err
		}
		compiled, err := a.svc.Reports.ExportTimeline(f, campaignID, format)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(timelineOut)
			return err
		}
		for _, w := range compiled.Result.Warnings {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
		}
		fmt.Fprintln(cmd.OutOrStdout(), timelineOut)
	}
	return nil
}
