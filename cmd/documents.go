package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"backend_dooh/models"
	"backend_dooh/services"

	"github.com/spf13/cobra"
)

var checkDocumentsCmd = &cobra.Command{
	Use:   "check-documents",
	Short: "Проверить сроки действия документов",
	Args:  cobra.NoArgs,
	RunE:  runCheckDocuments,
}

var (
	checkDate   string
	checkNotify bool
	checkJSON   bool
)

func init() {
	checkDocumentsCmd.Flags().StringVar(&checkDate, "date", "", "дата проверки YYYY-MM-DD, по умолчанию сегодня")
	checkDocumentsCmd.Flags().BoolVar(&checkNotify, "notify", false, "отправить оповещение при наличии проблем")
	checkDocumentsCmd.Flags().BoolVar(&checkJSON, "json", false, "вывести отчет в JSON")
}

func runCheckDocuments(cmd *cobra.Command, _ []string) error {
	today := time.Now()
	if checkDate != "" {
		d, err := models.ParseDate(checkDate)
		if err != nil {
			return fmt.Errorf("некорректная дата: %w", err)
		}
		today = d
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.svc.Documents.ExpiryReport(today)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if checkJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printExpiryReport(out, report)
	}

	if checkNotify && report.HasAlerts() {
		return a.notifier.Notify(cmd.Context(), services.FormatExpiryAlert(report))
	}
	return nil
}

func printExpiryReport(w io.Writer, report *services.ExpiryReport) {
	fmt.Fprintf(w, "%s: valid %d, expiring %d (window %d days), expired %d\n",
		report.Date,
		report.Counts[services.ExpiryValid],
		report.Counts[services.ExpiryExpiring],
		report.Window,
		report.Counts[services.ExpiryExpired],
	)
	for _, it := range report.Expired {
		fmt.Fprintf(w, "  EXPIRED   %s  %s  %s\n", it.ExpiryDate, it.EntityName, it.Type)
	}
	for _, it := range report.Expiring {
		fmt.Fprintf(w, "  EXPIRING  %s  %s  %s (%d days)\n", it.ExpiryDate, it.EntityName, it.Type, it.DaysLeft)
	}
}
