package cmd

import (
	"fmt"

	"backend_dooh/services"

	"github.com/spf13/cobra"
)

var refreshCitiesCmd = &cobra.Command{
	Use:   "refresh-cities [city...]",
	Short: "Обновить демографию городов из внешних источников",
	Long: `Обновляет перечисленные города, без аргументов все города.

Изменения в пределах допуска применяются сразу, остальные ждут подтверждения.
С --accept ожидающие предложения подтверждаются без вопросов.`,
	RunE: runRefreshCities,
}

var (
	refreshSource string
	refreshAccept bool
	refreshNotify bool
)

func init() {
	refreshCitiesCmd.Flags().StringVar(&refreshSource, "source", "", "взять данные только из этого источника (Public, INS, BRAT)")
	refreshCitiesCmd.Flags().BoolVar(&refreshAccept, "accept", false, "подтвердить предложения, требующие подтверждения")
	refreshCitiesCmd.Flags().BoolVar(&refreshNotify, "notify", false, "отправить итоги в Telegram")
}

func runRefreshCities(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cities := args
	if len(cities) == 0 {
		if cities, err = a.svc.Cities.Names(); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	results := make([]*services.RefreshResult, 0, len(cities))
	for _, city := range cities {
		var res *services.RefreshResult
		if refreshSource != "" {
			res, err = a.svc.Refresh.RefreshFrom(ctx, city, refreshSource)
		} else {
			res, err = a.svc.Refresh.Refresh(ctx, city)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", city, err)
		}

		if refreshAccept && res.Status == services.RefreshNeedsConfirmation {
			if res.Proposal == nil || res.Proposal.Candidate == nil {
				fmt.Fprintf(out, "%s: nothing to accept, run with --source\n", res.City)
			} else if res, err = a.svc.Refresh.Confirm(ctx, city); err != nil {
				return fmt.Errorf("%s: %w", city, err)
			}
		}

		fmt.Fprintln(out, res.String())
		for _, fe := range res.SourceErrors {
			fmt.Fprintf(out, "  %v\n", fe)
		}
		results = append(results, res)
	}

	if refreshNotify && len(results) > 0 {
		return a.notifier.Notify(ctx, services.FormatRefreshSummary(results))
	}
	return nil
}
