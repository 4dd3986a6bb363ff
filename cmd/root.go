package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dooh",
	Short: "Локальный бэкенд парка рекламных автомобилей",
	Long: `dooh хранит автопарк, водителей, документы и кампании,
строит таймлайны показов и обновляет демографию городов.

Без подкоманды запускается локальный API (serve).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(
		serveCmd,
		migrateCmd,
		timelineCmd,
		refreshCitiesCmd,
		checkDocumentsCmd,
		reportCmd,
	)
}

// Execute запускает CLI; код выхода 1 при ошибке команды
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
