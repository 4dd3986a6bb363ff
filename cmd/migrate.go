package cmd

import (
	"fmt"
	"text/tabwriter"

	"backend_dooh/config"
	"backend_dooh/database"
	"backend_dooh/logger"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Применить миграции схемы и показать журнал",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var migrateOptimize bool

func init() {
	migrateCmd.Flags().BoolVar(&migrateOptimize, "optimize", false, "после миграций выполнить ANALYZE и VACUUM")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	log := logger.New(cfg.App.Env, cfg.Logging.Format, cfg.Logging.Level)

	// ConnectDatabase применяет отложенные миграции
	db, err := database.ConnectDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if migrateOptimize {
		if err := database.OptimizeDatabase(db, log); err != nil {
			return err
		}
	}

	applied, err := database.AppliedMigrations(db)
	if err != nil {
		return err
	}
	version, err := database.CurrentVersion(db)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED\tNOTE")
	for _, m := range applied {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", m.Version, m.Name, m.AppliedAt.Format("2006-01-02 15:04"), m.DataLossNote)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "schema version: %d\n", version)
	return nil
}
