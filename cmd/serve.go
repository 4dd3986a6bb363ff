package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend_dooh/api"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить локальный API и планировщик",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var (
	serveAddr        string
	serveNoScheduler bool
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "адрес прослушивания, по умолчанию APP_HOST:APP_PORT")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "не запускать фоновые задачи")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	a.cfg.LogConfig(a.log)

	if a.cfg.Scheduler.Enabled && !serveNoScheduler {
		if err := a.svc.Scheduler.ScheduleDocumentCheck(a.cfg.Scheduler.DocumentCheckSpec); err != nil {
			return err
		}
		if err := a.svc.Scheduler.ScheduleCityRefresh(a.cfg.Scheduler.CityRefreshSpec); err != nil {
			return err
		}
		a.svc.Scheduler.Start()
		defer a.svc.Scheduler.Stop()
	} else {
		a.svc.Scheduler = nil
	}

	router, err := api.SetupRouter(a.cfg, a.svc, a.log)
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr = net.JoinHostPort(a.cfg.App.Host, a.cfg.App.Port)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", addr).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
