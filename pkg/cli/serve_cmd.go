package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"labelsync/internal/app"
	"labelsync/internal/db"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload API and run scheduled jobs",
		Long:  "Serves the HTTP API and, when JOBS_PATH is set, runs jobs on their cron schedules until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr = listen
			}

			ledger, err := db.OpenLedger(cfg.LedgerDBPath)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer ledger.Close() //nolint:errcheck

			a, err := app.New(app.Deps{Cfg: cfg, Ledger: ledger, Logger: logger})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			router, err := a.Router(ctx)
			if err != nil {
				return err
			}

			if a.Scheduler != nil {
				if err := a.Scheduler.Start(); err != nil {
					return fmt.Errorf("start scheduler: %w", err)
				}
			}

			srv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("HTTP API listening", "addr", cfg.ListenAddr, "ledger", cfg.LedgerDBPath)
				errCh <- srv.ListenAndServe()
			}()

			var serveErr error
			select {
			case <-ctx.Done():
				logger.Info("shutting down")
			case serveErr = <-errCh:
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if a.Scheduler != nil {
				a.Scheduler.Stop(shutdownCtx)
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", "error", err)
			}
			if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				return fmt.Errorf("serve: %w", serveErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default LISTEN_ADDR or :8080)")
	return cmd
}
