package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/table-ledger/api"
	"github.com/warp/table-ledger/billing"
	"github.com/warp/table-ledger/config"
	"github.com/warp/table-ledger/logging"
	"github.com/warp/table-ledger/metrics"
	"github.com/warp/table-ledger/store/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads .env and the environment, then applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagPort != 0 {
		cfg.App.Port = flagPort
	}
	if flagDB != "" {
		cfg.DB.Path = flagDB
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newEngine(cfg *config.Config, store billing.TxStore, logger *slog.Logger) *billing.Engine {
	engine := billing.NewEngine(store)
	engine.Locks = billing.NewCustomerLocks(cfg.LockTimeout)
	engine.Logger = logger
	engine.Observer = metrics.NewObserver()
	return engine
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.SlogLevel())

	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	handler := api.NewHandler(store, newEngine(cfg, store, logger))
	handler.Logger = logger
	handler.Accepted = cfg.AcceptsMethod

	if err := handler.LoadRateCards(cmd.Context()); err != nil {
		logger.Warn("failed to load rate cards", slog.String("error", err.Error()))
	}

	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.App.CORSOrigins,
		AccessLog:   os.Stdout,
	})

	scheduler := api.NewAuditScheduler(handler.Auditor, logger)
	scheduler.Enabled = cfg.Audit.Enabled
	scheduler.Interval = cfg.Audit.Interval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", fmt.Sprintf("http://localhost:%d", cfg.App.Port)),
			slog.String("db", cfg.DB.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
