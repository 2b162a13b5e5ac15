// Coinpilot is a paper-trading automation engine: it turns incoming trade
// recommendations into simulated fills against live market prices, enforces
// risk policy, and protects open positions with stop-loss and take-profit
// monitoring.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coinpilot/coinpilot/internal/config"
	"github.com/coinpilot/coinpilot/internal/di"
	"github.com/coinpilot/coinpilot/internal/scheduler"
	"github.com/coinpilot/coinpilot/internal/server"
	"github.com/coinpilot/coinpilot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("Failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Int("port", cfg.Port).
		Str("data_dir", cfg.DataDir).
		Bool("dev_mode", cfg.DevMode).
		Msg("Starting Coinpilot")

	ctx := context.Background()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Config{
		Log:     log,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,

		LedgerDB:  container.LedgerDB,
		SignalsDB: container.SignalsDB,
		ConfigDB:  container.ConfigDB,
		HistoryDB: container.HistoryDB,

		Portfolio:       container.PortfolioService,
		Recommendations: container.RecommendationService,
		Approvals:       container.ApprovalProcessor,
		Monitor:         container.MonitorService,
		Trades:          container.TradeRepo,
		AuditLog:        container.AuditLogRepo,
		Settings:        container.SettingsRepo,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sched := scheduler.New(log)

	recommendationJob := &scheduler.RecommendationCycleJob{
		Approvals:       container.ApprovalProcessor,
		Recommendations: container.RecommendationService,
	}
	if err := sched.AddJob(cfg.RecommendationSchedule, recommendationJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule recommendation cycle")
	}

	monitorJob := &scheduler.MonitorCycleJob{Monitor: container.MonitorService}
	if err := sched.AddJob(cfg.MonitorSchedule, monitorJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule position monitor")
	}

	maintenanceJob := &scheduler.MaintenanceJob{History: container.HistoryRepo}
	if err := sched.AddJob(cfg.MaintenanceSchedule, maintenanceJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule history maintenance")
	}

	if container.BackupService != nil {
		backupJob := &scheduler.BackupJob{Backup: container.BackupService}
		if err := sched.AddJob(cfg.BackupSchedule, backupJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule ledger backup")
		}
		log.Info().Str("schedule", cfg.BackupSchedule).Msg("Off-site backups enabled")
	} else {
		log.Info().Msg("Off-site backups not configured")
	}

	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Coinpilot stopped")
}
