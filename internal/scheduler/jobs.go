package scheduler

import (
	"context"
	"time"

	"github.com/coinpilot/coinpilot/internal/modules/approvals"
	"github.com/coinpilot/coinpilot/internal/modules/history"
	"github.com/coinpilot/coinpilot/internal/modules/monitor"
	"github.com/coinpilot/coinpilot/internal/modules/recommendations"
	"github.com/coinpilot/coinpilot/internal/monitoring"
)

const cycleTimeout = 2 * time.Minute

// RecommendationCycleJob processes approvals then pending recommendations.
// Approvals run first so expired requests are swept before new ones are
// created in the same tick.
type RecommendationCycleJob struct {
	Approvals       *approvals.Processor
	Recommendations *recommendations.Service
}

// Name implements Job
func (j *RecommendationCycleJob) Name() string {
	return "recommendation_cycle"
}

// Run implements Job
func (j *RecommendationCycleJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()

	started := time.Now()
	defer func() {
		monitoring.ObserveCycle("recommendations", time.Since(started).Seconds())
	}()

	approvalResult, err := j.Approvals.RunCycle(ctx)
	if err != nil {
		monitoring.RecordError("approvals")
		return err
	}
	monitoring.RecordRecommendationOutcome("approval_executed", approvalResult.Executed)
	monitoring.RecordRecommendationOutcome("approval_expired", approvalResult.Expired)

	result, err := j.Recommendations.RunCycle(ctx)
	if err != nil {
		monitoring.RecordError("recommendations")
		return err
	}
	monitoring.RecordRecommendationOutcome("executed", result.Executed)
	monitoring.RecordRecommendationOutcome("queued", result.Queued)
	monitoring.RecordRecommendationOutcome("rejected", result.Rejected)
	monitoring.RecordRecommendationOutcome("expired", int(result.Expired))
	return nil
}

// MonitorCycleJob checks every open position against its protection levels
type MonitorCycleJob struct {
	Monitor *monitor.Service
}

// Name implements Job
func (j *MonitorCycleJob) Name() string {
	return "position_monitor"
}

// Run implements Job
func (j *MonitorCycleJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()

	started := time.Now()
	defer func() {
		monitoring.ObserveCycle("monitor", time.Since(started).Seconds())
	}()

	if _, err := j.Monitor.RunCycle(ctx); err != nil {
		monitoring.RecordError("monitor")
		return err
	}
	return nil
}

// priceHistoryRetention must exceed the correlation lookback window (90 days)
// or the empirical estimate would starve itself of return history.
const priceHistoryRetention = 180 * 24 * time.Hour

// MaintenanceJob prunes price observations past the retention window.
// Scheduled daily.
type MaintenanceJob struct {
	History *history.Repository
}

// Name implements Job
func (j *MaintenanceJob) Name() string {
	return "history_maintenance"
}

// Run implements Job
func (j *MaintenanceJob) Run() error {
	if err := j.History.Prune(time.Now().Add(-priceHistoryRetention)); err != nil {
		monitoring.RecordError("maintenance")
		return err
	}
	return nil
}

// BackupRunner is implemented by the ledger backup service
type BackupRunner interface {
	Run(ctx context.Context) error
}

// BackupJob snapshots the databases and uploads them to object storage
type BackupJob struct {
	Backup BackupRunner
}

// Name implements Job
func (j *BackupJob) Name() string {
	return "ledger_backup"
}

// Run implements Job
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	started := time.Now()
	defer func() {
		monitoring.ObserveCycle("backup", time.Since(started).Seconds())
	}()

	if err := j.Backup.Run(ctx); err != nil {
		monitoring.RecordError("backup")
		return err
	}
	return nil
}
