// Package di provides dependency injection wiring for the application.
package di

import (
	"github.com/coinpilot/coinpilot/internal/database"
	"github.com/coinpilot/coinpilot/internal/domain"
	"github.com/coinpilot/coinpilot/internal/events"
	"github.com/coinpilot/coinpilot/internal/modules/approvals"
	"github.com/coinpilot/coinpilot/internal/modules/auditlog"
	"github.com/coinpilot/coinpilot/internal/modules/history"
	"github.com/coinpilot/coinpilot/internal/modules/monitor"
	"github.com/coinpilot/coinpilot/internal/modules/portfolio"
	"github.com/coinpilot/coinpilot/internal/modules/recommendations"
	"github.com/coinpilot/coinpilot/internal/modules/risk"
	"github.com/coinpilot/coinpilot/internal/modules/settings"
	"github.com/coinpilot/coinpilot/internal/modules/trading"
	"github.com/coinpilot/coinpilot/internal/reliability"
)

// Container holds all application dependencies. It is created by Wire and
// is the single source of truth for service instances.
type Container struct {
	// Databases
	LedgerDB  *database.DB // Portfolio state and immutable audit trail
	SignalsDB *database.DB // Recommendations and approval requests
	ConfigDB  *database.DB // Settings
	HistoryDB *database.DB // Price observations

	// Clients
	PriceFeed domain.PriceFeed

	// Repositories
	PortfolioRepo       *portfolio.Repository
	TradeRepo           *trading.TradeRepository
	RecommendationRepo  *recommendations.Repository
	ApprovalRepo        *approvals.Repository
	AuditLogRepo        *auditlog.Repository
	SettingsRepo        *settings.Repository
	HistoryRepo         *history.Repository

	// Services
	EventManager           *events.Manager
	SettingsService        *settings.Service
	PortfolioService       *portfolio.Service
	Executor               *trading.Executor
	Validator              *risk.Validator
	CircuitBreaker         *risk.CircuitBreaker
	RecommendationService  *recommendations.Service
	ApprovalProcessor      *approvals.Processor
	MonitorService         *monitor.Service
	BackupService          *reliability.BackupService
}

// Close closes all database connections
func (c *Container) Close() {
	for _, db := range []*database.DB{c.LedgerDB, c.SignalsDB, c.ConfigDB, c.HistoryDB} {
		if db != nil {
			db.Close()
		}
	}
}

// Databases returns every open database, used by the backup service
func (c *Container) Databases() []*database.DB {
	return []*database.DB{c.LedgerDB, c.SignalsDB, c.ConfigDB, c.HistoryDB}
}
