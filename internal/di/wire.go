package di

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coinpilot/coinpilot/internal/clients/marketdata"
	"github.com/coinpilot/coinpilot/internal/config"
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

// Wire builds the full dependency graph. Construction order matters:
// databases, then repositories, then services that compose them.
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, err
	}

	c.EventManager = events.NewManager(log)
	c.PriceFeed = marketdata.NewClient(cfg.MarketDataURL, log)

	// Repositories
	c.PortfolioRepo = portfolio.NewRepository(c.LedgerDB.Conn(), log)
	c.TradeRepo = trading.NewTradeRepository(c.LedgerDB.Conn(), log)
	c.AuditLogRepo = auditlog.NewRepository(c.LedgerDB.Conn(), log)
	c.RecommendationRepo = recommendations.NewRepository(c.SignalsDB.Conn(), log)
	c.ApprovalRepo = approvals.NewRepository(c.SignalsDB.Conn(), log)
	c.SettingsRepo = settings.NewRepository(c.ConfigDB.Conn(), log)
	c.HistoryRepo = history.NewRepository(c.HistoryDB.Conn(), log)

	// Services
	c.SettingsService = settings.NewService(c.SettingsRepo)
	c.PortfolioService = portfolio.NewService(c.PortfolioRepo, c.PriceFeed, log)
	c.Executor = trading.NewExecutor(c.LedgerDB, c.PortfolioRepo, c.TradeRepo, c.PriceFeed, c.EventManager, log)

	correlations := risk.NewHistoryCorrelationProvider(c.HistoryRepo, log)
	c.Validator = risk.NewValidator(c.TradeRepo, correlations, log)
	c.CircuitBreaker = risk.NewCircuitBreaker(c.TradeRepo, c.EventManager, log)

	c.RecommendationService = recommendations.NewService(
		c.RecommendationRepo,
		c.ApprovalRepo,
		c.PortfolioService,
		c.Validator,
		c.CircuitBreaker,
		c.Executor,
		c.AuditLogRepo,
		c.SettingsService,
		c.EventManager,
		log,
	)

	c.ApprovalProcessor = approvals.NewProcessor(
		c.ApprovalRepo,
		c.RecommendationRepo,
		c.Executor,
		c.AuditLogRepo,
		c.SettingsService,
		c.EventManager,
		log,
	)

	c.MonitorService = monitor.NewService(
		c.PortfolioRepo,
		c.Executor,
		c.PriceFeed,
		c.AuditLogRepo,
		c.HistoryRepo,
		c.SettingsService,
		c.EventManager,
		log,
	)
	c.MonitorService.SetLadderLookup(ladderLookup(c.TradeRepo, c.RecommendationRepo))

	if cfg.Backup.Enabled() {
		s3, err := reliability.NewS3Client(ctx, reliability.S3Config{
			Endpoint:  cfg.Backup.Endpoint,
			Region:    cfg.Backup.Region,
			Bucket:    cfg.Backup.Bucket,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
		})
		if err != nil {
			c.Close()
			return nil, err
		}
		c.BackupService = reliability.NewBackupService(s3, c.Databases(), cfg.DataDir, cfg.Backup.Keep, c.EventManager, log)
	}

	log.Info().Msg("Dependency injection complete")
	return c, nil
}

// ladderLookup resolves the second take-profit rung for a symbol from the
// recommendation that opened the position. Used after a partial exit to
// decide where the remainder should be sold.
func ladderLookup(trades *trading.TradeRepository, recs *recommendations.Repository) monitor.LadderLookup {
	return func(symbol string) *decimal.Decimal {
		recent, err := trades.GetBySymbol(symbol, 20)
		if err != nil {
			return nil
		}
		for _, trade := range recent {
			if trade.Side != trading.SideBuy || trade.RecommendationID == nil {
				continue
			}
			rec, err := recs.GetByID(*trade.RecommendationID)
			if err != nil || rec == nil {
				return nil
			}
			return rec.TakeProfit2
		}
		return nil
	}
}
