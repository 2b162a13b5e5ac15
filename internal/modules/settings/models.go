package settings

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinpilot/coinpilot/internal/domain"
)

// TradingConfig is the per-deployment trading policy in effect for one
// engine cycle. It is loaded from the settings table at the start of each
// cycle and passed explicitly into every engine call, so behavior is
// deterministic and testable without a backing store.
type TradingConfig struct {
	// Execution policy
	AutoExecute         bool
	RequireApproval     bool
	ConfidenceThreshold float64

	// Sizing
	SizingStrategy      domain.SizingStrategy
	MaxPositionFraction decimal.Decimal

	// Exits
	ExitStrategy         domain.ExitStrategy
	AutoStopLoss         bool
	TrailingStopFraction decimal.Decimal

	// Risk limits
	MaxStopLossWidth       decimal.Decimal // max fraction below entry
	MaxOpenPositions       int
	MaxPortfolioRisk       decimal.Decimal
	DailyLossLimit         decimal.Decimal // fraction of portfolio value
	MaxDrawdown            decimal.Decimal // fraction of starting capital
	CorrelationThreshold   float64
	TradeCooldown          time.Duration
	StartingCapital        decimal.Decimal

	// Venue simulation
	FeeRate         decimal.Decimal
	DefaultSlippage decimal.Decimal

	// Lifecycle windows
	ApprovalTTL           time.Duration
	RecommendationMaxAge  time.Duration
}

// DefaultTradingConfig returns the policy used when no settings are stored
func DefaultTradingConfig() TradingConfig {
	return TradingConfig{
		AutoExecute:         true,
		RequireApproval:     false,
		ConfidenceThreshold: 70,

		SizingStrategy:      domain.SizingEqual,
		MaxPositionFraction: decimal.NewFromFloat(0.10),

		ExitStrategy:         domain.ExitPartial,
		AutoStopLoss:         true,
		TrailingStopFraction: decimal.NewFromFloat(0.05),

		MaxStopLossWidth:     decimal.NewFromFloat(0.10),
		MaxOpenPositions:     8,
		MaxPortfolioRisk:     decimal.NewFromFloat(0.15),
		DailyLossLimit:       decimal.NewFromFloat(0.03),
		MaxDrawdown:          decimal.NewFromFloat(0.20),
		CorrelationThreshold: 0.80,
		TradeCooldown:        30 * time.Minute,
		StartingCapital:      decimal.NewFromInt(10000),

		FeeRate:         decimal.NewFromFloat(0.001),
		DefaultSlippage: decimal.NewFromFloat(0.0005),

		ApprovalTTL:          time.Hour,
		RecommendationMaxAge: 24 * time.Hour,
	}
}

// Service loads typed trading configuration from the settings repository
type Service struct {
	repo *Repository
}

// NewService creates a new settings service
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// LoadTradingConfig builds a TradingConfig snapshot from stored settings,
// falling back to defaults for any key that is missing or unparseable.
func (s *Service) LoadTradingConfig() (TradingConfig, error) {
	cfg := DefaultTradingConfig()

	var err error
	if cfg.AutoExecute, err = s.repo.GetBool("auto_execute", cfg.AutoExecute); err != nil {
		return cfg, fmt.Errorf("failed to load trading config: %w", err)
	}

	// Remaining keys share the same failure mode; repository getters only
	// return errors on query failure, so a single check above suffices for
	// detecting a broken settings store.
	cfg.RequireApproval, _ = s.repo.GetBool("require_approval", cfg.RequireApproval)
	cfg.ConfidenceThreshold, _ = s.repo.GetFloat("confidence_threshold", cfg.ConfidenceThreshold)

	if v, _ := s.repo.Get("sizing_strategy"); v != nil {
		switch domain.SizingStrategy(*v) {
		case domain.SizingEqual, domain.SizingConfidenceWeighted:
			cfg.SizingStrategy = domain.SizingStrategy(*v)
		}
	}
	cfg.MaxPositionFraction, _ = s.repo.GetDecimal("max_position_fraction", cfg.MaxPositionFraction)

	if v, _ := s.repo.Get("exit_strategy"); v != nil && domain.ExitStrategy(*v).IsValid() {
		cfg.ExitStrategy = domain.ExitStrategy(*v)
	}
	cfg.AutoStopLoss, _ = s.repo.GetBool("auto_stop_loss", cfg.AutoStopLoss)
	cfg.TrailingStopFraction, _ = s.repo.GetDecimal("trailing_stop_fraction", cfg.TrailingStopFraction)

	cfg.MaxStopLossWidth, _ = s.repo.GetDecimal("max_stop_width_fraction", cfg.MaxStopLossWidth)
	cfg.MaxOpenPositions, _ = s.repo.GetInt("max_open_positions", cfg.MaxOpenPositions)
	cfg.MaxPortfolioRisk, _ = s.repo.GetDecimal("max_portfolio_risk_fraction", cfg.MaxPortfolioRisk)
	cfg.DailyLossLimit, _ = s.repo.GetDecimal("daily_loss_limit_fraction", cfg.DailyLossLimit)
	cfg.MaxDrawdown, _ = s.repo.GetDecimal("max_drawdown_fraction", cfg.MaxDrawdown)
	cfg.CorrelationThreshold, _ = s.repo.GetFloat("correlation_threshold", cfg.CorrelationThreshold)
	cfg.StartingCapital, _ = s.repo.GetDecimal("starting_capital", cfg.StartingCapital)

	if minutes, _ := s.repo.GetInt("trade_cooldown_minutes", int(cfg.TradeCooldown.Minutes())); minutes > 0 {
		cfg.TradeCooldown = time.Duration(minutes) * time.Minute
	}
	if minutes, _ := s.repo.GetInt("approval_ttl_minutes", int(cfg.ApprovalTTL.Minutes())); minutes > 0 {
		cfg.ApprovalTTL = time.Duration(minutes) * time.Minute
	}
	if hours, _ := s.repo.GetInt("recommendation_max_age_hours", int(cfg.RecommendationMaxAge.Hours())); hours > 0 {
		cfg.RecommendationMaxAge = time.Duration(hours) * time.Hour
	}

	cfg.FeeRate, _ = s.repo.GetDecimal("fee_rate", cfg.FeeRate)
	cfg.DefaultSlippage, _ = s.repo.GetDecimal("default_slippage_fraction", cfg.DefaultSlippage)

	return cfg, nil
}

// Snapshot returns the config as a flat map for audit logging
func (c TradingConfig) Snapshot() map[string]string {
	return map[string]string{
		"auto_execute":                fmt.Sprintf("%t", c.AutoExecute),
		"require_approval":            fmt.Sprintf("%t", c.RequireApproval),
		"confidence_threshold":        fmt.Sprintf("%.1f", c.ConfidenceThreshold),
		"sizing_strategy":             string(c.SizingStrategy),
		"max_position_fraction":       c.MaxPositionFraction.String(),
		"exit_strategy":               string(c.ExitStrategy),
		"auto_stop_loss":              fmt.Sprintf("%t", c.AutoStopLoss),
		"trailing_stop_fraction":      c.TrailingStopFraction.String(),
		"max_stop_width_fraction":     c.MaxStopLossWidth.String(),
		"max_open_positions":          fmt.Sprintf("%d", c.MaxOpenPositions),
		"max_portfolio_risk_fraction": c.MaxPortfolioRisk.String(),
		"daily_loss_limit_fraction":   c.DailyLossLimit.String(),
		"max_drawdown_fraction":       c.MaxDrawdown.String(),
		"correlation_threshold":       fmt.Sprintf("%.2f", c.CorrelationThreshold),
		"trade_cooldown":              c.TradeCooldown.String(),
		"starting_capital":            c.StartingCapital.String(),
		"fee_rate":                    c.FeeRate.String(),
		"default_slippage_fraction":   c.DefaultSlippage.String(),
		"approval_ttl":                c.ApprovalTTL.String(),
		"recommendation_max_age":      c.RecommendationMaxAge.String(),
	}
}
