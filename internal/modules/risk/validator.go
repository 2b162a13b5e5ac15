// Package risk validates proposed trades against portfolio-level policy.
package risk

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coinpilot/coinpilot/internal/domain"
	"github.com/coinpilot/coinpilot/internal/modules/portfolio"
	"github.com/coinpilot/coinpilot/internal/modules/settings"
	"github.com/coinpilot/coinpilot/internal/modules/trading"
	"github.com/coinpilot/coinpilot/internal/monitoring"
)

// Request is a proposed trade submitted for validation
type Request struct {
	Symbol         string
	Side           trading.TradeSide
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	StopLoss       *decimal.Decimal
	ManualOverride bool
}

// Verdict is the outcome of a validation run. Under automation a failed
// check denies the trade outright; under manual override every failure is
// reported as a warning while Allowed stays true.
type Verdict struct {
	Allowed  bool     `json:"allowed"`
	Reason   string   `json:"reason,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validator runs the ordered policy checks for proposed trades. It reads
// portfolio and trade state but never mutates anything.
type Validator struct {
	trades      *trading.TradeRepository
	correlation domain.CorrelationProvider
	log         zerolog.Logger
}

// NewValidator creates a new risk validator
func NewValidator(trades *trading.TradeRepository, correlation domain.CorrelationProvider, log zerolog.Logger) *Validator {
	return &Validator{
		trades:      trades,
		correlation: correlation,
		log:         log.With().Str("service", "risk").Logger(),
	}
}

// Validate runs the policy checks against the given portfolio snapshot.
// SELL orders reduce exposure and are always allowed. BUY orders run eight
// checks in a fixed order; under automation the first failure short-circuits
// into a deny, under manual override all checks run and failures accumulate
// as warnings.
func (v *Validator) Validate(req Request, snapshot *portfolio.Snapshot, cfg settings.TradingConfig) Verdict {
	if req.Side == trading.SideSell {
		return Verdict{Allowed: true}
	}

	symbol := domain.NormalizeSymbol(req.Symbol)
	checks := []struct {
		name string
		run  func() (string, error)
	}{
		{"position_size", func() (string, error) { return v.checkPositionSize(req, snapshot, cfg) }},
		{"stop_loss_present", func() (string, error) { return v.checkStopLossPresent(req) }},
		{"stop_loss_width", func() (string, error) { return v.checkStopLossWidth(req, cfg) }},
		{"open_positions", func() (string, error) { return v.checkOpenPositions(symbol, snapshot, cfg) }},
		{"aggregate_risk", func() (string, error) { return v.checkAggregateRisk(req, snapshot, cfg) }},
		{"daily_loss_limit", func() (string, error) { return v.checkDailyLossLimit(snapshot, cfg) }},
		{"cooldown", func() (string, error) { return v.checkCooldown(symbol, cfg) }},
		{"correlation", func() (string, error) { return v.checkCorrelation(symbol, snapshot, cfg) }},
	}

	verdict := Verdict{Allowed: true}
	for _, check := range checks {
		failure, err := check.run()
		if err != nil {
			v.log.Error().Err(err).Str("symbol", symbol).Msg("Risk check failed to evaluate")
			failure = fmt.Sprintf("risk check unavailable: %v", err)
		}
		if failure == "" {
			continue
		}
		if req.ManualOverride {
			verdict.Warnings = append(verdict.Warnings, failure)
			continue
		}
		monitoring.RecordRiskDenial(check.name)
		verdict.Allowed = false
		verdict.Reason = failure
		return verdict
	}
	return verdict
}

// checkPositionSize caps the trade's cost as a fraction of portfolio value
func (v *Validator) checkPositionSize(req Request, snapshot *portfolio.Snapshot, cfg settings.TradingConfig) (string, error) {
	if snapshot.TotalValue.LessThanOrEqual(decimal.Zero) {
		return "portfolio value is zero, cannot size position", nil
	}
	cost := req.Quantity.Mul(req.Price)
	fraction := cost.Div(snapshot.TotalValue)
	if fraction.GreaterThan(cfg.MaxPositionFraction) {
		return fmt.Sprintf("position size %s%% of portfolio exceeds maximum %s%%",
			fraction.Mul(decimal.NewFromInt(100)).StringFixed(1),
			cfg.MaxPositionFraction.Mul(decimal.NewFromInt(100)).StringFixed(1)), nil
	}
	return "", nil
}

// checkStopLossPresent requires a protective stop on every automated buy
func (v *Validator) checkStopLossPresent(req Request) (string, error) {
	if req.StopLoss == nil {
		return "stop-loss is required for automated buys", nil
	}
	return "", nil
}

// checkStopLossWidth bounds how far below entry the stop may sit
func (v *Validator) checkStopLossWidth(req Request, cfg settings.TradingConfig) (string, error) {
	if req.StopLoss == nil {
		return "", nil
	}
	if req.StopLoss.GreaterThanOrEqual(req.Price) {
		return fmt.Sprintf("stop-loss %s must be below entry price %s",
			req.StopLoss.StringFixed(2), req.Price.StringFixed(2)), nil
	}
	width := req.Price.Sub(*req.StopLoss).Div(req.Price)
	if width.GreaterThan(cfg.MaxStopLossWidth) {
		return fmt.Sprintf("stop-loss width %s%% exceeds maximum %s%%",
			width.Mul(decimal.NewFromInt(100)).StringFixed(1),
			cfg.MaxStopLossWidth.Mul(decimal.NewFromInt(100)).StringFixed(1)), nil
	}
	return "", nil
}

// checkOpenPositions caps distinct holdings, adding to an existing one is fine
func (v *Validator) checkOpenPositions(symbol string, snapshot *portfolio.Snapshot, cfg settings.TradingConfig) (string, error) {
	if snapshot.Exposure(symbol).GreaterThan(decimal.Zero) {
		return "", nil
	}
	if snapshot.OpenPositions() >= cfg.MaxOpenPositions {
		return fmt.Sprintf("already holding %d positions, maximum is %d",
			snapshot.OpenPositions(), cfg.MaxOpenPositions), nil
	}
	return "", nil
}

// checkAggregateRisk caps total capital at risk across stops. Positions
// without a stop are counted at full cost basis.
func (v *Validator) checkAggregateRisk(req Request, snapshot *portfolio.Snapshot, cfg settings.TradingConfig) (string, error) {
	if snapshot.TotalValue.LessThanOrEqual(decimal.Zero) {
		return "portfolio value is zero, cannot assess aggregate risk", nil
	}

	atRisk := decimal.Zero
	for _, p := range snapshot.Positions {
		if p.StopLoss != nil && p.StopLoss.LessThan(p.AverageCost) {
			atRisk = atRisk.Add(p.AverageCost.Sub(*p.StopLoss).Mul(p.Quantity))
		} else if p.StopLoss == nil {
			atRisk = atRisk.Add(p.CostBasis())
		}
	}
	if req.StopLoss != nil && req.StopLoss.LessThan(req.Price) {
		atRisk = atRisk.Add(req.Price.Sub(*req.StopLoss).Mul(req.Quantity))
	} else {
		atRisk = atRisk.Add(req.Quantity.Mul(req.Price))
	}

	fraction := atRisk.Div(snapshot.TotalValue)
	if fraction.GreaterThan(cfg.MaxPortfolioRisk) {
		return fmt.Sprintf("aggregate portfolio risk %s%% exceeds maximum %s%%",
			fraction.Mul(decimal.NewFromInt(100)).StringFixed(1),
			cfg.MaxPortfolioRisk.Mul(decimal.NewFromInt(100)).StringFixed(1)), nil
	}
	return "", nil
}

// checkDailyLossLimit blocks new buys once today's realized losses hit the cap
func (v *Validator) checkDailyLossLimit(snapshot *portfolio.Snapshot, cfg settings.TradingConfig) (string, error) {
	pnl, err := v.trades.RealizedPnLSince(midnight(time.Now()))
	if err != nil {
		return "", err
	}
	if pnl.GreaterThanOrEqual(decimal.Zero) || snapshot.TotalValue.LessThanOrEqual(decimal.Zero) {
		return "", nil
	}
	lossFraction := pnl.Neg().Div(snapshot.TotalValue)
	if lossFraction.GreaterThanOrEqual(cfg.DailyLossLimit) {
		return fmt.Sprintf("daily realized loss %s%% has reached the limit %s%%",
			lossFraction.Mul(decimal.NewFromInt(100)).StringFixed(1),
			cfg.DailyLossLimit.Mul(decimal.NewFromInt(100)).StringFixed(1)), nil
	}
	return "", nil
}

// checkCooldown enforces a per-symbol minimum interval between trades
func (v *Validator) checkCooldown(symbol string, cfg settings.TradingConfig) (string, error) {
	last, err := v.trades.LastTradeTime(symbol)
	if err != nil {
		return "", err
	}
	if last == nil {
		return "", nil
	}
	elapsed := time.Since(*last)
	if elapsed < cfg.TradeCooldown {
		return fmt.Sprintf("%s traded %s ago, cooldown is %s",
			symbol, elapsed.Round(time.Second), cfg.TradeCooldown), nil
	}
	return "", nil
}

// checkCorrelation rejects candidates that duplicate existing exposure
func (v *Validator) checkCorrelation(symbol string, snapshot *portfolio.Snapshot, cfg settings.TradingConfig) (string, error) {
	for _, p := range snapshot.Positions {
		if p.Symbol == symbol {
			continue
		}
		coeff, ok := v.correlation.Correlation(symbol, p.Symbol)
		if !ok {
			continue
		}
		if coeff >= cfg.CorrelationThreshold {
			return fmt.Sprintf("%s is highly correlated with held position %s (%.2f)",
				symbol, p.Symbol, coeff), nil
		}
	}
	return "", nil
}

// midnight returns the start of the given time's day in local time
func midnight(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
