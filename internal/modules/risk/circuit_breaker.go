package risk

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coinpilot/coinpilot/internal/events"
	"github.com/coinpilot/coinpilot/internal/modules/portfolio"
	"github.com/coinpilot/coinpilot/internal/modules/settings"
	"github.com/coinpilot/coinpilot/internal/modules/trading"
)

// CircuitBreaker halts all automated buying when losses pass a hard ceiling.
// It only gates new automated BUYs; sells and protective exits always run.
type CircuitBreaker struct {
	trades *trading.TradeRepository
	events *events.Manager
	log    zerolog.Logger
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(trades *trading.TradeRepository, eventManager *events.Manager, log zerolog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		trades: trades,
		events: eventManager,
		log:    log.With().Str("service", "circuit_breaker").Logger(),
	}
}

// ShouldHaltAutomatedBuying checks the daily realized loss ratio and the
// cumulative drawdown from starting capital against their ceilings. It is
// consulted once before each batch of automated executions.
func (cb *CircuitBreaker) ShouldHaltAutomatedBuying(snapshot *portfolio.Snapshot, cfg settings.TradingConfig) (bool, string, error) {
	if snapshot.TotalValue.LessThanOrEqual(decimal.Zero) {
		return true, "portfolio value is zero", nil
	}

	pnl, err := cb.trades.RealizedPnLSince(midnight(time.Now()))
	if err != nil {
		return false, "", fmt.Errorf("failed to compute daily pnl: %w", err)
	}
	if pnl.IsNegative() {
		lossRatio := pnl.Neg().Div(snapshot.TotalValue)
		if lossRatio.GreaterThanOrEqual(cfg.DailyLossLimit) {
			reason := fmt.Sprintf("daily loss ratio %s%% reached limit %s%%",
				lossRatio.Mul(decimal.NewFromInt(100)).StringFixed(1),
				cfg.DailyLossLimit.Mul(decimal.NewFromInt(100)).StringFixed(1))
			cb.trip(reason)
			return true, reason, nil
		}
	}

	if cfg.StartingCapital.GreaterThan(decimal.Zero) {
		drawdown := cfg.StartingCapital.Sub(snapshot.TotalValue).Div(cfg.StartingCapital)
		if drawdown.GreaterThanOrEqual(cfg.MaxDrawdown) {
			reason := fmt.Sprintf("drawdown %s%% from starting capital reached limit %s%%",
				drawdown.Mul(decimal.NewFromInt(100)).StringFixed(1),
				cfg.MaxDrawdown.Mul(decimal.NewFromInt(100)).StringFixed(1))
			cb.trip(reason)
			return true, reason, nil
		}
	}

	return false, "", nil
}

func (cb *CircuitBreaker) trip(reason string) {
	cb.log.Warn().Str("reason", reason).Msg("Circuit breaker halting automated buying")
	cb.events.Emit(events.CircuitBreakerTripped, "risk", map[string]interface{}{
		"reason": reason,
	})
}
