// Package monitor watches open positions and fires protective exits.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coinpilot/coinpilot/internal/domain"
	"github.com/coinpilot/coinpilot/internal/events"
	"github.com/coinpilot/coinpilot/internal/modules/auditlog"
	"github.com/coinpilot/coinpilot/internal/modules/history"
	"github.com/coinpilot/coinpilot/internal/modules/portfolio"
	"github.com/coinpilot/coinpilot/internal/modules/settings"
	"github.com/coinpilot/coinpilot/internal/modules/trading"
)

// CycleResult summarizes one monitoring pass
type CycleResult struct {
	Positions     int `json:"positions"`
	StopLosses    int `json:"stop_losses"`
	TakeProfits   int `json:"take_profits"`
	TrailingMoves int `json:"trailing_moves"`
	Errors        int `json:"errors"`
}

// Service checks every open holding against its protection levels once per
// cycle. Stop-loss is evaluated before take-profit for every position;
// capital preservation outranks profit taking. The service only reads
// portfolio state and delegates all mutation to the executor, except for
// protection-level adjustments which carry no cash movement.
type Service struct {
	portfolio    *portfolio.Repository
	executor     *trading.Executor
	feed         domain.PriceFeed
	auditLog     *auditlog.Repository
	history      *history.Repository
	settings     *settings.Service
	events       *events.Manager
	ladderLookup LadderLookup
	log          zerolog.Logger
}

// LadderLookup resolves the next take-profit ladder level for a symbol,
// or nil when the position has no further target.
type LadderLookup func(symbol string) *decimal.Decimal

// NewService creates a new position monitor
func NewService(
	portfolioRepo *portfolio.Repository,
	executor *trading.Executor,
	feed domain.PriceFeed,
	auditLog *auditlog.Repository,
	historyRepo *history.Repository,
	settingsService *settings.Service,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Service {
	return &Service{
		portfolio: portfolioRepo,
		executor:  executor,
		feed:      feed,
		auditLog:  auditLog,
		history:   historyRepo,
		settings:  settingsService,
		events:    eventManager,
		log:       log.With().Str("service", "monitor").Logger(),
	}
}

// SetLadderLookup installs the resolver for second-rung take-profit levels
func (s *Service) SetLadderLookup(lookup LadderLookup) {
	s.ladderLookup = lookup
}

// RunCycle evaluates all open positions once
func (s *Service) RunCycle(ctx context.Context) (*CycleResult, error) {
	cfg, err := s.settings.LoadTradingConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load trading config: %w", err)
	}

	holdings, err := s.portfolio.GetAllHoldings()
	if err != nil {
		return nil, err
	}

	result := &CycleResult{Positions: len(holdings)}
	for i := range holdings {
		if err := s.checkPosition(ctx, &holdings[i], cfg, result); err != nil {
			result.Errors++
			s.log.Error().Err(err).Str("symbol", holdings[i].Symbol).
				Msg("Position check failed")
		}
	}

	s.log.Info().
		Int("positions", result.Positions).
		Int("stop_losses", result.StopLosses).
		Int("take_profits", result.TakeProfits).
		Int("trailing_moves", result.TrailingMoves).
		Int("errors", result.Errors).
		Msg("Monitor cycle complete")
	return result, nil
}

func (s *Service) checkPosition(ctx context.Context, h *portfolio.Holding,
	cfg settings.TradingConfig, result *CycleResult) error {

	price, err := s.feed.GetCurrentPrice(ctx, h.Symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch price: %w", err)
	}

	if err := s.history.Record(h.Symbol, price, time.Now()); err != nil {
		s.log.Warn().Err(err).Str("symbol", h.Symbol).Msg("Failed to record price observation")
	}

	// Stop-loss always wins; a triggered stop closes the position and ends
	// this position's cycle.
	if h.StopLoss != nil && price.LessThanOrEqual(*h.StopLoss) {
		if err := s.triggerStopLoss(ctx, h, price, cfg); err != nil {
			return err
		}
		result.StopLosses++
		return nil
	}

	switch cfg.ExitStrategy {
	case domain.ExitFull:
		if h.TakeProfit != nil && price.GreaterThanOrEqual(*h.TakeProfit) {
			if err := s.takeProfitFull(ctx, h, price, cfg); err != nil {
				return err
			}
			result.TakeProfits++
		}
	case domain.ExitPartial:
		if h.TakeProfit != nil && price.GreaterThanOrEqual(*h.TakeProfit) {
			if err := s.takeProfitPartial(ctx, h, price, cfg); err != nil {
				return err
			}
			result.TakeProfits++
		}
	case domain.ExitTrailing:
		moved, err := s.trailStop(h, price, cfg)
		if err != nil {
			return err
		}
		if moved {
			result.TrailingMoves++
		}
	}
	return nil
}

func (s *Service) triggerStopLoss(ctx context.Context, h *portfolio.Holding,
	price decimal.Decimal, cfg settings.TradingConfig) error {

	s.log.Warn().
		Str("symbol", h.Symbol).
		Str("price", price.StringFixed(8)).
		Str("stop_loss", h.StopLoss.StringFixed(8)).
		Msg("Stop-loss triggered")

	return s.protectiveSell(ctx, h, h.Quantity, price, *h.StopLoss,
		domain.TradeTypeStopLoss, domain.TriggerStopLoss, cfg)
}

func (s *Service) takeProfitFull(ctx context.Context, h *portfolio.Holding,
	price decimal.Decimal, cfg settings.TradingConfig) error {

	return s.protectiveSell(ctx, h, h.Quantity, price, *h.TakeProfit,
		domain.TradeTypeTakeProfit, domain.TriggerTakeProfit, cfg)
}

// takeProfitPartial implements the ladder exit. The first trigger sells half
// the position and raises the stop to breakeven; a position whose stop
// already sits at its average cost is on the second rung, so the next
// trigger sells the remainder in full.
func (s *Service) takeProfitPartial(ctx context.Context, h *portfolio.Holding,
	price decimal.Decimal, cfg settings.TradingConfig) error {

	secondRung := h.StopLoss != nil && h.StopLoss.Equal(h.AverageCost)
	if secondRung {
		return s.protectiveSell(ctx, h, h.Quantity, price, *h.TakeProfit,
			domain.TradeTypeTakeProfit, domain.TriggerTakeProfit, cfg)
	}

	half := h.Quantity.Div(decimal.NewFromInt(2))
	if err := s.protectiveSell(ctx, h, half, price, *h.TakeProfit,
		domain.TradeTypeTakeProfit, domain.TriggerTakeProfit, cfg); err != nil {
		return err
	}

	// Breakeven floor on the remainder; the next take-profit ladder level
	// replaces the first.
	breakeven := h.AverageCost
	nextTarget := s.nextLadderTarget(h)
	if err := s.portfolio.SetProtection(h.Symbol, &breakeven, nextTarget); err != nil {
		return err
	}

	s.log.Info().
		Str("symbol", h.Symbol).
		Str("new_stop", breakeven.StringFixed(8)).
		Msg("Partial exit complete, stop moved to breakeven")
	return nil
}

// nextLadderTarget resolves the second take-profit level from the
// recommendation that opened the position, when one exists.
func (s *Service) nextLadderTarget(h *portfolio.Holding) *decimal.Decimal {
	if s.ladderLookup == nil {
		return nil
	}
	return s.ladderLookup(h.Symbol)
}

func (s *Service) trailStop(h *portfolio.Holding, price decimal.Decimal,
	cfg settings.TradingConfig) (bool, error) {

	candidate := price.Mul(decimal.NewFromInt(1).Sub(cfg.TrailingStopFraction))
	if h.StopLoss != nil && candidate.LessThanOrEqual(*h.StopLoss) {
		return false, nil
	}

	previous := "none"
	if h.StopLoss != nil {
		previous = h.StopLoss.StringFixed(8)
	}
	if err := s.portfolio.UpdateProtection(h.Symbol, &candidate, nil); err != nil {
		return false, err
	}

	entry := &auditlog.Entry{
		TriggerType:    domain.TriggerTrailingUpdate,
		ConfigSnapshot: cfg.Snapshot(),
		Success:        true,
		Detail: map[string]string{
			"symbol":         h.Symbol,
			"trigger_price":  price.String(),
			"previous_stop":  previous,
			"new_stop":       candidate.String(),
			"unrealized_pnl": price.Sub(h.AverageCost).Mul(h.Quantity).String(),
		},
	}
	if err := s.auditLog.Append(entry); err != nil {
		return false, err
	}

	s.log.Info().
		Str("symbol", h.Symbol).
		Str("previous_stop", previous).
		Str("new_stop", candidate.StringFixed(8)).
		Msg("Trailing stop raised")
	s.events.Emit(events.TrailingStopAdjusted, "monitor", map[string]interface{}{
		"symbol":   h.Symbol,
		"new_stop": candidate.String(),
	})
	return true, nil
}

// protectiveSell executes an exit through the executor and writes the
// trigger to the execution log with threshold, price and realized P&L.
func (s *Service) protectiveSell(ctx context.Context, h *portfolio.Holding,
	quantity, price, threshold decimal.Decimal, tradeType domain.TradeType,
	trigger domain.TriggerType, cfg settings.TradingConfig) error {

	entry := &auditlog.Entry{
		TriggerType:    trigger,
		ConfigSnapshot: cfg.Snapshot(),
		Detail: map[string]string{
			"symbol":        h.Symbol,
			"threshold":     threshold.String(),
			"trigger_price": price.String(),
			"quantity":      quantity.String(),
		},
	}

	started := time.Now()
	result, execErr := s.executor.Execute(ctx, &trading.Order{
		Symbol:      h.Symbol,
		Side:        trading.SideSell,
		Quantity:    quantity,
		TradeType:   tradeType,
		TriggeredBy: trigger,
	}, cfg)
	entry.LatencyMS = time.Since(started).Milliseconds()

	if execErr != nil {
		entry.Error = "infrastructure: " + execErr.Error()
		if err := s.auditLog.Append(entry); err != nil {
			return err
		}
		return execErr
	}

	entry.Success = true
	entry.TradeID = &result.Trade.ID
	if result.Trade.RealizedPnL != nil {
		entry.Detail["realized_pnl"] = result.Trade.RealizedPnL.String()
	}
	if err := s.auditLog.Append(entry); err != nil {
		return err
	}

	s.events.Emit(events.ProtectiveExitTriggered, "monitor", map[string]interface{}{
		"symbol":     h.Symbol,
		"trade_type": string(tradeType),
		"quantity":   quantity.String(),
		"price":      result.FillPrice.String(),
	})
	return nil
}
