package recommendations

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coinpilot/coinpilot/internal/domain"
	"github.com/coinpilot/coinpilot/internal/events"
	"github.com/coinpilot/coinpilot/internal/modules/approvals"
	"github.com/coinpilot/coinpilot/internal/modules/auditlog"
	"github.com/coinpilot/coinpilot/internal/modules/portfolio"
	"github.com/coinpilot/coinpilot/internal/modules/risk"
	"github.com/coinpilot/coinpilot/internal/modules/settings"
	"github.com/coinpilot/coinpilot/internal/modules/trading"
	"github.com/coinpilot/coinpilot/internal/monitoring"
)

// CycleResult summarizes one lifecycle cycle
type CycleResult struct {
	Expired  int64 `json:"expired"`
	Eligible int   `json:"eligible"`
	Executed int   `json:"executed"`
	Queued   int   `json:"queued"`
	Rejected int   `json:"rejected"`
	Held     int   `json:"held"`
}

// Service drives recommendations through their lifecycle. Each cycle is
// idempotent: recommendations only move forward through the state machine,
// so re-running a cycle with no new inputs is a no-op.
type Service struct {
	repo      *Repository
	approvals *approvals.Repository
	portfolio *portfolio.Service
	validator *risk.Validator
	breaker   *risk.CircuitBreaker
	executor  *trading.Executor
	auditLog  *auditlog.Repository
	settings  *settings.Service
	events    *events.Manager
	log       zerolog.Logger
}

// NewService creates a new recommendation lifecycle service
func NewService(
	repo *Repository,
	approvalRepo *approvals.Repository,
	portfolioService *portfolio.Service,
	validator *risk.Validator,
	breaker *risk.CircuitBreaker,
	executor *trading.Executor,
	auditLog *auditlog.Repository,
	settingsService *settings.Service,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		approvals: approvalRepo,
		portfolio: portfolioService,
		validator: validator,
		breaker:   breaker,
		executor:  executor,
		auditLog:  auditLog,
		settings:  settingsService,
		events:    eventManager,
		log:       log.With().Str("service", "recommendations").Logger(),
	}
}

// Repository exposes the underlying repository for the API layer
func (s *Service) Repository() *Repository {
	return s.repo
}

// Submit validates and stores an incoming recommendation
func (s *Service) Submit(rec *Recommendation) error {
	if err := s.repo.Create(rec); err != nil {
		return err
	}
	s.log.Info().
		Int64("id", rec.ID).
		Str("symbol", rec.Symbol).
		Str("action", string(rec.Action)).
		Float64("confidence", rec.Confidence).
		Msg("Recommendation received")
	return nil
}

// RunCycle processes all eligible pending recommendations once
func (s *Service) RunCycle(ctx context.Context) (*CycleResult, error) {
	cfg, err := s.settings.LoadTradingConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load trading config: %w", err)
	}

	now := time.Now()
	result := &CycleResult{}

	if result.Expired, err = s.repo.ExpireStale(now); err != nil {
		return nil, err
	}
	if result.Expired > 0 {
		s.log.Info().Int64("count", result.Expired).Msg("Expired stale recommendations")
	}

	eligible, err := s.repo.GetEligible(cfg.ConfidenceThreshold, cfg.RecommendationMaxAge, now)
	if err != nil {
		return nil, err
	}
	result.Eligible = len(eligible)
	if len(eligible) == 0 {
		return result, nil
	}

	snapshot, err := s.portfolio.GetSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build portfolio snapshot: %w", err)
	}

	halted := false
	haltReason := ""
	if !cfg.RequireApproval && cfg.AutoExecute {
		halted, haltReason, err = s.breaker.ShouldHaltAutomatedBuying(snapshot, cfg)
		if err != nil {
			return nil, err
		}
		if halted {
			monitoring.RecordCircuitBreakerHalt()
		}
	}

	for i := range eligible {
		rec := &eligible[i]
		switch {
		case rec.Action == domain.ActionHold:
			if err := s.reject(rec, "HOLD recommendations are not executed"); err != nil {
				return result, err
			}
			result.Rejected++

		case cfg.RequireApproval:
			if err := s.queueForApproval(rec, snapshot, cfg); err != nil {
				return result, err
			}
			result.Queued++

		case !cfg.AutoExecute:
			// Execution is switched off; the recommendation stays pending
			// and becomes eligible again once auto_execute is re-enabled,
			// until it ages out.
			result.Held++

		default:
			executed, err := s.executeAutomated(ctx, rec, snapshot, cfg, halted, haltReason)
			if err != nil {
				return result, err
			}
			if executed {
				result.Executed++
			} else {
				result.Rejected++
			}
		}
	}

	s.log.Info().
		Int("eligible", result.Eligible).
		Int("executed", result.Executed).
		Int("queued", result.Queued).
		Int("rejected", result.Rejected).
		Int("held", result.Held).
		Msg("Recommendation cycle complete")
	return result, nil
}

func (s *Service) reject(rec *Recommendation, reason string) error {
	if err := s.repo.UpdateStatus(rec.ID, domain.RecommendationRejected); err != nil {
		return err
	}
	s.events.Emit(events.RecommendationRejected, "recommendations", map[string]interface{}{
		"id":     rec.ID,
		"symbol": rec.Symbol,
		"reason": reason,
	})
	return nil
}

// proposedQuantity sizes the trade per the configured strategy, capped by
// the generator's own size hint when one is present.
func (s *Service) proposedQuantity(rec *Recommendation, snapshot *portfolio.Snapshot, cfg settings.TradingConfig) decimal.Decimal {
	qty := risk.ProposedQuantity(cfg.SizingStrategy, rec.EntryPrice, snapshot.TotalValue, rec.Confidence, cfg)
	if rec.SizeFraction.GreaterThan(decimal.Zero) {
		hintCap := snapshot.TotalValue.Mul(rec.SizeFraction).Div(rec.EntryPrice)
		if qty.GreaterThan(hintCap) {
			qty = hintCap
		}
	}
	return qty
}

func (s *Service) queueForApproval(rec *Recommendation, snapshot *portfolio.Snapshot, cfg settings.TradingConfig) error {
	qty := s.proposedQuantity(rec, snapshot, cfg)
	if qty.LessThanOrEqual(decimal.Zero) {
		return s.reject(rec, "proposed quantity is zero")
	}
	if rec.Action == domain.ActionSell {
		held := heldQuantity(snapshot, rec.Symbol)
		if held.LessThanOrEqual(decimal.Zero) {
			return s.reject(rec, "no open position to sell")
		}
		if qty.GreaterThan(held) {
			qty = held
		}
	}

	request := &approvals.Request{
		RecommendationID: rec.ID,
		Symbol:           rec.Symbol,
		Action:           rec.Action,
		Quantity:         qty,
		StopLoss:         rec.StopLoss,
		TakeProfit:       rec.TakeProfit1,
		ExpiresAt:        time.Now().Add(cfg.ApprovalTTL),
	}
	if err := s.approvals.Create(request); err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(rec.ID, domain.RecommendationQueued); err != nil {
		return err
	}

	s.log.Info().
		Int64("recommendation_id", rec.ID).
		Str("approval_id", request.ID).
		Str("symbol", rec.Symbol).
		Str("quantity", qty.String()).
		Msg("Recommendation queued for approval")
	s.events.Emit(events.RecommendationQueued, "recommendations", map[string]interface{}{
		"id":          rec.ID,
		"approval_id": request.ID,
		"symbol":      rec.Symbol,
	})
	return nil
}

// executeAutomated runs the full automated path for one recommendation and
// writes exactly one execution log entry for the attempt.
func (s *Service) executeAutomated(ctx context.Context, rec *Recommendation,
	snapshot *portfolio.Snapshot, cfg settings.TradingConfig, halted bool, haltReason string) (bool, error) {

	entry := &auditlog.Entry{
		RecommendationID: &rec.ID,
		TriggerType:      domain.TriggerAutomation,
		ConfigSnapshot:   cfg.Snapshot(),
	}

	if halted && rec.Action == domain.ActionBuy {
		entry.Error = "circuit breaker: " + haltReason
		if err := s.auditLog.Append(entry); err != nil {
			return false, err
		}
		return false, s.reject(rec, entry.Error)
	}

	qty := s.proposedQuantity(rec, snapshot, cfg)
	if qty.LessThanOrEqual(decimal.Zero) {
		entry.Error = "proposed quantity is zero"
		if err := s.auditLog.Append(entry); err != nil {
			return false, err
		}
		return false, s.reject(rec, entry.Error)
	}
	if rec.Action == domain.ActionSell {
		held := heldQuantity(snapshot, rec.Symbol)
		if held.LessThanOrEqual(decimal.Zero) {
			entry.Error = "no open position to sell"
			if err := s.auditLog.Append(entry); err != nil {
				return false, err
			}
			return false, s.reject(rec, entry.Error)
		}
		if qty.GreaterThan(held) {
			qty = held
		}
	}

	side := trading.SideBuy
	if rec.Action == domain.ActionSell {
		side = trading.SideSell
	}

	// A BUY without a stop-loss gets a protective one at the widest
	// width the validator accepts, so auto_stop_loss keeps every
	// automated entry protected.
	stopLoss := rec.StopLoss
	if rec.Action == domain.ActionBuy && stopLoss == nil && cfg.AutoStopLoss {
		derived := rec.EntryPrice.Mul(decimal.NewFromInt(1).Sub(cfg.MaxStopLossWidth))
		stopLoss = &derived
	}

	verdict := s.validator.Validate(risk.Request{
		Symbol:   rec.Symbol,
		Side:     side,
		Quantity: qty,
		Price:    rec.EntryPrice,
		StopLoss: stopLoss,
	}, snapshot, cfg)
	entry.RiskAllowed = &verdict.Allowed
	entry.RiskReason = verdict.Reason
	entry.RiskWarnings = verdict.Warnings

	if !verdict.Allowed {
		if err := s.auditLog.Append(entry); err != nil {
			return false, err
		}
		return false, s.reject(rec, verdict.Reason)
	}

	started := time.Now()
	execResult, execErr := s.executor.Execute(ctx, &trading.Order{
		Symbol:           rec.Symbol,
		Side:             side,
		Quantity:         qty,
		TradeType:        domain.TradeTypeAutomatic,
		TriggeredBy:      domain.TriggerAutomation,
		RecommendationID: &rec.ID,
		StopLoss:         stopLoss,
		TakeProfit:       rec.TakeProfit1,
	}, cfg)
	entry.LatencyMS = time.Since(started).Milliseconds()

	if execErr != nil {
		entry.Error = "infrastructure: " + execErr.Error()
		if err := s.auditLog.Append(entry); err != nil {
			return false, err
		}
		return false, s.reject(rec, execErr.Error())
	}

	entry.Success = true
	entry.TradeID = &execResult.Trade.ID
	if err := s.auditLog.Append(entry); err != nil {
		return false, err
	}
	if err := s.repo.UpdateStatus(rec.ID, domain.RecommendationExecuted); err != nil {
		return false, err
	}
	return true, nil
}

func heldQuantity(snapshot *portfolio.Snapshot, symbol string) decimal.Decimal {
	normalized := domain.NormalizeSymbol(symbol)
	for _, p := range snapshot.Positions {
		if p.Symbol == normalized {
			return p.Quantity
		}
	}
	return decimal.Zero
}
