package approvals

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinpilot/coinpilot/internal/domain"
	"github.com/coinpilot/coinpilot/internal/events"
	"github.com/coinpilot/coinpilot/internal/modules/auditlog"
	"github.com/coinpilot/coinpilot/internal/modules/settings"
	"github.com/coinpilot/coinpilot/internal/modules/trading"
)

// RecommendationUpdater moves a linked recommendation between lifecycle
// states when its approval request is decided or executed.
type RecommendationUpdater interface {
	UpdateStatus(id int64, status domain.RecommendationStatus) error
}

// ProcessResult summarizes one approval processing cycle
type ProcessResult struct {
	Expired  int `json:"expired"`
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
}

// Processor sweeps expired approval requests and executes approved ones.
// Approval is a two-phase commit: quantity and protection levels were fixed
// when the request was created, so execution uses them verbatim with no
// re-sizing and no fresh risk check.
type Processor struct {
	repo            *Repository
	recommendations RecommendationUpdater
	executor        *trading.Executor
	auditLog        *auditlog.Repository
	settings        *settings.Service
	events          *events.Manager
	log             zerolog.Logger
}

// NewProcessor creates a new approval processor
func NewProcessor(
	repo *Repository,
	recommendationRepo RecommendationUpdater,
	executor *trading.Executor,
	auditLog *auditlog.Repository,
	settingsService *settings.Service,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Processor {
	return &Processor{
		repo:            repo,
		recommendations: recommendationRepo,
		executor:        executor,
		auditLog:        auditLog,
		settings:        settingsService,
		events:          eventManager,
		log:             log.With().Str("service", "approvals").Logger(),
	}
}

// Repository exposes the underlying repository for the API layer
func (p *Processor) Repository() *Repository {
	return p.repo
}

// Approve records a human approval on a pending request
func (p *Processor) Approve(id string) error {
	return p.repo.Decide(id, domain.ApprovalApproved)
}

// Reject records a human rejection and closes the linked recommendation
func (p *Processor) Reject(id string) error {
	if err := p.repo.Decide(id, domain.ApprovalRejected); err != nil {
		return err
	}
	req, err := p.repo.GetByID(id)
	if err != nil {
		return err
	}
	return p.recommendations.UpdateStatus(req.RecommendationID, domain.RecommendationRejected)
}

// RunCycle expires stale requests first, then executes every approved one
func (p *Processor) RunCycle(ctx context.Context) (*ProcessResult, error) {
	cfg, err := p.settings.LoadTradingConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load trading config: %w", err)
	}

	result := &ProcessResult{}

	stale, err := p.repo.ExpireStale(time.Now())
	if err != nil {
		return nil, err
	}
	result.Expired = len(stale)
	for _, req := range stale {
		// The linked recommendation stays queued; expiry is not a retry signal
		p.log.Info().
			Str("approval_id", req.ID).
			Str("symbol", req.Symbol).
			Msg("Approval request expired")
		p.events.Emit(events.ApprovalExpired, "approvals", map[string]interface{}{
			"approval_id":       req.ID,
			"recommendation_id": req.RecommendationID,
			"symbol":            req.Symbol,
		})
	}

	approved, err := p.repo.GetByStatus(domain.ApprovalApproved)
	if err != nil {
		return nil, err
	}

	for i := range approved {
		if err := p.execute(ctx, &approved[i], cfg); err != nil {
			result.Failed++
			p.log.Error().Err(err).
				Str("approval_id", approved[i].ID).
				Msg("Approved trade failed to execute")
			continue
		}
		result.Executed++
	}

	return result, nil
}

func (p *Processor) execute(ctx context.Context, req *Request, cfg settings.TradingConfig) error {
	side := trading.SideBuy
	if req.Action == domain.ActionSell {
		side = trading.SideSell
	}

	entry := &auditlog.Entry{
		RecommendationID: &req.RecommendationID,
		ApprovalID:       &req.ID,
		TriggerType:      domain.TriggerApproval,
		ConfigSnapshot:   cfg.Snapshot(),
	}

	started := time.Now()
	execResult, execErr := p.executor.Execute(ctx, &trading.Order{
		Symbol:           req.Symbol,
		Side:             side,
		Quantity:         req.Quantity,
		TradeType:        domain.TradeTypeManual,
		TriggeredBy:      domain.TriggerApproval,
		RecommendationID: &req.RecommendationID,
		StopLoss:         req.StopLoss,
		TakeProfit:       req.TakeProfit,
	}, cfg)
	entry.LatencyMS = time.Since(started).Milliseconds()

	if execErr != nil {
		entry.Error = "infrastructure: " + execErr.Error()
		if logErr := p.auditLog.Append(entry); logErr != nil {
			return logErr
		}
		if err := p.repo.MarkFailed(req.ID); err != nil {
			return err
		}
		if err := p.recommendations.UpdateStatus(req.RecommendationID, domain.RecommendationRejected); err != nil {
			return err
		}
		return execErr
	}

	entry.Success = true
	entry.TradeID = &execResult.Trade.ID
	if err := p.auditLog.Append(entry); err != nil {
		return err
	}
	if err := p.repo.MarkExecuted(req.ID); err != nil {
		return err
	}
	if err := p.recommendations.UpdateStatus(req.RecommendationID, domain.RecommendationExecuted); err != nil {
		return err
	}

	p.events.Emit(events.ApprovalExecuted, "approvals", map[string]interface{}{
		"approval_id":       req.ID,
		"recommendation_id": req.RecommendationID,
		"symbol":            req.Symbol,
		"trade_id":          execResult.Trade.ID,
	})
	return nil
}
