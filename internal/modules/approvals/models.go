// Package approvals stages trades for human sign-off and executes decisions.
package approvals

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinpilot/coinpilot/internal/domain"
)

// Request is a proposed trade awaiting a human decision. Quantity and
// protection levels are fixed when the request is created; approval only
// authorizes execution of exactly these parameters.
type Request struct {
	ID               string                `json:"id"`
	RecommendationID int64                 `json:"recommendation_id"`
	Symbol           string                `json:"symbol"`
	Action           domain.Action         `json:"action"`
	Quantity         decimal.Decimal       `json:"quantity"`
	StopLoss         *decimal.Decimal      `json:"stop_loss,omitempty"`
	TakeProfit       *decimal.Decimal      `json:"take_profit,omitempty"`
	Status           domain.ApprovalStatus `json:"status"`
	CreatedAt        time.Time             `json:"created_at"`
	ExpiresAt        time.Time             `json:"expires_at"`
	DecidedAt        *time.Time            `json:"decided_at,omitempty"`
	ExecutedAt       *time.Time            `json:"executed_at,omitempty"`
}

// IsExpired reports whether the approval window has closed
func (r *Request) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
