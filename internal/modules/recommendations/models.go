// Package recommendations manages trade recommendations through their lifecycle.
package recommendations

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinpilot/coinpilot/internal/domain"
)

// Recommendation is one trade signal from the external generator. Status
// moves pending -> {rejected, queued, executed, expired} and never leaves a
// terminal state.
type Recommendation struct {
	ID           int64                       `json:"id"`
	Symbol       string                      `json:"symbol"`
	Action       domain.Action               `json:"action"`
	Confidence   float64                     `json:"confidence"`
	EntryPrice   decimal.Decimal             `json:"entry_price"`
	StopLoss     *decimal.Decimal            `json:"stop_loss,omitempty"`
	TakeProfit1  *decimal.Decimal            `json:"take_profit_1,omitempty"`
	TakeProfit2  *decimal.Decimal            `json:"take_profit_2,omitempty"`
	SizeFraction decimal.Decimal             `json:"size_fraction"`
	RiskTier     string                      `json:"risk_tier"`
	Reasoning    domain.Reasoning            `json:"reasoning"`
	Status       domain.RecommendationStatus `json:"status"`
	CreatedAt    time.Time                   `json:"created_at"`
	ExpiresAt    time.Time                   `json:"expires_at"`
	ProcessedAt  *time.Time                  `json:"processed_at,omitempty"`
}

// Validate checks an incoming recommendation before it is stored
func (r *Recommendation) Validate() error {
	if domain.NormalizeSymbol(r.Symbol) == "" {
		return fmt.Errorf("recommendation symbol cannot be empty")
	}
	if !r.Action.IsValid() {
		return fmt.Errorf("invalid recommendation action: %s", r.Action)
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return fmt.Errorf("confidence must be between 0 and 100, got %.2f", r.Confidence)
	}
	if r.Action != domain.ActionHold && r.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("entry price must be positive, got %s", r.EntryPrice)
	}
	if r.SizeFraction.IsNegative() || r.SizeFraction.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("size fraction must be within [0, 1], got %s", r.SizeFraction)
	}
	if err := r.Reasoning.Validate(); err != nil {
		return err
	}
	return nil
}

// IsExpired reports whether the recommendation's own expiry has passed
func (r *Recommendation) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
