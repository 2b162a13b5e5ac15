// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"strings"
)

// Action represents a recommended trade action
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// IsValid checks if the action is valid
func (a Action) IsValid() bool {
	return a == ActionBuy || a == ActionSell || a == ActionHold
}

// ActionFromString creates an Action from a string (case-insensitive)
func ActionFromString(value string) (Action, error) {
	if value == "" {
		return "", fmt.Errorf("invalid action: empty string")
	}

	switch strings.ToUpper(value) {
	case "BUY":
		return ActionBuy, nil
	case "SELL":
		return ActionSell, nil
	case "HOLD":
		return ActionHold, nil
	default:
		return "", fmt.Errorf("invalid action: %s", value)
	}
}

// TradeType classifies what produced a trade
type TradeType string

const (
	TradeTypeManual     TradeType = "manual"
	TradeTypeAutomatic  TradeType = "automatic"
	TradeTypeStopLoss   TradeType = "stop_loss"
	TradeTypeTakeProfit TradeType = "take_profit"
)

// IsValid checks if the trade type is valid
func (t TradeType) IsValid() bool {
	switch t {
	case TradeTypeManual, TradeTypeAutomatic, TradeTypeStopLoss, TradeTypeTakeProfit:
		return true
	}
	return false
}

// RecommendationStatus tracks a recommendation through its lifecycle.
// Transitions: pending -> {rejected, queued, executed, expired};
// queued -> {executed, rejected, expired}. Terminal states are never revisited.
type RecommendationStatus string

const (
	RecommendationPending  RecommendationStatus = "pending"
	RecommendationQueued   RecommendationStatus = "queued"
	RecommendationExecuted RecommendationStatus = "executed"
	RecommendationRejected RecommendationStatus = "rejected"
	RecommendationExpired  RecommendationStatus = "expired"
)

// IsTerminal returns true for states that are never left again
func (s RecommendationStatus) IsTerminal() bool {
	return s == RecommendationExecuted || s == RecommendationRejected || s == RecommendationExpired
}

// ApprovalStatus tracks a human-approval request
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
	ApprovalExecuted ApprovalStatus = "executed"
)

// ExitStrategy is the policy governing how take-profit events are handled
type ExitStrategy string

const (
	ExitFull     ExitStrategy = "full"
	ExitPartial  ExitStrategy = "partial"
	ExitTrailing ExitStrategy = "trailing"
)

// IsValid checks if the exit strategy is valid
func (e ExitStrategy) IsValid() bool {
	return e == ExitFull || e == ExitPartial || e == ExitTrailing
}

// SizingStrategy selects how proposed quantities are derived from config
type SizingStrategy string

const (
	SizingEqual              SizingStrategy = "equal"
	SizingConfidenceWeighted SizingStrategy = "confidence_weighted"
)

// TriggerType describes what initiated an execution attempt
type TriggerType string

const (
	TriggerAutomation     TriggerType = "automation"
	TriggerApproval       TriggerType = "approval"
	TriggerStopLoss       TriggerType = "stop_loss"
	TriggerTakeProfit     TriggerType = "take_profit"
	TriggerTrailingUpdate TriggerType = "trailing_update"
	TriggerManual         TriggerType = "manual"
)

// Reasoning is the free-form payload attached to a recommendation.
// Summary is required; Meta carries auxiliary generator metadata.
type Reasoning struct {
	Summary string            `json:"summary"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Validate checks that the reasoning payload carries the required summary
func (r Reasoning) Validate() error {
	if strings.TrimSpace(r.Summary) == "" {
		return fmt.Errorf("reasoning summary cannot be empty")
	}
	return nil
}

// NormalizeSymbol canonicalizes a trading symbol
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
