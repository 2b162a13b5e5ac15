// Package auditlog records every execution attempt in an append-only log.
package auditlog

import (
	"time"

	"github.com/coinpilot/coinpilot/internal/domain"
)

// Entry is one immutable execution-log record. Exactly one entry is written
// per execution attempt, successful or not, making the log the authoritative
// record for diagnosing why automation did or did not act.
type Entry struct {
	ID               string             `json:"id"`
	RecommendationID *int64             `json:"recommendation_id,omitempty"`
	TradeID          *int64             `json:"trade_id,omitempty"`
	ApprovalID       *string            `json:"approval_id,omitempty"`
	TriggerType      domain.TriggerType `json:"trigger_type"`
	ConfigSnapshot   map[string]string  `json:"config_snapshot"`
	RiskAllowed      *bool              `json:"risk_allowed,omitempty"`
	RiskReason       string             `json:"risk_reason,omitempty"`
	RiskWarnings     []string           `json:"risk_warnings,omitempty"`
	Detail           map[string]string  `json:"detail,omitempty"`
	LatencyMS        int64              `json:"latency_ms"`
	Success          bool               `json:"success"`
	Error            string             `json:"error,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}
