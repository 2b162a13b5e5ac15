package auditlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coinpilot/coinpilot/internal/domain"
)

// Repository persists execution-log entries. The table is append-only;
// there are no update or delete operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new execution log repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "auditlog").Logger(),
	}
}

// Append writes one entry and assigns its ID and timestamp
func (r *Repository) Append(e *Entry) error {
	e.ID = uuid.New().String()
	e.CreatedAt = time.Now()

	snapshot, err := json.Marshal(e.ConfigSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal config snapshot: %w", err)
	}

	var warnings interface{}
	if len(e.RiskWarnings) > 0 {
		raw, err := json.Marshal(e.RiskWarnings)
		if err != nil {
			return fmt.Errorf("failed to marshal risk warnings: %w", err)
		}
		warnings = string(raw)
	}

	var allowed interface{}
	if e.RiskAllowed != nil {
		allowed = boolToInt(*e.RiskAllowed)
	}

	var detail interface{}
	if len(e.Detail) > 0 {
		raw, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("failed to marshal detail: %w", err)
		}
		detail = string(raw)
	}

	_, err = r.db.Exec(`
		INSERT INTO execution_log (id, recommendation_id, trade_id, approval_id,
		                           trigger_type, config_snapshot, risk_allowed,
		                           risk_reason, risk_warnings, detail, latency_ms,
		                           success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RecommendationID, e.TradeID, e.ApprovalID, string(e.TriggerType),
		string(snapshot), allowed, nullIfEmpty(e.RiskReason), warnings, detail,
		e.LatencyMS, boolToInt(e.Success), nullIfEmpty(e.Error), e.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to append execution log entry: %w", err)
	}
	return nil
}

// GetRecent returns the newest entries, most recent first
func (r *Repository) GetRecent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`
		SELECT id, recommendation_id, trade_id, approval_id, trigger_type,
		       config_snapshot, risk_allowed, risk_reason, risk_warnings,
		       detail, latency_ms, success, error, created_at
		FROM execution_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution log: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// GetByRecommendation returns all entries linked to one recommendation
func (r *Repository) GetByRecommendation(recommendationID int64) ([]Entry, error) {
	rows, err := r.db.Query(`
		SELECT id, recommendation_id, trade_id, approval_id, trigger_type,
		       config_snapshot, risk_allowed, risk_reason, risk_warnings,
		       detail, latency_ms, success, error, created_at
		FROM execution_log
		WHERE recommendation_id = ?
		ORDER BY created_at ASC`, recommendationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution log: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			recID, tradeID    sql.NullInt64
			approvalID        sql.NullString
			trigger, snapshot string
			allowed           sql.NullInt64
			reason, warnings  sql.NullString
			detail            sql.NullString
			success           int
			errText           sql.NullString
			createdAt         int64
		)
		if err := rows.Scan(&e.ID, &recID, &tradeID, &approvalID, &trigger,
			&snapshot, &allowed, &reason, &warnings, &detail, &e.LatencyMS,
			&success, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution log entry: %w", err)
		}

		if recID.Valid {
			e.RecommendationID = &recID.Int64
		}
		if tradeID.Valid {
			e.TradeID = &tradeID.Int64
		}
		if approvalID.Valid {
			e.ApprovalID = &approvalID.String
		}
		e.TriggerType = domain.TriggerType(trigger)
		if err := json.Unmarshal([]byte(snapshot), &e.ConfigSnapshot); err != nil {
			return nil, fmt.Errorf("invalid config snapshot in log entry %s: %w", e.ID, err)
		}
		if allowed.Valid {
			b := allowed.Int64 != 0
			e.RiskAllowed = &b
		}
		e.RiskReason = reason.String
		if warnings.Valid && warnings.String != "" {
			if err := json.Unmarshal([]byte(warnings.String), &e.RiskWarnings); err != nil {
				return nil, fmt.Errorf("invalid risk warnings in log entry %s: %w", e.ID, err)
			}
		}
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("invalid detail in log entry %s: %w", e.ID, err)
			}
		}
		e.Success = success != 0
		e.Error = errText.String
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
