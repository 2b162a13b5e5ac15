package recommendations

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coinpilot/coinpilot/internal/domain"
)

// ErrNotFound is returned when a recommendation does not exist
var ErrNotFound = errors.New("recommendation not found")

// Repository persists recommendations on the signals database
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new recommendations repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "recommendations").Logger(),
	}
}

const recommendationColumns = `id, symbol, action, confidence, entry_price, stop_loss,
	take_profit_1, take_profit_2, size_fraction, risk_tier, reasoning_summary,
	reasoning_meta, status, created_at, expires_at, processed_at`

// Create stores a new recommendation in pending status
func (r *Repository) Create(rec *Recommendation) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	var meta interface{}
	if len(rec.Reasoning.Meta) > 0 {
		raw, err := json.Marshal(rec.Reasoning.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal reasoning meta: %w", err)
		}
		meta = string(raw)
	}

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = rec.CreatedAt.Add(24 * time.Hour)
	}
	rec.Status = domain.RecommendationPending
	rec.Symbol = domain.NormalizeSymbol(rec.Symbol)

	res, err := r.db.Exec(`
		INSERT INTO recommendations (symbol, action, confidence, entry_price, stop_loss,
		                             take_profit_1, take_profit_2, size_fraction, risk_tier,
		                             reasoning_summary, reasoning_meta, status, created_at,
		                             expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Symbol, string(rec.Action), rec.Confidence, rec.EntryPrice.String(),
		decimalPtr(rec.StopLoss), decimalPtr(rec.TakeProfit1), decimalPtr(rec.TakeProfit2),
		rec.SizeFraction.String(), rec.RiskTier, rec.Reasoning.Summary, meta,
		string(rec.Status), rec.CreatedAt.Unix(), rec.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert recommendation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get recommendation id: %w", err)
	}
	rec.ID = id
	return nil
}

// GetByID returns one recommendation
func (r *Repository) GetByID(id int64) (*Recommendation, error) {
	row := r.db.QueryRow(
		`SELECT `+recommendationColumns+` FROM recommendations WHERE id = ?`, id)
	rec, err := scanRecommendation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// GetEligible returns pending recommendations at or above the confidence
// threshold, created within the freshness window and not yet expired,
// ordered by confidence descending.
func (r *Repository) GetEligible(minConfidence float64, maxAge time.Duration, now time.Time) ([]Recommendation, error) {
	rows, err := r.db.Query(`
		SELECT `+recommendationColumns+`
		FROM recommendations
		WHERE status = ?
		  AND confidence >= ?
		  AND created_at >= ?
		  AND expires_at > ?
		ORDER BY confidence DESC, created_at ASC`,
		string(domain.RecommendationPending), minConfidence,
		now.Add(-maxAge).Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible recommendations: %w", err)
	}
	defer rows.Close()
	return scanRecommendations(rows)
}

// GetRecent returns the newest recommendations regardless of status
func (r *Repository) GetRecent(limit int) ([]Recommendation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT `+recommendationColumns+`
		FROM recommendations
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendations: %w", err)
	}
	defer rows.Close()
	return scanRecommendations(rows)
}

// UpdateStatus transitions a recommendation to a new status. Terminal
// statuses are guarded at the SQL level so they are never overwritten.
func (r *Repository) UpdateStatus(id int64, status domain.RecommendationStatus) error {
	res, err := r.db.Exec(`
		UPDATE recommendations
		SET status = ?, processed_at = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)`,
		string(status), time.Now().Unix(), id,
		string(domain.RecommendationExecuted),
		string(domain.RecommendationRejected),
		string(domain.RecommendationExpired))
	if err != nil {
		return fmt.Errorf("failed to update recommendation %d status: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check status update for %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("recommendation %d not found or already terminal", id)
	}
	return nil
}

// ExpireStale marks non-terminal recommendations whose expiry has passed
func (r *Repository) ExpireStale(now time.Time) (int64, error) {
	res, err := r.db.Exec(`
		UPDATE recommendations
		SET status = ?, processed_at = ?
		WHERE expires_at <= ? AND status = ?`,
		string(domain.RecommendationExpired), now.Unix(), now.Unix(),
		string(domain.RecommendationPending))
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale recommendations: %w", err)
	}
	return res.RowsAffected()
}

func scanRecommendations(rows *sql.Rows) ([]Recommendation, error) {
	var recs []Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecommendation(s scanner) (*Recommendation, error) {
	var (
		rec                Recommendation
		action, status     string
		entry, sizeFrac    string
		stop, tp1, tp2     sql.NullString
		meta               sql.NullString
		createdAt, expires int64
		processedAt        sql.NullInt64
	)
	err := s.Scan(&rec.ID, &rec.Symbol, &action, &rec.Confidence, &entry, &stop,
		&tp1, &tp2, &sizeFrac, &rec.RiskTier, &rec.Reasoning.Summary, &meta,
		&status, &createdAt, &expires, &processedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan recommendation: %w", err)
	}

	rec.Action = domain.Action(action)
	rec.Status = domain.RecommendationStatus(status)
	if rec.EntryPrice, err = decimal.NewFromString(entry); err != nil {
		return nil, fmt.Errorf("invalid entry price: %w", err)
	}
	if rec.SizeFraction, err = decimal.NewFromString(sizeFrac); err != nil {
		return nil, fmt.Errorf("invalid size fraction: %w", err)
	}
	if rec.StopLoss, err = scanDecimalPtr(stop); err != nil {
		return nil, fmt.Errorf("invalid stop loss: %w", err)
	}
	if rec.TakeProfit1, err = scanDecimalPtr(tp1); err != nil {
		return nil, fmt.Errorf("invalid take profit 1: %w", err)
	}
	if rec.TakeProfit2, err = scanDecimalPtr(tp2); err != nil {
		return nil, fmt.Errorf("invalid take profit 2: %w", err)
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &rec.Reasoning.Meta); err != nil {
			return nil, fmt.Errorf("invalid reasoning meta: %w", err)
		}
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.ExpiresAt = time.Unix(expires, 0)
	if processedAt.Valid {
		t := time.Unix(processedAt.Int64, 0)
		rec.ProcessedAt = &t
	}
	return &rec, nil
}

func scanDecimalPtr(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decimalPtr(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}
