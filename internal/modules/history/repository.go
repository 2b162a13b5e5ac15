// Package history stores observed market prices for return analysis.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Repository persists price observations on the history database
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new price history repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "history").Logger(),
	}
}

// Record stores one price observation
func (r *Repository) Record(symbol string, price decimal.Decimal, observedAt time.Time) error {
	_, err := r.db.Exec(
		`INSERT INTO price_history (symbol, price, observed_at) VALUES (?, ?, ?)`,
		symbol, price.String(), observedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to record price for %s: %w", symbol, err)
	}
	return nil
}

// DailyCloses returns one closing price per calendar day for the symbol,
// keyed by day (UTC, truncated to midnight), covering the last `days` days.
func (r *Repository) DailyCloses(symbol string, days int) (map[time.Time]float64, error) {
	since := time.Now().AddDate(0, 0, -days).Unix()
	rows, err := r.db.Query(`
		SELECT price, observed_at FROM price_history
		WHERE symbol = ? AND observed_at >= ?
		ORDER BY observed_at ASC`, symbol, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history for %s: %w", symbol, err)
	}
	defer rows.Close()

	closes := make(map[time.Time]float64)
	for rows.Next() {
		var (
			raw string
			ts  int64
		)
		if err := rows.Scan(&raw, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan price history: %w", err)
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid historical price: %w", err)
		}
		day := time.Unix(ts, 0).UTC().Truncate(24 * time.Hour)
		// Later observations within the same day win
		f, _ := price.Float64()
		closes[day] = f
	}
	return closes, rows.Err()
}

// Prune removes observations older than the retention window
func (r *Repository) Prune(olderThan time.Time) error {
	_, err := r.db.Exec(`DELETE FROM price_history WHERE observed_at < ?`, olderThan.Unix())
	if err != nil {
		return fmt.Errorf("failed to prune price history: %w", err)
	}
	return nil
}
