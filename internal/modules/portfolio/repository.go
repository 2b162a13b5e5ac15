package portfolio

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Repository handles cash balance and holdings persistence on the ledger
// database. All mutating methods are transaction-scoped: state changes only
// happen inside an executor transaction so cash, holdings and the trade
// record always move together.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new portfolio repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "portfolio").Logger(),
	}
}

// InitCashBalance seeds the single cash row if it does not exist yet
func (r *Repository) InitCashBalance(amount decimal.Decimal) error {
	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO cash_balance (id, amount, updated_at) VALUES (1, ?, ?)`,
		amount.String(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to init cash balance: %w", err)
	}
	return nil
}

// GetCashBalance returns the current virtual cash balance
func (r *Repository) GetCashBalance() (decimal.Decimal, error) {
	var raw string
	err := r.db.QueryRow(`SELECT amount FROM cash_balance WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get cash balance: %w", err)
	}
	return decimal.NewFromString(raw)
}

// GetCashBalanceTx reads the cash balance inside an open transaction
func (r *Repository) GetCashBalanceTx(tx *sql.Tx) (decimal.Decimal, error) {
	var raw string
	err := tx.QueryRow(`SELECT amount FROM cash_balance WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get cash balance: %w", err)
	}
	return decimal.NewFromString(raw)
}

// SetCashBalanceTx writes the cash balance inside an open transaction
func (r *Repository) SetCashBalanceTx(tx *sql.Tx, amount decimal.Decimal) error {
	_, err := tx.Exec(
		`UPDATE cash_balance SET amount = ?, updated_at = ? WHERE id = 1`,
		amount.String(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to set cash balance: %w", err)
	}
	return nil
}

// GetAllHoldings returns every open holding ordered by symbol
func (r *Repository) GetAllHoldings() ([]Holding, error) {
	rows, err := r.db.Query(`
		SELECT symbol, quantity, average_cost, stop_loss, take_profit,
		       protection_updated_at, created_at, updated_at
		FROM holdings
		ORDER BY symbol ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// GetHolding returns the holding for a symbol, or nil if none is open
func (r *Repository) GetHolding(symbol string) (*Holding, error) {
	row := r.db.QueryRow(`
		SELECT symbol, quantity, average_cost, stop_loss, take_profit,
		       protection_updated_at, created_at, updated_at
		FROM holdings WHERE symbol = ?`, symbol)
	return scanHoldingRow(row)
}

// GetHoldingTx reads a holding inside an open transaction
func (r *Repository) GetHoldingTx(tx *sql.Tx, symbol string) (*Holding, error) {
	row := tx.QueryRow(`
		SELECT symbol, quantity, average_cost, stop_loss, take_profit,
		       protection_updated_at, created_at, updated_at
		FROM holdings WHERE symbol = ?`, symbol)
	return scanHoldingRow(row)
}

// CountHoldings returns the number of distinct open positions
func (r *Repository) CountHoldings() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM holdings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count holdings: %w", err)
	}
	return count, nil
}

// UpsertHoldingTx creates or replaces a holding inside an open transaction.
// Protection levels are preserved unless new values are supplied.
func (r *Repository) UpsertHoldingTx(tx *sql.Tx, h *Holding) error {
	now := time.Now().Unix()
	var protAt interface{}
	if h.ProtectionUpdatedAt != nil {
		protAt = h.ProtectionUpdatedAt.Unix()
	}
	_, err := tx.Exec(`
		INSERT INTO holdings (symbol, quantity, average_cost, stop_loss, take_profit,
		                      protection_updated_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			quantity = excluded.quantity,
			average_cost = excluded.average_cost,
			stop_loss = COALESCE(excluded.stop_loss, holdings.stop_loss),
			take_profit = COALESCE(excluded.take_profit, holdings.take_profit),
			protection_updated_at = COALESCE(excluded.protection_updated_at, holdings.protection_updated_at),
			updated_at = excluded.updated_at`,
		h.Symbol, h.Quantity.String(), h.AverageCost.String(),
		decimalPtr(h.StopLoss), decimalPtr(h.TakeProfit), protAt, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert holding %s: %w", h.Symbol, err)
	}
	return nil
}

// DeleteHoldingTx removes a fully-closed holding inside an open transaction
func (r *Repository) DeleteHoldingTx(tx *sql.Tx, symbol string) error {
	if _, err := tx.Exec(`DELETE FROM holdings WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("failed to delete holding %s: %w", symbol, err)
	}
	return nil
}

// UpdateProtection adjusts stop-loss and take-profit levels without trading.
// A nil value leaves the corresponding level untouched.
func (r *Repository) UpdateProtection(symbol string, stopLoss, takeProfit *decimal.Decimal) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`
		UPDATE holdings
		SET stop_loss = COALESCE(?, stop_loss),
		    take_profit = COALESCE(?, take_profit),
		    protection_updated_at = ?,
		    updated_at = ?
		WHERE symbol = ?`,
		decimalPtr(stopLoss), decimalPtr(takeProfit), now, now, symbol)
	if err != nil {
		return fmt.Errorf("failed to update protection for %s: %w", symbol, err)
	}
	return nil
}

// SetProtection overwrites both protection levels exactly as given; a nil
// value clears the corresponding level. Used by exit ladders that must
// replace, not merge, the previous levels.
func (r *Repository) SetProtection(symbol string, stopLoss, takeProfit *decimal.Decimal) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`
		UPDATE holdings
		SET stop_loss = ?, take_profit = ?, protection_updated_at = ?, updated_at = ?
		WHERE symbol = ?`,
		decimalPtr(stopLoss), decimalPtr(takeProfit), now, now, symbol)
	if err != nil {
		return fmt.Errorf("failed to set protection for %s: %w", symbol, err)
	}
	return nil
}

// UpdateProtectionTx is the transaction-scoped variant of UpdateProtection
func (r *Repository) UpdateProtectionTx(tx *sql.Tx, symbol string, stopLoss, takeProfit *decimal.Decimal) error {
	now := time.Now().Unix()
	_, err := tx.Exec(`
		UPDATE holdings
		SET stop_loss = COALESCE(?, stop_loss),
		    take_profit = COALESCE(?, take_profit),
		    protection_updated_at = ?,
		    updated_at = ?
		WHERE symbol = ?`,
		decimalPtr(stopLoss), decimalPtr(takeProfit), now, now, symbol)
	if err != nil {
		return fmt.Errorf("failed to update protection for %s: %w", symbol, err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for holding scans
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanHolding(s scanner) (Holding, error) {
	var (
		h                  Holding
		qty, avgCost       string
		stopLoss, takeProf sql.NullString
		protAt             sql.NullInt64
		createdAt, updated int64
	)
	if err := s.Scan(&h.Symbol, &qty, &avgCost, &stopLoss, &takeProf, &protAt, &createdAt, &updated); err != nil {
		return h, fmt.Errorf("failed to scan holding: %w", err)
	}

	var err error
	if h.Quantity, err = decimal.NewFromString(qty); err != nil {
		return h, fmt.Errorf("invalid quantity for %s: %w", h.Symbol, err)
	}
	if h.AverageCost, err = decimal.NewFromString(avgCost); err != nil {
		return h, fmt.Errorf("invalid average cost for %s: %w", h.Symbol, err)
	}
	if stopLoss.Valid {
		d, err := decimal.NewFromString(stopLoss.String)
		if err != nil {
			return h, fmt.Errorf("invalid stop loss for %s: %w", h.Symbol, err)
		}
		h.StopLoss = &d
	}
	if takeProf.Valid {
		d, err := decimal.NewFromString(takeProf.String)
		if err != nil {
			return h, fmt.Errorf("invalid take profit for %s: %w", h.Symbol, err)
		}
		h.TakeProfit = &d
	}
	if protAt.Valid {
		t := time.Unix(protAt.Int64, 0)
		h.ProtectionUpdatedAt = &t
	}
	h.CreatedAt = time.Unix(createdAt, 0)
	h.UpdatedAt = time.Unix(updated, 0)
	return h, nil
}

func scanHoldingRow(row *sql.Row) (*Holding, error) {
	h, err := scanHolding(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &h, nil
}

func decimalPtr(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}
