package trading

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coinpilot/coinpilot/internal/domain"
)

// TradeRepository persists the append-only trade ledger
type TradeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(db *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		db:  db,
		log: log.With().Str("repository", "trades").Logger(),
	}
}

// CreateTx inserts a trade inside an open executor transaction and fills in
// the assigned ID.
func (r *TradeRepository) CreateTx(tx *sql.Tx, t *Trade) error {
	now := time.Now()
	var pnl interface{}
	if t.RealizedPnL != nil {
		pnl = t.RealizedPnL.String()
	}
	res, err := tx.Exec(`
		INSERT INTO trades (symbol, side, quantity, price, fee, slippage, cash_delta,
		                    realized_pnl, trade_type, triggered_by, recommendation_id,
		                    executed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Symbol, string(t.Side), t.Quantity.String(), t.Price.String(),
		t.Fee.String(), t.Slippage.String(), t.CashDelta.String(), pnl,
		string(t.TradeType), t.TriggeredBy, t.RecommendationID,
		t.ExecutedAt.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get trade id: %w", err)
	}
	t.ID = id
	t.CreatedAt = now
	return nil
}

// GetHistory returns the most recent trades, newest first
func (r *TradeRepository) GetHistory(limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`
		SELECT id, symbol, side, quantity, price, fee, slippage, cash_delta,
		       realized_pnl, trade_type, triggered_by, recommendation_id,
		       executed_at, created_at
		FROM trades
		ORDER BY executed_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// GetBySymbol returns the most recent trades for one symbol, newest first
func (r *TradeRepository) GetBySymbol(symbol string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`
		SELECT id, symbol, side, quantity, price, fee, slippage, cash_delta,
		       realized_pnl, trade_type, triggered_by, recommendation_id,
		       executed_at, created_at
		FROM trades
		WHERE symbol = ?
		ORDER BY executed_at DESC, id DESC
		LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for %s: %w", symbol, err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// RealizedPnLSince sums realized profit and loss over trades executed at or
// after the given time. Used for the daily loss limit check.
func (r *TradeRepository) RealizedPnLSince(since time.Time) (decimal.Decimal, error) {
	rows, err := r.db.Query(`
		SELECT realized_pnl FROM trades
		WHERE realized_pnl IS NOT NULL AND executed_at >= ?`, since.Unix())
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query realized pnl: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan realized pnl: %w", err)
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid realized pnl value: %w", err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// LastTradeTime returns when the symbol last traded, or nil if it never has.
// Used for the trade cooldown check.
func (r *TradeRepository) LastTradeTime(symbol string) (*time.Time, error) {
	var ts int64
	err := r.db.QueryRow(
		`SELECT executed_at FROM trades WHERE symbol = ? ORDER BY executed_at DESC LIMIT 1`,
		symbol).Scan(&ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last trade time for %s: %w", symbol, err)
	}
	t := time.Unix(ts, 0)
	return &t, nil
}

func scanTrades(rows *sql.Rows) ([]Trade, error) {
	var trades []Trade
	for rows.Next() {
		var (
			t                  Trade
			side, tradeType    string
			qty, price         string
			fee, slip, delta   string
			pnl                sql.NullString
			recID              sql.NullInt64
			executedAt, madeAt int64
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &qty, &price, &fee, &slip,
			&delta, &pnl, &tradeType, &t.TriggeredBy, &recID, &executedAt, &madeAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}

		t.Side = TradeSide(side)
		t.TradeType = domain.TradeType(tradeType)

		var err error
		if t.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("invalid trade quantity: %w", err)
		}
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("invalid trade price: %w", err)
		}
		if t.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("invalid trade fee: %w", err)
		}
		if t.Slippage, err = decimal.NewFromString(slip); err != nil {
			return nil, fmt.Errorf("invalid trade slippage: %w", err)
		}
		if t.CashDelta, err = decimal.NewFromString(delta); err != nil {
			return nil, fmt.Errorf("invalid trade cash delta: %w", err)
		}
		if pnl.Valid {
			d, err := decimal.NewFromString(pnl.String)
			if err != nil {
				return nil, fmt.Errorf("invalid realized pnl: %w", err)
			}
			t.RealizedPnL = &d
		}
		if recID.Valid {
			t.RecommendationID = &recID.Int64
		}
		t.ExecutedAt = time.Unix(executedAt, 0)
		t.CreatedAt = time.Unix(madeAt, 0)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
