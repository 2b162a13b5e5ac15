package risk

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpilot/coinpilot/internal/database"
	"github.com/coinpilot/coinpilot/internal/modules/portfolio"
	"github.com/coinpilot/coinpilot/internal/modules/settings"
	"github.com/coinpilot/coinpilot/internal/modules/trading"
	testingpkg "github.com/coinpilot/coinpilot/internal/testing"
)

func setupValidator(t *testing.T, correlations testingpkg.StaticCorrelations) (*Validator, *database.DB, func()) {
	t.Helper()

	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	log := zerolog.New(nil).Level(zerolog.Disabled)
	trades := trading.NewTradeRepository(db.Conn(), log)
	return NewValidator(trades, correlations, log), db, cleanup
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func decPtr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

// emptySnapshot is a cash-only portfolio of the given value
func emptySnapshot(value float64) *portfolio.Snapshot {
	return &portfolio.Snapshot{
		Cash:       dec(value),
		TotalValue: dec(value),
		Timestamp:  time.Now(),
	}
}

func TestValidate_SellAlwaysAllowed(t *testing.T) {
	v, _, cleanup := setupValidator(t, nil)
	defer cleanup()

	verdict := v.Validate(Request{
		Symbol:   "BTC",
		Side:     trading.SideSell,
		Quantity: dec(100), // absurdly large, still allowed
		Price:    dec(50000),
	}, emptySnapshot(10000), settings.DefaultTradingConfig())

	assert.True(t, verdict.Allowed)
	assert.Empty(t, verdict.Warnings)
}

func TestValidate_PositionSizeDeniedAutomatedAllowedManual(t *testing.T) {
	v, _, cleanup := setupValidator(t, nil)
	defer cleanup()

	cfg := settings.DefaultTradingConfig()
	snapshot := emptySnapshot(10000)

	// 0.1 BTC at $50,000 is half the portfolio; the cap is 10%
	req := Request{
		Symbol:   "BTC",
		Side:     trading.SideBuy,
		Quantity: dec(0.1),
		Price:    dec(50000),
		StopLoss: decPtr(45000),
	}

	verdict := v.Validate(req, snapshot, cfg)
	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "position size 50.0% of portfolio exceeds maximum 10.0%")

	// The identical trade under manual override passes with the failure
	// downgraded to a warning.
	req.ManualOverride = true
	verdict = v.Validate(req, snapshot, cfg)
	assert.True(t, verdict.Allowed)
	assert.Empty(t, verdict.Reason)
	require.Len(t, verdict.Warnings, 1)
	assert.Contains(t, verdict.Warnings[0], "position size 50.0%")
}

func TestValidate_StopLossRequired(t *testing.T) {
	v, _, cleanup := setupValidator(t, nil)
	defer cleanup()

	verdict := v.Validate(Request{
		Symbol:   "BTC",
		Side:     trading.SideBuy,
		Quantity: dec(0.01),
		Price:    dec(50000),
	}, emptySnapshot(10000), settings.DefaultTradingConfig())

	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "stop-loss is required")
}

func TestValidate_StopLossWidth(t *testing.T) {
	v, _, cleanup := setupValidator(t, nil)
	defer cleanup()

	cfg := settings.DefaultTradingConfig()
	snapshot := emptySnapshot(100000)

	tests := []struct {
		name    string
		stop    float64
		allowed bool
		reason  string
	}{
		{"at the 10% limit", 45000, true, ""},
		{"too wide", 44000, false, "stop-loss width 12.0% exceeds maximum 10.0%"},
		{"above entry", 51000, false, "must be below entry price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(Request{
				Symbol:   "BTC",
				Side:     trading.SideBuy,
				Quantity: dec(0.1),
				Price:    dec(50000),
				StopLoss: decPtr(tt.stop),
			}, snapshot, cfg)
			assert.Equal(t, tt.allowed, verdict.Allowed)
			if tt.reason != "" {
				assert.Contains(t, verdict.Reason, tt.reason)
			}
		})
	}
}

// tightPosition builds a held position with a stop just below cost so it
// contributes almost nothing to aggregate risk.
func tightPosition(symbol string, value float64) portfolio.Position {
	stop := dec(value - 1)
	return portfolio.Position{
		Holding: portfolio.Holding{
			Symbol:      symbol,
			Quantity:    dec(1),
			AverageCost: dec(value),
			StopLoss:    &stop,
		},
		CurrentPrice: dec(value),
		MarketValue:  dec(value),
	}
}

func TestValidate_OpenPositionCap(t *testing.T) {
	v, _, cleanup := setupValidator(t, nil)
	defer cleanup()

	cfg := settings.DefaultTradingConfig() // MaxOpenPositions: 8

	snapshot := emptySnapshot(10000)
	for _, s := range []string{"A1", "A2", "A3", "A4", "A5", "A6", "A7", "A8"} {
		snapshot.Positions = append(snapshot.Positions, tightPosition(s, 100))
	}
	snapshot.TotalValue = dec(10800)

	req := Request{
		Symbol:   "NEW",
		Side:     trading.SideBuy,
		Quantity: dec(1),
		Price:    dec(100),
		StopLoss: decPtr(98),
	}
	verdict := v.Validate(req, snapshot, cfg)
	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "already holding 8 positions")

	// Adding to an existing position does not open a new slot
	req.Symbol = "A1"
	verdict = v.Validate(req, snapshot, cfg)
	assert.True(t, verdict.Allowed, "got reason: %s", verdict.Reason)
}

func TestValidate_AggregateRiskCountsStoplessAtCostBasis(t *testing.T) {
	v, _, cleanup := setupValidator(t, nil)
	defer cleanup()

	cfg := settings.DefaultTradingConfig() // MaxPortfolioRisk: 15%

	// One unprotected position worth 20% of the portfolio is already over
	// the aggregate ceiling on its own.
	snapshot := emptySnapshot(8000)
	snapshot.Positions = []portfolio.Position{{
		Holding: portfolio.Holding{
			Symbol:      "ETH",
			Quantity:    dec(1),
			AverageCost: dec(2000),
		},
		CurrentPrice: dec(2000),
		MarketValue:  dec(2000),
	}}
	snapshot.TotalValue = dec(10000)

	verdict := v.Validate(Request{
		Symbol:   "SOL",
		Side:     trading.SideBuy,
		Quantity: dec(1),
		Price:    dec(100),
		StopLoss: decPtr(98),
	}, snapshot, cfg)

	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "aggregate portfolio risk")
}

func TestValidate_DailyLossLimit(t *testing.T) {
	v, db, cleanup := setupValidator(t, nil)
	defer cleanup()

	// A realized loss of $400 today on a $10,000 portfolio is 4%,
	// past the 3% daily limit.
	now := time.Now().Unix()
	_, err := db.Conn().Exec(`
		INSERT INTO trades (symbol, side, quantity, price, fee, slippage, cash_delta,
		                    realized_pnl, trade_type, triggered_by, executed_at, created_at)
		VALUES ('DOGE', 'SELL', '1000', '0.1', '0', '0', '100', '-400', 'automatic',
		        'automation', ?, ?)`, now, now)
	require.NoError(t, err)

	verdict := v.Validate(Request{
		Symbol:   "SOL",
		Side:     trading.SideBuy,
		Quantity: dec(1),
		Price:    dec(100),
		StopLoss: decPtr(98),
	}, emptySnapshot(10000), settings.DefaultTradingConfig())

	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "daily realized loss 4.0%")
}

func TestValidate_Cooldown(t *testing.T) {
	v, db, cleanup := setupValidator(t, nil)
	defer cleanup()

	now := time.Now().Unix()
	_, err := db.Conn().Exec(`
		INSERT INTO trades (symbol, side, quantity, price, fee, slippage, cash_delta,
		                    trade_type, triggered_by, executed_at, created_at)
		VALUES ('SOL', 'BUY', '1', '100', '0', '0', '-100', 'automatic',
		        'automation', ?, ?)`, now, now)
	require.NoError(t, err)

	verdict := v.Validate(Request{
		Symbol:   "SOL",
		Side:     trading.SideBuy,
		Quantity: dec(1),
		Price:    dec(100),
		StopLoss: decPtr(98),
	}, emptySnapshot(10000), settings.DefaultTradingConfig())

	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "cooldown")
}

func TestValidate_CorrelationAgainstHeldPositions(t *testing.T) {
	correlations := testingpkg.StaticCorrelations{
		{"WBTC", "BTC"}: 0.98,
	}
	v, _, cleanup := setupValidator(t, correlations)
	defer cleanup()

	snapshot := emptySnapshot(9900)
	snapshot.Positions = []portfolio.Position{tightPosition("BTC", 100)}
	snapshot.TotalValue = dec(10000)

	verdict := v.Validate(Request{
		Symbol:   "WBTC",
		Side:     trading.SideBuy,
		Quantity: dec(0.01),
		Price:    dec(50000),
		StopLoss: decPtr(49000),
	}, snapshot, settings.DefaultTradingConfig())

	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "highly correlated with held position BTC")
}

func TestValidate_ManualOverrideAccumulatesAllFailures(t *testing.T) {
	v, _, cleanup := setupValidator(t, nil)
	defer cleanup()

	// Oversized and stopless: both failures must surface as warnings
	verdict := v.Validate(Request{
		Symbol:         "BTC",
		Side:           trading.SideBuy,
		Quantity:       dec(1),
		Price:          dec(50000),
		ManualOverride: true,
	}, emptySnapshot(10000), settings.DefaultTradingConfig())

	assert.True(t, verdict.Allowed)
	assert.GreaterOrEqual(t, len(verdict.Warnings), 2)
}
