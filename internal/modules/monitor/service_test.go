package monitor

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpilot/coinpilot/internal/database"
	"github.com/coinpilot/coinpilot/internal/domain"
	"github.com/coinpilot/coinpilot/internal/events"
	"github.com/coinpilot/coinpilot/internal/modules/auditlog"
	"github.com/coinpilot/coinpilot/internal/modules/history"
	"github.com/coinpilot/coinpilot/internal/modules/portfolio"
	"github.com/coinpilot/coinpilot/internal/modules/settings"
	"github.com/coinpilot/coinpilot/internal/modules/trading"
	testingpkg "github.com/coinpilot/coinpilot/internal/testing"
)

type monitorFixture struct {
	service   *Service
	portfolio *portfolio.Repository
	auditLog  *auditlog.Repository
	settings  *settings.Repository
	history   *history.Repository
	ledgerDB  *database.DB
	feed      *testingpkg.MockPriceFeed
}

func setupMonitor(t *testing.T) (*monitorFixture, func()) {
	t.Helper()

	ledgerDB, cleanupLedger := testingpkg.NewTestDB(t, "ledger")
	historyDB, cleanupHistory := testingpkg.NewTestDB(t, "history")
	configDB, cleanupConfig := testingpkg.NewTestDB(t, "config")
	cleanup := func() {
		cleanupConfig()
		cleanupHistory()
		cleanupLedger()
	}

	log := zerolog.New(nil).Level(zerolog.Disabled)
	em := events.NewManager(log)
	feed := testingpkg.NewMockPriceFeed()

	portfolioRepo := portfolio.NewRepository(ledgerDB.Conn(), log)
	require.NoError(t, portfolioRepo.InitCashBalance(decimal.NewFromInt(10000)))
	tradeRepo := trading.NewTradeRepository(ledgerDB.Conn(), log)
	auditRepo := auditlog.NewRepository(ledgerDB.Conn(), log)
	historyRepo := history.NewRepository(historyDB.Conn(), log)
	settingsRepo := settings.NewRepository(configDB.Conn(), log)

	executor := trading.NewExecutor(ledgerDB, portfolioRepo, tradeRepo, feed, em, log)
	service := NewService(portfolioRepo, executor, feed, auditRepo, historyRepo,
		settings.NewService(settingsRepo), em, log)

	return &monitorFixture{
		service:   service,
		portfolio: portfolioRepo,
		auditLog:  auditRepo,
		settings:  settingsRepo,
		history:   historyRepo,
		ledgerDB:  ledgerDB,
		feed:      feed,
	}, cleanup
}

func (f *monitorFixture) seedHolding(t *testing.T, symbol string, qty, avgCost float64, stop, tp *float64) {
	t.Helper()

	h := &portfolio.Holding{
		Symbol:      symbol,
		Quantity:    decimal.NewFromFloat(qty),
		AverageCost: decimal.NewFromFloat(avgCost),
	}
	if stop != nil {
		d := decimal.NewFromFloat(*stop)
		h.StopLoss = &d
	}
	if tp != nil {
		d := decimal.NewFromFloat(*tp)
		h.TakeProfit = &d
	}
	err := database.WithTransaction(f.ledgerDB.Conn(), func(tx *sql.Tx) error {
		return f.portfolio.UpsertHoldingTx(tx, h)
	})
	require.NoError(t, err)
}

func fPtr(v float64) *float64 { return &v }

func TestRunCycle_StopLossClosesPosition(t *testing.T) {
	f, cleanup := setupMonitor(t)
	defer cleanup()

	f.seedHolding(t, "AVAX", 100, 20, fPtr(18), fPtr(25))
	f.feed.SetPrice("AVAX", decimal.NewFromInt(17))

	result, err := f.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.StopLosses)
	assert.Equal(t, 0, result.TakeProfits)
	assert.Equal(t, 0, result.Errors)

	holding, err := f.portfolio.GetHolding("AVAX")
	require.NoError(t, err)
	assert.Nil(t, holding, "stop-loss must exit the full position")

	entries, err := f.auditLog.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.TriggerStopLoss, entries[0].TriggerType)
	assert.True(t, entries[0].Success)
	assert.Equal(t, "18", entries[0].Detail["threshold"])
	assert.Equal(t, "17", entries[0].Detail["trigger_price"])
	assert.NotEmpty(t, entries[0].Detail["realized_pnl"])
}

func TestRunCycle_PartialTakeProfitSellsHalfAndMovesStopToBreakeven(t *testing.T) {
	f, cleanup := setupMonitor(t)
	defer cleanup()

	ladder := decimal.NewFromInt(30)
	f.service.SetLadderLookup(func(symbol string) *decimal.Decimal { return &ladder })

	f.seedHolding(t, "AVAX", 100, 20, fPtr(18), fPtr(25))
	f.feed.SetPrice("AVAX", decimal.NewFromInt(25))

	result, err := f.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.TakeProfits)

	holding, err := f.portfolio.GetHolding("AVAX")
	require.NoError(t, err)
	require.NotNil(t, holding)
	assert.True(t, holding.Quantity.Equal(decimal.NewFromInt(50)),
		"quantity was %s, exactly half must be sold", holding.Quantity)
	require.NotNil(t, holding.StopLoss)
	assert.True(t, holding.StopLoss.Equal(decimal.NewFromInt(20)),
		"stop was %s, must move to breakeven", holding.StopLoss)
	require.NotNil(t, holding.TakeProfit)
	assert.True(t, holding.TakeProfit.Equal(ladder),
		"take-profit was %s, must advance to the next rung", holding.TakeProfit)
}

func TestRunCycle_SecondRungSellsRemainder(t *testing.T) {
	f, cleanup := setupMonitor(t)
	defer cleanup()

	// Stop at average cost marks the position as already on the second rung
	f.seedHolding(t, "AVAX", 50, 20, fPtr(20), fPtr(30))
	f.feed.SetPrice("AVAX", decimal.NewFromInt(30))

	result, err := f.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.TakeProfits)

	holding, err := f.portfolio.GetHolding("AVAX")
	require.NoError(t, err)
	assert.Nil(t, holding, "second take-profit rung must close the position")
}

func TestRunCycle_PartialLadderEndToEnd(t *testing.T) {
	f, cleanup := setupMonitor(t)
	defer cleanup()

	f.seedHolding(t, "AVAX", 100, 20, fPtr(18), fPtr(25))
	ctx := context.Background()

	// First rung: 100 -> 50, stop to breakeven
	f.feed.SetPrice("AVAX", decimal.NewFromInt(25))
	_, err := f.service.RunCycle(ctx)
	require.NoError(t, err)

	// Price collapses below the breakeven stop: remainder exits as stop-loss
	f.feed.SetPrice("AVAX", decimal.NewFromInt(17))
	result, err := f.service.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.StopLosses)

	holding, err := f.portfolio.GetHolding("AVAX")
	require.NoError(t, err)
	assert.Nil(t, holding)
}

func TestRunCycle_FullExitStrategy(t *testing.T) {
	f, cleanup := setupMonitor(t)
	defer cleanup()

	require.NoError(t, f.settings.Set("exit_strategy", "full", nil))

	f.seedHolding(t, "SOL", 10, 100, fPtr(95), fPtr(120))
	f.feed.SetPrice("SOL", decimal.NewFromInt(120))

	result, err := f.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.TakeProfits)

	holding, err := f.portfolio.GetHolding("SOL")
	require.NoError(t, err)
	assert.Nil(t, holding)
}

func TestRunCycle_TrailingStopOnlyMovesUp(t *testing.T) {
	f, cleanup := setupMonitor(t)
	defer cleanup()

	require.NoError(t, f.settings.Set("exit_strategy", "trailing", nil))

	f.seedHolding(t, "ETH", 1, 2000, fPtr(1900), nil)
	ctx := context.Background()

	// Price rallies: stop trails up to 95% of the mark
	f.feed.SetPrice("ETH", decimal.NewFromInt(2200))
	result, err := f.service.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TrailingMoves)

	holding, err := f.portfolio.GetHolding("ETH")
	require.NoError(t, err)
	require.NotNil(t, holding)
	require.NotNil(t, holding.StopLoss)
	assert.True(t, holding.StopLoss.Equal(decimal.NewFromInt(2090)),
		"stop was %s", holding.StopLoss)

	// Price falls back but stays above the stop: the stop must not retreat
	f.feed.SetPrice("ETH", decimal.NewFromInt(2100))
	result, err = f.service.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.TrailingMoves)

	holding, err = f.portfolio.GetHolding("ETH")
	require.NoError(t, err)
	require.NotNil(t, holding)
	assert.True(t, holding.StopLoss.Equal(decimal.NewFromInt(2090)),
		"trailing stop retreated to %s", holding.StopLoss)
}

func TestRunCycle_RecordsPricesToHistory(t *testing.T) {
	f, cleanup := setupMonitor(t)
	defer cleanup()

	f.seedHolding(t, "BTC", 0.1, 50000, fPtr(48000), nil)
	f.feed.SetPrice("BTC", decimal.NewFromInt(51000))

	_, err := f.service.RunCycle(context.Background())
	require.NoError(t, err)

	closes, err := f.history.DailyCloses("BTC", 2)
	require.NoError(t, err)
	assert.Len(t, closes, 1)
}

func TestRunCycle_PriceFailureCountsAsErrorAndLeavesPosition(t *testing.T) {
	f, cleanup := setupMonitor(t)
	defer cleanup()

	f.seedHolding(t, "BTC", 0.1, 50000, fPtr(48000), nil)
	f.feed.SetError(errors.New("feed down"))

	result, err := f.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)

	holding, err := f.portfolio.GetHolding("BTC")
	require.NoError(t, err)
	assert.NotNil(t, holding)
}
