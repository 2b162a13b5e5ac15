package portfolio_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpilot/coinpilot/internal/database"
	"github.com/coinpilot/coinpilot/internal/modules/portfolio"
	testingpkg "github.com/coinpilot/coinpilot/internal/testing"
)

func setupRepo(t *testing.T) (*portfolio.Repository, *database.DB, func()) {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return portfolio.NewRepository(db.Conn(), log), db, cleanup
}

func upsert(t *testing.T, db *database.DB, repo *portfolio.Repository, h *portfolio.Holding) {
	t.Helper()
	err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		return repo.UpsertHoldingTx(tx, h)
	})
	require.NoError(t, err)
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func decPtr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

func TestInitCashBalance_IsIdempotent(t *testing.T) {
	repo, _, cleanup := setupRepo(t)
	defer cleanup()

	require.NoError(t, repo.InitCashBalance(dec(10000)))
	require.NoError(t, repo.InitCashBalance(dec(99999)))

	cash, err := repo.GetCashBalance()
	require.NoError(t, err)
	assert.True(t, cash.Equal(dec(10000)), "second init must not overwrite, got %s", cash)
}

func TestSetCashBalanceTx(t *testing.T) {
	repo, db, cleanup := setupRepo(t)
	defer cleanup()

	require.NoError(t, repo.InitCashBalance(dec(10000)))
	err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		cash, err := repo.GetCashBalanceTx(tx)
		if err != nil {
			return err
		}
		return repo.SetCashBalanceTx(tx, cash.Sub(dec(2500)))
	})
	require.NoError(t, err)

	cash, err := repo.GetCashBalance()
	require.NoError(t, err)
	assert.True(t, cash.Equal(dec(7500)), "got %s", cash)
}

func TestUpsertHolding_PreservesProtectionOnMerge(t *testing.T) {
	repo, db, cleanup := setupRepo(t)
	defer cleanup()

	upsert(t, db, repo, &portfolio.Holding{
		Symbol:      "BTC",
		Quantity:    dec(1),
		AverageCost: dec(50000),
		StopLoss:    decPtr(45000),
		TakeProfit:  decPtr(60000),
	})

	// A second fill updates quantity and cost but carries no protection;
	// the existing levels must survive the merge.
	upsert(t, db, repo, &portfolio.Holding{
		Symbol:      "BTC",
		Quantity:    dec(2),
		AverageCost: dec(52000),
	})

	h, err := repo.GetHolding("BTC")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, h.Quantity.Equal(dec(2)))
	assert.True(t, h.AverageCost.Equal(dec(52000)))
	require.NotNil(t, h.StopLoss)
	assert.True(t, h.StopLoss.Equal(dec(45000)), "stop-loss lost in merge, got %s", h.StopLoss)
	require.NotNil(t, h.TakeProfit)
	assert.True(t, h.TakeProfit.Equal(dec(60000)))
}

func TestSetProtection_OverwritesAndClears(t *testing.T) {
	repo, db, cleanup := setupRepo(t)
	defer cleanup()

	upsert(t, db, repo, &portfolio.Holding{
		Symbol:      "ETH",
		Quantity:    dec(10),
		AverageCost: dec(2000),
		StopLoss:    decPtr(1900),
		TakeProfit:  decPtr(2500),
	})

	require.NoError(t, repo.SetProtection("ETH", decPtr(2000), nil))

	h, err := repo.GetHolding("ETH")
	require.NoError(t, err)
	require.NotNil(t, h.StopLoss)
	assert.True(t, h.StopLoss.Equal(dec(2000)))
	assert.Nil(t, h.TakeProfit, "nil must clear the level, not keep it")
	assert.NotNil(t, h.ProtectionUpdatedAt)
}

func TestUpdateProtection_NilLeavesLevelUntouched(t *testing.T) {
	repo, db, cleanup := setupRepo(t)
	defer cleanup()

	upsert(t, db, repo, &portfolio.Holding{
		Symbol:      "ETH",
		Quantity:    dec(10),
		AverageCost: dec(2000),
		StopLoss:    decPtr(1900),
		TakeProfit:  decPtr(2500),
	})

	require.NoError(t, repo.UpdateProtection("ETH", decPtr(1950), nil))

	h, err := repo.GetHolding("ETH")
	require.NoError(t, err)
	assert.True(t, h.StopLoss.Equal(dec(1950)))
	require.NotNil(t, h.TakeProfit)
	assert.True(t, h.TakeProfit.Equal(dec(2500)))
}

func TestDeleteHoldingTx(t *testing.T) {
	repo, db, cleanup := setupRepo(t)
	defer cleanup()

	upsert(t, db, repo, &portfolio.Holding{Symbol: "SOL", Quantity: dec(5), AverageCost: dec(100)})

	err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		return repo.DeleteHoldingTx(tx, "SOL")
	})
	require.NoError(t, err)

	h, err := repo.GetHolding("SOL")
	require.NoError(t, err)
	assert.Nil(t, h)

	count, err := repo.CountHoldings()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestGetAllHoldings_OrderedBySymbol(t *testing.T) {
	repo, db, cleanup := setupRepo(t)
	defer cleanup()

	for _, sym := range []string{"SOL", "BTC", "ETH"} {
		upsert(t, db, repo, &portfolio.Holding{Symbol: sym, Quantity: dec(1), AverageCost: dec(10)})
	}

	holdings, err := repo.GetAllHoldings()
	require.NoError(t, err)
	require.Len(t, holdings, 3)
	assert.Equal(t, "BTC", holdings[0].Symbol)
	assert.Equal(t, "ETH", holdings[1].Symbol)
	assert.Equal(t, "SOL", holdings[2].Symbol)
}

func TestSnapshot_MarksHoldingsAndFallsBackToCost(t *testing.T) {
	repo, db, cleanup := setupRepo(t)
	defer cleanup()

	require.NoError(t, repo.InitCashBalance(dec(1000)))
	upsert(t, db, repo, &portfolio.Holding{Symbol: "BTC", Quantity: dec(1), AverageCost: dec(50000)})
	upsert(t, db, repo, &portfolio.Holding{Symbol: "ETH", Quantity: dec(2), AverageCost: dec(2000)})

	feed := testingpkg.NewMockPriceFeed()
	feed.SetPrice("BTC", dec(55000))
	// No ETH quote: the snapshot values it at cost basis instead of zero
	svc := portfolio.NewService(repo, feed, zerolog.New(nil).Level(zerolog.Disabled))

	snap, err := svc.GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.OpenPositions())
	assert.True(t, snap.TotalValue.Equal(dec(60000)), "1000 + 55000 + 4000, got %s", snap.TotalValue)
	assert.True(t, snap.Exposure("BTC").Equal(dec(55000)))
	assert.True(t, snap.Exposure("ETH").Equal(dec(4000)))
	assert.True(t, snap.Exposure("DOGE").IsZero())

	var btc *portfolio.Position
	for i := range snap.Positions {
		if snap.Positions[i].Symbol == "BTC" {
			btc = &snap.Positions[i]
		}
	}
	require.NotNil(t, btc)
	assert.True(t, btc.UnrealizedPnL.Equal(dec(5000)), "got %s", btc.UnrealizedPnL)
}
