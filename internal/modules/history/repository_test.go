package history

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHistoryDB(t *testing.T) *Repository {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE price_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			price TEXT NOT NULL,
			observed_at INTEGER NOT NULL
		)`)
	require.NoError(t, err)

	return NewRepository(db, zerolog.New(nil).Level(zerolog.Disabled))
}

func TestDailyCloses_LastObservationOfTheDayWins(t *testing.T) {
	repo := setupHistoryDB(t)

	day := time.Now().UTC().Truncate(24 * time.Hour)
	require.NoError(t, repo.Record("BTC", decimal.NewFromInt(50000), day.Add(9*time.Hour)))
	require.NoError(t, repo.Record("BTC", decimal.NewFromInt(51000), day.Add(15*time.Hour)))
	require.NoError(t, repo.Record("BTC", decimal.NewFromInt(50500), day.Add(3*time.Hour)))

	closes, err := repo.DailyCloses("BTC", 7)
	require.NoError(t, err)
	require.Len(t, closes, 1)
	assert.Equal(t, 51000.0, closes[day])
}

func TestDailyCloses_ScopedToSymbolAndWindow(t *testing.T) {
	repo := setupHistoryDB(t)

	now := time.Now().UTC()
	require.NoError(t, repo.Record("BTC", decimal.NewFromInt(50000), now))
	require.NoError(t, repo.Record("ETH", decimal.NewFromInt(2000), now))
	require.NoError(t, repo.Record("BTC", decimal.NewFromInt(30000), now.AddDate(0, 0, -10)))

	closes, err := repo.DailyCloses("BTC", 7)
	require.NoError(t, err)
	require.Len(t, closes, 1)
	assert.Equal(t, 50000.0, closes[now.Truncate(24*time.Hour)])
}

func TestPrune_RemovesOnlyOldObservations(t *testing.T) {
	repo := setupHistoryDB(t)

	now := time.Now().UTC()
	require.NoError(t, repo.Record("BTC", decimal.NewFromInt(40000), now.AddDate(0, 0, -120)))
	require.NoError(t, repo.Record("BTC", decimal.NewFromInt(50000), now))

	require.NoError(t, repo.Prune(now.AddDate(0, 0, -90)))

	closes, err := repo.DailyCloses("BTC", 365)
	require.NoError(t, err)
	require.Len(t, closes, 1)
	assert.Equal(t, 50000.0, closes[now.Truncate(24*time.Hour)])
}
