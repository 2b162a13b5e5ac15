package risk

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpilot/coinpilot/internal/modules/history"
	testingpkg "github.com/coinpilot/coinpilot/internal/testing"
)

func setupCorrelation(t *testing.T) (*HistoryCorrelationProvider, *history.Repository, func()) {
	t.Helper()

	db, cleanup := testingpkg.NewTestDB(t, "history")
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := history.NewRepository(db.Conn(), log)
	return NewHistoryCorrelationProvider(repo, log), repo, cleanup
}

func TestCorrelation_SameSymbol(t *testing.T) {
	p, _, cleanup := setupCorrelation(t)
	defer cleanup()

	coeff, ok := p.Correlation("BTC", "BTC")
	assert.True(t, ok)
	assert.Equal(t, 1.0, coeff)
}

func TestCorrelation_StaticBucketFallback(t *testing.T) {
	p, _, cleanup := setupCorrelation(t)
	defer cleanup()

	tests := []struct {
		a, b  string
		coeff float64
		ok    bool
	}{
		{"BTC", "WBTC", 0.98, true},
		{"WBTC", "BTC", 0.98, true},
		{"ETH", "STETH", 0.97, true},
		{"DOGE", "SHIB", 0.85, true},
		{"BTC", "DOGE", 0, false},
		{"XRP", "ADA", 0, false},
	}
	for _, tt := range tests {
		coeff, ok := p.Correlation(tt.a, tt.b)
		assert.Equal(t, tt.ok, ok, "%s/%s", tt.a, tt.b)
		assert.Equal(t, tt.coeff, coeff, "%s/%s", tt.a, tt.b)
	}
}

func TestCorrelation_EmpiricalOverridesStatic(t *testing.T) {
	p, repo, cleanup := setupCorrelation(t)
	defer cleanup()

	// Two perfectly anti-correlated series over 40 consecutive days. The
	// empirical estimate must win over the static table, which has no entry
	// for this pair anyway.
	start := time.Now().AddDate(0, 0, -41)
	for i := 0; i < 41; i++ {
		day := start.AddDate(0, 0, i)
		up := 100.0 + float64(i%2)   // alternates 100, 101
		down := 101.0 - float64(i%2) // alternates 101, 100
		require.NoError(t, repo.Record("AAA", decimal.NewFromFloat(up), day))
		require.NoError(t, repo.Record("BBB", decimal.NewFromFloat(down), day))
	}

	coeff, ok := p.Correlation("AAA", "BBB")
	require.True(t, ok)
	assert.Less(t, coeff, -0.9, "alternating opposite moves should be strongly negative")
}

func TestAlignedReturns_SimpleDailyReturns(t *testing.T) {
	day := func(i int) time.Time { return time.Date(2024, 3, 1+i, 0, 0, 0, 0, time.UTC) }
	a := map[time.Time]float64{day(0): 100, day(1): 110, day(2): 99}
	b := map[time.Time]float64{day(0): 200, day(1): 190, day(2): 209}

	returnsA, returnsB := alignedReturns(a, b)
	require.Len(t, returnsA, 2)
	require.Len(t, returnsB, 2)
	assert.InDelta(t, 0.10, returnsA[0], 1e-9)
	assert.InDelta(t, -0.10, returnsA[1], 1e-9)
	assert.InDelta(t, -0.05, returnsB[0], 1e-9)
	assert.InDelta(t, 0.10, returnsB[1], 1e-9)
}

func TestCorrelation_ThinOverlapFallsBack(t *testing.T) {
	p, repo, cleanup := setupCorrelation(t)
	defer cleanup()

	// Only five overlapping days: far below the twenty-return minimum
	start := time.Now().AddDate(0, 0, -6)
	for i := 0; i < 5; i++ {
		day := start.AddDate(0, 0, i)
		require.NoError(t, repo.Record("BTC", decimal.NewFromFloat(50000+float64(i)), day))
		require.NoError(t, repo.Record("WBTC", decimal.NewFromFloat(50000+float64(i)), day))
	}

	coeff, ok := p.Correlation("BTC", "WBTC")
	assert.True(t, ok)
	assert.Equal(t, 0.98, coeff, "thin history must fall back to the static bucket")
}
