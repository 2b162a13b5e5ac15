package risk

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/coinpilot/coinpilot/internal/modules/history"
)

// minOverlap is the minimum number of overlapping daily returns required
// before an empirical correlation is trusted over the static table.
const minOverlap = 20

// correlationLookbackDays bounds how much history feeds the estimate
const correlationLookbackDays = 90

// correlationBuckets groups symbols that track the same underlying asset or
// move together closely enough that holding both adds no diversification.
// Pairs within a bucket are assigned the bucket's correlation when no
// empirical estimate is available.
var correlationBuckets = []struct {
	symbols []string
	coeff   float64
}{
	{[]string{"BTC", "WBTC", "TBTC"}, 0.98},
	{[]string{"ETH", "WETH", "STETH", "RETH", "CBETH"}, 0.97},
	{[]string{"SOL", "JITOSOL", "MSOL"}, 0.95},
	{[]string{"DOGE", "SHIB"}, 0.85},
	{[]string{"UNI", "SUSHI", "CAKE"}, 0.82},
}

// HistoryCorrelationProvider estimates pairwise correlation from recorded
// daily returns, falling back to a static bucket table when the overlap is
// too thin to be meaningful.
type HistoryCorrelationProvider struct {
	history *history.Repository
	log     zerolog.Logger
}

// NewHistoryCorrelationProvider creates a correlation provider backed by
// the price history repository.
func NewHistoryCorrelationProvider(repo *history.Repository, log zerolog.Logger) *HistoryCorrelationProvider {
	return &HistoryCorrelationProvider{
		history: repo,
		log:     log.With().Str("service", "correlation").Logger(),
	}
}

// Correlation returns the estimated correlation between two symbols and
// whether any estimate (empirical or static) is available.
func (p *HistoryCorrelationProvider) Correlation(a, b string) (float64, bool) {
	if a == b {
		return 1, true
	}

	if coeff, ok := p.empirical(a, b); ok {
		return coeff, true
	}
	return staticCorrelation(a, b)
}

func (p *HistoryCorrelationProvider) empirical(a, b string) (float64, bool) {
	closesA, err := p.history.DailyCloses(a, correlationLookbackDays)
	if err != nil {
		p.log.Warn().Err(err).Str("symbol", a).Msg("Failed to load price history")
		return 0, false
	}
	closesB, err := p.history.DailyCloses(b, correlationLookbackDays)
	if err != nil {
		p.log.Warn().Err(err).Str("symbol", b).Msg("Failed to load price history")
		return 0, false
	}

	returnsA, returnsB := alignedReturns(closesA, closesB)
	if len(returnsA) < minOverlap {
		return 0, false
	}
	return stat.Correlation(returnsA, returnsB, nil), true
}

// alignedReturns computes day-over-day returns for the days both series
// cover, in chronological order.
func alignedReturns(a, b map[time.Time]float64) ([]float64, []float64) {
	var days []time.Time
	for day := range a {
		if _, ok := b[day]; ok {
			days = append(days, day)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	var returnsA, returnsB []float64
	for i := 1; i < len(days); i++ {
		prev, cur := days[i-1], days[i]
		// Only consecutive calendar days produce a daily return
		if cur.Sub(prev) != 24*time.Hour {
			continue
		}
		if a[prev] == 0 || b[prev] == 0 {
			continue
		}
		returnsA = append(returnsA, a[cur]/a[prev]-1)
		returnsB = append(returnsB, b[cur]/b[prev]-1)
	}
	return returnsA, returnsB
}

func staticCorrelation(a, b string) (float64, bool) {
	for _, bucket := range correlationBuckets {
		foundA, foundB := false, false
		for _, s := range bucket.symbols {
			if s == a {
				foundA = true
			}
			if s == b {
				foundB = true
			}
		}
		if foundA && foundB {
			return bucket.coeff, true
		}
	}
	return 0, false
}
