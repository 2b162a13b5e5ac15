package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/coinpilot/coinpilot/internal/domain"
	"github.com/coinpilot/coinpilot/internal/modules/settings"
)

func TestSizePosition(t *testing.T) {
	tests := []struct {
		name                string
		entry, stop         float64
		riskFraction        float64
		portfolioValue      float64
		maxPositionFraction float64
		want                float64
	}{
		{
			// risk $100, $10 per unit at risk -> 10 units, notional 1000 = 10% cap exactly
			name:  "risk based quantity",
			entry: 100, stop: 90, riskFraction: 0.01,
			portfolioValue: 10000, maxPositionFraction: 0.10,
			want: 10,
		},
		{
			// tight stop would allow 100 units = $10,000 notional; capped at 10%
			name:  "capped by max position size",
			entry: 100, stop: 99, riskFraction: 0.01,
			portfolioValue: 10000, maxPositionFraction: 0.10,
			want: 10,
		},
		{
			name:  "stop at entry yields zero",
			entry: 100, stop: 100, riskFraction: 0.01,
			portfolioValue: 10000, maxPositionFraction: 0.10,
			want: 0,
		},
		{
			name:  "stop above entry yields zero",
			entry: 100, stop: 110, riskFraction: 0.01,
			portfolioValue: 10000, maxPositionFraction: 0.10,
			want: 0,
		},
		{
			name:  "zero portfolio yields zero",
			entry: 100, stop: 90, riskFraction: 0.01,
			portfolioValue: 0, maxPositionFraction: 0.10,
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SizePosition(
				decimal.NewFromFloat(tt.entry),
				decimal.NewFromFloat(tt.stop),
				decimal.NewFromFloat(tt.riskFraction),
				decimal.NewFromFloat(tt.portfolioValue),
				decimal.NewFromFloat(tt.maxPositionFraction),
			)
			assert.True(t, got.Equal(decimal.NewFromFloat(tt.want)),
				"got %s, want %v", got, tt.want)
		})
	}
}

func TestProposedQuantity(t *testing.T) {
	cfg := settings.DefaultTradingConfig() // MaxPositionFraction: 0.10

	// Equal weighting spends the full 10%: $1,000 at $100 -> 10 units
	qty := ProposedQuantity(domain.SizingEqual,
		decimal.NewFromInt(100), decimal.NewFromInt(10000), 90, cfg)
	assert.True(t, qty.Equal(decimal.NewFromInt(10)), "got %s", qty)

	// Confidence weighting scales by confidence/100
	qty = ProposedQuantity(domain.SizingConfidenceWeighted,
		decimal.NewFromInt(100), decimal.NewFromInt(10000), 90, cfg)
	assert.True(t, qty.Equal(decimal.NewFromInt(9)), "got %s", qty)

	// Degenerate inputs size to zero
	qty = ProposedQuantity(domain.SizingEqual,
		decimal.Zero, decimal.NewFromInt(10000), 90, cfg)
	assert.True(t, qty.IsZero())
}
