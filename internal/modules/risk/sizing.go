package risk

import (
	"github.com/shopspring/decimal"

	"github.com/coinpilot/coinpilot/internal/domain"
	"github.com/coinpilot/coinpilot/internal/modules/settings"
)

// SizePosition derives a quantity from the capital the caller is willing to
// lose if the stop is hit: (portfolioValue * riskFraction) / (entry - stop),
// capped so the position's notional never exceeds the configured maximum
// position size. Returns zero when stop >= entry, meaning the trade should
// not be sized at all.
func SizePosition(entry, stop, riskFraction, portfolioValue, maxPositionFraction decimal.Decimal) decimal.Decimal {
	if stop.GreaterThanOrEqual(entry) || entry.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	if portfolioValue.LessThanOrEqual(decimal.Zero) || riskFraction.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	quantity := portfolioValue.Mul(riskFraction).Div(entry.Sub(stop))

	maxNotional := portfolioValue.Mul(maxPositionFraction)
	if quantity.Mul(entry).GreaterThan(maxNotional) {
		quantity = maxNotional.Div(entry)
	}
	return quantity
}

// ProposedQuantity sizes a recommendation according to the configured
// strategy. Equal weighting spends the flat maximum position size;
// confidence weighting scales that maximum by confidence/100.
func ProposedQuantity(strategy domain.SizingStrategy, entry, portfolioValue decimal.Decimal,
	confidence float64, cfg settings.TradingConfig) decimal.Decimal {

	if entry.LessThanOrEqual(decimal.Zero) || portfolioValue.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	notional := portfolioValue.Mul(cfg.MaxPositionFraction)
	if strategy == domain.SizingConfidenceWeighted {
		notional = notional.Mul(decimal.NewFromFloat(confidence / 100))
	}
	return notional.Div(entry)
}
