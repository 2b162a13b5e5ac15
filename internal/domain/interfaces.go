package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceFeed is the narrow contract to the external market-data collaborator.
// Implementations must be retryable; price failures propagate as execution
// failures. Slippage estimation may fall back to a conservative default
// fraction when order-book depth is unavailable.
type PriceFeed interface {
	// GetCurrentPrice returns the current quoted price for a symbol
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// EstimateSlippage returns the expected slippage fraction for a trade of
	// the given notional size (in quote currency)
	EstimateSlippage(ctx context.Context, symbol string, side string, notional decimal.Decimal) (decimal.Decimal, error)
}

// CorrelationProvider answers how correlated two symbols are.
// The second return value is false when no estimate is available.
type CorrelationProvider interface {
	Correlation(a, b string) (float64, bool)
}
