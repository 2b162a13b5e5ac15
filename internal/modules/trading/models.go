// Package trading executes simulated trades against the ledger.
package trading

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinpilot/coinpilot/internal/domain"
)

// TradeSide is the direction of a trade
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// TradeSideFromString creates a TradeSide from a string (case-insensitive)
func TradeSideFromString(value string) (TradeSide, error) {
	switch strings.ToUpper(value) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	default:
		return "", fmt.Errorf("invalid trade side: %s", value)
	}
}

// Trade is one immutable ledger entry. CashDelta is the signed effect on the
// cash balance (negative for buys). RealizedPnL is set only on sells.
type Trade struct {
	ID               int64            `json:"id"`
	Symbol           string           `json:"symbol"`
	Side             TradeSide        `json:"side"`
	Quantity         decimal.Decimal  `json:"quantity"`
	Price            decimal.Decimal  `json:"price"`
	Fee              decimal.Decimal  `json:"fee"`
	Slippage         decimal.Decimal  `json:"slippage"`
	CashDelta        decimal.Decimal  `json:"cash_delta"`
	RealizedPnL      *decimal.Decimal `json:"realized_pnl,omitempty"`
	TradeType        domain.TradeType `json:"trade_type"`
	TriggeredBy      string           `json:"triggered_by"`
	RecommendationID *int64           `json:"recommendation_id,omitempty"`
	ExecutedAt       time.Time        `json:"executed_at"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Order describes a trade the executor should attempt. Price and slippage
// are resolved by the executor; the caller supplies intent only.
type Order struct {
	Symbol           string
	Side             TradeSide
	Quantity         decimal.Decimal
	TradeType        domain.TradeType
	TriggeredBy      domain.TriggerType
	RecommendationID *int64

	// Optional protection levels applied to the resulting holding on BUY
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
}

// Validate checks the order before execution
func (o *Order) Validate() error {
	if domain.NormalizeSymbol(o.Symbol) == "" {
		return fmt.Errorf("order symbol cannot be empty")
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("invalid order side: %s", o.Side)
	}
	if o.Quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("order quantity must be positive, got %s", o.Quantity)
	}
	if !o.TradeType.IsValid() {
		return fmt.Errorf("invalid trade type: %s", o.TradeType)
	}
	return nil
}

// Result describes a completed execution
type Result struct {
	Trade          *Trade          `json:"trade"`
	FillPrice      decimal.Decimal `json:"fill_price"`
	RemainingCash  decimal.Decimal `json:"remaining_cash"`
	PositionClosed bool            `json:"position_closed"`
}
