// Package portfolio tracks the virtual cash balance and open holdings.
package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is an open position in the simulated portfolio
type Holding struct {
	Symbol              string           `json:"symbol"`
	Quantity            decimal.Decimal  `json:"quantity"`
	AverageCost         decimal.Decimal  `json:"average_cost"`
	StopLoss            *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit          *decimal.Decimal `json:"take_profit,omitempty"`
	ProtectionUpdatedAt *time.Time       `json:"protection_updated_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// CostBasis returns quantity * average cost
func (h *Holding) CostBasis() decimal.Decimal {
	return h.Quantity.Mul(h.AverageCost)
}

// Position is a holding enriched with a live mark price
type Position struct {
	Holding
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Snapshot is a point-in-time view of the whole portfolio
type Snapshot struct {
	Cash       decimal.Decimal `json:"cash"`
	Positions  []Position      `json:"positions"`
	TotalValue decimal.Decimal `json:"total_value"`
	Timestamp  time.Time       `json:"timestamp"`
}

// OpenPositions returns the number of distinct holdings in the snapshot
func (s *Snapshot) OpenPositions() int {
	return len(s.Positions)
}

// Exposure returns the market value of the given symbol, or zero if the
// portfolio holds none of it.
func (s *Snapshot) Exposure(symbol string) decimal.Decimal {
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			return p.MarketValue
		}
	}
	return decimal.Zero
}
