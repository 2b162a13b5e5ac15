package trading

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coinpilot/coinpilot/internal/database"
	"github.com/coinpilot/coinpilot/internal/domain"
	"github.com/coinpilot/coinpilot/internal/events"
	"github.com/coinpilot/coinpilot/internal/modules/portfolio"
	"github.com/coinpilot/coinpilot/internal/modules/settings"
	"github.com/coinpilot/coinpilot/internal/monitoring"
)

// Execution failure sentinels. Callers match with errors.Is; the wrapped
// message carries the amounts involved.
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientPosition = errors.New("insufficient position")
)

// Executor applies orders to the ledger. Every execution mutates cash, the
// holding and the trade history inside one transaction, serialized by a
// package-wide mutex, so concurrent callers can never observe or produce a
// half-applied trade.
type Executor struct {
	mu sync.Mutex

	ledger    *database.DB
	portfolio *portfolio.Repository
	trades    *TradeRepository
	feed      domain.PriceFeed
	events    *events.Manager
	log       zerolog.Logger
}

// NewExecutor creates a new trade executor
func NewExecutor(
	ledger *database.DB,
	portfolioRepo *portfolio.Repository,
	trades *TradeRepository,
	feed domain.PriceFeed,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Executor {
	return &Executor{
		ledger:    ledger,
		portfolio: portfolioRepo,
		trades:    trades,
		feed:      feed,
		events:    eventManager,
		log:       log.With().Str("service", "executor").Logger(),
	}
}

// Execute fills an order at the current market price adjusted for slippage,
// charges the configured fee, and atomically updates cash, holdings and the
// trade ledger. The market price is frozen before the transaction opens; the
// held lock guarantees no other trade lands between the read and the commit.
func (e *Executor) Execute(ctx context.Context, order *Order, cfg settings.TradingConfig) (*Result, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	symbol := domain.NormalizeSymbol(order.Symbol)

	price, err := e.feed.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price for %s: %w", symbol, err)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("invalid market price for %s: %s", symbol, price)
	}

	notional := order.Quantity.Mul(price)
	slippage, err := e.feed.EstimateSlippage(ctx, symbol, string(order.Side), notional)
	if err != nil {
		e.log.Debug().Err(err).Str("symbol", symbol).
			Msg("Slippage estimate unavailable, using configured default")
		slippage = cfg.DefaultSlippage
	}

	// Slippage always works against the order
	var fillPrice decimal.Decimal
	if order.Side == SideBuy {
		fillPrice = price.Mul(decimal.NewFromInt(1).Add(slippage))
	} else {
		fillPrice = price.Mul(decimal.NewFromInt(1).Sub(slippage))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	result := &Result{FillPrice: fillPrice}
	err = database.WithTransaction(e.ledger.Conn(), func(tx *sql.Tx) error {
		switch order.Side {
		case SideBuy:
			return e.executeBuy(tx, order, symbol, fillPrice, slippage, cfg, result)
		default:
			return e.executeSell(tx, order, symbol, fillPrice, slippage, cfg, result)
		}
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("symbol", symbol).
		Str("side", string(order.Side)).
		Str("quantity", order.Quantity.String()).
		Str("fill_price", fillPrice.StringFixed(8)).
		Str("trade_type", string(order.TradeType)).
		Msg("Trade executed")

	e.events.Emit(events.TradeExecuted, "trading", map[string]interface{}{
		"symbol":     symbol,
		"side":       string(order.Side),
		"quantity":   order.Quantity.String(),
		"fill_price": fillPrice.String(),
		"trade_type": string(order.TradeType),
	})
	monitoring.RecordTrade(symbol, string(order.Side), string(order.TradeType))

	return result, nil
}

func (e *Executor) executeBuy(tx *sql.Tx, order *Order, symbol string,
	fillPrice, slippage decimal.Decimal, cfg settings.TradingConfig, result *Result) error {

	cash, err := e.portfolio.GetCashBalanceTx(tx)
	if err != nil {
		return err
	}

	cost := order.Quantity.Mul(fillPrice)
	fee := cost.Mul(cfg.FeeRate)
	total := cost.Add(fee)

	if cash.LessThan(total) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds,
			total.StringFixed(2), cash.StringFixed(2))
	}

	newCash := cash.Sub(total)
	if err := e.portfolio.SetCashBalanceTx(tx, newCash); err != nil {
		return err
	}

	existing, err := e.portfolio.GetHoldingTx(tx, symbol)
	if err != nil {
		return err
	}

	holding := &portfolio.Holding{
		Symbol:      symbol,
		Quantity:    order.Quantity,
		AverageCost: fillPrice,
		StopLoss:    order.StopLoss,
		TakeProfit:  order.TakeProfit,
	}
	if existing != nil {
		// Weighted-average cost across fills
		newQty := existing.Quantity.Add(order.Quantity)
		oldBasis := existing.Quantity.Mul(existing.AverageCost)
		newBasis := order.Quantity.Mul(fillPrice)
		holding.Quantity = newQty
		holding.AverageCost = oldBasis.Add(newBasis).Div(newQty)
	}
	if order.StopLoss != nil || order.TakeProfit != nil {
		now := time.Now()
		holding.ProtectionUpdatedAt = &now
	}
	if err := e.portfolio.UpsertHoldingTx(tx, holding); err != nil {
		return err
	}

	trade := &Trade{
		Symbol:           symbol,
		Side:             SideBuy,
		Quantity:         order.Quantity,
		Price:            fillPrice,
		Fee:              fee,
		Slippage:         slippage,
		CashDelta:        total.Neg(),
		TradeType:        order.TradeType,
		TriggeredBy:      string(order.TriggeredBy),
		RecommendationID: order.RecommendationID,
		ExecutedAt:       time.Now(),
	}
	if err := e.trades.CreateTx(tx, trade); err != nil {
		return err
	}

	result.Trade = trade
	result.RemainingCash = newCash
	return nil
}

func (e *Executor) executeSell(tx *sql.Tx, order *Order, symbol string,
	fillPrice, slippage decimal.Decimal, cfg settings.TradingConfig, result *Result) error {

	holding, err := e.portfolio.GetHoldingTx(tx, symbol)
	if err != nil {
		return err
	}
	if holding == nil {
		return fmt.Errorf("%w: no open position in %s", ErrInsufficientPosition, symbol)
	}
	if holding.Quantity.LessThan(order.Quantity) {
		return fmt.Errorf("%w: requested %s, holding %s", ErrInsufficientPosition,
			order.Quantity.String(), holding.Quantity.String())
	}

	proceeds := order.Quantity.Mul(fillPrice)
	fee := proceeds.Mul(cfg.FeeRate)
	net := proceeds.Sub(fee)
	realized := fillPrice.Sub(holding.AverageCost).Mul(order.Quantity).Sub(fee)

	cash, err := e.portfolio.GetCashBalanceTx(tx)
	if err != nil {
		return err
	}
	newCash := cash.Add(net)
	if err := e.portfolio.SetCashBalanceTx(tx, newCash); err != nil {
		return err
	}

	remaining := holding.Quantity.Sub(order.Quantity)
	if remaining.IsZero() {
		if err := e.portfolio.DeleteHoldingTx(tx, symbol); err != nil {
			return err
		}
		result.PositionClosed = true
	} else {
		// Average cost is unchanged by a partial sale
		holding.Quantity = remaining
		if err := e.portfolio.UpsertHoldingTx(tx, holding); err != nil {
			return err
		}
	}

	trade := &Trade{
		Symbol:           symbol,
		Side:             SideSell,
		Quantity:         order.Quantity,
		Price:            fillPrice,
		Fee:              fee,
		Slippage:         slippage,
		CashDelta:        net,
		RealizedPnL:      &realized,
		TradeType:        order.TradeType,
		TriggeredBy:      string(order.TriggeredBy),
		RecommendationID: order.RecommendationID,
		ExecutedAt:       time.Now(),
	}
	if err := e.trades.CreateTx(tx, trade); err != nil {
		return err
	}

	result.Trade = trade
	result.RemainingCash = newCash
	return nil
}
