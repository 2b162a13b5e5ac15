package testing

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/coinpilot/coinpilot/internal/domain"
)

// MockPriceFeed is a configurable in-memory price feed for tests.
// Prices are keyed by normalized symbol; a missing symbol returns an error,
// matching the real client's behavior on an unknown instrument.
type MockPriceFeed struct {
	mu        sync.Mutex
	prices    map[string]decimal.Decimal
	slippage  decimal.Decimal
	priceErr  error
	callCount int
}

var _ domain.PriceFeed = (*MockPriceFeed)(nil)

// NewMockPriceFeed creates a price feed with zero slippage
func NewMockPriceFeed() *MockPriceFeed {
	return &MockPriceFeed{
		prices:   make(map[string]decimal.Decimal),
		slippage: decimal.Zero,
	}
}

// SetPrice sets the quoted price for a symbol
func (f *MockPriceFeed) SetPrice(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[domain.NormalizeSymbol(symbol)] = price
}

// SetSlippage sets the slippage fraction returned for every estimate
func (f *MockPriceFeed) SetSlippage(s decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slippage = s
}

// SetError makes every price lookup fail with err until cleared with nil
func (f *MockPriceFeed) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceErr = err
}

// CallCount returns how many price lookups were made
func (f *MockPriceFeed) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

// GetCurrentPrice implements domain.PriceFeed
func (f *MockPriceFeed) GetCurrentPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount++
	if f.priceErr != nil {
		return decimal.Zero, f.priceErr
	}
	price, ok := f.prices[domain.NormalizeSymbol(symbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for symbol %s", symbol)
	}
	return price, nil
}

// EstimateSlippage implements domain.PriceFeed
func (f *MockPriceFeed) EstimateSlippage(_ context.Context, _ string, _ string, _ decimal.Decimal) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slippage, nil
}

// StaticCorrelations is a fixed correlation table for tests
type StaticCorrelations map[[2]string]float64

var _ domain.CorrelationProvider = (StaticCorrelations)(nil)

// Correlation implements domain.CorrelationProvider
func (s StaticCorrelations) Correlation(a, b string) (float64, bool) {
	a = domain.NormalizeSymbol(a)
	b = domain.NormalizeSymbol(b)
	if v, ok := s[[2]string{a, b}]; ok {
		return v, true
	}
	if v, ok := s[[2]string{b, a}]; ok {
		return v, true
	}
	return 0, false
}
