package portfolio

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coinpilot/coinpilot/internal/domain"
	"github.com/coinpilot/coinpilot/internal/monitoring"
)

// Service builds mark-to-market views of the portfolio
type Service struct {
	repo *Repository
	feed domain.PriceFeed
	log  zerolog.Logger
}

// NewService creates a new portfolio service
func NewService(repo *Repository, feed domain.PriceFeed, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		feed: feed,
		log:  log.With().Str("service", "portfolio").Logger(),
	}
}

// Repository exposes the underlying repository for transactional callers
func (s *Service) Repository() *Repository {
	return s.repo
}

// GetSnapshot marks every holding at its current price and returns the
// portfolio-wide view. A holding whose price cannot be fetched is valued at
// its cost basis so the total never silently drops to zero.
func (s *Service) GetSnapshot(ctx context.Context) (*Snapshot, error) {
	cash, err := s.repo.GetCashBalance()
	if err != nil {
		return nil, err
	}

	holdings, err := s.repo.GetAllHoldings()
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		Cash:      cash,
		Positions: make([]Position, 0, len(holdings)),
		Timestamp: time.Now(),
	}

	total := cash
	for _, h := range holdings {
		price, err := s.feed.GetCurrentPrice(ctx, h.Symbol)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", h.Symbol).
				Msg("Price unavailable, valuing holding at cost basis")
			price = h.AverageCost
		}

		marketValue := h.Quantity.Mul(price)
		snapshot.Positions = append(snapshot.Positions, Position{
			Holding:       h,
			CurrentPrice:  price,
			MarketValue:   marketValue,
			UnrealizedPnL: marketValue.Sub(h.CostBasis()),
		})
		total = total.Add(marketValue)
	}

	snapshot.TotalValue = total
	value, _ := total.Float64()
	monitoring.UpdatePortfolio(value, len(snapshot.Positions))
	return snapshot, nil
}

// GetCashBalance returns the current virtual cash balance
func (s *Service) GetCashBalance() (decimal.Decimal, error) {
	return s.repo.GetCashBalance()
}

// GetHoldings returns all open holdings without price enrichment
func (s *Service) GetHoldings() ([]Holding, error) {
	return s.repo.GetAllHoldings()
}
