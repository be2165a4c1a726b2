package trading

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/civil"

	"quicktrade/internal/broker"
	"quicktrade/internal/models"
)

// PositionSummary aggregates the open positions.
type PositionSummary struct {
	TotalPositions int               `json:"total_positions"`
	TotalPnL       float64           `json:"total_pnl"`
	Positions      []models.Position `json:"positions"`
}

// PortfolioService reads positions and orders from the execution broker.
type PortfolioService struct {
	broker broker.ExecutionBroker
	loc    *time.Location
}

// NewPortfolioService creates a new portfolio service. Order days are
// evaluated in loc.
func NewPortfolioService(b broker.ExecutionBroker, loc *time.Location) *PortfolioService {
	if loc == nil {
		loc = time.UTC
	}
	return &PortfolioService{broker: b, loc: loc}
}

// Summary returns the open positions with their combined P&L.
func (s *PortfolioService) Summary(ctx context.Context) (*PositionSummary, error) {
	positions, err := s.broker.GetPositions(ctx)
	if err != nil {
		return nil, err
	}

	summary := &PositionSummary{Positions: []models.Position{}}
	for _, p := range positions {
		if !p.IsOpen() {
			continue
		}
		summary.Positions = append(summary.Positions, p)
		summary.TotalPnL += p.PnL
	}
	summary.TotalPositions = len(summary.Positions)
	return summary, nil
}

// OrdersOn returns the orders placed on day, latest first.
func (s *PortfolioService) OrdersOn(ctx context.Context, day civil.Date) ([]models.Order, error) {
	orders, err := s.broker.GetOrders(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		if civil.DateOf(o.PlacedAt.In(s.loc)) == day {
			result = append(result, o)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].PlacedAt.After(result[j].PlacedAt)
	})
	return result, nil
}
