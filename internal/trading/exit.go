package trading

import (
	"context"
	"fmt"

	apperrors "quicktrade/internal/errors"
	"quicktrade/internal/models"
)

// ExitResult describes one closing order.
type ExitResult struct {
	Symbol   string           `json:"symbol"`
	OrderID  string           `json:"order_id"`
	Side     models.OrderSide `json:"side"`
	Quantity int              `json:"quantity"`
}

// ExitFailure describes a position that could not be closed.
type ExitFailure struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

// ExitAllResult summarises an exit-all run.
type ExitAllResult struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Exited  []ExitResult  `json:"exited_positions"`
	Failed  []ExitFailure `json:"failed_positions"`
}

// ExitPosition closes the open F&O position in symbol with a market order.
func (s *OrderService) ExitPosition(ctx context.Context, symbol string) (*ExitResult, error) {
	if symbol == "" {
		return nil, apperrors.NewInvalidInput("symbol", "required")
	}
	if !s.broker.IsAuthenticated() {
		return nil, apperrors.NewNotAuthenticated(s.broker.Name())
	}

	positions, err := s.broker.GetPositions(ctx)
	if err != nil {
		return nil, apperrors.New(apperrors.KindExitFailed, "Could not load positions", "Retry in a moment", err)
	}

	for _, p := range positions {
		if p.Symbol == symbol && p.Exchange == models.NFO && p.IsOpen() {
			return s.closePosition(ctx, models.TradeActionExit, p)
		}
	}
	return nil, apperrors.New(apperrors.KindExitFailed,
		fmt.Sprintf("No open position in %s", symbol),
		"Check open positions before exiting", nil)
}

// ExitAll closes every open intraday F&O position. It keeps going past
// individual failures and reports them in the result.
func (s *OrderService) ExitAll(ctx context.Context) (*ExitAllResult, error) {
	if !s.broker.IsAuthenticated() {
		return nil, apperrors.NewNotAuthenticated(s.broker.Name())
	}

	positions, err := s.broker.GetPositions(ctx)
	if err != nil {
		return nil, apperrors.New(apperrors.KindExitFailed, "Could not load positions", "Retry in a moment", err)
	}

	result := &ExitAllResult{
		Exited: []ExitResult{},
		Failed: []ExitFailure{},
	}
	for _, p := range positions {
		if p.Product != s.cfg.Product || p.Exchange != models.NFO || !p.IsOpen() {
			continue
		}
		exit, err := s.closePosition(ctx, models.TradeActionExitAll, p)
		if err != nil {
			result.Failed = append(result.Failed, ExitFailure{Symbol: p.Symbol, Error: err.Error()})
			continue
		}
		result.Exited = append(result.Exited, *exit)
	}

	result.Success = len(result.Failed) == 0
	switch {
	case len(result.Exited) == 0 && len(result.Failed) == 0:
		result.Message = "No open positions to exit"
	case result.Success:
		result.Message = fmt.Sprintf("Exited %d positions", len(result.Exited))
	default:
		result.Message = fmt.Sprintf("Exited %d positions, %d failed", len(result.Exited), len(result.Failed))
	}

	s.logger.Info().
		Int("exited", len(result.Exited)).
		Int("failed", len(result.Failed)).
		Msg("exit all completed")
	return result, nil
}

func (s *OrderService) closePosition(ctx context.Context, action models.TradeAction, p models.Position) (*ExitResult, error) {
	side := models.OrderSideSell
	quantity := p.Quantity
	if quantity < 0 {
		side = models.OrderSideBuy
		quantity = -quantity
	}

	order := &models.Order{
		Symbol:   p.Symbol,
		Exchange: p.Exchange,
		Side:     side,
		Type:     models.OrderTypeMarket,
		Product:  p.Product,
		Quantity: quantity,
		Validity: "DAY",
		Tag:      OrderTag,
	}
	trade := s.newTrade(action, order)

	result, err := s.broker.PlaceOrder(ctx, order)
	if err != nil {
		trade.Status = models.TradeStatusFailed
		trade.Error = err.Error()
		s.record(ctx, trade)
		s.logger.Error().Err(err).Str("symbol", p.Symbol).Msg("exit order failed")
		return nil, apperrors.New(apperrors.KindExitFailed,
			fmt.Sprintf("Could not exit %s", p.Symbol),
			"Exit the position from the broker terminal", err)
	}

	trade.OrderID = result.OrderID
	trade.Status = models.TradeStatusPlaced
	s.record(ctx, trade)
	s.logger.Info().Str("symbol", p.Symbol).Str("order_id", result.OrderID).Msg("position exited")

	return &ExitResult{
		Symbol:   p.Symbol,
		OrderID:  result.OrderID,
		Side:     side,
		Quantity: quantity,
	}, nil
}
