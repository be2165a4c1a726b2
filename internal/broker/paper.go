package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "quicktrade/internal/errors"
	"quicktrade/internal/models"
)

// PaperBrokerName is the Name of the simulated execution broker.
const PaperBrokerName = "paper"

// QuoteSource supplies last traded prices for instruments.
type QuoteSource interface {
	GetQuote(ctx context.Context, exchange models.Exchange, symbol string) (*models.Quote, error)
}

// PaperBroker simulates order execution, filling market orders at the last
// price from a real quote source.
type PaperBroker struct {
	quotes QuoteSource

	positions map[string]*models.Position
	orders    map[string]*models.Order
	gttOrders map[string]*models.GTTOrder

	orderCounter int
	gttCounter   int

	// Price cache for simulation
	priceCache map[string]float64

	now func() time.Time
	mu  sync.RWMutex
}

// NewPaperBroker creates a new paper trading broker. quotes may be nil, in
// which case prices must be seeded with UpdatePrice.
func NewPaperBroker(quotes QuoteSource) *PaperBroker {
	return &PaperBroker{
		quotes:     quotes,
		positions:  make(map[string]*models.Position),
		orders:     make(map[string]*models.Order),
		gttOrders:  make(map[string]*models.GTTOrder),
		priceCache: make(map[string]float64),
		now:        time.Now,
	}
}

// Name returns PaperBrokerName.
func (p *PaperBroker) Name() string {
	return PaperBrokerName
}

// IsAuthenticated always returns true for paper trading.
func (p *PaperBroker) IsAuthenticated() bool {
	return true
}

// GetQuote returns the cached price, refreshing it from the quote source
// when one is configured.
func (p *PaperBroker) GetQuote(ctx context.Context, exchange models.Exchange, symbol string) (*models.Quote, error) {
	if p.quotes != nil {
		quote, err := p.quotes.GetQuote(ctx, exchange, symbol)
		if err == nil {
			p.UpdatePrice(symbol, quote.LTP)
			return quote, nil
		}
		if price := p.getPrice(symbol); price > 0 {
			return &models.Quote{Symbol: symbol, LTP: price, Timestamp: p.now()}, nil
		}
		return nil, err
	}

	price := p.getPrice(symbol)
	if price == 0 {
		return nil, fmt.Errorf("no price for %s", symbol)
	}
	return &models.Quote{Symbol: symbol, LTP: price, Timestamp: p.now()}, nil
}

// PlaceOrder simulates order placement. Market orders fill immediately.
func (p *PaperBroker) PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	if order.Quantity <= 0 {
		return nil, &apperrors.TradeError{
			Kind:        apperrors.KindOrderRejected,
			UserMessage: "Quantity must be positive",
			Suggestion:  "Check the lot count",
		}
	}

	quote, err := p.GetQuote(ctx, order.Exchange, order.Symbol)
	if err != nil {
		return nil, &apperrors.TradeError{
			Kind:        apperrors.KindOrderRejected,
			UserMessage: fmt.Sprintf("No price available for %s", order.Symbol),
			Suggestion:  "Paper fills need a live quote",
			Err:         err,
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.orderCounter++
	orderID := fmt.Sprintf("PAPER_%d_%d", p.now().Unix(), p.orderCounter)

	execPrice := quote.LTP
	canFill := true
	if order.Type == models.OrderTypeLimit {
		execPrice = order.Price
		if order.Side == models.OrderSideBuy && quote.LTP > order.Price {
			canFill = false
		}
		if order.Side == models.OrderSideSell && quote.LTP < order.Price {
			canFill = false
		}
	}

	newOrder := *order
	newOrder.ID = orderID
	newOrder.PlacedAt = p.now()
	if canFill {
		newOrder.Status = "COMPLETE"
		newOrder.FilledQty = order.Quantity
		newOrder.AveragePrice = execPrice
		p.updatePosition(order, execPrice)
	} else {
		newOrder.Status = "OPEN"
	}
	p.orders[orderID] = &newOrder

	return &OrderResult{
		OrderID: orderID,
		Status:  newOrder.Status,
		Message: "Paper order placed",
	}, nil
}

// PlaceGTT records a simulated GTT. Triggers are not evaluated.
func (p *PaperBroker) PlaceGTT(ctx context.Context, gtt *models.GTTOrder) (*GTTResult, error) {
	if gtt.StopLossPrice <= 0 && gtt.TargetPrice <= 0 {
		return nil, fmt.Errorf("GTT order must have at least one leg")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.gttCounter++
	id := fmt.Sprintf("PAPER_GTT_%d", p.gttCounter)

	stored := *gtt
	stored.ID = id
	stored.Status = "active"
	stored.CreatedAt = p.now()
	p.gttOrders[id] = &stored

	return &GTTResult{
		TriggerID: id,
		Status:    stored.Status,
		Message:   "Paper GTT placed",
	}, nil
}

// GetOrders returns simulated orders, oldest first.
func (p *PaperBroker) GetOrders(ctx context.Context) ([]models.Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]models.Order, 0, len(p.orders))
	for _, o := range p.orders {
		result = append(result, *o)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PlacedAt.Before(result[j].PlacedAt) ||
			(result[i].PlacedAt.Equal(result[j].PlacedAt) && result[i].ID < result[j].ID)
	})
	return result, nil
}

// GetGTTs returns the simulated GTT orders.
func (p *PaperBroker) GetGTTs() []models.GTTOrder {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]models.GTTOrder, 0, len(p.gttOrders))
	for _, g := range p.gttOrders {
		result = append(result, *g)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// GetPositions returns simulated positions marked to the cached price.
func (p *PaperBroker) GetPositions(ctx context.Context) ([]models.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]models.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		position := *pos
		if ltp := p.priceCache[pos.Symbol]; ltp > 0 {
			position.LTP = ltp
			position.PnL = (ltp - pos.AveragePrice) * float64(pos.Quantity)
		}
		result = append(result, position)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

// UpdatePrice updates the cached price for a symbol.
func (p *PaperBroker) UpdatePrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priceCache[symbol] = price
}

// Reset clears all simulated state.
func (p *PaperBroker) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.positions = make(map[string]*models.Position)
	p.orders = make(map[string]*models.Order)
	p.gttOrders = make(map[string]*models.GTTOrder)
	p.orderCounter = 0
	p.gttCounter = 0
}

func (p *PaperBroker) getPrice(symbol string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.priceCache[symbol]
}

// updatePosition applies a fill to the position book. Caller holds p.mu.
func (p *PaperBroker) updatePosition(order *models.Order, price float64) {
	key := fmt.Sprintf("%s:%s:%s", order.Exchange, order.Symbol, order.Product)

	pos, exists := p.positions[key]
	if !exists {
		pos = &models.Position{
			Symbol:     order.Symbol,
			Exchange:   order.Exchange,
			Product:    order.Product,
			Multiplier: 1,
		}
		p.positions[key] = pos
	}

	qty := order.Quantity
	if order.Side == models.OrderSideSell {
		qty = -qty
	}

	switch {
	case pos.Quantity == 0 || (pos.Quantity > 0) == (qty > 0):
		// Opening or adding: blend the average.
		total := pos.AveragePrice*float64(abs(pos.Quantity)) + price*float64(abs(qty))
		pos.Quantity += qty
		pos.AveragePrice = total / float64(abs(pos.Quantity))
	default:
		pos.Quantity += qty
		if pos.Quantity == 0 {
			delete(p.positions, key)
			return
		}
		// Flipped through zero.
		if (pos.Quantity > 0) == (qty > 0) {
			pos.AveragePrice = price
		}
	}

	pos.LTP = price
	pos.PnL = (price - pos.AveragePrice) * float64(pos.Quantity)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
