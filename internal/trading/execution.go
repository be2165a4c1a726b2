package trading

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"quicktrade/internal/broker"
	apperrors "quicktrade/internal/errors"
	"quicktrade/internal/models"
)

// OrderTag marks orders placed by this application.
const OrderTag = "quicktrade"

var tickSize = decimal.RequireFromString("0.05")

// TradeRecorder receives every order attempt, successful or not.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, trade *models.Trade) error
}

// BracketDefaults are applied when a request leaves the bracket unset.
// Zero disables a leg.
type BracketDefaults struct {
	StopLossPercent float64
	TargetPercent   float64
}

// OrderServiceConfig configures an OrderService.
type OrderServiceConfig struct {
	Product  models.ProductType
	LotSizes map[models.Index]int // overrides of the exchange lot size
	Bracket  BracketDefaults
}

// OrderRequest asks for an at-the-money option buy.
type OrderRequest struct {
	Index           models.Index     `json:"index"`
	Direction       models.Direction `json:"direction"`
	Lots            int              `json:"lots"`
	StopLossPercent *float64         `json:"stop_loss_percent,omitempty"`
	TargetPercent   *float64         `json:"target_percent,omitempty"`
	Today           civil.Date       `json:"-"`
}

// OrderResponse describes a placed order.
type OrderResponse struct {
	OrderID      string              `json:"order_id"`
	Symbol       string              `json:"symbol"`
	Spot         float64             `json:"spot"`
	Strike       int                 `json:"strike"`
	Expiry       models.ExpiryRecord `json:"expiry"`
	Lots         int                 `json:"lots"`
	Quantity     int                 `json:"quantity"`
	GTTID        string              `json:"gtt_id,omitempty"`
	StopLoss     float64             `json:"stop_loss,omitempty"`
	Target       float64             `json:"target,omitempty"`
	BracketError string              `json:"bracket_error,omitempty"`
	IsPaper      bool                `json:"is_paper"`
}

// OrderService places entry and exit orders on the execution broker.
type OrderService struct {
	symbols   *SymbolService
	broker    broker.ExecutionBroker
	recorders []TradeRecorder
	cfg       OrderServiceConfig
	logger    zerolog.Logger
	now       func() time.Time
}

// NewOrderService creates a new order service.
func NewOrderService(symbols *SymbolService, b broker.ExecutionBroker, cfg OrderServiceConfig, logger zerolog.Logger, recorders ...TradeRecorder) *OrderService {
	if cfg.Product == "" {
		cfg.Product = models.ProductMIS
	}
	return &OrderService{
		symbols:   symbols,
		broker:    b,
		recorders: recorders,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// LotSize returns the contract size used for index.
func (s *OrderService) LotSize(index models.Index) int {
	if n, ok := s.cfg.LotSizes[index]; ok && n > 0 {
		return n
	}
	spec, _ := models.LookupIndex(index)
	return spec.LotSize
}

// PlaceOrder buys the at-the-money option for the request and, when a stop
// loss or target applies, attaches a GTT exit around the fill price.
func (s *OrderService) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if !s.broker.IsAuthenticated() {
		return nil, apperrors.NewNotAuthenticated(s.broker.Name())
	}

	quote, err := s.symbols.Resolve(ctx, req.Index, req.Direction, req.Today)
	if err != nil {
		return nil, err
	}

	quantity := req.Lots * s.LotSize(req.Index)
	order := &models.Order{
		Symbol:   quote.Symbol,
		Exchange: models.NFO,
		Side:     models.OrderSideBuy,
		Type:     models.OrderTypeMarket,
		Product:  s.cfg.Product,
		Quantity: quantity,
		Validity: "DAY",
		Tag:      OrderTag,
	}

	trade := s.newTrade(models.TradeActionEntry, order)
	trade.Index = req.Index
	trade.Direction = req.Direction
	trade.Lots = req.Lots
	trade.Strike = quote.Strike

	log := s.logger.With().Str("symbol", quote.Symbol).Int("quantity", quantity).Logger()

	result, err := s.broker.PlaceOrder(ctx, order)
	if err != nil {
		trade.Status = models.TradeStatusFailed
		trade.Error = err.Error()
		s.record(ctx, trade)
		log.Error().Err(err).Msg("order placement failed")
		return nil, err
	}
	trade.OrderID = result.OrderID
	trade.Status = models.TradeStatusPlaced
	log.Info().Str("order_id", result.OrderID).Msg("order placed")

	resp := &OrderResponse{
		OrderID:  result.OrderID,
		Symbol:   quote.Symbol,
		Spot:     quote.Spot,
		Strike:   quote.Strike,
		Expiry:   quote.Expiry,
		Lots:     req.Lots,
		Quantity: quantity,
		IsPaper:  trade.IsPaper,
	}

	stopLoss, target := s.bracketFor(req)
	if stopLoss > 0 || target > 0 {
		gtt, err := s.placeBracket(ctx, order, stopLoss, target)
		if err != nil {
			// The entry is live; a missing bracket is reported, not rolled back.
			resp.BracketError = err.Error()
			log.Warn().Err(err).Msg("bracket placement failed")
		} else {
			resp.GTTID = gtt.ID
			resp.StopLoss = gtt.StopLossPrice
			resp.Target = gtt.TargetPrice
			trade.GTTID = gtt.ID
		}
	}

	s.record(ctx, trade)
	return resp, nil
}

func (s *OrderService) bracketFor(req OrderRequest) (float64, float64) {
	stopLoss, target := s.cfg.Bracket.StopLossPercent, s.cfg.Bracket.TargetPercent
	if req.StopLossPercent != nil {
		stopLoss = *req.StopLossPercent
	}
	if req.TargetPercent != nil {
		target = *req.TargetPercent
	}
	return stopLoss, target
}

func (s *OrderService) placeBracket(ctx context.Context, entry *models.Order, stopLossPct, targetPct float64) (*models.GTTOrder, error) {
	quote, err := s.broker.GetQuote(ctx, entry.Exchange, entry.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get option price: %w", err)
	}
	if quote.LTP <= 0 {
		return nil, fmt.Errorf("no last price for %s", entry.Symbol)
	}

	gtt := &models.GTTOrder{
		Symbol:    entry.Symbol,
		Exchange:  entry.Exchange,
		Product:   entry.Product,
		Quantity:  entry.Quantity,
		LastPrice: quote.LTP,
	}
	if stopLossPct > 0 {
		gtt.StopLossPrice = RoundToTick(quote.LTP * (1 - stopLossPct/100))
	}
	if targetPct > 0 {
		gtt.TargetPrice = RoundToTick(quote.LTP * (1 + targetPct/100))
	}

	result, err := s.broker.PlaceGTT(ctx, gtt)
	if err != nil {
		return nil, err
	}
	gtt.ID = result.TriggerID
	gtt.Status = result.Status
	return gtt, nil
}

func (s *OrderService) newTrade(action models.TradeAction, order *models.Order) *models.Trade {
	return &models.Trade{
		ID:        uuid.NewString(),
		Timestamp: s.now(),
		Action:    action,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Quantity:  order.Quantity,
		IsPaper:   s.broker.Name() == broker.PaperBrokerName,
	}
}

func (s *OrderService) record(ctx context.Context, trade *models.Trade) {
	for _, r := range s.recorders {
		if err := r.RecordTrade(ctx, trade); err != nil {
			s.logger.Warn().Err(err).Str("trade_id", trade.ID).Msg("failed to record trade")
		}
	}
}

func (r OrderRequest) validate() error {
	if r.Lots <= 0 {
		return apperrors.NewInvalidInput("lots", "must be at least 1")
	}
	if err := checkPercent("stop_loss_percent", r.StopLossPercent, 100); err != nil {
		return err
	}
	return checkPercent("target_percent", r.TargetPercent, 1000)
}

func checkPercent(field string, v *float64, max float64) error {
	if v == nil {
		return nil
	}
	if *v < 0 || *v >= max {
		return apperrors.NewInvalidInput(field, fmt.Sprintf("must be at least 0 and below %g", max))
	}
	return nil
}

// RoundToTick rounds a price to the exchange tick of 0.05.
func RoundToTick(price float64) float64 {
	f, _ := decimal.NewFromFloat(price).Div(tickSize).Round(0).Mul(tickSize).Float64()
	return f
}
