package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "quicktrade/internal/errors"
	"quicktrade/internal/models"
	"quicktrade/pkg/utils"
)

// ZerodhaBroker implements ExecutionBroker and Authenticator for Zerodha
// Kite Connect.
type ZerodhaBroker struct {
	client        *kiteconnect.Client
	apiKey        string
	apiSecret     string
	userID        string
	accessToken   string
	authenticated bool
	sessions      SessionStore
	logger        zerolog.Logger
	mu            sync.RWMutex
}

// ZerodhaConfig holds configuration for Zerodha broker.
type ZerodhaConfig struct {
	APIKey    string
	APISecret string
	// BaseURI overrides the Kite API root, used by tests.
	BaseURI string
}

// NewZerodhaBroker creates a new Zerodha broker instance and restores any
// unexpired session from sessions.
func NewZerodhaBroker(ctx context.Context, cfg ZerodhaConfig, sessions SessionStore, logger zerolog.Logger) *ZerodhaBroker {
	client := kiteconnect.New(cfg.APIKey)
	if cfg.BaseURI != "" {
		client.SetBaseURI(cfg.BaseURI)
	}

	zb := &ZerodhaBroker{
		client:    client,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		sessions:  sessions,
		logger:    logger.With().Str("broker", string(models.BrokerZerodha)).Logger(),
	}

	if err := zb.loadSession(ctx); err != nil && !errors.Is(err, apperrors.ErrSessionNotFound) {
		zb.logger.Debug().Err(err).Msg("no usable saved session")
	}
	return zb
}

// Name returns the broker name.
func (z *ZerodhaBroker) Name() string {
	return string(models.BrokerZerodha)
}

// LoginURL returns the Kite login page. Kite carries no OAuth state
// parameter, so state is ignored.
func (z *ZerodhaBroker) LoginURL(state string) string {
	return z.client.GetLoginURL()
}

// CompleteLogin exchanges the request token from the redirect for an
// access token and persists it.
func (z *ZerodhaBroker) CompleteLogin(ctx context.Context, requestToken string) (*models.BrokerSession, error) {
	if requestToken == "" {
		return nil, apperrors.NewInvalidInput("request_token", "required")
	}

	session, err := z.client.GenerateSession(requestToken, z.apiSecret)
	if err != nil {
		return nil, classifyKiteError(err, "login")
	}

	z.setToken(session.AccessToken, session.UserID)

	now := time.Now()
	saved := models.BrokerSession{
		Broker:      models.BrokerZerodha,
		AccessToken: session.AccessToken,
		UserID:      session.UserID,
		CreatedAt:   now,
		ExpiresAt:   ZerodhaTokenExpiry(now),
	}
	if z.sessions != nil {
		if err := z.sessions.SaveSession(ctx, saved); err != nil {
			// The token is valid for this process even if it was not persisted.
			z.logger.Warn().Err(err).Msg("failed to persist session")
		}
	}

	z.logger.Info().Str("user_id", session.UserID).Msg("logged in")
	return &saved, nil
}

// VerifySession checks the access token by fetching the user profile.
func (z *ZerodhaBroker) VerifySession(ctx context.Context) error {
	if !z.IsAuthenticated() {
		return apperrors.NewNotAuthenticated("Zerodha")
	}
	if _, err := z.client.GetUserProfile(); err != nil {
		return classifyKiteError(err, "verify session")
	}
	return nil
}

// Logout invalidates the session and clears stored credentials.
func (z *ZerodhaBroker) Logout(ctx context.Context) error {
	z.mu.Lock()
	if z.authenticated {
		if _, err := z.client.InvalidateAccessToken(); err != nil {
			z.logger.Warn().Err(err).Msg("failed to invalidate token")
		}
	}
	z.accessToken = ""
	z.userID = ""
	z.authenticated = false
	z.mu.Unlock()

	if z.sessions != nil {
		if err := z.sessions.DeleteSession(ctx, models.BrokerZerodha); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
	}
	return nil
}

// IsAuthenticated returns whether the broker is authenticated.
func (z *ZerodhaBroker) IsAuthenticated() bool {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.authenticated
}

// UserID returns the Kite user id of the current session.
func (z *ZerodhaBroker) UserID() string {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.userID
}

func (z *ZerodhaBroker) loadSession(ctx context.Context) error {
	if z.sessions == nil {
		return apperrors.ErrSessionNotFound
	}
	session, err := z.sessions.GetSession(ctx, models.BrokerZerodha)
	if err != nil {
		return err
	}
	if session.Expired(time.Now()) {
		return fmt.Errorf("session expired at %s", session.ExpiresAt.Format(time.RFC3339))
	}
	z.setToken(session.AccessToken, session.UserID)
	return nil
}

func (z *ZerodhaBroker) setToken(accessToken, userID string) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.accessToken = accessToken
	z.userID = userID
	z.authenticated = true
	z.client.SetAccessToken(accessToken)
}

// ZerodhaTokenExpiry returns when a token issued at t stops working:
// 6 AM IST on the following day.
func ZerodhaTokenExpiry(t time.Time) time.Time {
	now := t.In(utils.IndiaLocation)
	return time.Date(now.Year(), now.Month(), now.Day()+1, 6, 0, 0, 0, utils.IndiaLocation)
}

// GetQuote fetches the last price of an instrument.
func (z *ZerodhaBroker) GetQuote(ctx context.Context, exchange models.Exchange, symbol string) (*models.Quote, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.NewNotAuthenticated("Zerodha")
	}

	key := fmt.Sprintf("%s:%s", exchange, symbol)
	quotes, err := z.client.GetLTP(key)
	if err != nil {
		return nil, classifyKiteError(err, "get quote")
	}

	q, ok := quotes[key]
	if !ok {
		return nil, fmt.Errorf("quote not found for symbol: %s", key)
	}

	return &models.Quote{
		Symbol:    symbol,
		LTP:       q.LastPrice,
		Timestamp: time.Now(),
	}, nil
}

// PlaceOrder places a regular order.
func (z *ZerodhaBroker) PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.NewNotAuthenticated("Zerodha")
	}

	params := kiteconnect.OrderParams{
		Exchange:        string(order.Exchange),
		Tradingsymbol:   order.Symbol,
		TransactionType: string(order.Side),
		OrderType:       string(order.Type),
		Product:         string(order.Product),
		Quantity:        order.Quantity,
		Price:           order.Price,
		TriggerPrice:    order.TriggerPrice,
		Validity:        order.Validity,
		Tag:             order.Tag,
	}

	if params.Validity == "" {
		params.Validity = "DAY"
	}

	resp, err := z.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		return nil, classifyKiteError(err, "place order")
	}

	return &OrderResult{
		OrderID: resp.OrderID,
		Status:  "PLACED",
		Message: "Order placed successfully",
	}, nil
}

// PlaceGTT places a GTT exit. With both prices set the trigger is
// one-cancels-other; otherwise a single leg.
func (z *ZerodhaBroker) PlaceGTT(ctx context.Context, gtt *models.GTTOrder) (*GTTResult, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.NewNotAuthenticated("Zerodha")
	}

	trigger, err := gttTrigger(gtt)
	if err != nil {
		return nil, err
	}

	params := kiteconnect.GTTParams{
		Tradingsymbol:   gtt.Symbol,
		Exchange:        string(gtt.Exchange),
		LastPrice:       gtt.LastPrice,
		TransactionType: string(models.OrderSideSell),
		Product:         string(gtt.Product),
		Trigger:         trigger,
	}

	resp, err := z.client.PlaceGTT(params)
	if err != nil {
		return nil, classifyKiteError(err, "place GTT")
	}

	return &GTTResult{
		TriggerID: fmt.Sprintf("%d", resp.TriggerID),
		Status:    "active",
		Message:   "GTT placed successfully",
	}, nil
}

func gttTrigger(gtt *models.GTTOrder) (kiteconnect.Trigger, error) {
	qty := float64(gtt.Quantity)
	switch {
	case gtt.StopLossPrice > 0 && gtt.TargetPrice > 0:
		return &kiteconnect.GTTOneCancelsOtherTrigger{
			Upper: kiteconnect.TriggerParams{
				TriggerValue: gtt.TargetPrice,
				LimitPrice:   gtt.TargetPrice,
				Quantity:     qty,
			},
			Lower: kiteconnect.TriggerParams{
				TriggerValue: gtt.StopLossPrice,
				LimitPrice:   gtt.StopLossPrice,
				Quantity:     qty,
			},
		}, nil
	case gtt.StopLossPrice > 0:
		return &kiteconnect.GTTSingleLegTrigger{
			TriggerParams: kiteconnect.TriggerParams{
				TriggerValue: gtt.StopLossPrice,
				LimitPrice:   gtt.StopLossPrice,
				Quantity:     qty,
			},
		}, nil
	case gtt.TargetPrice > 0:
		return &kiteconnect.GTTSingleLegTrigger{
			TriggerParams: kiteconnect.TriggerParams{
				TriggerValue: gtt.TargetPrice,
				LimitPrice:   gtt.TargetPrice,
				Quantity:     qty,
			},
		}, nil
	}
	return nil, fmt.Errorf("GTT order must have at least one leg")
}

// GetOrders fetches all orders for the day.
func (z *ZerodhaBroker) GetOrders(ctx context.Context) ([]models.Order, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.NewNotAuthenticated("Zerodha")
	}

	orders, err := z.client.GetOrders()
	if err != nil {
		return nil, classifyKiteError(err, "get orders")
	}

	result := make([]models.Order, len(orders))
	for i, o := range orders {
		result[i] = models.Order{
			ID:           o.OrderID,
			Symbol:       o.TradingSymbol,
			Exchange:     models.Exchange(o.Exchange),
			Side:         models.OrderSide(o.TransactionType),
			Type:         models.OrderType(o.OrderType),
			Product:      models.ProductType(o.Product),
			Quantity:     int(o.Quantity),
			Price:        o.Price,
			TriggerPrice: o.TriggerPrice,
			Validity:     o.Validity,
			Tag:          o.Tag,
			Status:       o.Status,
			FilledQty:    int(o.FilledQuantity),
			AveragePrice: o.AveragePrice,
			PlacedAt:     o.OrderTimestamp.Time,
		}
	}

	return result, nil
}

// GetPositions fetches net positions.
func (z *ZerodhaBroker) GetPositions(ctx context.Context) ([]models.Position, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.NewNotAuthenticated("Zerodha")
	}

	positions, err := z.client.GetPositions()
	if err != nil {
		return nil, classifyKiteError(err, "get positions")
	}

	result := make([]models.Position, 0, len(positions.Net))
	for _, p := range positions.Net {
		result = append(result, models.Position{
			Symbol:       p.Tradingsymbol,
			Exchange:     models.Exchange(p.Exchange),
			Product:      models.ProductType(p.Product),
			Quantity:     int(p.Quantity),
			AveragePrice: p.AveragePrice,
			LTP:          p.LastPrice,
			PnL:          p.PnL,
			Multiplier:   int(p.Multiplier),
		})
	}

	return result, nil
}

// classifyKiteError turns a Kite API failure into a TradeError with a
// message and suggestion fit for display.
func classifyKiteError(err error, action string) error {
	var kerr kiteconnect.Error
	if !errors.As(err, &kerr) {
		return &apperrors.TradeError{
			Kind:        apperrors.KindBrokerUnavailable,
			UserMessage: fmt.Sprintf("Zerodha %s failed", action),
			Suggestion:  "Check your connection and retry",
			Err:         err,
		}
	}

	te := &apperrors.TradeError{
		Code:    kerr.Code,
		Details: kerr.Message,
		Err:     err,
	}
	msg := strings.ToLower(kerr.Message)

	switch kerr.ErrorType {
	case "TokenException":
		te.Kind = apperrors.KindNotAuthenticated
		te.UserMessage = "Zerodha session has expired"
		te.Suggestion = "Log in to Zerodha again"
	case "NetworkException", "GeneralException", "DataException":
		te.Kind = apperrors.KindBrokerUnavailable
		te.UserMessage = fmt.Sprintf("Zerodha %s failed", action)
		te.Suggestion = "Retry in a moment"
	case "PermissionException":
		te.Kind = apperrors.KindOrderRejected
		te.UserMessage = "Zerodha denied the request"
		te.Suggestion = "Check that the API app has trading permissions"
	default:
		te.Kind = apperrors.KindOrderRejected
		te.UserMessage = fmt.Sprintf("Zerodha rejected %s", action)
		te.Suggestion = "Review the order details"
		switch {
		case strings.Contains(msg, "insufficient") || strings.Contains(msg, "margin"):
			te.UserMessage = "Insufficient funds for this order"
			te.Suggestion = "Add funds or reduce the number of lots"
		case strings.Contains(msg, "market") && strings.Contains(msg, "closed"),
			strings.Contains(msg, "after market"):
			te.UserMessage = "Market is closed"
			te.Suggestion = "Place orders between 09:15 and 15:30 IST"
		case strings.Contains(msg, "instrument") || strings.Contains(msg, "tradingsymbol"):
			te.UserMessage = "Contract is not tradable"
			te.Suggestion = "Refresh the expiry calendar and retry"
		case strings.Contains(msg, "freeze") || strings.Contains(msg, "quantity"):
			te.UserMessage = "Order quantity was rejected"
			te.Suggestion = "Reduce the number of lots"
		}
	}
	return te
}
