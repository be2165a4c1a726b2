package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"quicktrade/internal/broker"
	apperrors "quicktrade/internal/errors"
	"quicktrade/internal/models"
	"quicktrade/internal/trading"
)

const loginState = "quicktrade"

func parseIndex(c echo.Context) (models.Index, error) {
	raw := c.QueryParam("index")
	if raw == "" {
		return "", apperrors.NewInvalidInput("index", "required")
	}
	index, ok := models.ParseIndex(raw)
	if !ok {
		return "", apperrors.NewUnknownIndex(raw)
	}
	return index, nil
}

func parseDirection(raw string) (models.Direction, error) {
	if raw == "" {
		return "", apperrors.NewInvalidInput("direction", "required")
	}
	direction, ok := models.ParseDirection(raw)
	if !ok {
		return "", apperrors.NewInvalidDirection(raw)
	}
	return direction, nil
}

// indexPrice handles GET /api/index-price?index=
func (s *Server) indexPrice(c echo.Context) error {
	index, err := parseIndex(c)
	if err != nil {
		return err
	}
	spot, strike, err := s.deps.Strikes.CurrentStrike(c.Request().Context(), index)
	if err != nil {
		return err
	}
	return SuccessResponse(c, map[string]interface{}{
		"index":  index,
		"price":  spot,
		"strike": strike,
	})
}

// strike handles GET /api/strike?index=&spot=. Without spot the live price
// is used.
func (s *Server) strike(c echo.Context) error {
	index, err := parseIndex(c)
	if err != nil {
		return err
	}

	raw := c.QueryParam("spot")
	if raw == "" {
		spot, strike, err := s.deps.Strikes.CurrentStrike(c.Request().Context(), index)
		if err != nil {
			return err
		}
		return SuccessResponse(c, map[string]interface{}{"index": index, "spot": spot, "strike": strike})
	}

	spot, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return apperrors.NewInvalidInput("spot", "must be a number")
	}
	strike, err := s.deps.Strikes.GetStrike(index, spot)
	if err != nil {
		return err
	}
	return SuccessResponse(c, map[string]interface{}{"index": index, "spot": spot, "strike": strike})
}

// symbol handles GET /api/symbol?index=&direction=
func (s *Server) symbol(c echo.Context) error {
	index, err := parseIndex(c)
	if err != nil {
		return err
	}
	direction, err := parseDirection(c.QueryParam("direction"))
	if err != nil {
		return err
	}
	quote, err := s.deps.Symbols.Resolve(c.Request().Context(), index, direction, s.deps.Today())
	if err != nil {
		return err
	}
	return SuccessResponse(c, quote)
}

type expiryView struct {
	models.ExpiryRecord
	DaysToExpiry int  `json:"days_to_expiry"`
	Stale        bool `json:"stale"`
}

// expiries handles GET /api/expiries[?refresh=true]
func (s *Server) expiries(c echo.Context) error {
	cache := s.deps.Symbols.Expiries()
	today := s.deps.Today()

	// refresh=true refetches every index, matching `quicktrade expiry --refresh`.
	if refresh, _ := strconv.ParseBool(c.QueryParam("refresh")); refresh {
		for _, index := range models.Indices() {
			if _, err := cache.Refresh(c.Request().Context(), index, today); err != nil {
				return err
			}
		}
	}

	views := []expiryView{}
	for _, rec := range cache.Snapshot() {
		views = append(views, expiryView{
			ExpiryRecord: rec,
			DaysToExpiry: trading.DaysToExpiry(rec, today),
			Stale:        trading.IsStale(rec.Date, today),
		})
	}
	return SuccessResponse(c, views)
}

type orderBody struct {
	Index           string   `json:"index"`
	Direction       string   `json:"direction"`
	Lots            int      `json:"lots"`
	StopLossPercent *float64 `json:"stop_loss_percent"`
	TargetPercent   *float64 `json:"target_percent"`
}

// placeOrder handles POST /api/orders
func (s *Server) placeOrder(c echo.Context) error {
	var body orderBody
	if err := c.Bind(&body); err != nil {
		return apperrors.NewInvalidInput("body", "malformed JSON")
	}
	index, ok := models.ParseIndex(body.Index)
	if !ok {
		return apperrors.NewUnknownIndex(body.Index)
	}
	direction, err := parseDirection(body.Direction)
	if err != nil {
		return err
	}
	if body.Lots == 0 {
		body.Lots = 1
	}

	resp, err := s.deps.Orders.PlaceOrder(c.Request().Context(), trading.OrderRequest{
		Index:           index,
		Direction:       direction,
		Lots:            body.Lots,
		StopLossPercent: body.StopLossPercent,
		TargetPercent:   body.TargetPercent,
		Today:           s.deps.Today(),
	})
	if err != nil {
		return err
	}
	return SuccessResponse(c, resp)
}

// todaysOrders handles GET /api/orders
func (s *Server) todaysOrders(c echo.Context) error {
	orders, err := s.deps.Portfolio.OrdersOn(c.Request().Context(), s.deps.Today())
	if err != nil {
		return err
	}
	return SuccessResponse(c, orders)
}

// positions handles GET /api/positions
func (s *Server) positions(c echo.Context) error {
	summary, err := s.deps.Portfolio.Summary(c.Request().Context())
	if err != nil {
		return err
	}
	return SuccessResponse(c, summary)
}

// exitPosition handles POST /api/positions/exit
func (s *Server) exitPosition(c echo.Context) error {
	var body struct {
		Symbol string `json:"symbol"`
	}
	if err := c.Bind(&body); err != nil {
		return apperrors.NewInvalidInput("body", "malformed JSON")
	}
	result, err := s.deps.Orders.ExitPosition(c.Request().Context(), strings.ToUpper(strings.TrimSpace(body.Symbol)))
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}

// exitAll handles POST /api/positions/exit-all
func (s *Server) exitAll(c echo.Context) error {
	result, err := s.deps.Orders.ExitAll(c.Request().Context())
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}

// trades handles GET /api/trades?symbol=&limit=
func (s *Server) trades(c echo.Context) error {
	if s.deps.Trades == nil {
		return SuccessResponse(c, []models.Trade{})
	}
	filter := models.TradeFilter{Symbol: c.QueryParam("symbol"), Limit: 100}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return apperrors.NewInvalidInput("limit", "must be a positive integer")
		}
		filter.Limit = limit
	}
	trades, err := s.deps.Trades.ListTrades(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return SuccessResponse(c, trades)
}

type brokerStatus struct {
	Broker        string `json:"broker"`
	Configured    bool   `json:"configured"`
	Authenticated bool   `json:"authenticated"`
}

// authStatus handles GET /api/auth/status
func (s *Server) authStatus(c echo.Context) error {
	status := []brokerStatus{
		authState(models.BrokerZerodha, s.deps.Zerodha),
		authState(models.BrokerFyers, s.deps.Fyers),
	}
	return SuccessResponse(c, status)
}

func authState(name models.BrokerName, a broker.Authenticator) brokerStatus {
	if a == nil {
		return brokerStatus{Broker: string(name)}
	}
	return brokerStatus{Broker: string(name), Configured: true, Authenticated: a.IsAuthenticated()}
}

// zerodhaLogin handles GET /api/auth/zerodha/login by redirecting to Kite.
func (s *Server) zerodhaLogin(c echo.Context) error {
	if s.deps.Zerodha == nil {
		return apperrors.NewInvalidInput("broker", "Zerodha is not configured")
	}
	return c.Redirect(http.StatusFound, s.deps.Zerodha.LoginURL(loginState))
}

// zerodhaCallback handles the Kite redirect carrying request_token.
func (s *Server) zerodhaCallback(c echo.Context) error {
	if s.deps.Zerodha == nil {
		return apperrors.NewInvalidInput("broker", "Zerodha is not configured")
	}
	if status := c.QueryParam("status"); status != "" && status != "success" {
		return apperrors.NewInvalidInput("status", "login was not completed: "+status)
	}
	token := c.QueryParam("request_token")
	if token == "" {
		return apperrors.NewInvalidInput("request_token", "required")
	}
	session, err := s.deps.Zerodha.CompleteLogin(c.Request().Context(), token)
	if err != nil {
		return err
	}
	return SuccessResponse(c, sessionView(session))
}

// fyersLogin handles POST /api/auth/fyers/login by returning the auth URL.
func (s *Server) fyersLogin(c echo.Context) error {
	if s.deps.Fyers == nil {
		return apperrors.NewInvalidInput("broker", "Fyers is not configured")
	}
	return SuccessResponse(c, map[string]string{"login_url": s.deps.Fyers.LoginURL(loginState)})
}

// fyersCallback handles the Fyers redirect carrying auth_code.
func (s *Server) fyersCallback(c echo.Context) error {
	if s.deps.Fyers == nil {
		return apperrors.NewInvalidInput("broker", "Fyers is not configured")
	}
	code := c.QueryParam("auth_code")
	if code == "" {
		return apperrors.NewInvalidInput("auth_code", "required")
	}
	session, err := s.deps.Fyers.CompleteLogin(c.Request().Context(), code)
	if err != nil {
		return err
	}
	return SuccessResponse(c, sessionView(session))
}

// logout handles POST /api/auth/logout[?broker=zerodha|fyers]
func (s *Server) logout(c echo.Context) error {
	ctx := c.Request().Context()
	target := strings.ToLower(c.QueryParam("broker"))

	var done []string
	if (target == "" || target == string(models.BrokerZerodha)) && s.deps.Zerodha != nil {
		if err := s.deps.Zerodha.Logout(ctx); err != nil {
			return err
		}
		done = append(done, string(models.BrokerZerodha))
	}
	if (target == "" || target == string(models.BrokerFyers)) && s.deps.Fyers != nil {
		if err := s.deps.Fyers.Logout(ctx); err != nil {
			return err
		}
		done = append(done, string(models.BrokerFyers))
	}
	if len(done) == 0 {
		return apperrors.NewInvalidInput("broker", "no matching broker is configured")
	}
	return SuccessResponse(c, map[string]interface{}{"logged_out": done})
}

func sessionView(session *models.BrokerSession) map[string]interface{} {
	return map[string]interface{}{
		"broker":     session.Broker,
		"user_id":    session.UserID,
		"expires_at": session.ExpiresAt,
	}
}
