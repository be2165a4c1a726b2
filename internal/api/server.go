// Package api serves the quick trade HTTP API.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"quicktrade/internal/broker"
	"quicktrade/internal/metrics"
	"quicktrade/internal/models"
	"quicktrade/internal/trading"
	"quicktrade/pkg/utils"
)

// TradeLister reads the trade journal.
type TradeLister interface {
	ListTrades(ctx context.Context, filter models.TradeFilter) ([]models.Trade, error)
}

// Deps are the services behind the API. Zerodha, Fyers, Trades and Metrics
// may be nil.
type Deps struct {
	Symbols   *trading.SymbolService
	Strikes   *trading.StrikeService
	Orders    *trading.OrderService
	Portfolio *trading.PortfolioService
	Trades    TradeLister
	Zerodha   broker.Authenticator
	Fyers     broker.Authenticator
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
	// Today returns the trading date; defaults to the Indian calendar date.
	Today func() civil.Date
}

// Server is the HTTP API.
type Server struct {
	deps Deps
	e    *echo.Echo
}

// NewServer creates the echo instance and registers all routes.
func NewServer(deps Deps) *Server {
	if deps.Today == nil {
		deps.Today = utils.Today
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		if rerr := ErrorResponse(c, err); rerr != nil {
			deps.Logger.Error().Err(rerr).Msg("failed to write error response")
		}
	}

	s := &Server{deps: deps, e: e}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.e
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.deps.Logger.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *Server) setupMiddleware() {
	logger := s.deps.Logger
	s.e.Use(middleware.Recover())
	// Metrics sit outside the request logger, which writes error responses,
	// so they observe the final status.
	if s.deps.Metrics != nil {
		s.e.Use(s.deps.Metrics.Middleware())
	}
	s.e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogMethod:   true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := logger.Debug()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				event = logger.Warn().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
}

func (s *Server) setupRoutes() {
	api := s.e.Group("/api")

	// Market data
	api.GET("/index-price", s.indexPrice)
	api.GET("/strike", s.strike)
	api.GET("/symbol", s.symbol)
	api.GET("/expiries", s.expiries)

	// Orders and positions
	api.POST("/orders", s.placeOrder)
	api.GET("/orders", s.todaysOrders)
	api.GET("/positions", s.positions)
	api.POST("/positions/exit", s.exitPosition)
	api.POST("/positions/exit-all", s.exitAll)
	api.GET("/trades", s.trades)

	// Authentication
	auth := api.Group("/auth")
	auth.GET("/status", s.authStatus)
	auth.GET("/zerodha/login", s.zerodhaLogin)
	auth.POST("/fyers/login", s.fyersLogin)
	auth.POST("/logout", s.logout)

	// Broker redirects
	s.e.GET("/zerodha/callback", s.zerodhaCallback)
	s.e.GET("/fyers/auth", s.fyersCallback)

	if s.deps.Metrics != nil {
		s.e.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))
	}

	s.e.GET("/health", func(c echo.Context) error {
		return SuccessResponse(c, map[string]interface{}{
			"time":          time.Now().In(utils.IndiaLocation).Format(time.RFC3339),
			"market_status": utils.MarketStatusAt(time.Now()),
		})
	})
}
