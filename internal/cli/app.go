package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"quicktrade/internal/api"
	"quicktrade/internal/broker"
	"quicktrade/internal/config"
	"quicktrade/internal/logging"
	"quicktrade/internal/metrics"
	"quicktrade/internal/models"
	"quicktrade/internal/scheduler"
	"quicktrade/internal/store"
	"quicktrade/internal/trading"
	"quicktrade/pkg/utils"
)

// App holds the application dependencies. Zerodha, Fyers and Store are nil
// when not configured.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Store   store.DataStore
	Metrics *metrics.Metrics

	Zerodha   broker.Authenticator
	Fyers     broker.Authenticator
	Execution broker.ExecutionBroker

	Symbols   *trading.SymbolService
	Strikes   *trading.StrikeService
	Orders    *trading.OrderService
	Portfolio *trading.PortfolioService

	// Today returns the trading date.
	Today func() civil.Date

	closers []func() error
}

// NewApp wires the application from configuration: store, brokers, the
// expiry cache and the services on top of them.
func NewApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
		Today:   utils.Today,
	}

	sqlStore, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	app.Store = sqlStore
	app.closers = append(app.closers, sqlStore.Close)

	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Fyers.MaxRetries
	fyers := broker.NewFyersBroker(ctx, broker.FyersConfig{
		ClientID:    cfg.Credentials.Fyers.ClientID,
		SecretKey:   cfg.Credentials.Fyers.SecretKey,
		RedirectURI: cfg.FyersRedirectURI(),
		BaseURL:     cfg.Fyers.BaseURL,
		Timeout:     cfg.Fyers.Timeout,
		RateLimit:   cfg.Fyers.RateLimit,
		Burst:       cfg.Fyers.Burst,
		Retry:       retry,
	}, sqlStore, logger)
	fyers.SetCallObserver(app.Metrics)
	if cfg.Credentials.Fyers.ClientID != "" {
		app.Fyers = fyers
	}

	var zerodha *broker.ZerodhaBroker
	if cfg.Credentials.Zerodha.APIKey != "" {
		zerodha = broker.NewZerodhaBroker(ctx, broker.ZerodhaConfig{
			APIKey:    cfg.Credentials.Zerodha.APIKey,
			APISecret: cfg.Credentials.Zerodha.APISecret,
		}, sqlStore, logger)
		app.Zerodha = zerodha
	}

	switch {
	case cfg.IsPaperMode():
		app.Execution = broker.NewPaperBroker(fyers)
		logger.Info().Msg("paper trading mode, orders are simulated")
	case zerodha != nil:
		app.Execution = zerodha
	default:
		app.Close()
		return nil, errors.New("live mode requires Zerodha credentials in credentials.toml")
	}

	expiries := trading.NewExpiryCache(fyers,
		trading.WithFetchTimeout(cfg.Expiry.FetchTimeout),
		trading.WithObserver(sqlStore),
		trading.WithObserver(app.Metrics),
		trading.WithCacheLogger(logger),
	)
	app.Symbols = trading.NewSymbolService(fyers, expiries)
	app.Strikes = trading.NewStrikeService(fyers)
	app.Orders = trading.NewOrderService(app.Symbols, app.Execution, trading.OrderServiceConfig{
		Product:  models.ProductType(cfg.Trading.Product),
		LotSizes: cfg.LotSizes(),
		Bracket: trading.BracketDefaults{
			StopLossPercent: cfg.Bracket.StopLossPercent,
			TargetPercent:   cfg.Bracket.TargetPercent,
		},
	}, logger, sqlStore, app.Metrics)
	app.Portfolio = trading.NewPortfolioService(app.Execution, utils.IndiaLocation)

	return app, nil
}

// Close releases the store.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Server builds the HTTP API over the app's services.
func (a *App) Server() *api.Server {
	deps := api.Deps{
		Symbols:   a.Symbols,
		Strikes:   a.Strikes,
		Orders:    a.Orders,
		Portfolio: a.Portfolio,
		Zerodha:   a.Zerodha,
		Fyers:     a.Fyers,
		Metrics:   a.Metrics,
		Logger:    a.Logger,
		Today:     a.Today,
	}
	if a.Store != nil {
		deps.Trades = a.Store
	}
	return api.NewServer(deps)
}

// Scheduler builds the cron jobs for expiry warm-up and session sweeps.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	var (
		sessions scheduler.SessionSweeper
		jobs     scheduler.JobRecorder
	)
	if a.Store != nil {
		sessions, jobs = a.Store, a.Store
	}
	return scheduler.New(scheduler.Config{
		WarmupSchedule: a.Config.Expiry.WarmupSchedule,
		SweepSchedule:  a.Config.Expiry.SweepSchedule,
		SessionMaxAge:  a.Config.Storage.SessionMaxAge,
		JobTimeout:     a.Config.Expiry.FetchTimeout * 2,
	}, a.Symbols.Expiries(), sessions, jobs, a.Logger)
}

// commandContext bounds a one-shot command.
func commandContext(parent context.Context, app *App) (context.Context, context.CancelFunc) {
	timeout := 30 * time.Second
	if app.Config != nil && app.Config.Fyers.Timeout > 0 {
		timeout = app.Config.Fyers.Timeout * 3
	}
	ctx := logging.WithLogger(parent, app.Logger)
	return context.WithTimeout(ctx, timeout)
}
