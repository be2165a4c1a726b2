package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quicktrade/internal/broker"
	"quicktrade/internal/config"
	apperrors "quicktrade/internal/errors"
	"quicktrade/internal/models"
	"quicktrade/internal/store"
	"quicktrade/internal/trading"
)

type stubPrices map[models.Index]float64

func (s stubPrices) GetSpotPrice(ctx context.Context, index models.Index) (float64, error) {
	return s[index], nil
}

type stubExpiries map[models.Index]civil.Date

func (s stubExpiries) GetNextExpiry(ctx context.Context, index models.Index) (civil.Date, error) {
	return s[index], nil
}

type stubAuth struct {
	name   string
	authed bool
	code   string
}

func (a *stubAuth) Name() string                            { return a.name }
func (a *stubAuth) IsAuthenticated() bool                   { return a.authed }
func (a *stubAuth) LoginURL(state string) string            { return "https://login.example/" + a.name }
func (a *stubAuth) VerifySession(ctx context.Context) error { return nil }
func (a *stubAuth) Logout(ctx context.Context) error {
	a.authed = false
	return nil
}
func (a *stubAuth) CompleteLogin(ctx context.Context, code string) (*models.BrokerSession, error) {
	a.code = code
	a.authed = true
	return &models.BrokerSession{
		Broker:    models.BrokerName(a.name),
		UserID:    "XY9876",
		ExpiresAt: time.Date(2024, time.January, 23, 0, 30, 0, 0, time.UTC),
	}, nil
}

type cliFixture struct {
	app   *App
	paper *broker.PaperBroker
	fyers *stubAuth
	dir   string
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	dir := t.TempDir()

	cfg, err := config.Load(dir)
	require.NoError(t, err)

	sqlStore, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	prices := stubPrices{models.IndexNifty: 24960, models.IndexBankNifty: 48080}
	expiries := trading.NewExpiryCache(stubExpiries{
		models.IndexNifty:     {Year: 2024, Month: time.January, Day: 25},
		models.IndexBankNifty: {Year: 2024, Month: time.February, Day: 7},
	}, trading.WithObserver(sqlStore))
	paper := broker.NewPaperBroker(nil)
	symbols := trading.NewSymbolService(prices, expiries)
	fyers := &stubAuth{name: "fyers"}

	return &cliFixture{
		app: &App{
			Config:    cfg,
			Logger:    zerolog.Nop(),
			Store:     sqlStore,
			Fyers:     fyers,
			Execution: paper,
			Symbols:   symbols,
			Strikes:   trading.NewStrikeService(prices),
			Orders:    trading.NewOrderService(symbols, paper, trading.OrderServiceConfig{}, zerolog.Nop(), sqlStore),
			Portfolio: trading.NewPortfolioService(paper, time.UTC),
			Today:     func() civil.Date { return civil.Date{Year: 2024, Month: time.January, Day: 22} },
		},
		paper: paper,
		fyers: fyers,
		dir:   dir,
	}
}

func (f *cliFixture) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(func(ctx context.Context, opts Options) (*App, error) {
		return f.app, nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionSkipsAppConstruction(t *testing.T) {
	cmd := NewRootCmd(func(ctx context.Context, opts Options) (*App, error) {
		t.Fatal("version must not build the app")
		return nil, nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--json"})
	require.NoError(t, cmd.Execute())

	var v map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &v))
	assert.Equal(t, Version, v["version"])
}

func TestConfigPathUsesFlag(t *testing.T) {
	f := newCLIFixture(t)
	out, err := f.run(t, "", "config", "path", "--config", "/tmp/qt")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/qt\n", out)
}

func TestStrikeCommand(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run(t, "", "strike", "banknifty", "48149.9", "--json")
	require.NoError(t, err)
	var v map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.EqualValues(t, 48100, v["strike"])

	out, err = f.run(t, "", "strike", "NIFTY")
	require.NoError(t, err)
	assert.Contains(t, out, "24950")
}

func TestSymbolCommand(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run(t, "", "symbol", "NIFTY", "put")
	require.NoError(t, err)
	assert.Contains(t, out, "NIFTY24JAN24950PE")
	assert.Contains(t, out, "MONTHLY")
}

func TestInvalidArgumentsReturnTradeErrors(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run(t, "", "symbol", "SENSEX", "CALL")
	assert.ErrorIs(t, err, apperrors.ErrUnknownIndex)

	_, err = f.run(t, "", "symbol", "NIFTY", "SIDEWAYS")
	assert.ErrorIs(t, err, apperrors.ErrInvalidDirection)

	_, err = f.run(t, "", "strike", "NIFTY", "abc")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestExpiryCommandRecordsRefreshes(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run(t, "", "expiry", "--json")
	require.NoError(t, err)
	var records []models.ExpiryRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 2)
	assert.Equal(t, models.ExpiryWeekly, records[1].Classification)

	_, err = f.run(t, "", "expiry", "NIFTY", "--refresh")
	require.NoError(t, err)

	refreshes, err := f.app.Store.ListRefreshes(context.Background(), models.IndexNifty, 10)
	require.NoError(t, err)
	assert.Len(t, refreshes, 2)
}

func TestOrderPositionsAndExitAll(t *testing.T) {
	f := newCLIFixture(t)
	f.paper.UpdatePrice("NIFTY24JAN24950CE", 120)

	out, err := f.run(t, "", "order", "NIFTY", "CALL", "--lots", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "[PAPER] Bought NIFTY24JAN24950CE x 150 (2 lots)")

	out, err = f.run(t, "", "positions")
	require.NoError(t, err)
	assert.Contains(t, out, "NIFTY24JAN24950CE")

	out, err = f.run(t, "", "exit-all")
	require.NoError(t, err)
	assert.Contains(t, out, "Use --force")

	out, err = f.run(t, "", "exit-all", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Exited NIFTY24JAN24950CE")

	out, err = f.run(t, "", "trades", "--json")
	require.NoError(t, err)
	var trades []models.Trade
	require.NoError(t, json.Unmarshal([]byte(out), &trades))
	require.Len(t, trades, 2)
	for _, tr := range trades {
		assert.Equal(t, models.TradeStatusPlaced, tr.Status)
	}
}

func TestOrderRejectsBadStopLoss(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run(t, "", "order", "NIFTY", "CALL", "--sl", "100")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestExitWithoutPosition(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run(t, "", "exit", "nifty24jan24950ce")
	assert.ErrorIs(t, err, apperrors.ErrExitFailed)
}

func TestLoginReadsCodeFromStdin(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run(t, "abc123\n", "login", "fyers", "--no-browser")
	require.NoError(t, err)
	assert.Contains(t, out, "https://login.example/fyers")
	assert.Contains(t, out, "Logged in to fyers as XY9876")
	assert.Equal(t, "abc123", f.fyers.code)

	out, err = f.run(t, "", "login", "fyers")
	require.NoError(t, err)
	assert.Contains(t, out, "Already logged in")
}

func TestLoginRequiresConfiguredBroker(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run(t, "", "login", "zerodha", "--code", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")

	_, err = f.run(t, "", "login", "fyers", "--no-browser")
	assert.EqualError(t, err, "no token provided")
}

func TestAuthStatusAndLogout(t *testing.T) {
	f := newCLIFixture(t)
	f.fyers.authed = true

	out, err := f.run(t, "", "auth-status", "--json")
	require.NoError(t, err)
	var status []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.Len(t, status, 2)
	assert.Equal(t, false, status[0]["configured"])
	assert.Equal(t, true, status[1]["authenticated"])

	out, err = f.run(t, "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out of fyers")
	assert.False(t, f.fyers.authed)
}

func TestBackupCommand(t *testing.T) {
	f := newCLIFixture(t)
	backups := filepath.Join(f.dir, "snapshots")

	out, err := f.run(t, "", "backup", "--dir", backups, "--json")
	require.NoError(t, err)
	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, backups, filepath.Dir(v["path"]))
	_, err = os.Stat(v["path"])
	assert.NoError(t, err)
}

func TestConfigShowAndValidate(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run(t, "", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Mode:")
	assert.Contains(t, out, "0 9 * * 1-5")

	out, err = f.run(t, "", "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
}

func TestTableAlignsColoredCells(t *testing.T) {
	var buf bytes.Buffer
	o := &Output{writer: &buf}
	o.green, o.red, o.yellow, o.cyan, o.bold, o.dim = plainColors()

	table := NewTable(o, "A", "B")
	table.AddRow("\x1b[32mlong-cell\x1b[0m", "x")
	table.Render()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "A"+strings.Repeat(" ", 10)+"B", lines[0])
	assert.Equal(t, 9, visibleLen("\x1b[32mlong-cell\x1b[0m"))
}

func plainColors() (green, red, yellow, cyan, bold, dim *color.Color) {
	mk := func() *color.Color {
		c := color.New(color.Reset)
		c.DisableColor()
		return c
	}
	return mk(), mk(), mk(), mk(), mk(), mk()
}
