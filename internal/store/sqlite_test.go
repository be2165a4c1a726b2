package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "quicktrade/internal/errors"
	"quicktrade/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "quicktrade.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2024, time.January, 18, 4, 0, 0, 0, time.UTC)

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetSession(ctx, models.BrokerFyers)
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)

	session := models.BrokerSession{
		Broker:      models.BrokerFyers,
		AccessToken: "token-1",
		UserID:      "XY1234",
		CreatedAt:   base,
		ExpiresAt:   base.Add(20 * time.Hour),
	}
	require.NoError(t, s.SaveSession(ctx, session))

	got, err := s.GetSession(ctx, models.BrokerFyers)
	require.NoError(t, err)
	assert.Equal(t, "token-1", got.AccessToken)
	assert.Equal(t, "XY1234", got.UserID)
	assert.True(t, base.Equal(got.CreatedAt))
	assert.True(t, session.ExpiresAt.Equal(got.ExpiresAt))

	session.AccessToken = "token-2"
	require.NoError(t, s.SaveSession(ctx, session))
	got, err = s.GetSession(ctx, models.BrokerFyers)
	require.NoError(t, err)
	assert.Equal(t, "token-2", got.AccessToken)

	require.NoError(t, s.DeleteSession(ctx, models.BrokerFyers))
	_, err = s.GetSession(ctx, models.BrokerFyers)
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestClearExpiredSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, models.BrokerSession{
		Broker: models.BrokerZerodha, AccessToken: "old", CreatedAt: base.Add(-30 * time.Hour),
	}))
	require.NoError(t, s.SaveSession(ctx, models.BrokerSession{
		Broker: models.BrokerFyers, AccessToken: "expired", CreatedAt: base.Add(-2 * time.Hour), ExpiresAt: base.Add(-time.Minute),
	}))

	n, err := s.ClearExpiredSessions(ctx, base, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, s.SaveSession(ctx, models.BrokerSession{
		Broker: models.BrokerFyers, AccessToken: "fresh", CreatedAt: base, ExpiresAt: base.Add(time.Hour),
	}))
	n, err = s.ClearExpiredSessions(ctx, base.Add(30*time.Minute), 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "fresh", sessions[0].AccessToken)
}

func trade(id string, at time.Time, symbol string, status models.TradeStatus) *models.Trade {
	return &models.Trade{
		ID:        id,
		Timestamp: at,
		Action:    models.TradeActionEntry,
		Index:     models.IndexNifty,
		Direction: models.DirectionCall,
		Symbol:    symbol,
		Side:      models.OrderSideBuy,
		Quantity:  75,
		Lots:      1,
		Strike:    24950,
		OrderID:   "ORD-" + id,
		Status:    status,
		IsPaper:   true,
	}
}

func TestTradeJournal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordTrade(ctx, trade("a", base, "NIFTY24JAN24950CE", models.TradeStatusPlaced)))
	require.NoError(t, s.RecordTrade(ctx, trade("b", base.Add(time.Minute), "NIFTY24JAN24950PE", models.TradeStatusPlaced)))
	failed := trade("c", base.Add(2*time.Minute), "NIFTY24JAN24950CE", models.TradeStatusFailed)
	failed.OrderID = ""
	failed.Error = "ORDER_REJECTED: insufficient funds"
	require.NoError(t, s.RecordTrade(ctx, failed))

	all, err := s.ListTrades(ctx, models.TradeFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, models.TradeStatusFailed, all[0].Status)
	assert.Equal(t, "ORDER_REJECTED: insufficient funds", all[0].Error)
	assert.Equal(t, "a", all[2].ID)
	assert.Equal(t, 24950, all[2].Strike)
	assert.True(t, all[2].IsPaper)

	bySymbol, err := s.ListTrades(ctx, models.TradeFilter{Symbol: "NIFTY24JAN24950CE"})
	require.NoError(t, err)
	assert.Len(t, bySymbol, 2)

	recent, err := s.ListTrades(ctx, models.TradeFilter{Since: base.Add(30 * time.Second), Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "c", recent[0].ID)

	assert.Error(t, s.RecordTrade(ctx, trade("a", base, "DUP", models.TradeStatusPlaced)))
}

func TestExpiryAudit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.ExpiryHit(models.IndexNifty)
	s.ExpiryRefreshed(models.ExpiryRecord{
		Index:          models.IndexNifty,
		Date:           civil.Date{Year: 2024, Month: time.January, Day: 25},
		Classification: models.ExpiryMonthly,
		FetchedAt:      base,
	})
	s.ExpiryRefreshFailed(models.IndexBankNifty, errors.New("EXPIRY_FETCH: timeout"))

	all, err := s.ListRefreshes(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	nifty, err := s.ListRefreshes(ctx, models.IndexNifty, 10)
	require.NoError(t, err)
	require.Len(t, nifty, 1)
	assert.True(t, nifty[0].Success)
	assert.Equal(t, "2024-01-25", nifty[0].ExpiryDate)
	assert.Equal(t, models.ExpiryMonthly, nifty[0].Classification)

	bank, err := s.ListRefreshes(ctx, models.IndexBankNifty, 10)
	require.NoError(t, err)
	require.Len(t, bank, 1)
	assert.False(t, bank[0].Success)
	assert.Contains(t, bank[0].Error, "timeout")
}

func TestLastSync(t *testing.T) {
	s := newTestStore(t)

	assert.True(t, s.GetLastSync("expiry_warmup").IsZero())
	require.NoError(t, s.SetLastSync("expiry_warmup", base))
	assert.True(t, base.Equal(s.GetLastSync("expiry_warmup")))
}

func TestBackup(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return base }
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, models.BrokerSession{
		Broker: models.BrokerZerodha, AccessToken: "abcd1234efgh5678", CreatedAt: base,
	}))
	require.NoError(t, s.RecordTrade(ctx, trade("a", base, "NIFTY24JAN24950CE", models.TradeStatusPlaced)))

	dir := filepath.Join(t.TempDir(), "backups")
	path, err := s.Backup(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "quicktrade-backup-20240118-040000.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snapshot Snapshot
	require.NoError(t, json.Unmarshal(data, &snapshot))
	require.Len(t, snapshot.Sessions, 1)
	assert.Equal(t, "abcd********5678", snapshot.Sessions[0].AccessToken)
	require.Len(t, snapshot.Trades, 1)
	assert.NotNil(t, snapshot.ExpiryRefreshes)
}

// Property: a journaled trade reads back with the same fields.
func TestProperty_TradeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	n := 0
	properties.Property("record then list returns the trade", prop.ForAll(
		func(qty, lots int, paper bool, offset int64) bool {
			n++
			in := trade(fmt.Sprintf("t%d", n), base.Add(time.Duration(offset)*time.Second), fmt.Sprintf("SYM%d", n), models.TradeStatusPlaced)
			in.Quantity = qty
			in.Lots = lots
			in.IsPaper = paper
			if err := s.RecordTrade(ctx, in); err != nil {
				return false
			}

			out, err := s.ListTrades(ctx, models.TradeFilter{Symbol: in.Symbol})
			if err != nil || len(out) != 1 {
				return false
			}
			got := out[0]
			return got.ID == in.ID &&
				got.Timestamp.Equal(in.Timestamp) &&
				got.Quantity == qty &&
				got.Lots == lots &&
				got.IsPaper == paper &&
				got.OrderID == in.OrderID
		},
		gen.IntRange(1, 10000),
		gen.IntRange(1, 100),
		gen.Bool(),
		gen.Int64Range(0, 86400*365),
	))

	properties.TestingRun(t)
}
