package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "quicktrade/internal/errors"
	"quicktrade/internal/models"
	"quicktrade/pkg/utils"
)

type memorySessions struct {
	mu       sync.Mutex
	sessions map[models.BrokerName]models.BrokerSession
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: make(map[models.BrokerName]models.BrokerSession)}
}

func (m *memorySessions) SaveSession(ctx context.Context, s models.BrokerSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Broker] = s
	return nil
}

func (m *memorySessions) GetSession(ctx context.Context, b models.BrokerName) (*models.BrokerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[b]
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}
	return &s, nil
}

func (m *memorySessions) DeleteSession(ctx context.Context, b models.BrokerName) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, b)
	return nil
}

func newTestFyers(t *testing.T, handler http.Handler) *FyersBroker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	f := NewFyersBroker(context.Background(), FyersConfig{
		ClientID:    "XB12345-100",
		SecretKey:   "secret",
		RedirectURI: "http://localhost:8080/fyers/auth",
		BaseURL:     srv.URL,
		RateLimit:   1000,
		Burst:       10,
		Retry: utils.RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  time.Millisecond,
			MaxDelay:      time.Millisecond,
			BackoffFactor: 1,
		},
	}, newMemorySessions(), zerolog.Nop())
	f.now = func() time.Time {
		return time.Date(2024, time.January, 18, 10, 0, 0, 0, utils.IndiaLocation)
	}
	return f
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestFyersGetSpotPrice(t *testing.T) {
	var auth string
	mux := http.NewServeMux()
	mux.HandleFunc("/data/quotes", func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "NSE:NIFTYBANK-INDEX", r.URL.Query().Get("symbols"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"s": "ok", "code": 200,
			"d": []map[string]interface{}{
				{"n": "NSE:NIFTYBANK-INDEX", "s": "ok", "v": map[string]interface{}{"lp": 48123.45}},
			},
		})
	})

	f := newTestFyers(t, mux)
	f.SetAccessToken("tok")

	spot, err := f.GetSpotPrice(context.Background(), models.IndexBankNifty)
	require.NoError(t, err)
	assert.InDelta(t, 48123.45, spot, 1e-9)
	assert.Equal(t, "XB12345-100:tok", auth)
}

func TestFyersRequiresToken(t *testing.T) {
	f := newTestFyers(t, http.NewServeMux())

	_, err := f.GetSpotPrice(context.Background(), models.IndexNifty)
	assert.ErrorIs(t, err, apperrors.ErrNotAuthenticated)

	_, err = f.GetNextExpiry(context.Background(), models.IndexNifty)
	assert.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
}

func TestFyersGetNextExpirySkipsPastDates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/data/options-chain-v3", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "NSE:NIFTY50-INDEX", r.URL.Query().Get("symbol"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"s": "ok", "code": 200,
			"data": map[string]interface{}{
				"expiryData": []map[string]string{
					{"date": "25-01-2024", "expiry": "1706176800"},
					{"date": "11-01-2024", "expiry": "1704967200"},
					{"date": "18-01-2024", "expiry": "1705572000"},
				},
			},
		})
	})

	f := newTestFyers(t, mux)
	f.SetAccessToken("tok")

	d, err := f.GetNextExpiry(context.Background(), models.IndexNifty)
	require.NoError(t, err)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.January, Day: 18}, d)
}

func TestFyersExpiredTokenIsNotAuthenticated(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/data/quotes", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"s": "error", "code": -16, "message": "Could not authenticate the user",
		})
	})

	f := newTestFyers(t, mux)
	f.SetAccessToken("stale")

	_, err := f.GetSpotPrice(context.Background(), models.IndexNifty)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "auth failures are not retried")
}

func TestFyersRetriesServerErrors(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/data/quotes", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{"s": "error", "code": 502, "message": "upstream"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"s": "ok", "code": 200,
			"d": []map[string]interface{}{{"n": "NSE:NIFTY50-INDEX", "s": "ok", "v": map[string]interface{}{"lp": 21500.0}}},
		})
	})

	f := newTestFyers(t, mux)
	f.SetAccessToken("tok")

	spot, err := f.GetSpotPrice(context.Background(), models.IndexNifty)
	require.NoError(t, err)
	assert.Equal(t, 21500.0, spot)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestFyersCompleteLogin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/validate-authcode", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		sum := sha256.Sum256([]byte("XB12345-100:secret"))
		assert.Equal(t, hex.EncodeToString(sum[:]), body["appIdHash"])
		assert.Equal(t, "authorization_code", body["grant_type"])
		assert.Equal(t, "the-code", body["code"])

		writeJSON(w, http.StatusOK, map[string]interface{}{"s": "ok", "code": 200, "access_token": "fresh"})
	})

	f := newTestFyers(t, mux)
	session, err := f.CompleteLogin(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "fresh", session.AccessToken)
	assert.True(t, f.IsAuthenticated())

	stored, err := f.sessions.GetSession(context.Background(), models.BrokerFyers)
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored.AccessToken)
	assert.True(t, stored.ExpiresAt.After(stored.CreatedAt))

	require.NoError(t, f.Logout(context.Background()))
	assert.False(t, f.IsAuthenticated())
	_, err = f.sessions.GetSession(context.Background(), models.BrokerFyers)
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestFyersLoginURL(t *testing.T) {
	f := newTestFyers(t, http.NewServeMux())
	u := f.LoginURL("abc")
	assert.Contains(t, u, "/api/v3/generate-authcode?")
	assert.Contains(t, u, "client_id=XB12345-100")
	assert.Contains(t, u, "response_type=code")
	assert.Contains(t, u, "state=abc")
}

func TestValidateFyersClientID(t *testing.T) {
	assert.NoError(t, ValidateFyersClientID("XB12345-100"))
	assert.ErrorIs(t, ValidateFyersClientID("XB12345"), apperrors.ErrInvalidInput)
	assert.ErrorIs(t, ValidateFyersClientID("-100"), apperrors.ErrInvalidInput)
}

func TestFyersRestoresSavedSession(t *testing.T) {
	sessions := newMemorySessions()
	now := time.Now()
	require.NoError(t, sessions.SaveSession(context.Background(), models.BrokerSession{
		Broker:      models.BrokerFyers,
		AccessToken: "saved",
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}))

	f := NewFyersBroker(context.Background(), FyersConfig{ClientID: "XB12345-100"}, sessions, zerolog.Nop())
	assert.True(t, f.IsAuthenticated())
}
