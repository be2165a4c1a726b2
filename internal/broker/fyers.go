package broker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	apperrors "quicktrade/internal/errors"
	"quicktrade/internal/logging"
	"quicktrade/internal/models"
	"quicktrade/pkg/utils"
)

// DefaultFyersBaseURL is the Fyers API v3 root.
const DefaultFyersBaseURL = "https://api-t1.fyers.in"

const fyersExpiryLayout = "02-01-2006"

// Fyers status codes that mean the token is missing, invalid or expired.
var fyersAuthCodes = map[int]bool{-8: true, -15: true, -16: true, -17: true}

// FyersConfig holds configuration for the Fyers data broker.
type FyersConfig struct {
	ClientID    string
	SecretKey   string
	RedirectURI string
	BaseURL     string
	Timeout     time.Duration
	// RateLimit is the sustained request rate per second.
	RateLimit float64
	Burst     int
	Retry     utils.RetryConfig
	// HTTPClient overrides the default client, used by tests.
	HTTPClient *http.Client
}

// CallObserver receives the outcome of each broker API call.
type CallObserver interface {
	BrokerCall(broker, operation string, elapsed time.Duration, err error)
}

// FyersBroker implements DataBroker, QuoteSource and Authenticator for the
// Fyers API v3. It is safe for concurrent use.
type FyersBroker struct {
	cfg      FyersConfig
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	sessions SessionStore
	calls    CallObserver
	logger   zerolog.Logger
	now      func() time.Time

	mu          sync.RWMutex
	accessToken string
	userID      string
}

// FyersAPIError is a non-ok response from Fyers.
type FyersAPIError struct {
	Status  int
	Code    int
	Message string
}

func (e *FyersAPIError) Error() string {
	return fmt.Sprintf("fyers api error [http %d, code %d]: %s", e.Status, e.Code, e.Message)
}

// Temporary reports whether retrying the request may succeed.
func (e *FyersAPIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func (e *FyersAPIError) isAuth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden || fyersAuthCodes[e.Code]
}

// ValidateFyersClientID checks the app id format, e.g. XB12345-100.
func ValidateFyersClientID(clientID string) error {
	prefix, ok := strings.CutSuffix(strings.TrimSpace(clientID), "-100")
	if !ok || prefix == "" {
		return apperrors.NewInvalidInput("client_id", "Fyers app id must end with -100")
	}
	return nil
}

// NewFyersBroker creates a Fyers client and restores any unexpired session
// from sessions.
func NewFyersBroker(ctx context.Context, cfg FyersConfig, sessions SessionStore, logger zerolog.Logger) *FyersBroker {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultFyersBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = utils.DefaultRetryConfig()
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = isTransient
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	log := logger.With().Str("broker", string(models.BrokerFyers)).Logger()
	f := &FyersBroker{
		cfg:      cfg,
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		sessions: sessions,
		logger:   log,
		now:      time.Now,
	}
	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "fyers",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Rejected credentials or bad input say nothing about Fyers' health.
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	if err := f.loadSession(ctx); err != nil && !errors.Is(err, apperrors.ErrSessionNotFound) {
		f.logger.Debug().Err(err).Msg("no usable saved session")
	}
	return f
}

// SetCallObserver registers an observer for API call outcomes.
func (f *FyersBroker) SetCallObserver(o CallObserver) {
	f.calls = o
}

// Name returns the broker name.
func (f *FyersBroker) Name() string {
	return string(models.BrokerFyers)
}

// IsAuthenticated returns whether an access token is held.
func (f *FyersBroker) IsAuthenticated() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.accessToken != ""
}

// SetAccessToken installs a token obtained elsewhere.
func (f *FyersBroker) SetAccessToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessToken = token
}

// UserID returns the Fyers id learned from the last profile check.
func (f *FyersBroker) UserID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.userID
}

func (f *FyersBroker) loadSession(ctx context.Context) error {
	if f.sessions == nil {
		return apperrors.ErrSessionNotFound
	}
	session, err := f.sessions.GetSession(ctx, models.BrokerFyers)
	if err != nil {
		return err
	}
	if session.Expired(f.now()) {
		return fmt.Errorf("session expired at %s", session.ExpiresAt.Format(time.RFC3339))
	}
	f.SetAccessToken(session.AccessToken)
	return nil
}

// LoginURL returns the Fyers auth-code page for the configured app.
func (f *FyersBroker) LoginURL(state string) string {
	q := url.Values{}
	q.Set("client_id", f.cfg.ClientID)
	q.Set("redirect_uri", f.cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("state", state)
	return f.cfg.BaseURL + "/api/v3/generate-authcode?" + q.Encode()
}

type fyersResponse struct {
	S       string `json:"s"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (r *fyersResponse) envelope() *fyersResponse { return r }

type fyersEnvelope interface {
	envelope() *fyersResponse
}

type fyersTokenResponse struct {
	fyersResponse
	AccessToken string `json:"access_token"`
}

type fyersProfileResponse struct {
	fyersResponse
	Data struct {
		FyID string `json:"fy_id"`
		Name string `json:"name"`
	} `json:"data"`
}

type fyersQuotesResponse struct {
	fyersResponse
	D []struct {
		N string `json:"n"`
		S string `json:"s"`
		V struct {
			LP     float64 `json:"lp"`
			ErrMsg string  `json:"errmsg"`
		} `json:"v"`
	} `json:"d"`
}

type fyersOptionChainResponse struct {
	fyersResponse
	Data struct {
		ExpiryData []struct {
			Date   string `json:"date"`
			Expiry string `json:"expiry"`
		} `json:"expiryData"`
	} `json:"data"`
}

// CompleteLogin exchanges an auth code for an access token and persists it.
func (f *FyersBroker) CompleteLogin(ctx context.Context, authCode string) (*models.BrokerSession, error) {
	if authCode == "" {
		return nil, apperrors.NewInvalidInput("auth_code", "required")
	}
	if err := ValidateFyersClientID(f.cfg.ClientID); err != nil {
		return nil, err
	}

	hash := sha256.Sum256([]byte(f.cfg.ClientID + ":" + f.cfg.SecretKey))
	body := map[string]string{
		"grant_type": "authorization_code",
		"appIdHash":  hex.EncodeToString(hash[:]),
		"code":       authCode,
	}

	var resp fyersTokenResponse
	if err := f.call(ctx, "validate auth code", http.MethodPost, "/api/v3/validate-authcode", nil, body, &resp); err != nil {
		return nil, f.classify(err, "login")
	}
	if resp.AccessToken == "" {
		return nil, &apperrors.TradeError{
			Kind:        apperrors.KindNotAuthenticated,
			UserMessage: "Fyers did not return an access token",
			Suggestion:  "Restart the Fyers login",
		}
	}

	f.SetAccessToken(resp.AccessToken)

	now := f.now()
	session := models.BrokerSession{
		Broker:      models.BrokerFyers,
		AccessToken: resp.AccessToken,
		CreatedAt:   now,
		ExpiresAt:   FyersTokenExpiry(now),
	}
	if f.sessions != nil {
		if err := f.sessions.SaveSession(ctx, session); err != nil {
			f.logger.Warn().Err(err).Msg("failed to persist session")
		}
	}

	f.logger.Info().Msg("logged in")
	return &session, nil
}

// VerifySession checks the token by fetching the profile.
func (f *FyersBroker) VerifySession(ctx context.Context) error {
	if !f.IsAuthenticated() {
		return apperrors.NewNotAuthenticated("Fyers")
	}
	var resp fyersProfileResponse
	if err := f.get(ctx, "profile", "/api/v3/profile", nil, &resp); err != nil {
		return f.classify(err, "verify session")
	}
	f.mu.Lock()
	f.userID = resp.Data.FyID
	f.mu.Unlock()
	return nil
}

// Logout forgets the token and deletes the stored session.
func (f *FyersBroker) Logout(ctx context.Context) error {
	f.mu.Lock()
	f.accessToken = ""
	f.userID = ""
	f.mu.Unlock()

	if f.sessions != nil {
		if err := f.sessions.DeleteSession(ctx, models.BrokerFyers); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
	}
	return nil
}

// FyersTokenExpiry returns when a token issued at t stops working: the
// end of the Indian trading day.
func FyersTokenExpiry(t time.Time) time.Time {
	now := t.In(utils.IndiaLocation)
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, utils.IndiaLocation)
}

// GetSpotPrice returns the last traded price of an index.
func (f *FyersBroker) GetSpotPrice(ctx context.Context, index models.Index) (float64, error) {
	spec, ok := models.LookupIndex(index)
	if !ok {
		return 0, apperrors.NewUnknownIndex(string(index))
	}
	quote, err := f.quote(ctx, spec.QuoteSymbol)
	if err != nil {
		return 0, err
	}
	return quote.LTP, nil
}

// GetQuote returns the last traded price of an instrument. F&O contracts
// are quoted under the NSE prefix.
func (f *FyersBroker) GetQuote(ctx context.Context, exchange models.Exchange, symbol string) (*models.Quote, error) {
	quote, err := f.quote(ctx, string(models.NSE)+":"+symbol)
	if err != nil {
		return nil, err
	}
	quote.Symbol = symbol
	return quote, nil
}

func (f *FyersBroker) quote(ctx context.Context, symbol string) (*models.Quote, error) {
	if !f.IsAuthenticated() {
		return nil, apperrors.NewNotAuthenticated("Fyers")
	}

	var resp fyersQuotesResponse
	q := url.Values{"symbols": {symbol}}
	if err := f.get(ctx, "quotes", "/data/quotes", q, &resp); err != nil {
		return nil, f.classify(err, "quote")
	}

	for _, d := range resp.D {
		if d.N != symbol && len(resp.D) > 1 {
			continue
		}
		if d.S != "" && d.S != "ok" {
			return nil, fmt.Errorf("quote for %s: %s", symbol, d.V.ErrMsg)
		}
		if d.V.LP <= 0 {
			return nil, fmt.Errorf("quote for %s has no last price", symbol)
		}
		return &models.Quote{Symbol: symbol, LTP: d.V.LP, Timestamp: f.now()}, nil
	}
	return nil, fmt.Errorf("quote not found for symbol: %s", symbol)
}

// GetNextExpiry returns the nearest listed expiry on or after today.
func (f *FyersBroker) GetNextExpiry(ctx context.Context, index models.Index) (civil.Date, error) {
	spec, ok := models.LookupIndex(index)
	if !ok {
		return civil.Date{}, apperrors.NewUnknownIndex(string(index))
	}
	if !f.IsAuthenticated() {
		return civil.Date{}, apperrors.NewNotAuthenticated("Fyers")
	}

	var resp fyersOptionChainResponse
	q := url.Values{"symbol": {spec.QuoteSymbol}, "strikecount": {"1"}}
	if err := f.get(ctx, "option chain", "/data/options-chain-v3", q, &resp); err != nil {
		return civil.Date{}, f.classify(err, "expiry lookup")
	}

	dates, err := parseExpiryDates(resp)
	if err != nil {
		return civil.Date{}, err
	}

	today := utils.DateIn(f.now())
	for _, d := range dates {
		if !d.Before(today) {
			return d, nil
		}
	}
	return civil.Date{}, fmt.Errorf("no upcoming expiry for %s", index)
}

func parseExpiryDates(resp fyersOptionChainResponse) ([]civil.Date, error) {
	dates := make([]civil.Date, 0, len(resp.Data.ExpiryData))
	for _, e := range resp.Data.ExpiryData {
		t, err := time.Parse(fyersExpiryLayout, e.Date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse expiry %q: %w", e.Date, err)
		}
		dates = append(dates, civil.DateOf(t))
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

// get issues a retried GET.
func (f *FyersBroker) get(ctx context.Context, op, path string, query url.Values, out fyersEnvelope) error {
	return utils.Retry(ctx, f.cfg.Retry, func() error {
		return f.call(ctx, op, http.MethodGet, path, query, nil, out)
	})
}

// call performs one rate-limited request through the circuit breaker.
func (f *FyersBroker) call(ctx context.Context, op, method, path string, query url.Values, body interface{}, out fyersEnvelope) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	_, err := execCircuitBreaker(f.breaker, func() (struct{}, error) {
		return struct{}{}, f.roundTrip(ctx, method, path, query, body, out)
	})
	elapsed := time.Since(start)
	logging.LogAPICall(f.logger, method, path, elapsed, err)
	if f.calls != nil {
		f.calls.BrokerCall(f.Name(), op, elapsed, err)
	}
	return err
}

func (f *FyersBroker) roundTrip(ctx context.Context, method, path string, query url.Values, body interface{}, out fyersEnvelope) error {
	endpoint := f.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	f.mu.RLock()
	token := f.accessToken
	f.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", f.cfg.ClientID+":"+token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &FyersAPIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		}
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}

	env := out.envelope()
	if resp.StatusCode != http.StatusOK || env.S != "ok" {
		return &FyersAPIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	return nil
}

// classify maps transport and API failures to TradeErrors. Callers in the
// symbol path wrap the result again with the failing operation's kind.
func (f *FyersBroker) classify(err error, action string) error {
	var te *apperrors.TradeError
	if errors.As(err, &te) {
		return err
	}

	var apiErr *FyersAPIError
	switch {
	case errors.As(err, &apiErr) && apiErr.isAuth():
		return &apperrors.TradeError{
			Kind:        apperrors.KindNotAuthenticated,
			Code:        apiErr.Code,
			UserMessage: "Fyers session has expired",
			Suggestion:  "Log in to Fyers again",
			Details:     apiErr.Message,
			Err:         err,
		}
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return &apperrors.TradeError{
			Kind:        apperrors.KindBrokerUnavailable,
			UserMessage: "Fyers is temporarily unavailable",
			Suggestion:  "Retry in about 30 seconds",
			Err:         err,
		}
	}
	return fmt.Errorf("fyers %s failed: %w", action, err)
}

// execCircuitBreaker runs fn through the breaker with a typed result.
func execCircuitBreaker[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// isTransient reports whether err may clear on retry.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var apiErr *FyersAPIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var te *apperrors.TradeError
	if errors.As(err, &te) {
		return te.Kind == apperrors.KindBrokerUnavailable
	}
	// Transport errors.
	return true
}
