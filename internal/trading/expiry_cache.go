package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	apperrors "quicktrade/internal/errors"
	"quicktrade/internal/logging"
	"quicktrade/internal/models"
)

// DefaultFetchTimeout bounds a single expiry refresh.
const DefaultFetchTimeout = 10 * time.Second

// CacheObserver receives expiry cache events.
type CacheObserver interface {
	ExpiryHit(index models.Index)
	ExpiryRefreshed(rec models.ExpiryRecord)
	ExpiryRefreshFailed(index models.Index, err error)
}

// CacheOption configures an ExpiryCache.
type CacheOption func(*ExpiryCache)

// WithFetchTimeout sets the per-refresh timeout.
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(c *ExpiryCache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithObserver registers an observer. It may be given more than once.
func WithObserver(o CacheObserver) CacheOption {
	return func(c *ExpiryCache) {
		c.observers = append(c.observers, o)
	}
}

// WithCacheLogger sets the logger used for refresh events.
func WithCacheLogger(l zerolog.Logger) CacheOption {
	return func(c *ExpiryCache) {
		c.logger = l
	}
}

// WithClock overrides the clock used to stamp FetchedAt.
func WithClock(now func() time.Time) CacheOption {
	return func(c *ExpiryCache) {
		c.now = now
	}
}

// ExpiryCache holds the last known expiry per index and refreshes it from
// the data broker once it has lapsed. At most one refresh per index is in
// flight; concurrent callers share its result.
type ExpiryCache struct {
	provider     ExpiryDataProvider
	fetchTimeout time.Duration
	observers    []CacheObserver
	logger       zerolog.Logger
	now          func() time.Time

	mu      sync.RWMutex
	records map[models.Index]*models.ExpiryRecord
	flights singleflight.Group
}

// NewExpiryCache creates an empty cache backed by provider.
func NewExpiryCache(provider ExpiryDataProvider, opts ...CacheOption) *ExpiryCache {
	c := &ExpiryCache{
		provider:     provider,
		fetchTimeout: DefaultFetchTimeout,
		logger:       zerolog.Nop(),
		now:          time.Now,
		records:      make(map[models.Index]*models.ExpiryRecord),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetExpiry returns the current expiry for index, refreshing it when it is
// missing or stale as of today. A failed refresh leaves any previous record
// in place and returns an ExpiryFetch error.
func (c *ExpiryCache) GetExpiry(ctx context.Context, index models.Index, today civil.Date) (models.ExpiryRecord, error) {
	if !index.Valid() {
		return models.ExpiryRecord{}, apperrors.NewUnknownIndex(string(index))
	}
	if !today.IsValid() {
		return models.ExpiryRecord{}, apperrors.NewInvalidInput("today", "invalid date")
	}

	if rec, ok := c.fresh(index, today); ok {
		c.notifyHit(index)
		return rec, nil
	}

	// A flight started by a caller with an earlier today can hand back a
	// record that has already lapsed for this one; the second round fetches
	// again under this caller's date.
	for round := 0; round < 2; round++ {
		res, err := c.share(ctx, index, today, false)
		if err != nil {
			return models.ExpiryRecord{}, err
		}
		if !IsStale(res.rec.Date, today) {
			return res.rec, nil
		}
	}
	return models.ExpiryRecord{}, apperrors.NewExpiryFetch(string(index), errLapsedExpiry)
}

// Refresh fetches the expiry for index even when the stored record is
// fresh. The stored record is replaced only when the fetch succeeds.
func (c *ExpiryCache) Refresh(ctx context.Context, index models.Index, today civil.Date) (models.ExpiryRecord, error) {
	if !index.Valid() {
		return models.ExpiryRecord{}, apperrors.NewUnknownIndex(string(index))
	}
	if !today.IsValid() {
		return models.ExpiryRecord{}, apperrors.NewInvalidInput("today", "invalid date")
	}

	// Joining a lookup that was served from the store is not a refetch.
	for round := 0; round < 2; round++ {
		res, err := c.share(ctx, index, today, true)
		if err != nil {
			return models.ExpiryRecord{}, err
		}
		if res.fetched && !IsStale(res.rec.Date, today) {
			return res.rec, nil
		}
	}
	return models.ExpiryRecord{}, apperrors.NewExpiryFetch(string(index), errLapsedExpiry)
}

var errLapsedExpiry = errors.New("shared refresh returned a lapsed expiry")

type flightResult struct {
	rec     models.ExpiryRecord
	fetched bool
}

// share runs or joins the single refresh flight for index.
func (c *ExpiryCache) share(ctx context.Context, index models.Index, today civil.Date, force bool) (flightResult, error) {
	ch := c.flights.DoChan(string(index), func() (interface{}, error) {
		if !force {
			// An earlier flight may have stored a usable record.
			if rec, ok := c.fresh(index, today); ok {
				return flightResult{rec: rec}, nil
			}
		}
		// The refresh is shared, so one caller's cancellation must not
		// abort it for the others.
		rec, err := c.refresh(context.WithoutCancel(ctx), index, today)
		return flightResult{rec: rec, fetched: true}, err
	})

	select {
	case <-ctx.Done():
		return flightResult{}, apperrors.NewExpiryFetch(string(index), ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return flightResult{}, res.Err
		}
		return res.Val.(flightResult), nil
	}
}

// Peek returns the stored record for index without refreshing.
func (c *ExpiryCache) Peek(index models.Index) (models.ExpiryRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[index]
	if !ok {
		return models.ExpiryRecord{}, false
	}
	return *rec, true
}

// Snapshot returns copies of all stored records in index order.
func (c *ExpiryCache) Snapshot() []models.ExpiryRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]models.ExpiryRecord, 0, len(c.records))
	for _, index := range models.Indices() {
		if rec, ok := c.records[index]; ok {
			result = append(result, *rec)
		}
	}
	return result
}

func (c *ExpiryCache) fresh(index models.Index, today civil.Date) (models.ExpiryRecord, bool) {
	rec, ok := c.Peek(index)
	if !ok || IsStale(rec.Date, today) {
		return models.ExpiryRecord{}, false
	}
	return rec, true
}

func (c *ExpiryCache) refresh(ctx context.Context, index models.Index, today civil.Date) (models.ExpiryRecord, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	date, err := c.provider.GetNextExpiry(fetchCtx, index)
	if err == nil {
		err = checkFetchedExpiry(date, today)
	}
	if err != nil {
		ferr := apperrors.NewExpiryFetch(string(index), err)
		logging.LogExpiryRefresh(c.logger, string(index), "", "", err)
		for _, o := range c.observers {
			o.ExpiryRefreshFailed(index, ferr)
		}
		return models.ExpiryRecord{}, ferr
	}

	rec := NewExpiryRecord(index, date, c.now())

	c.mu.Lock()
	c.records[index] = &rec
	c.mu.Unlock()

	logging.LogExpiryRefresh(c.logger, string(index), date.String(), string(rec.Classification), nil)
	for _, o := range c.observers {
		o.ExpiryRefreshed(rec)
	}
	return rec, nil
}

func (c *ExpiryCache) notifyHit(index models.Index) {
	for _, o := range c.observers {
		o.ExpiryHit(index)
	}
}

func checkFetchedExpiry(date, today civil.Date) error {
	if !date.IsValid() {
		return fmt.Errorf("broker returned invalid expiry date %q", date.String())
	}
	if date.Before(today) {
		return fmt.Errorf("broker returned past expiry %s", date)
	}
	return nil
}
