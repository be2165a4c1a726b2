package trading

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"

	"quicktrade/internal/models"
)

func date(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

type fakeExpiries struct {
	mu    sync.Mutex
	dates map[models.Index]civil.Date
	err   error
	calls int32
	// gate, when set, blocks each fetch until it is closed.
	gate chan struct{}
}

func newFakeExpiries(dates map[models.Index]civil.Date) *fakeExpiries {
	return &fakeExpiries{dates: dates}
}

func (f *fakeExpiries) GetNextExpiry(ctx context.Context, index models.Index) (civil.Date, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return civil.Date{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return civil.Date{}, f.err
	}
	d, ok := f.dates[index]
	if !ok {
		return civil.Date{}, errors.New("no expiry listed")
	}
	return d, nil
}

func (f *fakeExpiries) set(index models.Index, d civil.Date, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dates == nil {
		f.dates = make(map[models.Index]civil.Date)
	}
	f.dates[index] = d
	f.err = err
}

func (f *fakeExpiries) Calls() int {
	return int(atomic.LoadInt32(&f.calls))
}

type fakePrices struct {
	prices map[models.Index]float64
	err    error
}

func (f *fakePrices) GetSpotPrice(ctx context.Context, index models.Index) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	p, ok := f.prices[index]
	if !ok {
		return 0, errors.New("no quote")
	}
	return p, nil
}

type recordingObserver struct {
	mu        sync.Mutex
	hits      int
	refreshed []models.ExpiryRecord
	failures  int
}

func (o *recordingObserver) ExpiryHit(index models.Index) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hits++
}

func (o *recordingObserver) ExpiryRefreshed(rec models.ExpiryRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshed = append(o.refreshed, rec)
}

func (o *recordingObserver) ExpiryRefreshFailed(index models.Index, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures++
}

type tradeLog struct {
	mu     sync.Mutex
	trades []models.Trade
}

func (l *tradeLog) RecordTrade(ctx context.Context, t *models.Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trades = append(l.trades, *t)
	return nil
}
