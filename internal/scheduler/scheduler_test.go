package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quicktrade/internal/models"
)

type fakeWarmer struct {
	mu    sync.Mutex
	fail  map[models.Index]bool
	days  []civil.Date
	calls int
}

func (f *fakeWarmer) GetExpiry(ctx context.Context, index models.Index, today civil.Date) (models.ExpiryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.days = append(f.days, today)
	if f.fail[index] {
		return models.ExpiryRecord{}, errors.New("fetch failed")
	}
	return models.ExpiryRecord{Index: index, Date: today.AddDays(2), Classification: models.ExpiryWeekly}, nil
}

func (f *fakeWarmer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSweeper struct {
	now    time.Time
	maxAge time.Duration
}

func (f *fakeSweeper) ClearExpiredSessions(ctx context.Context, now time.Time, maxAge time.Duration) (int64, error) {
	f.now, f.maxAge = now, maxAge
	return 3, nil
}

type fakeJobs struct {
	mu   sync.Mutex
	runs map[string]time.Time
}

func (f *fakeJobs) SetLastSync(job string, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runs == nil {
		f.runs = make(map[string]time.Time)
	}
	f.runs[job] = t
	return nil
}

func (f *fakeJobs) has(job string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.runs[job]
	return ok
}

func testConfig() Config {
	return Config{
		WarmupSchedule: "0 9 * * 1-5",
		SweepSchedule:  "30 5 * * *",
		SessionMaxAge:  12 * time.Hour,
		StartupDelay:   -1,
	}
}

// 2024-01-18 20:00 UTC is already 2024-01-19 in India.
var fixedNow = time.Date(2024, time.January, 18, 20, 0, 0, 0, time.UTC)

func TestWarmUpAllIndices(t *testing.T) {
	warmer := &fakeWarmer{}
	s, err := New(testConfig(), warmer, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	s.now = func() time.Time { return fixedNow }

	records, err := s.WarmUp(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, models.IndexNifty, records[0].Index)
	assert.Equal(t, models.IndexBankNifty, records[1].Index)
	for _, d := range warmer.days {
		assert.Equal(t, civil.Date{Year: 2024, Month: time.January, Day: 19}, d)
	}
}

func TestWarmUpKeepsGoingPastFailure(t *testing.T) {
	warmer := &fakeWarmer{fail: map[models.Index]bool{models.IndexNifty: true}}
	s, err := New(testConfig(), warmer, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	records, err := s.WarmUp(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NIFTY")
	require.Len(t, records, 1)
	assert.Equal(t, models.IndexBankNifty, records[0].Index)
	assert.Equal(t, 2, warmer.Calls())
}

func TestSweepSessions(t *testing.T) {
	sweeper := &fakeSweeper{}
	s, err := New(testConfig(), &fakeWarmer{}, sweeper, nil, zerolog.Nop())
	require.NoError(t, err)
	s.now = func() time.Time { return fixedNow }

	n, err := s.SweepSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, fixedNow, sweeper.now)
	assert.Equal(t, 12*time.Hour, sweeper.maxAge)
	assert.Len(t, s.Entries(), 2)
}

func TestNewRejectsBadSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.WarmupSchedule = "at nine"
	_, err := New(cfg, &fakeWarmer{}, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestStartRunsStartupWarmup(t *testing.T) {
	cfg := testConfig()
	cfg.StartupDelay = 0
	warmer := &fakeWarmer{}
	jobs := &fakeJobs{}
	s, err := New(cfg, warmer, nil, jobs, zerolog.Nop())
	require.NoError(t, err)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return jobs.has(JobExpiryWarmup) }, time.Second, 5*time.Millisecond)
	s.Stop()
	assert.Equal(t, 2, warmer.Calls())
}

func TestFailedJobIsNotRecorded(t *testing.T) {
	jobs := &fakeJobs{}
	s, err := New(testConfig(), &fakeWarmer{}, nil, jobs, zerolog.Nop())
	require.NoError(t, err)

	s.run("broken", func(ctx context.Context) error { return errors.New("boom") })
	assert.False(t, jobs.has("broken"))

	s.run("fine", func(ctx context.Context) error { return nil })
	assert.True(t, jobs.has("fine"))
}
