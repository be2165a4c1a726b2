// Package scheduler runs the recurring background jobs: the morning expiry
// warm-up and the broker session sweep.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"quicktrade/internal/models"
	"quicktrade/pkg/utils"
)

// Job names, also used as sync_status keys.
const (
	JobExpiryWarmup = "expiry_warmup"
	JobSessionSweep = "session_sweep"
)

// ExpiryWarmer loads the expiry for an index, refreshing it if needed.
type ExpiryWarmer interface {
	GetExpiry(ctx context.Context, index models.Index, today civil.Date) (models.ExpiryRecord, error)
}

// SessionSweeper removes lapsed broker sessions.
type SessionSweeper interface {
	ClearExpiredSessions(ctx context.Context, now time.Time, maxAge time.Duration) (int64, error)
}

// JobRecorder remembers when a job last completed.
type JobRecorder interface {
	SetLastSync(job string, t time.Time) error
}

// Config holds schedule settings.
type Config struct {
	WarmupSchedule string
	SweepSchedule  string
	SessionMaxAge  time.Duration
	// StartupDelay postpones the warm-up run made by Start. Negative
	// disables it.
	StartupDelay time.Duration
	JobTimeout   time.Duration
	Location     *time.Location
}

// Scheduler wraps a cron runner with the application jobs.
type Scheduler struct {
	cron     *cron.Cron
	cfg      Config
	expiries ExpiryWarmer
	sessions SessionSweeper
	jobs     JobRecorder
	logger   zerolog.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

// New creates a scheduler and registers its jobs. sessions and jobs may be
// nil.
func New(cfg Config, expiries ExpiryWarmer, sessions SessionSweeper, jobs JobRecorder, logger zerolog.Logger) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = utils.IndiaLocation
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	if cfg.SessionMaxAge <= 0 {
		cfg.SessionMaxAge = 24 * time.Hour
	}

	log := logger.With().Str("component", "scheduler").Logger()
	s := &Scheduler{
		cfg:      cfg,
		expiries: expiries,
		sessions: sessions,
		jobs:     jobs,
		logger:   log,
		now:      time.Now,
	}
	s.cron = cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cronLogger{log}),
		cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log})),
	)

	if err := s.addScheduledJob(JobExpiryWarmup, cfg.WarmupSchedule, func(ctx context.Context) error {
		_, err := s.WarmUp(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if sessions != nil {
		if err := s.addScheduledJob(JobSessionSweep, cfg.SweepSchedule, func(ctx context.Context) error {
			_, err := s.SweepSessions(ctx)
			return err
		}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) addScheduledJob(name, schedule string, job func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(schedule, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", schedule, name, err)
	}
	s.logger.Info().Str("job", name).Str("schedule", schedule).Msg("queued scheduled job")
	return nil
}

func (s *Scheduler) run(name string, job func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	start := s.now()
	if err := job(ctx); err != nil {
		s.logger.Error().Err(err).Str("job", name).Msg("job failed")
		return
	}
	if s.jobs != nil {
		if err := s.jobs.SetLastSync(name, s.now()); err != nil {
			s.logger.Warn().Err(err).Str("job", name).Msg("failed to record job run")
		}
	}
	s.logger.Info().Str("job", name).Dur("elapsed", s.now().Sub(start)).Msg("job completed")
}

// Start starts the cron runner and, unless disabled, a one-off warm-up so
// the cache is filled before the first request.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()

	if s.cfg.StartupDelay < 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.StartupDelay):
		}
		s.run(JobExpiryWarmup, func(jobCtx context.Context) error {
			_, err := s.WarmUp(jobCtx)
			return err
		})
	}()
}

// Stop stops the cron runner and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// Entries returns the next run time of each scheduled job.
func (s *Scheduler) Entries() []time.Time {
	entries := s.cron.Entries()
	result := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		result = append(result, e.Next)
	}
	return result
}

// WarmUp loads the expiry of every index concurrently. Every index is
// attempted; the first failure is returned alongside the records that
// did load.
func (s *Scheduler) WarmUp(ctx context.Context) ([]models.ExpiryRecord, error) {
	today := utils.DateIn(s.now())
	indices := models.Indices()
	records := make([]models.ExpiryRecord, len(indices))
	loaded := make([]bool, len(indices))

	var g errgroup.Group
	for i, index := range indices {
		i, index := i, index
		g.Go(func() error {
			rec, err := s.expiries.GetExpiry(ctx, index, today)
			if err != nil {
				return fmt.Errorf("warm up %s: %w", index, err)
			}
			records[i] = rec
			loaded[i] = true
			return nil
		})
	}
	err := g.Wait()

	result := make([]models.ExpiryRecord, 0, len(indices))
	for i := range indices {
		if loaded[i] {
			result = append(result, records[i])
		}
	}
	return result, err
}

// SweepSessions removes lapsed broker sessions.
func (s *Scheduler) SweepSessions(ctx context.Context) (int64, error) {
	if s.sessions == nil {
		return 0, nil
	}
	return s.sessions.ClearExpiredSessions(ctx, s.now(), s.cfg.SessionMaxAge)
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
