package sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/isw-interns2026/shardul-ecommerce/internal/metrics"
	"github.com/isw-interns2026/shardul-ecommerce/internal/orders"
)

const (
	DefaultTimeout  = 15 * time.Minute
	DefaultSchedule = "@every 5m"
	LockKey         = "lock:sweeper"
)

type Releaser interface {
	ReleaseReservation(ctx context.Context, txID uuid.UUID) error
}

// Locker keeps two sweeper processes from running the same tick.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

type Report struct {
	Found    int
	Released int
	Failed   int
}

// Sweeper releases Processing transactions older than Timeout. A run
// holds no state between ticks; everything comes from the store.
type Sweeper struct {
	Store    orders.Store
	Releaser Releaser
	Timeout  time.Duration
	Schedule string
	Lock     Locker // optional
	LockTTL  time.Duration
	Metrics  *metrics.Saga
	Log      zerolog.Logger
}

// Sweep releases every transaction still Processing that was created
// before now-Timeout. One failed release does not stop the rest.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Report, error) {
	cutoff := now.Add(-s.timeout())
	var ids []uuid.UUID
	err := s.Store.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		var err error
		ids, err = tx.StaleTransactions(ctx, cutoff)
		return err
	})
	if err != nil {
		return Report{}, err
	}

	m := metrics.OrNop(s.Metrics)
	rep := Report{Found: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := s.Releaser.ReleaseReservation(ctx, id); err != nil {
			rep.Failed++
			m.SweepFailed.Inc()
			s.Log.Error().Err(err).Str("transaction_id", id.String()).Msg("release stale transaction")
			continue
		}
		rep.Released++
		m.SweepReleased.Inc()
	}
	return rep, nil
}

// Run sweeps on Schedule until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	schedule := s.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.Log})), cron.WithLogger(cronLogger{s.Log}))
	if _, err := c.AddFunc(schedule, func() { s.tick(ctx) }); err != nil {
		return err
	}
	s.Log.Info().Str("schedule", schedule).Dur("timeout", s.timeout()).Msg("sweeper started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Sweeper) tick(ctx context.Context) {
	if s.Lock != nil {
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = time.Minute
		}
		unlock, ok, err := s.Lock.TryLock(ctx, LockKey, ttl)
		if err != nil {
			s.Log.Warn().Err(err).Msg("sweeper lock unavailable, skipping tick")
			return
		}
		if !ok {
			s.Log.Debug().Msg("another sweeper holds the lock")
			return
		}
		defer func() {
			if err := unlock(context.Background()); err != nil {
				s.Log.Warn().Err(err).Msg("sweeper unlock")
			}
		}()
	}

	start := time.Now()
	rep, err := s.Sweep(ctx, start)
	if err != nil {
		s.Log.Error().Err(err).Msg("sweep failed")
		return
	}
	if rep.Found > 0 {
		s.Log.Info().Int("found", rep.Found).Int("released", rep.Released).Int("failed", rep.Failed).
			Dur("took", time.Since(start)).Msg("sweep done")
	}
}

func (s *Sweeper) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

// ValidSchedule reports whether spec parses as a cron schedule.
func ValidSchedule(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}

type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
