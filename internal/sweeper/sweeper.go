package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"
	"github.com/rs/zerolog"

	"contact.broker/internal/events"
	"contact.broker/internal/metrics"
	"contact.broker/internal/models"
	"contact.broker/internal/registry"
	"contact.broker/internal/store"
)

const (
	DefaultSchedule    = "@every 1m"
	DefaultRevealGrace = 2 * time.Hour
	DefaultBatchSize   = 500
)

type Config struct {
	Schedule    string
	RevealGrace time.Duration
	BatchSize   int
}

// Sweeper marks stale requests EXPIRED. Every mark is a compare-and-swap on
// the status it scanned, so rows that moved on in the meantime are skipped.
type Sweeper struct {
	registry registry.Registry
	secrets  store.Store
	events   events.Publisher
	metrics  *metrics.Metrics
	log      zerolog.Logger
	cfg      Config
	now      func() time.Time

	cron    *cron.Cron
	running atomic.Bool

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
}

type Option func(*Sweeper)

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Sweeper) { s.log = l.With().Str("component", "sweeper").Logger() }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Sweeper) { s.events = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

func New(reg registry.Registry, secrets store.Store, cfg Config, opts ...Option) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.RevealGrace <= 0 {
		cfg.RevealGrace = DefaultRevealGrace
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	s := &Sweeper{
		registry: reg,
		secrets:  secrets,
		events:   events.NopPublisher{},
		log:      zerolog.Nop(),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep runs one pass and returns how many requests it expired.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	rows, err := s.registry.ListStale(ctx, now, s.cfg.RevealGrace, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("sweeper: %w", err)
	}

	var cleaned int
	var errs []error
	for i := range rows {
		row := &rows[i]
		err := s.registry.CompareAndSwapStatus(ctx, row.ID, row.Status, models.StatusExpired, registry.Fields{
			UpdatedAt: now,
		})
		switch {
		case err == nil:
		case errors.Is(err, registry.ErrConflict), errors.Is(err, registry.ErrNotFound):
			s.log.Debug().Str("request_id", row.ID).Msg("request moved on before expiry, skipped")
			continue
		default:
			errs = append(errs, err)
			continue
		}

		cleaned++
		if row.OneTimeToken != "" {
			if _, err := s.secrets.TakeOnce(ctx, row.OneTimeToken); err != nil && !errors.Is(err, store.ErrNotFound) {
				s.log.Warn().Err(err).Str("request_id", row.ID).Msg("failed to discard expired payload")
			}
		}
		e := events.Event{
			RequestID:   row.ID,
			ResourceKey: row.ResourceKey,
			Status:      models.StatusExpired,
			OccurredAt:  now,
		}
		if err := s.events.Publish(ctx, e); err != nil {
			s.log.Warn().Err(err).Str("request_id", row.ID).Msg("failed to publish lifecycle event")
		}
	}

	s.metrics.Swept(cleaned)
	if cleaned > 0 {
		s.log.Info().Int("cleaned", cleaned).Msg("expired stale contact requests")
	}
	if len(errs) > 0 {
		return cleaned, fmt.Errorf("sweeper: %w", errors.Join(errs...))
	}
	return cleaned, nil
}

// Start schedules Sweep on the configured cron schedule. Overlapping runs are
// skipped.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New()
	if err := c.AddFunc(s.cfg.Schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("sweeper: invalid schedule %q: %w", s.cfg.Schedule, err)
	}

	s.cron = c
	c.Start()
	s.log.Info().Str("schedule", s.cfg.Schedule).Msg("sweeper started")
	return nil
}

// Stop halts the schedule and waits for a sweep in progress to finish, so the
// registry and store can be closed right after it returns.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.inflight.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn().Msg("previous sweep still running, skipping")
		return
	}
	defer s.running.Store(false)

	if _, err := s.Sweep(ctx); err != nil {
		s.log.Error().Err(err).Msg("sweep failed")
	}
}
