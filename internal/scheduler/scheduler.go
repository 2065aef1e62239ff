// Package scheduler refreshes the exchange table on a cron schedule so the
// stored rates are current before clients ask for them.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/eugenenazirov/exchange-office/internal/exchange"
)

const defaultJobTimeout = 30 * time.Second

// Refresher forces an upstream refresh of the exchange table.
type Refresher interface {
	Refresh(ctx context.Context) (exchange.Table, error)
}

// Scheduler runs Refresher on a cron spec. A zero-value spec disables it.
type Scheduler struct {
	spec       string
	refresher  Refresher
	logger     *zap.Logger
	jobTimeout time.Duration

	cron *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithJobTimeout bounds a single refresh run.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// New validates spec and registers the refresh job. The job is not started.
func New(spec string, refresher Refresher, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		spec:       strings.TrimSpace(spec),
		refresher:  refresher,
		logger:     logger,
		jobTimeout: defaultJobTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.spec == "" {
		return s, nil
	}
	if refresher == nil {
		return nil, fmt.Errorf("scheduler: refresher is required")
	}

	cronLogger := zapCronLogger{logger: logger.Sugar()}
	s.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := s.cron.AddFunc(s.spec, s.run); err != nil {
		return nil, fmt.Errorf("scheduler: invalid spec %q: %w", s.spec, err)
	}
	return s, nil
}

// Enabled reports whether a schedule is configured.
func (s *Scheduler) Enabled() bool {
	return s.cron != nil
}

// Spec returns the configured cron spec.
func (s *Scheduler) Spec() string {
	return s.spec
}

// Start begins running the job in the background. It is a no-op when disabled
// or already started.
func (s *Scheduler) Start() {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("rate refresh scheduled", zap.String("spec", s.spec))
}

// Stop cancels a running refresh and waits for it to return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	if !s.Enabled() {
		return nil
	}

	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(s.ctx, s.jobTimeout)
	defer cancel()

	start := time.Now()
	table, err := s.refresher.Refresh(ctx)
	if err != nil {
		s.logger.Warn("scheduled rate refresh failed",
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)),
		)
		return
	}
	s.logger.Debug("scheduled rate refresh completed",
		zap.Int("currencies", len(table.Exchanges)),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	logger *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw("cron: "+msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
