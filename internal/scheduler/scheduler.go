// Package scheduler runs the single background loop that drives
// periodic sync passes. One loop serves every provider; per-provider
// due times are computed by the engine, not here.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dl-alexandre/cloudsync/internal/connector"
	"github.com/dl-alexandre/cloudsync/internal/logging"
)

const (
	defaultTick        = time.Minute
	defaultCooldown    = 5 * time.Minute
	defaultJoinTimeout = 10 * time.Second
)

// Syncer is the engine surface the scheduler drives
type Syncer interface {
	AutoSyncDue(now time.Time) []string
	SyncNow(ctx context.Context, provider string, items []string) map[string]connector.SyncResult
}

// Options tunes the loop timing. Zero values take the defaults.
type Options struct {
	// Tick is the wait between iterations.
	Tick time.Duration
	// Cooldown is the back-off after a panic inside the loop body.
	Cooldown time.Duration
	// JoinTimeout bounds how long Stop waits for the loop to exit.
	JoinTimeout time.Duration
}

// Scheduler owns the background loop. Start and Stop are idempotent;
// cancellation is cooperative, a mid-flight pass runs to completion.
type Scheduler struct {
	syncer      Syncer
	logger      logging.Logger
	tick        time.Duration
	cooldown    time.Duration
	joinTimeout time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	stopped bool
}

// New creates a scheduler around a sync engine
func New(syncer Syncer, logger logging.Logger, opts Options) *Scheduler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Scheduler{
		syncer:      syncer,
		logger:      logger,
		tick:        opts.Tick,
		cooldown:    opts.Cooldown,
		joinTimeout: opts.JoinTimeout,
	}
	if s.tick <= 0 {
		s.tick = defaultTick
	}
	if s.cooldown <= 0 {
		s.cooldown = defaultCooldown
	}
	if s.joinTimeout <= 0 {
		s.joinTimeout = defaultJoinTimeout
	}
	return s
}

// Start launches the loop. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx)
	s.logger.Info("background scheduler started",
		logging.F("tick", s.tick.String()))
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	for {
		wait := s.tick
		if !s.iterate(ctx) {
			wait = s.cooldown
			s.logger.Warn("scheduler backing off after loop error",
				logging.F("cooldown", s.cooldown.String()))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// iterate runs one loop body. It reports false when the body panicked;
// the loop itself never terminates on error, only on Stop.
func (s *Scheduler) iterate(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler iteration panicked",
				logging.F("panic", fmt.Sprint(r)))
			ok = false
		}
	}()

	for _, provider := range s.syncer.AutoSyncDue(time.Now()) {
		if ctx.Err() != nil {
			return true
		}
		s.logger.Info("auto-sync due", logging.F("provider", provider))
		results := s.syncer.SyncNow(ctx, provider, nil)
		for name, result := range results {
			if !result.Success {
				s.logger.Warn("scheduled sync pass failed",
					logging.F("provider", name),
					logging.F("error", result.ErrorMessage))
			}
		}
	}
	return true
}

// Stop cancels the loop and waits for it to exit, bounded by the join
// timeout. A loop that fails to exit in time is logged and abandoned,
// never force-killed. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	s.cancel()

	select {
	case <-s.done:
		s.logger.Info("background scheduler stopped")
	case <-time.After(s.joinTimeout):
		s.logger.Warn("scheduler loop did not exit within join timeout",
			logging.F("timeout", s.joinTimeout.String()))
	}
}
