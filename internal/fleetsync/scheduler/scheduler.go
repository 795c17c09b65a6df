// Package scheduler drives synchronization passes on timers, backing off on
// failures and disabling itself after too many of them.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
	"github.com/autopeer-io/fleetsync/pkg/log"
)

// ErrClosed is returned by Start once Run has returned.
var ErrClosed = errors.New("poller is shut down")

// Runner executes synchronization passes.
type Runner interface {
	RunFullSync(ctx context.Context) (model.SyncMetrics, error)
	RunStaleSweep(ctx context.Context, threshold time.Duration) (model.SyncMetrics, error)
}

// Config tunes the scheduler.
type Config struct {
	// Interval is the default cadence of full passes.
	Interval time.Duration

	// SweepInterval is the cadence of stale sweeps. Zero disables them.
	SweepInterval  time.Duration
	StaleThreshold time.Duration

	// MaxRetries consecutive failures are retried; one more disables polling.
	MaxRetries int
	Multiplier float64
}

// Scheduler owns the poll and sweep timers. Every armed timer carries the
// generation it was armed in; Start and Stop bump the generation so timers
// from an earlier run fire into nothing.
type Scheduler struct {
	runner  Runner
	clock   clock.WithDelayedExecution
	cfg     Config
	logger  log.Logger
	machine *stateMachine

	mu         sync.Mutex
	gen        uint64
	interval   time.Duration
	pollTimer  clock.Timer
	sweepTimer clock.Timer
	retry      int
	metrics    model.PollMetrics
	baseCtx    context.Context
	closed     bool

	inflight sync.WaitGroup
}

func New(runner Runner, clk clock.WithDelayedExecution, cfg Config) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2
	}
	return &Scheduler{
		runner:   runner,
		clock:    clk,
		cfg:      cfg,
		logger:   log.WithName("poller"),
		machine:  newStateMachine(),
		interval: cfg.Interval,
		baseCtx:  context.Background(),
	}
}

// Run blocks until ctx is done, then stops the timers and waits for the
// passes already running. Passes are never cancelled midway.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	<-ctx.Done()

	s.Stop()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.inflight.Wait()
	return nil
}

// Start cancels any armed timers, runs a pass immediately and then every
// interval. A non-positive interval uses the configured one. Start also
// resumes a disabled scheduler.
func (s *Scheduler) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = s.cfg.Interval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.gen++
	s.stopTimersLocked()
	s.interval = interval
	s.retry = 0

	if err := s.machine.fire(EventStart); err != nil {
		return err
	}

	gen := s.gen
	s.armSweepLocked(gen)
	go s.poll(gen)

	s.logger.Info("Polling started", "interval", interval, "sweepInterval", s.cfg.SweepInterval)
	return nil
}

// Stop cancels all timers. A pass already running completes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.stopTimersLocked()
	s.retry = 0
	if err := s.machine.fire(EventStop); err != nil {
		s.logger.Error(err, "Failed to stop poller state machine")
	}
	s.logger.Info("Polling stopped")
}

// Reschedule changes the interval. While running, the next pass is re-armed
// at the new interval without triggering an immediate pass.
func (s *Scheduler) Reschedule(interval time.Duration) {
	if interval <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if interval == s.interval {
		return
	}
	s.interval = interval
	if s.machine.state() == model.PollRunning {
		s.armPollLocked(s.gen, interval)
	}
	s.logger.Info("Polling interval changed", "interval", interval)
}

// State returns the current scheduler state.
func (s *Scheduler) State() model.PollState {
	return s.machine.state()
}

// Metrics returns a copy of the poll counters.
func (s *Scheduler) Metrics() model.PollMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.metrics
	m.CurrentRetryCount = s.retry
	m.State = s.machine.state()
	m.Interval = s.interval
	return m
}

// begin registers a pass of generation gen, or reports false when gen is stale.
func (s *Scheduler) begin(gen uint64) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return nil, false
	}
	s.inflight.Add(1)
	return context.WithoutCancel(s.baseCtx), true
}

func (s *Scheduler) poll(gen uint64) {
	ctx, ok := s.begin(gen)
	if !ok {
		return
	}
	defer s.inflight.Done()

	_, err := s.runner.RunFullSync(ctx)
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if errors.Is(err, core.ErrSyncInProgress) {
		if gen == s.gen {
			s.armPollLocked(gen, s.interval)
		}
		return
	}

	s.metrics.TotalPolls++
	s.metrics.LastPollTime = now

	if err == nil {
		s.metrics.SuccessfulPolls++
		s.metrics.LastSuccessTime = now
		if gen != s.gen {
			return
		}
		if s.retry > 0 {
			s.logger.Info("Polling recovered", "afterRetries", s.retry)
		}
		s.retry = 0
		if err := s.machine.fire(EventRecover); err != nil {
			s.logger.Error(err, "Poller state transition failed", "event", EventRecover)
		}
		s.armPollLocked(gen, s.interval)
		return
	}

	s.metrics.FailedPolls++
	s.metrics.LastErrorTime = now
	s.metrics.LastError = err.Error()
	if gen != s.gen {
		return
	}

	s.retry++
	delay, disable := NextAfterFailure(s.interval, s.cfg.Multiplier, s.retry, s.cfg.MaxRetries)
	if disable {
		s.gen++
		s.stopTimersLocked()
		if err := s.machine.fire(EventDisable); err != nil {
			s.logger.Error(err, "Poller state transition failed", "event", EventDisable)
		}
		exhausted := core.NewError(core.KindExhaustedRetries, "poll", err)
		s.logger.Error(exhausted, "Polling disabled after consecutive failures",
			"kind", core.KindExhaustedRetries, "failures", s.retry, "maxRetries", s.cfg.MaxRetries)
		return
	}

	if err := s.machine.fire(EventFail); err != nil {
		s.logger.Error(err, "Poller state transition failed", "event", EventFail)
	}
	s.armPollLocked(gen, delay)
	s.logger.Warn("Pass failed, retry scheduled",
		"kind", core.KindOf(err), "retry", s.retry, "maxRetries", s.cfg.MaxRetries, "delay", delay, "error", err)
}

func (s *Scheduler) sweep(gen uint64) {
	ctx, ok := s.begin(gen)
	if !ok {
		return
	}
	defer s.inflight.Done()

	m, err := s.runner.RunStaleSweep(ctx, s.cfg.StaleThreshold)
	switch {
	case errors.Is(err, core.ErrSyncInProgress):
		s.logger.Debug("Stale sweep still running, tick skipped")
	case err != nil:
		s.logger.Warn("Stale sweep failed", "kind", core.KindOf(err), "error", err)
	default:
		s.logger.Debug("Stale sweep completed", "devices", m.TotalDevices, "updated", m.DevicesUpdated)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.gen {
		s.armSweepLocked(gen)
	}
}

// Timer callbacks only spawn a goroutine: a fake clock runs them while holding its own lock.

func (s *Scheduler) armPollLocked(gen uint64, delay time.Duration) {
	if s.pollTimer != nil {
		s.pollTimer.Stop()
	}
	s.pollTimer = s.clock.AfterFunc(delay, func() { go s.poll(gen) })
}

func (s *Scheduler) armSweepLocked(gen uint64) {
	if s.cfg.SweepInterval <= 0 {
		return
	}
	if s.sweepTimer != nil {
		s.sweepTimer.Stop()
	}
	s.sweepTimer = s.clock.AfterFunc(s.cfg.SweepInterval, func() { go s.sweep(gen) })
}

func (s *Scheduler) stopTimersLocked() {
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
	if s.sweepTimer != nil {
		s.sweepTimer.Stop()
		s.sweepTimer = nil
	}
}
