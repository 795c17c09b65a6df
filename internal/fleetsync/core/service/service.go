// Package service is the administrative facade over the sync components. The
// HTTP API and the CLI talk to it instead of to the components directly.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
	"github.com/autopeer-io/fleetsync/pkg/log"
)

type SyncEngine interface {
	RunFullSync(ctx context.Context) (model.SyncMetrics, error)
	Metrics() model.SyncMetrics
	SyncProgress(ctx context.Context) (model.SyncProgress, error)
}

type Poller interface {
	Start(interval time.Duration) error
	Stop()
	Reschedule(interval time.Duration)
	Metrics() model.PollMetrics
}

type SessionCache interface {
	ClearCache()
}

type HealthReporter interface {
	Snapshot() model.HealthSnapshot
	Check(ctx context.Context) model.HealthSnapshot
	ResolveAlert(id string) bool
	Subscribe(fn func(model.HealthSnapshot)) (unsubscribe func())
}

// Service wires the administrative actions. Polling interval precedence is:
// the stored polling config, then the configured interval.
type Service struct {
	engine   SyncEngine
	poller   Poller
	sessions SessionCache
	health   HealthReporter
	polling  core.PollingRepository
	logger   log.Logger

	mu        sync.Mutex
	interval  time.Duration
	autoStart bool
	override  bool
}

func New(engine SyncEngine, poller Poller, sessions SessionCache, health HealthReporter, polling core.PollingRepository, interval time.Duration, autoStart bool) *Service {
	return &Service{
		engine:    engine,
		poller:    poller,
		sessions:  sessions,
		health:    health,
		polling:   polling,
		logger:    log.WithName("service"),
		interval:  interval,
		autoStart: autoStart,
	}
}

func (s *Service) SyncMetrics() model.SyncMetrics {
	return s.engine.Metrics()
}

func (s *Service) SyncProgress(ctx context.Context) (model.SyncProgress, error) {
	return s.engine.SyncProgress(ctx)
}

func (s *Service) PollMetrics() model.PollMetrics {
	return s.poller.Metrics()
}

// Health returns the last snapshot. When refresh is set a check runs first.
func (s *Service) Health(ctx context.Context, refresh bool) model.HealthSnapshot {
	if refresh {
		return s.health.Check(ctx)
	}
	return s.health.Snapshot()
}

func (s *Service) ResolveAlert(id string) bool {
	return s.health.ResolveAlert(id)
}

func (s *Service) Subscribe(fn func(model.HealthSnapshot)) func() {
	return s.health.Subscribe(fn)
}

// ForceSync runs a full pass now, outside the polling schedule. It returns
// core.ErrSyncInProgress when a pass is already running.
func (s *Service) ForceSync(ctx context.Context) (model.SyncMetrics, error) {
	s.logger.Info("Forced synchronization requested")
	return s.engine.RunFullSync(ctx)
}

// ResetAndRestart stops polling, drops the cached session verdict and starts
// again from the stored polling config.
func (s *Service) ResetAndRestart(ctx context.Context) error {
	s.logger.Info("Reset requested, restarting polling")
	s.poller.Stop()
	s.sessions.ClearCache()
	return s.start(ctx, true)
}

// Bootstrap starts polling at boot unless auto-start is off or the stored
// polling config disables it.
func (s *Service) Bootstrap(ctx context.Context) error {
	return s.start(ctx, false)
}

// UpdateInterval applies a reloaded interval. An interval stored in the
// polling config keeps precedence.
func (s *Service) UpdateInterval(interval time.Duration) {
	s.mu.Lock()
	s.interval = interval
	override := s.override
	s.mu.Unlock()

	if override {
		s.logger.Info("Polling interval is set by the stored polling config, reload ignored", "interval", interval)
		return
	}
	s.poller.Reschedule(interval)
}

func (s *Service) start(ctx context.Context, explicit bool) error {
	s.mu.Lock()
	interval, autoStart := s.interval, s.autoStart
	s.mu.Unlock()

	if !explicit && !autoStart {
		s.logger.Info("Polling auto-start disabled")
		return nil
	}

	cfg, err := s.polling.GetPollingConfig(ctx)
	if err != nil {
		s.logger.Error(err, "Failed to load polling config, using configured interval", "kind", core.KindOf(err))
	}
	if cfg != nil && !cfg.Enabled {
		s.logger.Info("Polling disabled by stored polling config")
		return nil
	}

	effective := cfg.Interval(interval)
	s.mu.Lock()
	s.override = cfg != nil && cfg.IntervalSeconds > 0
	s.mu.Unlock()

	return s.poller.Start(effective)
}
