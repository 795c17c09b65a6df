// Package positionsync pulls the latest position of every tracked device from
// the provider and persists it.
package positionsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/batch"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/core"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/session"
	"github.com/autopeer-io/fleetsync/internal/pkg/metrics"
	"github.com/autopeer-io/fleetsync/pkg/log"
)

const (
	kindFull  = "full"
	kindSweep = "sweep"

	// lowCompletionRate is the completion percentage under which a pass is logged as a warning.
	lowCompletionRate = 95.0
)

// SessionSource hands out a validated provider session.
type SessionSource interface {
	EnsureValidSession(ctx context.Context) session.Result
	ForceRevalidation()
}

// Config tunes synchronization passes.
type Config struct {
	// FreshnessThreshold is the fix age after which a device is classified offline.
	FreshnessThreshold time.Duration

	// StaleThreshold is the default fix age targeted by the stale sweep.
	StaleThreshold time.Duration

	// MaxDevicesPerRequest caps the ids sent in one position request. Zero sends all at once.
	MaxDevicesPerRequest int

	Batch batch.Options
}

// Engine runs full passes and stale sweeps. At most one pass of each kind is in flight.
type Engine struct {
	sessions SessionSource
	provider core.Provider
	devices  core.DeviceRepository
	status   core.PollingRepository
	notifier core.SyncNotifier
	clock    clock.PassiveClock
	cfg      Config
	logger   log.Logger

	fullBusy  atomic.Bool
	sweepBusy atomic.Bool

	mu        sync.RWMutex
	last      model.SyncMetrics
	lastSweep model.SyncMetrics
}

// NewEngine wires an engine. status and notifier may be nil.
func NewEngine(
	sessions SessionSource,
	provider core.Provider,
	devices core.DeviceRepository,
	status core.PollingRepository,
	notifier core.SyncNotifier,
	clk clock.PassiveClock,
	cfg Config,
) *Engine {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cfg.FreshnessThreshold <= 0 {
		cfg.FreshnessThreshold = DefaultFreshness
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 24 * time.Hour
	}
	return &Engine{
		sessions: sessions,
		provider: provider,
		devices:  devices,
		status:   status,
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
		logger:   log.WithName("position-sync"),
	}
}

// RunFullSync synchronizes every active device. When a full pass is already
// running it returns the last metrics unchanged together with core.ErrSyncInProgress.
// Once started a pass runs to completion; cancelling ctx does not stop it.
func (e *Engine) RunFullSync(ctx context.Context) (model.SyncMetrics, error) {
	ctx = context.WithoutCancel(ctx)
	if !e.fullBusy.CompareAndSwap(false, true) {
		metrics.SyncPassesTotal.WithLabelValues(kindFull, "skipped").Inc()
		e.logger.Debug("Full pass already running, trigger ignored")
		return e.Metrics(), core.ErrSyncInProgress
	}
	defer e.fullBusy.Store(false)

	m, err := e.pass(ctx, kindFull, e.devices.ListActive)

	e.mu.Lock()
	e.last = m
	e.mu.Unlock()

	metrics.SyncDevices.WithLabelValues("total").Set(float64(m.TotalDevices))
	metrics.SyncDevices.WithLabelValues("updated").Set(float64(m.DevicesUpdated))
	metrics.SyncDevices.WithLabelValues("errors").Set(float64(m.Errors))
	metrics.SyncCompletionRate.Set(m.CompletionRate)

	e.report(ctx, m)
	return m, err
}

// RunStaleSweep synchronizes only the active devices whose last fix is older
// than threshold, or that never reported. A non-positive threshold uses the
// configured default. The outcome is not reported to the status sink. Like a
// full pass it is not cancelled by ctx.
func (e *Engine) RunStaleSweep(ctx context.Context, threshold time.Duration) (model.SyncMetrics, error) {
	ctx = context.WithoutCancel(ctx)
	if threshold <= 0 {
		threshold = e.cfg.StaleThreshold
	}

	if !e.sweepBusy.CompareAndSwap(false, true) {
		metrics.SyncPassesTotal.WithLabelValues(kindSweep, "skipped").Inc()
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.lastSweep, core.ErrSyncInProgress
	}
	defer e.sweepBusy.Store(false)

	before := e.clock.Now().Add(-threshold)
	m, err := e.pass(ctx, kindSweep, func(ctx context.Context) ([]model.TrackedDevice, error) {
		return e.devices.ListStale(ctx, before)
	})

	e.mu.Lock()
	e.lastSweep = m
	e.mu.Unlock()
	return m, err
}

// Metrics returns the metrics of the last completed full pass.
func (e *Engine) Metrics() model.SyncMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// SweepMetrics returns the metrics of the last completed stale sweep.
func (e *Engine) SweepMetrics() model.SyncMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSweep
}

// SyncProgress reports how many active devices carry a fix younger than the freshness threshold.
func (e *Engine) SyncProgress(ctx context.Context) (model.SyncProgress, error) {
	total, err := e.devices.CountActive(ctx)
	if err != nil {
		return model.SyncProgress{}, datastoreError("count active devices", err)
	}
	if total == 0 {
		return model.SyncProgress{CompletionPercentage: 100}, nil
	}

	recent, err := e.devices.CountUpdatedSince(ctx, e.clock.Now().Add(-e.cfg.FreshnessThreshold))
	if err != nil {
		return model.SyncProgress{}, datastoreError("count updated devices", err)
	}

	return model.SyncProgress{
		TotalDevices:         total,
		RecentlyUpdated:      recent,
		CompletionPercentage: float64(recent) / float64(total) * 100,
	}, nil
}

type listFunc func(ctx context.Context) ([]model.TrackedDevice, error)

func (e *Engine) pass(ctx context.Context, kind string, list listFunc) (model.SyncMetrics, error) {
	start := e.clock.Now()
	logger := e.logger.WithValues("pass", kind)

	finish := func(m model.SyncMetrics, err error) (model.SyncMetrics, error) {
		end := e.clock.Now()
		m.LastSyncTime = end
		m.Duration = end.Sub(start)
		metrics.SyncDuration.WithLabelValues(kind).Observe(m.Duration.Seconds())

		if err != nil {
			m.Failed = true
			m.LastError = err.Error()
			m.Errors = max(m.TotalDevices, 1)
			m.DevicesUpdated = 0
			m.CompletionRate = 0
			metrics.SyncPassesTotal.WithLabelValues(kind, "failed").Inc()
			logger.Error(err, "Synchronization pass failed", "kind", core.KindOf(err), "devices", m.TotalDevices)
			return m, err
		}
		metrics.SyncPassesTotal.WithLabelValues(kind, "success").Inc()
		return m, nil
	}

	sess := e.sessions.EnsureValidSession(ctx)
	if !sess.Valid {
		return finish(model.SyncMetrics{}, sess.Require())
	}

	devices, err := list(ctx)
	if err != nil {
		return finish(model.SyncMetrics{}, datastoreError("list devices", err))
	}

	m := model.SyncMetrics{TotalDevices: len(devices)}
	if len(devices) == 0 {
		m.CompletionRate = 100
		logger.Info("No devices to synchronize")
		return finish(m, nil)
	}

	ids := make([]string, 0, len(devices))
	known := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
		known[d.ID] = struct{}{}
	}

	fixes, err := e.fetch(ctx, ids, sess.Token)
	if err != nil {
		return finish(m, err)
	}

	now := e.clock.Now()
	latest := make(map[string]model.PositionFix, len(fixes))
	for _, f := range fixes {
		if _, ok := known[f.DeviceID]; !ok {
			continue
		}
		if prev, ok := latest[f.DeviceID]; ok && prev.CapturedAt.After(f.CapturedAt) {
			continue
		}
		latest[f.DeviceID] = f
	}

	updates := make([]model.PositionUpdate, 0, len(latest))
	for _, id := range ids {
		if f, ok := latest[id]; ok {
			updates = append(updates, model.PositionUpdate{Fix: f, Status: Classify(f, now, e.cfg.FreshnessThreshold)})
		}
	}

	res := batch.Process(ctx, updates, e.cfg.Batch, e.devices.UpsertPosition)

	missing := len(devices) - len(updates)
	m.DevicesUpdated = res.Updated
	m.Errors = missing + res.Errors
	m.CompletionRate = float64(res.Updated) / float64(len(devices)) * 100

	if m.CompletionRate < lowCompletionRate {
		logger.Warn("Synchronization completion below target",
			"completionRate", m.CompletionRate, "devices", m.TotalDevices,
			"updated", m.DevicesUpdated, "missing", missing, "writeErrors", res.Errors)
	} else {
		logger.Info("Synchronization pass completed",
			"devices", m.TotalDevices, "updated", m.DevicesUpdated, "errors", m.Errors)
	}
	return finish(m, nil)
}

// fetch requests positions in slices of at most MaxDevicesPerRequest ids and
// concatenates the records. Any rejected slice fails the whole fetch.
func (e *Engine) fetch(ctx context.Context, ids []string, token string) ([]model.PositionFix, error) {
	size := e.cfg.MaxDevicesPerRequest
	if size <= 0 {
		size = len(ids)
	}

	var fixes []model.PositionFix
	for start := 0; start < len(ids); start += size {
		chunk := ids[start:min(start+size, len(ids))]

		res, err := e.provider.FetchPositions(ctx, chunk, token)
		if err != nil {
			if core.KindOf(err) == core.KindUnknown {
				err = core.NewError(core.KindConnectivity, "fetch positions", err)
			}
			return nil, err
		}

		switch r := res.(type) {
		case core.FetchOK:
			fixes = append(fixes, r.Records...)
		case core.FetchErr:
			kind := r.Kind
			if kind == "" {
				kind = core.KindAPI
			}
			if kind == core.KindAuthentication {
				e.sessions.ForceRevalidation()
			}
			return nil, core.Errorf(kind, "fetch positions", "provider status %d: %s", r.Status, r.Cause)
		default:
			return nil, core.Errorf(core.KindAPI, "fetch positions", "unexpected result %T", res)
		}
	}
	return fixes, nil
}

// report records a full-pass outcome in the status sink and on the notifier.
// Failures here are logged and never fail the pass.
func (e *Engine) report(ctx context.Context, m model.SyncMetrics) {
	if e.status != nil {
		if err := e.status.UpdatePollingStatus(ctx, m.LastSyncTime, !m.Failed, m.LastError); err != nil {
			e.logger.Error(err, "Failed to record polling status", "kind", core.KindDatastore)
		}
	}
	if e.notifier != nil {
		if err := e.notifier.PublishSync(ctx, m); err != nil {
			e.logger.Warn("Failed to publish sync outcome", "error", err)
		}
	}
}

func datastoreError(op string, err error) error {
	if core.KindOf(err) == core.KindUnknown {
		return core.NewError(core.KindDatastore, op, err)
	}
	return err
}
