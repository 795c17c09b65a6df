// Package health aggregates component metrics into a graded snapshot and
// keeps the resulting alerts until an operator resolves them.
package health

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/session"
	"github.com/autopeer-io/fleetsync/internal/pkg/metrics"
	"github.com/autopeer-io/fleetsync/pkg/log"
)

const (
	// DefaultMaxAlerts is how many open alerts are retained; the oldest are dropped first.
	DefaultMaxAlerts = 50

	pingTimeout    = 5 * time.Second
	sessionTimeout = 10 * time.Second
)

type SessionSource interface {
	EnsureValidSession(ctx context.Context) session.Result
}

type SyncSource interface {
	Metrics() model.SyncMetrics
}

type PollSource interface {
	Metrics() model.PollMetrics
}

type CircuitSource interface {
	State() string
}

// Sources are the components a check reads from. Circuit is optional.
type Sources struct {
	Session   SessionSource
	Sync      SyncSource
	Poll      PollSource
	Datastore core.Pinger
	Circuit   CircuitSource
}

type Config struct {
	Interval  time.Duration
	MaxAlerts int
}

// Monitor periodically grades the service and fans the snapshot out to subscribers.
type Monitor struct {
	src      Sources
	notifier core.HealthNotifier
	clock    clock.WithTicker
	cfg      Config
	logger   log.Logger
	started  time.Time

	checkMu sync.Mutex

	mu       sync.Mutex
	snapshot model.HealthSnapshot
	previous map[string]model.Status
	overall  model.Status
	alerts   []model.Alert
	subs     map[uint64]func(model.HealthSnapshot)
	nextSub  uint64
}

// NewMonitor builds a monitor. notifier may be nil.
func NewMonitor(src Sources, notifier core.HealthNotifier, clk clock.WithTicker, cfg Config) *Monitor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = DefaultMaxAlerts
	}
	now := clk.Now()
	return &Monitor{
		src:      src,
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
		logger:   log.WithName("health"),
		started:  now,
		snapshot: model.HealthSnapshot{CheckedAt: now},
		previous: make(map[string]model.Status),
		subs:     make(map[uint64]func(model.HealthSnapshot)),
	}
}

// Run checks immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := m.clock.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			m.Check(ctx)
		}
	}
}

// Check evaluates every metric, records alerts for metrics that got worse and
// publishes the new snapshot.
func (m *Monitor) Check(ctx context.Context) model.HealthSnapshot {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	statuses, latency := m.collect(ctx)
	now := m.clock.Now()

	overall := model.StatusHealthy
	for _, st := range statuses {
		overall = model.Worst(overall, st.Status)
		metrics.HealthStatus.WithLabelValues(st.Name).Set(float64(st.Status))
	}
	metrics.HealthStatus.WithLabelValues("overall").Set(float64(overall))

	m.mu.Lock()
	raised := m.transitionsLocked(statuses, overall, now)
	m.snapshot = model.HealthSnapshot{
		Overall:          overall,
		Metrics:          statuses,
		Alerts:           append([]model.Alert(nil), m.alerts...),
		Uptime:           now.Sub(m.started),
		LastResponseTime: latency,
		CheckedAt:        now,
	}
	snap := m.snapshot
	subs := m.subscribersLocked()
	m.mu.Unlock()

	for _, a := range raised {
		m.logAlert(a)
	}
	for _, fn := range subs {
		m.deliver(fn, snap)
	}
	m.publish(ctx, snap, raised)
	return snap
}

// Snapshot returns the last computed snapshot.
func (m *Monitor) Snapshot() model.HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// Alerts returns the open alerts, oldest first.
func (m *Monitor) Alerts() []model.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Alert(nil), m.alerts...)
}

// ResolveAlert closes an open alert. It reports whether id was open.
func (m *Monitor) ResolveAlert(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, a := range m.alerts {
		if a.ID == id {
			m.alerts = append(m.alerts[:i], m.alerts[i+1:]...)
			m.snapshot.Alerts = append([]model.Alert(nil), m.alerts...)
			m.logger.Info("Alert resolved", "id", id, "metric", a.Metric)
			return true
		}
	}
	return false
}

// Subscribe registers fn for every published snapshot and calls it at once
// with the current one. The returned func unsubscribes.
func (m *Monitor) Subscribe(fn func(model.HealthSnapshot)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	snap := m.snapshot
	m.mu.Unlock()

	m.deliver(fn, snap)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

func (m *Monitor) collect(ctx context.Context) ([]model.MetricStatus, time.Duration) {
	var statuses []model.MetricStatus
	var latency time.Duration

	if m.src.Datastore != nil {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		start := m.clock.Now()
		err := m.src.Datastore.Ping(pctx)
		latency = m.clock.Since(start)
		cancel()
		statuses = append(statuses, EvaluateDatastore(latency, err))
	}

	var interval time.Duration
	if m.src.Poll != nil {
		pm := m.src.Poll.Metrics()
		interval = pm.Interval
		statuses = append(statuses, EvaluatePolling(pm))
	}

	if m.src.Sync != nil {
		sm := m.src.Sync.Metrics()
		statuses = append(statuses, EvaluateCompletion(sm), EvaluateFreshness(sm, interval, m.clock.Now()))
	}

	if m.src.Session != nil {
		sctx, cancel := context.WithTimeout(ctx, sessionTimeout)
		res := m.src.Session.EnsureValidSession(sctx)
		cancel()
		statuses = append(statuses, EvaluateSession(res, m.clock.Now()))
	}

	if m.src.Circuit != nil {
		statuses = append(statuses, EvaluateCircuit(m.src.Circuit.State()))
	}

	return statuses, latency
}

// transitionsLocked appends alerts for metrics that got worse, for recoveries
// to healthy and for the aggregate turning critical. It returns the new alerts.
func (m *Monitor) transitionsLocked(statuses []model.MetricStatus, overall model.Status, now time.Time) []model.Alert {
	var raised []model.Alert

	for _, st := range statuses {
		prev := m.previous[st.Name]
		m.previous[st.Name] = st.Status

		switch {
		case st.Status > prev && st.Status == model.StatusCritical:
			raised = append(raised, m.newAlert(model.AlertError, st.Name, st.Message, now))
		case st.Status > prev && st.Status == model.StatusWarning:
			raised = append(raised, m.newAlert(model.AlertWarning, st.Name, st.Message, now))
		case st.Status < prev && st.Status == model.StatusHealthy:
			raised = append(raised, m.newAlert(model.AlertInfo, st.Name, fmt.Sprintf("%s recovered: %s", st.Name, st.Message), now))
		}
	}

	if overall == model.StatusCritical && m.overall != model.StatusCritical {
		var reasons []string
		for _, st := range statuses {
			if st.Status == model.StatusCritical {
				reasons = append(reasons, st.Message)
			}
		}
		raised = append(raised, m.newAlert(model.AlertError, "", "GP51 platform critical: "+strings.Join(reasons, "; "), now))
	}
	m.overall = overall

	m.alerts = append(m.alerts, raised...)
	if over := len(m.alerts) - m.cfg.MaxAlerts; over > 0 {
		m.alerts = append([]model.Alert(nil), m.alerts[over:]...)
	}
	return raised
}

func (m *Monitor) newAlert(kind model.AlertKind, metric, msg string, now time.Time) model.Alert {
	return model.Alert{
		ID:        uuid.NewString(),
		Kind:      kind,
		Metric:    metric,
		Message:   msg,
		Timestamp: now,
	}
}

func (m *Monitor) subscribersLocked() []func(model.HealthSnapshot) {
	subs := make([]func(model.HealthSnapshot), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	return subs
}

// deliver calls a subscriber; a panicking subscriber does not affect the others.
func (m *Monitor) deliver(fn func(model.HealthSnapshot), snap model.HealthSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error(fmt.Errorf("panic: %v", r), "Health subscriber panicked")
		}
	}()
	fn(snap)
}

func (m *Monitor) publish(ctx context.Context, snap model.HealthSnapshot, raised []model.Alert) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.PublishSnapshot(ctx, snap); err != nil {
		m.logger.Warn("Failed to publish health snapshot", "error", err)
	}
	for _, a := range raised {
		if err := m.notifier.PublishAlert(ctx, a); err != nil {
			m.logger.Warn("Failed to publish alert", "id", a.ID, "error", err)
		}
	}
}

func (m *Monitor) logAlert(a model.Alert) {
	switch a.Kind {
	case model.AlertError:
		m.logger.Error(errors.New(a.Message), "Health alert raised", "id", a.ID, "metric", a.Metric)
	case model.AlertWarning:
		m.logger.Warn("Health alert raised", "id", a.ID, "metric", a.Metric, "message", a.Message)
	default:
		m.logger.Info("Health alert raised", "id", a.ID, "metric", a.Metric, "message", a.Message)
	}
}
