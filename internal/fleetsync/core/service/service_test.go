package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
)

type fakeEngine struct {
	runs    int
	metrics model.SyncMetrics
	err     error
}

func (f *fakeEngine) RunFullSync(context.Context) (model.SyncMetrics, error) {
	f.runs++
	return f.metrics, f.err
}

func (f *fakeEngine) Metrics() model.SyncMetrics { return f.metrics }

func (f *fakeEngine) SyncProgress(context.Context) (model.SyncProgress, error) {
	return model.SyncProgress{TotalDevices: 10, RecentlyUpdated: 9, CompletionPercentage: 90}, nil
}

type fakePoller struct {
	started     []time.Duration
	rescheduled []time.Duration
	stops       int
}

func (f *fakePoller) Start(interval time.Duration) error {
	f.started = append(f.started, interval)
	return nil
}

func (f *fakePoller) Stop()                             { f.stops++ }
func (f *fakePoller) Reschedule(interval time.Duration) { f.rescheduled = append(f.rescheduled, interval) }
func (f *fakePoller) Metrics() model.PollMetrics        { return model.PollMetrics{State: model.PollRunning} }

type fakeCache struct{ cleared int }

func (f *fakeCache) ClearCache() { f.cleared++ }

type fakeHealth struct {
	checks   int
	resolved []string
}

func (f *fakeHealth) Snapshot() model.HealthSnapshot { return model.HealthSnapshot{Overall: model.StatusHealthy} }

func (f *fakeHealth) Check(context.Context) model.HealthSnapshot {
	f.checks++
	return model.HealthSnapshot{Overall: model.StatusWarning}
}

func (f *fakeHealth) ResolveAlert(id string) bool {
	f.resolved = append(f.resolved, id)
	return id == "known"
}

func (f *fakeHealth) Subscribe(fn func(model.HealthSnapshot)) func() {
	fn(f.Snapshot())
	return func() {}
}

type fakePolling struct {
	cfg *model.PollingConfig
	err error
}

func (f *fakePolling) UpdatePollingStatus(context.Context, time.Time, bool, string) error {
	return nil
}

func (f *fakePolling) GetPollingConfig(context.Context) (*model.PollingConfig, error) {
	return f.cfg, f.err
}

type fixture struct {
	engine  *fakeEngine
	poller  *fakePoller
	cache   *fakeCache
	health  *fakeHealth
	polling *fakePolling
	svc     *Service
}

func newFixture(autoStart bool, cfg *model.PollingConfig) *fixture {
	f := &fixture{
		engine:  &fakeEngine{},
		poller:  &fakePoller{},
		cache:   &fakeCache{},
		health:  &fakeHealth{},
		polling: &fakePolling{cfg: cfg},
	}
	f.svc = New(f.engine, f.poller, f.cache, f.health, f.polling, 30*time.Second, autoStart)
	return f
}

func TestBootstrap(t *testing.T) {
	tests := []struct {
		name      string
		autoStart bool
		cfg       *model.PollingConfig
		err       error
		want      []time.Duration
	}{
		{name: "no stored config", autoStart: true, want: []time.Duration{30 * time.Second}},
		{name: "stored interval wins", autoStart: true, cfg: &model.PollingConfig{IntervalSeconds: 60, Enabled: true}, want: []time.Duration{time.Minute}},
		{name: "stored config disabled", autoStart: true, cfg: &model.PollingConfig{IntervalSeconds: 60}},
		{name: "auto start off", autoStart: false, cfg: &model.PollingConfig{IntervalSeconds: 60, Enabled: true}},
		{
			name:      "config read fails",
			autoStart: true,
			err:       core.NewError(core.KindDatastore, "get polling config", errors.New("down")),
			want:      []time.Duration{30 * time.Second},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tt.autoStart, tt.cfg)
			f.polling.err = tt.err

			require.NoError(t, f.svc.Bootstrap(context.Background()))
			assert.Equal(t, tt.want, f.poller.started)
		})
	}
}

func TestResetAndRestart(t *testing.T) {
	f := newFixture(false, &model.PollingConfig{IntervalSeconds: 20, Enabled: true})

	require.NoError(t, f.svc.ResetAndRestart(context.Background()))
	assert.Equal(t, 1, f.poller.stops)
	assert.Equal(t, 1, f.cache.cleared)
	assert.Equal(t, []time.Duration{20 * time.Second}, f.poller.started)
}

func TestForceSync(t *testing.T) {
	f := newFixture(true, nil)
	f.engine.metrics = model.SyncMetrics{TotalDevices: 4, DevicesUpdated: 4, CompletionRate: 100}

	m, err := f.svc.ForceSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.engine.runs)
	assert.Equal(t, 100.0, m.CompletionRate)

	f.engine.err = core.ErrSyncInProgress
	_, err = f.svc.ForceSync(context.Background())
	assert.ErrorIs(t, err, core.ErrSyncInProgress)
}

func TestUpdateInterval(t *testing.T) {
	f := newFixture(true, nil)
	require.NoError(t, f.svc.Bootstrap(context.Background()))

	f.svc.UpdateInterval(45 * time.Second)
	assert.Equal(t, []time.Duration{45 * time.Second}, f.poller.rescheduled)

	stored := newFixture(true, &model.PollingConfig{IntervalSeconds: 60, Enabled: true})
	require.NoError(t, stored.svc.Bootstrap(context.Background()))

	stored.svc.UpdateInterval(45 * time.Second)
	assert.Empty(t, stored.poller.rescheduled)
}

func TestReadPassthrough(t *testing.T) {
	f := newFixture(true, nil)
	ctx := context.Background()

	assert.Equal(t, model.StatusHealthy, f.svc.Health(ctx, false).Overall)
	assert.Equal(t, model.StatusWarning, f.svc.Health(ctx, true).Overall)
	assert.Equal(t, 1, f.health.checks)

	assert.True(t, f.svc.ResolveAlert("known"))
	assert.False(t, f.svc.ResolveAlert("missing"))

	p, err := f.svc.SyncProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, 90.0, p.CompletionPercentage)
	assert.Equal(t, model.PollRunning, f.svc.PollMetrics().State)

	var got model.HealthSnapshot
	unsubscribe := f.svc.Subscribe(func(s model.HealthSnapshot) { got = s })
	defer unsubscribe()
	assert.Equal(t, model.StatusHealthy, got.Overall)
}
