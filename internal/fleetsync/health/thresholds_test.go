package health

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/session"
)

func TestEvaluateDatastore(t *testing.T) {
	assert.Equal(t, model.StatusHealthy, EvaluateDatastore(200*time.Millisecond, nil).Status)
	assert.Equal(t, model.StatusWarning, EvaluateDatastore(time.Second, nil).Status)
	assert.Equal(t, model.StatusWarning, EvaluateDatastore(2999*time.Millisecond, nil).Status)
	assert.Equal(t, model.StatusCritical, EvaluateDatastore(3*time.Second, nil).Status)
	assert.Equal(t, model.StatusCritical, EvaluateDatastore(time.Millisecond, errors.New("refused")).Status)
}

func TestEvaluatePolling(t *testing.T) {
	tests := []struct {
		name string
		pm   model.PollMetrics
		want model.Status
	}{
		{name: "no polls yet", pm: model.PollMetrics{State: model.PollRunning}, want: model.StatusHealthy},
		{name: "90 percent", pm: model.PollMetrics{TotalPolls: 10, SuccessfulPolls: 9, State: model.PollRunning}, want: model.StatusHealthy},
		{name: "70 percent", pm: model.PollMetrics{TotalPolls: 10, SuccessfulPolls: 7, State: model.PollBackoff}, want: model.StatusWarning},
		{name: "60 percent", pm: model.PollMetrics{TotalPolls: 10, SuccessfulPolls: 6, State: model.PollRunning}, want: model.StatusCritical},
		{name: "disabled", pm: model.PollMetrics{TotalPolls: 10, SuccessfulPolls: 10, State: model.PollDisabled}, want: model.StatusCritical},
		{name: "stopped", pm: model.PollMetrics{State: model.PollStopped}, want: model.StatusWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluatePolling(tt.pm).Status)
		})
	}
}

func TestEvaluateCompletion(t *testing.T) {
	at := time.Now()
	assert.Equal(t, model.StatusHealthy, EvaluateCompletion(model.SyncMetrics{}).Status)
	assert.Equal(t, model.StatusHealthy, EvaluateCompletion(model.SyncMetrics{CompletionRate: 95, LastSyncTime: at}).Status)
	assert.Equal(t, model.StatusWarning, EvaluateCompletion(model.SyncMetrics{CompletionRate: 92, LastSyncTime: at}).Status)
	assert.Equal(t, model.StatusCritical, EvaluateCompletion(model.SyncMetrics{CompletionRate: 79.9, LastSyncTime: at}).Status)

	failed := EvaluateCompletion(model.SyncMetrics{Failed: true, LastError: "boom", LastSyncTime: at})
	assert.Equal(t, model.StatusCritical, failed.Status)
	assert.Contains(t, failed.Message, "boom")
}

func TestEvaluateFreshness(t *testing.T) {
	now := time.Now()
	assert.Equal(t, model.StatusHealthy, EvaluateFreshness(model.SyncMetrics{}, 0, now).Status)
	assert.Equal(t, model.StatusHealthy, EvaluateFreshness(model.SyncMetrics{LastSyncTime: now.Add(-time.Minute)}, 0, now).Status)
	assert.Equal(t, model.StatusWarning, EvaluateFreshness(model.SyncMetrics{LastSyncTime: now.Add(-10 * time.Minute)}, 0, now).Status)
	assert.Equal(t, model.StatusCritical, EvaluateFreshness(model.SyncMetrics{LastSyncTime: now.Add(-time.Hour)}, 0, now).Status)
}

func TestEvaluateSession(t *testing.T) {
	now := time.Now()
	assert.Equal(t, model.StatusHealthy, EvaluateSession(session.Result{Valid: true, ExpiresAt: now.Add(time.Hour)}, now).Status)
	assert.Equal(t, model.StatusWarning, EvaluateSession(session.Result{Valid: true, ExpiresAt: now.Add(5 * time.Minute)}, now).Status)
	assert.Equal(t, model.StatusCritical, EvaluateSession(session.Result{}, now).Status)
}

func TestEvaluateCircuit(t *testing.T) {
	assert.Equal(t, model.StatusHealthy, EvaluateCircuit("closed").Status)
	assert.Equal(t, model.StatusWarning, EvaluateCircuit("half-open").Status)
	assert.Equal(t, model.StatusCritical, EvaluateCircuit("open").Status)
}

func TestFreshnessScalesWithInterval(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	interval := 10 * time.Minute

	healthy, warning := FreshnessThresholds(interval)
	assert.Equal(t, 20*time.Minute, healthy)
	assert.Equal(t, 50*time.Minute, warning)

	// One pass behind on a 10m schedule is on time.
	ms := EvaluateFreshness(model.SyncMetrics{LastSyncTime: now.Add(-12 * time.Minute)}, interval, now)
	assert.Equal(t, model.StatusHealthy, ms.Status)

	ms = EvaluateFreshness(model.SyncMetrics{LastSyncTime: now.Add(-30 * time.Minute)}, interval, now)
	assert.Equal(t, model.StatusWarning, ms.Status)

	ms = EvaluateFreshness(model.SyncMetrics{LastSyncTime: now.Add(-time.Hour)}, interval, now)
	assert.Equal(t, model.StatusCritical, ms.Status)
}

func TestFreshnessFloorsForShortIntervals(t *testing.T) {
	healthy, warning := FreshnessThresholds(30 * time.Second)
	assert.Equal(t, FreshnessHealthyFloor, healthy)
	assert.Equal(t, FreshnessWarningFloor, warning)
}
