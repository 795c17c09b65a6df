package health

import (
	"fmt"
	"time"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/session"
)

// Metric names.
const (
	MetricDatastore       = "datastore"
	MetricPolling         = "polling"
	MetricCompletion      = "sync_completion"
	MetricFreshness       = "sync_freshness"
	MetricSession         = "session"
	MetricProviderCircuit = "provider_circuit"
)

// Thresholds.
const (
	DatastoreHealthy = time.Second
	DatastoreWarning = 3 * time.Second

	PollRatioHealthy = 90.0
	PollRatioWarning = 70.0

	CompletionHealthy = 95.0
	CompletionWarning = 80.0

	SessionExpiryWarning = 10 * time.Minute

	// Freshness is graded in poll intervals, never tighter than the floors.
	FreshnessHealthyIntervals = 2
	FreshnessWarningIntervals = 5
	FreshnessHealthyFloor     = 5 * time.Minute
	FreshnessWarningFloor     = 15 * time.Minute
)

// FreshnessThresholds returns the pass ages below which freshness is healthy
// and warning for the given polling interval. A zero interval yields the floors.
func FreshnessThresholds(interval time.Duration) (healthy, warning time.Duration) {
	healthy = max(FreshnessHealthyIntervals*interval, FreshnessHealthyFloor)
	warning = max(FreshnessWarningIntervals*interval, FreshnessWarningFloor)
	return healthy, warning
}

// EvaluateDatastore grades a datastore round trip.
func EvaluateDatastore(latency time.Duration, err error) model.MetricStatus {
	ms := model.MetricStatus{Name: MetricDatastore, Value: float64(latency.Milliseconds())}
	switch {
	case err != nil:
		ms.Status = model.StatusCritical
		ms.Message = fmt.Sprintf("datastore unreachable: %v", err)
	case latency < DatastoreHealthy:
		ms.Status = model.StatusHealthy
		ms.Message = fmt.Sprintf("datastore responded in %s", latency)
	case latency < DatastoreWarning:
		ms.Status = model.StatusWarning
		ms.Message = fmt.Sprintf("datastore slow: %s", latency)
	default:
		ms.Status = model.StatusCritical
		ms.Message = fmt.Sprintf("datastore very slow: %s", latency)
	}
	return ms
}

// EvaluatePolling grades the poll success ratio and scheduler state.
func EvaluatePolling(pm model.PollMetrics) model.MetricStatus {
	ratio := pm.SuccessRatio()
	ms := model.MetricStatus{Name: MetricPolling, Value: ratio}

	switch {
	case pm.State == model.PollDisabled:
		ms.Status = model.StatusCritical
		ms.Message = fmt.Sprintf("polling disabled after %d consecutive failures", pm.CurrentRetryCount)
		return ms
	case pm.State == model.PollStopped:
		ms.Status = model.StatusWarning
		ms.Message = "polling stopped"
		return ms
	}

	switch {
	case ratio >= PollRatioHealthy:
		ms.Status = model.StatusHealthy
	case ratio >= PollRatioWarning:
		ms.Status = model.StatusWarning
	default:
		ms.Status = model.StatusCritical
	}
	ms.Message = fmt.Sprintf("poll success ratio %.1f%% (%d/%d)", ratio, pm.SuccessfulPolls, pm.TotalPolls)
	return ms
}

// EvaluateCompletion grades the completion rate of the last full pass.
func EvaluateCompletion(sm model.SyncMetrics) model.MetricStatus {
	ms := model.MetricStatus{Name: MetricCompletion, Value: sm.CompletionRate}
	if sm.LastSyncTime.IsZero() {
		ms.Value = 100
		ms.Message = "awaiting first synchronization pass"
		return ms
	}

	switch {
	case sm.CompletionRate >= CompletionHealthy:
		ms.Status = model.StatusHealthy
	case sm.CompletionRate >= CompletionWarning:
		ms.Status = model.StatusWarning
	default:
		ms.Status = model.StatusCritical
	}
	ms.Message = fmt.Sprintf("last pass updated %d of %d devices (%.1f%%)", sm.DevicesUpdated, sm.TotalDevices, sm.CompletionRate)
	if sm.Failed {
		ms.Message = fmt.Sprintf("last pass failed: %s", sm.LastError)
	}
	return ms
}

// EvaluateFreshness grades how long ago the last full pass finished against
// the polling interval.
func EvaluateFreshness(sm model.SyncMetrics, interval time.Duration, now time.Time) model.MetricStatus {
	ms := model.MetricStatus{Name: MetricFreshness}
	if sm.LastSyncTime.IsZero() {
		ms.Message = "awaiting first synchronization pass"
		return ms
	}

	healthy, warning := FreshnessThresholds(interval)
	age := now.Sub(sm.LastSyncTime)
	ms.Value = age.Seconds()
	switch {
	case age < healthy:
		ms.Status = model.StatusHealthy
	case age < warning:
		ms.Status = model.StatusWarning
	default:
		ms.Status = model.StatusCritical
	}
	ms.Message = fmt.Sprintf("last pass finished %s ago", age.Truncate(time.Second))
	return ms
}

// EvaluateSession grades the provider session.
func EvaluateSession(res session.Result, now time.Time) model.MetricStatus {
	ms := model.MetricStatus{Name: MetricSession}
	if !res.Valid {
		ms.Status = model.StatusCritical
		ms.Message = fmt.Sprintf("no valid session: %v", res.Require())
		return ms
	}

	left := res.ExpiresAt.Sub(now)
	ms.Value = left.Seconds()
	if left > SessionExpiryWarning {
		ms.Status = model.StatusHealthy
		ms.Message = fmt.Sprintf("session valid for %s", left.Truncate(time.Minute))
	} else {
		ms.Status = model.StatusWarning
		ms.Message = fmt.Sprintf("session expires in %s", left.Truncate(time.Second))
	}
	return ms
}

// EvaluateCircuit grades the provider circuit breaker state.
func EvaluateCircuit(state string) model.MetricStatus {
	ms := model.MetricStatus{Name: MetricProviderCircuit, Message: "provider circuit " + state}
	switch state {
	case "open":
		ms.Status = model.StatusCritical
		ms.Value = 2
	case "half-open":
		ms.Status = model.StatusWarning
		ms.Value = 1
	default:
		ms.Status = model.StatusHealthy
	}
	return ms
}
