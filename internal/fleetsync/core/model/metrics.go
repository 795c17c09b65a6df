package model

import "time"

// SyncMetrics summarizes one synchronization pass.
type SyncMetrics struct {
	TotalDevices   int           `json:"totalDevices"`
	DevicesUpdated int           `json:"devicesUpdated"`
	Errors         int           `json:"errors"`
	CompletionRate float64       `json:"completionRate"`
	LastSyncTime   time.Time     `json:"lastSyncTime"`
	Duration       time.Duration `json:"duration"`

	// Failed is set when the pass aborted before persisting.
	Failed    bool   `json:"failed"`
	LastError string `json:"lastError,omitempty"`
}

// SyncProgress reports how much of the active fleet carries a recent position.
type SyncProgress struct {
	TotalDevices         int     `json:"totalDevices"`
	RecentlyUpdated      int     `json:"recentlyUpdated"`
	CompletionPercentage float64 `json:"completionPercentage"`
}

// PollState is the state of the polling scheduler.
type PollState string

const (
	PollStopped  PollState = "stopped"
	PollRunning  PollState = "running"
	PollBackoff  PollState = "backoff"
	PollDisabled PollState = "disabled"
)

// PollMetrics are the counters kept by the polling scheduler.
type PollMetrics struct {
	TotalPolls        int       `json:"totalPolls"`
	SuccessfulPolls   int       `json:"successfulPolls"`
	FailedPolls       int       `json:"failedPolls"`
	LastPollTime      time.Time `json:"lastPollTime"`
	LastSuccessTime   time.Time `json:"lastSuccessTime"`
	LastErrorTime     time.Time `json:"lastErrorTime"`
	LastError         string    `json:"lastError,omitempty"`
	CurrentRetryCount int       `json:"currentRetryCount"`
	State             PollState `json:"state"`

	// Interval is the effective polling interval.
	Interval time.Duration `json:"interval"`
}

// SuccessRatio returns successful polls over total polls in percent.
// It returns 100 when no poll has run yet.
func (m PollMetrics) SuccessRatio() float64 {
	if m.TotalPolls == 0 {
		return 100
	}
	return float64(m.SuccessfulPolls) / float64(m.TotalPolls) * 100
}

// PollingConfig is the operator-editable polling record kept in the datastore.
type PollingConfig struct {
	IntervalSeconds int
	Enabled         bool
	ErrorCount      int
	LastPollTime    *time.Time
	LastSuccessTime *time.Time
	LastError       string
}

// Interval returns the configured interval, or fallback when unset.
func (c *PollingConfig) Interval(fallback time.Duration) time.Duration {
	if c == nil || c.IntervalSeconds <= 0 {
		return fallback
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}
