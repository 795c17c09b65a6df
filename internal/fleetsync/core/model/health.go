package model

import (
	"fmt"
	"time"
)

// Status is a health severity. Higher values are worse.
type Status int

const (
	StatusHealthy Status = iota
	StatusWarning
	StatusCritical
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusWarning:
		return "warning"
	case StatusCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "healthy":
		*s = StatusHealthy
	case "warning":
		*s = StatusWarning
	case "critical":
		*s = StatusCritical
	default:
		return fmt.Errorf("unknown health status %q", b)
	}
	return nil
}

// Worst returns the highest severity of the given statuses.
func Worst(statuses ...Status) Status {
	worst := StatusHealthy
	for _, s := range statuses {
		if s > worst {
			worst = s
		}
	}
	return worst
}

// MetricStatus is the evaluation of one health metric.
type MetricStatus struct {
	Name    string  `json:"name"`
	Status  Status  `json:"status"`
	Value   float64 `json:"value"`
	Message string  `json:"message"`
}

// AlertKind classifies an alert.
type AlertKind string

const (
	AlertError   AlertKind = "error"
	AlertWarning AlertKind = "warning"
	AlertInfo    AlertKind = "info"
)

// Alert stays open until resolved.
type Alert struct {
	ID        string    `json:"id"`
	Kind      AlertKind `json:"kind"`
	Metric    string    `json:"metric,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthSnapshot is the aggregate published on every health tick.
type HealthSnapshot struct {
	Overall          Status         `json:"overall"`
	Metrics          []MetricStatus `json:"metrics"`
	Alerts           []Alert        `json:"alerts"`
	Uptime           time.Duration  `json:"uptime"`
	LastResponseTime time.Duration  `json:"lastResponseTime"`
	CheckedAt        time.Time      `json:"checkedAt"`
}
