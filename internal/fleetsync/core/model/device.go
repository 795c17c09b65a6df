package model

import "time"

// TrackedDevice is a GPS unit registered in the datastore.
type TrackedDevice struct {
	ID          string
	DisplayName string
	Active      bool
	OwnerID     string

	// LastFix is the last persisted position, nil when none was ever stored.
	LastFix *PositionFix
}

// PositionFix is one position report returned by the provider.
type PositionFix struct {
	DeviceID   string    `json:"deviceId"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	SpeedKph   float64   `json:"speedKph"`
	HeadingDeg float64   `json:"headingDeg"`
	CapturedAt time.Time `json:"capturedAt"`
	StatusText string    `json:"statusText"`
}

// DeviceStatus is the movement classification derived from a fix.
type DeviceStatus string

const (
	DeviceMoving  DeviceStatus = "moving"
	DeviceStopped DeviceStatus = "stopped"
	DeviceOffline DeviceStatus = "offline"
)

// PositionUpdate is what gets written for a device after a pass.
type PositionUpdate struct {
	Fix    PositionFix
	Status DeviceStatus
}
