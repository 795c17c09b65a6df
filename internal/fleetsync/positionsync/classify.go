package positionsync

import (
	"time"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
)

// DefaultFreshness is the age after which a fix no longer proves the device is online.
// It is the single threshold used for every status tier.
const DefaultFreshness = 30 * time.Minute

// Classify derives the movement status of a device from its latest fix.
// A fix without a capture time, or older than freshness, means offline.
func Classify(fix model.PositionFix, now time.Time, freshness time.Duration) model.DeviceStatus {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	if fix.CapturedAt.IsZero() || now.Sub(fix.CapturedAt) > freshness {
		return model.DeviceOffline
	}
	if fix.SpeedKph > 0 {
		return model.DeviceMoving
	}
	return model.DeviceStopped
}
