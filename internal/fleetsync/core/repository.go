package core

import (
	"context"
	"time"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
)

// SessionRepository persists provider sessions across restarts.
// It is implemented by the BadgerDB adapter.
type SessionRepository interface {
	// Latest returns the most recently stored session, or nil when none exists.
	Latest(ctx context.Context) (*model.Session, error)

	// List returns up to limit sessions, most recent first.
	List(ctx context.Context, limit int) ([]model.Session, error)

	// Put stores a session. Last writer wins.
	Put(ctx context.Context, s model.Session) error

	// Clear removes every stored session.
	Clear(ctx context.Context) error
}

// DeviceRepository reads tracked devices and writes their positions.
// It is implemented by the PostgreSQL adapter.
type DeviceRepository interface {
	// ListActive returns every active device. No pagination cap is applied.
	ListActive(ctx context.Context) ([]model.TrackedDevice, error)

	// ListStale returns active devices whose last fix is older than before, or that never reported.
	ListStale(ctx context.Context, before time.Time) ([]model.TrackedDevice, error)

	// CountActive returns the number of active devices.
	CountActive(ctx context.Context) (int, error)

	// CountUpdatedSince returns the number of active devices with a fix captured at or after since.
	CountUpdatedSince(ctx context.Context, since time.Time) (int, error)

	// UpsertPosition writes the latest position of one device keyed by device id.
	UpsertPosition(ctx context.Context, u model.PositionUpdate) error
}

// PollingRepository is the sync-status sink and the polling configuration source.
type PollingRepository interface {
	// UpdatePollingStatus records the outcome of a pass.
	UpdatePollingStatus(ctx context.Context, at time.Time, success bool, errMsg string) error

	// GetPollingConfig returns the stored polling configuration, or nil when none exists.
	GetPollingConfig(ctx context.Context) (*model.PollingConfig, error)
}

// Pinger probes a backing store round trip.
type Pinger interface {
	Ping(ctx context.Context) error
}
