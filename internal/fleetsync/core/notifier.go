package core

import (
	"context"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
)

// HealthNotifier fans health state out to external consumers.
// It is implemented by the MQTT outbound adapter.
type HealthNotifier interface {
	PublishSnapshot(ctx context.Context, snap model.HealthSnapshot) error
	PublishAlert(ctx context.Context, alert model.Alert) error
}

// SyncNotifier publishes the outcome of each synchronization pass.
type SyncNotifier interface {
	PublishSync(ctx context.Context, m model.SyncMetrics) error
}
