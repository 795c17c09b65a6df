package fleetsync

import (
	"context"
	"time"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/service"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/notifier"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/server"
	"github.com/autopeer-io/fleetsync/pkg/log"
	"github.com/autopeer-io/fleetsync/pkg/mqtt"
)

const shutdownTimeout = 5 * time.Second

// FleetSyncServer is the main application struct for the fleet sync daemon.
type FleetSyncServer struct {
	manager  *server.Manager
	service  *service.Service
	mqtt     mqtt.Client
	notifier *notifier.MQTTNotifier
	closers  []func() error
}

// Run starts polling and the background components, and blocks until ctx is
// done. The backing stores are closed on return.
func (s *FleetSyncServer) Run(ctx context.Context) error {
	log.Info("Starting FleetSync Application...")
	defer closeAll(s.closers)

	// The broker connection outlives ctx so the offline status can still be sent.
	if s.mqtt != nil {
		mqttCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		if err := s.mqtt.Start(mqttCtx); err != nil {
			return err
		}
		go s.announceOnline(ctx)
		defer s.shutdownMQTT()
	}

	if err := s.service.Bootstrap(ctx); err != nil {
		return err
	}

	return s.manager.Start(ctx)
}

// UpdatePollingInterval applies a reloaded polling interval.
func (s *FleetSyncServer) UpdatePollingInterval(interval time.Duration) {
	s.service.UpdateInterval(interval)
}

func (s *FleetSyncServer) announceOnline(ctx context.Context) {
	if err := s.mqtt.AwaitConnection(ctx); err != nil {
		return
	}
	if err := s.notifier.Announce(ctx, notifier.StatusOnline); err != nil {
		log.Error(err, "Failed to announce instance status")
	}
}

func (s *FleetSyncServer) shutdownMQTT() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.notifier.Announce(ctx, notifier.StatusOffline); err != nil {
		log.Error(err, "Failed to announce instance status")
	}
	s.mqtt.Disconnect(ctx)
}
