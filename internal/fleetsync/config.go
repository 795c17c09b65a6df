package fleetsync

import (
	"context"
	"fmt"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/batch"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/core"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/service"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/gp51"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/health"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/notifier"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/positionsync"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/postgres"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/scheduler"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/server"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/server/http"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/session"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/storage"
	"github.com/autopeer-io/fleetsync/pkg/log"
	"github.com/autopeer-io/fleetsync/pkg/mqtt"
	"github.com/autopeer-io/fleetsync/pkg/mqtt/topic"
	"github.com/autopeer-io/fleetsync/pkg/options"
)

type Config struct {
	HttpOptions     *options.HttpOptions
	MqttOptions     *options.MqttOptions
	PostgresOptions *options.PostgresOptions
	BadgerOptions   *options.BadgerOptions
	GP51Options     *options.GP51Options
	PollingOptions  *options.PollingOptions
	HealthOptions   *options.HealthOptions
}

// NewFleetSyncServer opens the backing stores and wires every component.
// Stores opened before a failure are closed again.
func (cfg *Config) NewFleetSyncServer(ctx context.Context) (_ *FleetSyncServer, err error) {
	var closers []func() error
	defer func() {
		if err != nil {
			closeAll(closers)
		}
	}()

	clk := clock.RealClock{}

	// 1. Infrastructure: datastore and session store (Secondary Adapters)
	db, err := InitializeDatastore(ctx, cfg.PostgresOptions)
	if err != nil {
		return nil, err
	}
	closers = append(closers, db.Close)

	kv, err := storage.OpenBadger(cfg.BadgerOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	closers = append(closers, kv.Close)

	devices := postgres.NewDeviceRepository(db)
	polling := postgres.NewPollingRepository(db)
	store := session.NewStore(storage.NewBadgerSessionRepository(kv, clk))

	// 2. Infrastructure: telemetry provider
	breaker := gp51.NewBreakerProvider(gp51.NewClient(cfg.GP51Options, clk), cfg.GP51Options.BreakerTimeout)

	// 3. Infrastructure: notifier (optional)
	var (
		mqttClient     mqtt.Client
		mqttNotifier   *notifier.MQTTNotifier
		healthNotifier core.HealthNotifier
		syncNotifier   core.SyncNotifier
	)
	if cfg.MqttOptions.Enabled {
		topics := topic.NewTopicBuilder(cfg.MqttOptions.TopicRoot)
		mqttClient, err = InitializeMQTTClient(cfg.MqttOptions, topics, cfg.HealthOptions.Instance)
		if err != nil {
			return nil, err
		}
		mqttNotifier = notifier.NewMQTTNotifier(mqttClient, topics, cfg.HealthOptions.Instance)
		healthNotifier, syncNotifier = mqttNotifier, mqttNotifier
	}

	// 4. Core components
	creds := model.Credentials{
		Username:     cfg.GP51Options.Username,
		PasswordHash: gp51.HashPassword(cfg.GP51Options.Password),
	}
	validator := session.NewValidator(store, breaker, clk, session.DefaultValidatorConfig(creds))

	engine := positionsync.NewEngine(validator, breaker, devices, polling, syncNotifier, clk, positionsync.Config{
		FreshnessThreshold:   cfg.PollingOptions.FreshnessThreshold,
		StaleThreshold:       cfg.PollingOptions.StaleThreshold,
		MaxDevicesPerRequest: cfg.GP51Options.MaxDevicesPerRequest,
		Batch: batch.Options{
			ChunkSize:   cfg.PollingOptions.ChunkSize,
			Concurrency: cfg.PollingOptions.WriteConcurrency,
		},
	})

	poller := scheduler.New(engine, clk, scheduler.Config{
		Interval:       cfg.PollingOptions.Interval,
		SweepInterval:  cfg.PollingOptions.SweepInterval,
		StaleThreshold: cfg.PollingOptions.StaleThreshold,
		MaxRetries:     cfg.PollingOptions.MaxRetries,
		Multiplier:     cfg.PollingOptions.BackoffMultiplier,
	})

	monitor := health.NewMonitor(health.Sources{
		Session:   validator,
		Sync:      engine,
		Poll:      poller,
		Datastore: db,
		Circuit:   breaker,
	}, healthNotifier, clk, health.Config{Interval: cfg.HealthOptions.Interval})

	svc := service.New(engine, poller, validator, monitor, polling, cfg.PollingOptions.Interval, cfg.PollingOptions.AutoStart)

	// 5. Ingress and background loops (Primary Adapters)
	manager := server.NewManager()
	manager.Add("http", http.NewServer(cfg.HttpOptions, svc, db))
	manager.Add("poller", server.StartFunc(poller.Run))
	manager.Add("health", server.StartFunc(monitor.Run))

	return &FleetSyncServer{
		manager:  manager,
		service:  svc,
		mqtt:     mqttClient,
		notifier: mqttNotifier,
		closers:  closers,
	}, nil
}

func closeAll(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			log.Error(err, "Failed to close resource")
		}
	}
}
