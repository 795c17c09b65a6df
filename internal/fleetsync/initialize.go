package fleetsync

import (
	"context"
	"fmt"
	"os"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/notifier"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/postgres"
	"github.com/autopeer-io/fleetsync/pkg/log"
	"github.com/autopeer-io/fleetsync/pkg/mqtt"
	"github.com/autopeer-io/fleetsync/pkg/mqtt/topic"
	"github.com/autopeer-io/fleetsync/pkg/options"
)

// InitializeDatastore applies pending migrations when enabled and opens the pool.
func InitializeDatastore(ctx context.Context, opts *options.PostgresOptions) (*postgres.DB, error) {
	if opts.AutoMigrate {
		if err := postgres.Migrate(opts.DSN); err != nil {
			log.Error(err, "failed to migrate datastore")
			return nil, err
		}
	}

	db, err := postgres.Open(ctx, opts)
	if err != nil {
		log.Error(err, "failed to open datastore")
		return nil, err
	}
	return db, nil
}

// InitializeMQTTClient builds a client whose will marks the instance offline.
func InitializeMQTTClient(opts *options.MqttOptions, topics *topic.TopicBuilder, instance string) (mqtt.Client, error) {
	cfg := opts.ToClientConfig()

	if cfg.ClientID == "" {
		hostname, _ := os.Hostname()
		cfg.ClientID = fmt.Sprintf("cpeer-fleetsync-%s", hostname)
	}

	cfg.WillTopic = topics.Status(instance)
	cfg.WillPayload = notifier.WillPayload(instance)
	cfg.WillQoS = 1
	cfg.WillRetain = true

	mqttclient, err := mqtt.NewClient(cfg)
	if err != nil {
		log.Error(err, "failed to new mqtt client")
		return nil, err
	}

	return mqttclient, nil
}
