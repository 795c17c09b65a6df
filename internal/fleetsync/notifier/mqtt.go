// Package notifier publishes health and sync events to MQTT.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
	"github.com/autopeer-io/fleetsync/pkg/log"
	"github.com/autopeer-io/fleetsync/pkg/mqtt"
	"github.com/autopeer-io/fleetsync/pkg/mqtt/topic"
)

const (
	qosAtMostOnce  = 0
	qosAtLeastOnce = 1

	publishTimeout = 5 * time.Second

	StatusOnline  = "online"
	StatusOffline = "offline"
)

var (
	_ core.HealthNotifier = (*MQTTNotifier)(nil)
	_ core.SyncNotifier   = (*MQTTNotifier)(nil)
)

// MQTTNotifier publishes under {root}/{health|alerts|sync|status}/{instance}.
// Snapshots, sync outcomes and presence are retained; alerts are not.
type MQTTNotifier struct {
	client   mqtt.Client
	topics   *topic.TopicBuilder
	instance string
	logger   log.Logger
}

func NewMQTTNotifier(client mqtt.Client, topics *topic.TopicBuilder, instance string) *MQTTNotifier {
	return &MQTTNotifier{
		client:   client,
		topics:   topics,
		instance: instance,
		logger:   log.WithName("mqtt-notifier").WithValues("instance", instance),
	}
}

type snapshotMessage struct {
	Instance string `json:"instance"`
	model.HealthSnapshot
}

type alertMessage struct {
	Instance string `json:"instance"`
	model.Alert
}

type syncMessage struct {
	Instance string `json:"instance"`
	model.SyncMetrics
}

type statusMessage struct {
	Instance  string    `json:"instance"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (n *MQTTNotifier) PublishSnapshot(ctx context.Context, snap model.HealthSnapshot) error {
	return n.publish(ctx, n.topics.Health(n.instance), qosAtMostOnce, true, snapshotMessage{Instance: n.instance, HealthSnapshot: snap})
}

func (n *MQTTNotifier) PublishAlert(ctx context.Context, alert model.Alert) error {
	return n.publish(ctx, n.topics.Alerts(n.instance), qosAtLeastOnce, false, alertMessage{Instance: n.instance, Alert: alert})
}

func (n *MQTTNotifier) PublishSync(ctx context.Context, m model.SyncMetrics) error {
	return n.publish(ctx, n.topics.Sync(n.instance), qosAtMostOnce, true, syncMessage{Instance: n.instance, SyncMetrics: m})
}

// Announce publishes the retained presence of this instance. The broker
// publishes StatusOffline through the will message when the connection drops.
func (n *MQTTNotifier) Announce(ctx context.Context, status string) error {
	return n.publish(ctx, n.topics.Status(n.instance), qosAtLeastOnce, true, statusMessage{
		Instance:  n.instance,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

// WillPayload is the retained message the broker publishes when this instance disappears.
func WillPayload(instance string) []byte {
	payload, _ := json.Marshal(statusMessage{Instance: instance, Status: StatusOffline})
	return payload
}

func (n *MQTTNotifier) publish(ctx context.Context, t string, qos int, retain bool, v any) error {
	if !n.client.IsConnected() {
		n.logger.Debug("Broker not connected, message dropped", "topic", t)
		return nil
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := n.client.Publish(ctx, t, qos, retain, payload); err != nil {
		return fmt.Errorf("publish %s: %w", t, err)
	}
	return nil
}
