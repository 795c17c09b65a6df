package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
	"github.com/autopeer-io/fleetsync/pkg/mqtt"
	"github.com/autopeer-io/fleetsync/pkg/mqtt/topic"
)

type published struct {
	topic   string
	qos     int
	retain  bool
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	messages     []published
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	subscribed   chan string
}

func (c *fakeClient) Start(context.Context) error           { return nil }
func (c *fakeClient) Disconnect(context.Context)            {}
func (c *fakeClient) IsConnected() bool                     { return c.connected }
func (c *fakeClient) AwaitConnection(context.Context) error { return nil }

func (c *fakeClient) Subscribe(_ context.Context, filter string, _ int, h mqtt.MessageHandler) error {
	c.mu.Lock()
	if c.handlers == nil {
		c.handlers = map[string]mqtt.MessageHandler{}
	}
	c.handlers[filter] = h
	c.mu.Unlock()

	if c.subscribed != nil {
		c.subscribed <- filter
	}
	return nil
}

func (c *fakeClient) Unsubscribe(_ context.Context, filter string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, filter)
	c.unsubscribed = append(c.unsubscribed, filter)
	return nil
}

func (c *fakeClient) deliver(filter, t string, payload []byte) {
	c.mu.Lock()
	h := c.handlers[filter]
	c.mu.Unlock()
	h(context.Background(), t, payload)
}

func (c *fakeClient) Publish(_ context.Context, t string, qos int, retain bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: t, qos: qos, retain: retain, payload: payload})
	return nil
}

func TestPublishSnapshot(t *testing.T) {
	client := &fakeClient{connected: true}
	n := NewMQTTNotifier(client, topic.NewTopicBuilder("fleet/v1"), "node-1")

	snap := model.HealthSnapshot{
		Overall:   model.StatusWarning,
		Metrics:   []model.MetricStatus{{Name: "sync_completion", Status: model.StatusWarning, Value: 92}},
		CheckedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, n.PublishSnapshot(context.Background(), snap))

	require.Len(t, client.messages, 1)
	msg := client.messages[0]
	assert.Equal(t, "fleet/v1/health/node-1", msg.topic)
	assert.True(t, msg.retain)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &decoded))
	assert.Equal(t, "node-1", decoded["instance"])
	assert.Equal(t, "warning", decoded["overall"])
}

func TestPublishAlertAndSync(t *testing.T) {
	client := &fakeClient{connected: true}
	n := NewMQTTNotifier(client, topic.NewTopicBuilder("fleet/v1"), "node-1")

	require.NoError(t, n.PublishAlert(context.Background(), model.Alert{ID: "a1", Kind: model.AlertError, Message: "GP51 platform critical: down"}))
	require.NoError(t, n.PublishSync(context.Background(), model.SyncMetrics{TotalDevices: 3, DevicesUpdated: 3, CompletionRate: 100}))

	require.Len(t, client.messages, 2)
	assert.Equal(t, "fleet/v1/alerts/node-1", client.messages[0].topic)
	assert.Equal(t, qosAtLeastOnce, client.messages[0].qos)
	assert.False(t, client.messages[0].retain)
	assert.Contains(t, string(client.messages[0].payload), `"id":"a1"`)

	assert.Equal(t, "fleet/v1/sync/node-1", client.messages[1].topic)
	assert.Contains(t, string(client.messages[1].payload), `"totalDevices":3`)
}

func TestPublishSkippedWhileDisconnected(t *testing.T) {
	client := &fakeClient{}
	n := NewMQTTNotifier(client, topic.NewTopicBuilder("fleet/v1"), "node-1")

	require.NoError(t, n.PublishSnapshot(context.Background(), model.HealthSnapshot{}))
	assert.Empty(t, client.messages)
}

func TestAnnounceAndWill(t *testing.T) {
	client := &fakeClient{connected: true}
	n := NewMQTTNotifier(client, topic.NewTopicBuilder("fleet/v1"), "node-1")

	require.NoError(t, n.Announce(context.Background(), StatusOnline))
	require.Len(t, client.messages, 1)
	assert.Equal(t, "fleet/v1/status/node-1", client.messages[0].topic)
	assert.True(t, client.messages[0].retain)
	assert.Contains(t, string(client.messages[0].payload), `"status":"online"`)

	assert.Contains(t, string(WillPayload("node-1")), `"status":"offline"`)
}
