package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
	"github.com/autopeer-io/fleetsync/pkg/mqtt/topic"
)

func TestWatchDecodesPublishedMessages(t *testing.T) {
	topics := topic.NewTopicBuilder("fleet/v1")
	client := &fakeClient{connected: true, subscribed: make(chan string, 2)}

	var mu sync.Mutex
	var events []Event

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, client, topics, func(e Event) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		})
	}()

	assert.Equal(t, "fleet/v1/health/+", <-client.subscribed)
	assert.Equal(t, "fleet/v1/alerts/+", <-client.subscribed)

	// Feed the watcher what a running instance publishes.
	pub := NewMQTTNotifier(client, topics, "node-1")
	require.NoError(t, pub.PublishSnapshot(ctx, model.HealthSnapshot{Overall: model.StatusCritical}))
	require.NoError(t, pub.PublishAlert(ctx, model.Alert{ID: "a1", Kind: model.AlertError, Message: "GP51 platform critical: down"}))
	for _, m := range client.messages {
		filter := topics.HealthWildcard()
		if m.topic == topics.Alerts("node-1") {
			filter = topics.AlertsWildcard()
		}
		client.deliver(filter, m.topic, m.payload)
	}
	client.deliver(topics.HealthWildcard(), "fleet/v1/health/node-2", []byte("{not json"))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not return after cancellation")
	}

	require.Len(t, events, 2)
	assert.Equal(t, "node-1", events[0].Instance)
	require.NotNil(t, events[0].Snapshot)
	assert.Equal(t, model.StatusCritical, events[0].Snapshot.Overall)
	require.NotNil(t, events[1].Alert)
	assert.Equal(t, "a1", events[1].Alert.ID)

	assert.ElementsMatch(t, []string{"fleet/v1/health/+", "fleet/v1/alerts/+"}, client.unsubscribed)
}

func TestInstanceOfFallsBackToTopic(t *testing.T) {
	assert.Equal(t, "node-1", instanceOf("node-1", "fleet/v1/health/other"))
	assert.Equal(t, "node-3", instanceOf("", "fleet/v1/alerts/node-3"))
}
