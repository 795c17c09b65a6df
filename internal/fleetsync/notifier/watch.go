package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
	"github.com/autopeer-io/fleetsync/pkg/log"
	"github.com/autopeer-io/fleetsync/pkg/mqtt"
	"github.com/autopeer-io/fleetsync/pkg/mqtt/topic"
)

// Event is a decoded health message of one sync instance. Exactly one of
// Snapshot and Alert is set.
type Event struct {
	Instance string
	Topic    string
	Snapshot *model.HealthSnapshot
	Alert    *model.Alert
}

// Watch subscribes to the health and alert topics of every instance under the
// builder's root and calls fn for each decoded message until ctx is done.
// fn may be called from several goroutines at once. Malformed payloads are
// logged and skipped.
func Watch(ctx context.Context, client mqtt.Client, topics *topic.TopicBuilder, fn func(Event)) error {
	logger := log.WithName("mqtt-watch")

	handlers := []struct {
		filter  string
		handler mqtt.MessageHandler
	}{
		{topics.HealthWildcard(), func(_ context.Context, t string, payload []byte) {
			var m snapshotMessage
			if err := json.Unmarshal(payload, &m); err != nil {
				logger.Warn("Dropping malformed health snapshot", "topic", t, err)
				return
			}
			fn(Event{Instance: instanceOf(m.Instance, t), Topic: t, Snapshot: &m.HealthSnapshot})
		}},
		{topics.AlertsWildcard(), func(_ context.Context, t string, payload []byte) {
			var m alertMessage
			if err := json.Unmarshal(payload, &m); err != nil {
				logger.Warn("Dropping malformed alert", "topic", t, err)
				return
			}
			fn(Event{Instance: instanceOf(m.Instance, t), Topic: t, Alert: &m.Alert})
		}},
	}

	subscribed := make([]string, 0, len(handlers))
	defer func() {
		unsubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		for _, filter := range subscribed {
			if err := client.Unsubscribe(unsubCtx, filter); err != nil {
				logger.Debug("Unsubscribe failed", "topic", filter, err)
			}
		}
	}()

	for _, h := range handlers {
		if err := client.Subscribe(ctx, h.filter, qosAtLeastOnce, h.handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", h.filter, err)
		}
		subscribed = append(subscribed, h.filter)
	}

	<-ctx.Done()
	return nil
}

// instanceOf falls back to the last topic level when the payload carries no instance.
func instanceOf(instance, t string) string {
	if instance != "" {
		return instance
	}
	return t[strings.LastIndex(t, "/")+1:]
}
