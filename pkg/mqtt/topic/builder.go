package topic

import (
	"fmt"
)

// Topic segments published by the sync service. Dashboards subscribe to
// these, so changing them breaks existing consumers.
const (
	// SuffixHealth carries the retained aggregate health snapshot.
	// Structure: {root}/health/{instance}
	SuffixHealth = "health"

	// SuffixAlerts carries newly raised health alerts.
	// Structure: {root}/alerts/{instance}
	SuffixAlerts = "alerts"

	// SuffixSync carries the outcome of each synchronization pass.
	// Structure: {root}/sync/{instance}
	SuffixSync = "sync"

	// SuffixStatus carries the online/offline presence of an instance and
	// doubles as the MQTT will topic.
	// Structure: {root}/status/{instance}
	SuffixStatus = "status"
)

// TopicBuilder constructs topic strings under a fixed root namespace.
type TopicBuilder struct {
	// root is the base namespace for all topics (e.g., "fleet/v1").
	root string
}

// NewTopicBuilder creates a new instance of TopicBuilder with the specified root namespace.
func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: root}
}

// Health returns the topic a sync instance publishes its health snapshot to.
func (b *TopicBuilder) Health(instance string) string {
	return b.build(SuffixHealth, instance)
}

// HealthWildcard returns {root}/health/+ for consumers that watch every instance.
func (b *TopicBuilder) HealthWildcard() string {
	return b.build(SuffixHealth, Wildcard)
}

// Alerts returns the topic a sync instance publishes raised alerts to.
func (b *TopicBuilder) Alerts(instance string) string {
	return b.build(SuffixAlerts, instance)
}

// AlertsWildcard returns {root}/alerts/+.
func (b *TopicBuilder) AlertsWildcard() string {
	return b.build(SuffixAlerts, Wildcard)
}

// Sync returns the topic a sync instance publishes pass outcomes to.
func (b *TopicBuilder) Sync(instance string) string {
	return b.build(SuffixSync, instance)
}

// Status returns the presence topic for an instance.
func (b *TopicBuilder) Status(instance string) string {
	return b.build(SuffixStatus, instance)
}

// All returns {root}/# which matches every topic the service publishes.
func (b *TopicBuilder) All() string {
	return fmt.Sprintf("%s/%s", b.root, MultiWildcard)
}

// build joins {root}/{suffix}/{identifier}.
func (b *TopicBuilder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}
