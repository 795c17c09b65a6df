package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicBuilder(t *testing.T) {
	b := NewTopicBuilder("fleet/v1")

	assert.Equal(t, "fleet/v1/health/node-a", b.Health("node-a"))
	assert.Equal(t, "fleet/v1/health/+", b.HealthWildcard())
	assert.Equal(t, "fleet/v1/alerts/node-a", b.Alerts("node-a"))
	assert.Equal(t, "fleet/v1/alerts/+", b.AlertsWildcard())
	assert.Equal(t, "fleet/v1/sync/node-a", b.Sync("node-a"))
	assert.Equal(t, "fleet/v1/status/node-a", b.Status("node-a"))
	assert.Equal(t, "fleet/v1/#", b.All())
}
