package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
	"github.com/autopeer-io/fleetsync/pkg/mqtt"
	"github.com/autopeer-io/fleetsync/pkg/options"
)

func TestStatusTable(t *testing.T) {
	responses := map[string]any{
		"/api/v1/sync/metrics":    model.SyncMetrics{TotalDevices: 250, DevicesUpdated: 230, Errors: 20, CompletionRate: 92},
		"/api/v1/polling/metrics": model.PollMetrics{TotalPolls: 4, SuccessfulPolls: 3, State: model.PollBackoff, CurrentRetryCount: 1},
		"/api/v1/health": model.HealthSnapshot{
			Overall: model.StatusWarning,
			Metrics: []model.MetricStatus{{Name: "sync_completion", Status: model.StatusWarning, Message: "92.0% of devices updated"}},
			Alerts:  []model.Alert{{ID: "0123456789abcdef", Kind: model.AlertWarning, Message: "sync_completion degraded"}},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, ok := responses[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(v)
	}))
	defer srv.Close()

	var out bytes.Buffer
	o := &statusOptions{server: srv.URL + "/", timeout: time.Second}
	require.NoError(t, o.run(context.Background(), &out))

	text := out.String()
	assert.Contains(t, text, "230 updated / 250 total (20 errors)")
	assert.Contains(t, text, "92.0%")
	assert.Contains(t, text, "backoff")
	assert.Contains(t, text, "3 ok / 4 total")
	assert.Contains(t, text, "warning")
	assert.Contains(t, text, "alert 01234567")
	assert.Contains(t, text, "never")
}

func TestStatusServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	o := &statusOptions{server: srv.URL, timeout: time.Second}
	err := o.run(context.Background(), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

type watchClient struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
	ready    chan struct{}
}

func (c *watchClient) Start(context.Context) error                              { return nil }
func (c *watchClient) Disconnect(context.Context)                               {}
func (c *watchClient) IsConnected() bool                                        { return true }
func (c *watchClient) AwaitConnection(context.Context) error                    { return nil }
func (c *watchClient) Unsubscribe(context.Context, string) error                { return nil }
func (c *watchClient) Publish(context.Context, string, int, bool, []byte) error { return nil }

func (c *watchClient) Subscribe(_ context.Context, filter string, _ int, h mqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[filter] = h
	if len(c.handlers) == 2 {
		close(c.ready)
	}
	return nil
}

func TestStatusWatchPrintsEvents(t *testing.T) {
	client := &watchClient{handlers: map[string]mqtt.MessageHandler{}, ready: make(chan struct{})}
	o := &statusOptions{mqtt: options.NewMqttOptions()}

	var out bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.watch(ctx, client, &out) }()

	select {
	case <-client.ready:
	case <-time.After(time.Second):
		t.Fatal("watch did not subscribe")
	}

	snapshot, err := json.Marshal(map[string]any{"instance": "node-1", "overall": "warning", "alerts": []model.Alert{{ID: "a1"}}})
	require.NoError(t, err)
	alert, err := json.Marshal(map[string]any{"instance": "node-2", "kind": "error", "message": "GP51 platform critical: down"})
	require.NoError(t, err)

	client.handlers["fleet/v1/health/+"](ctx, "fleet/v1/health/node-1", snapshot)
	client.handlers["fleet/v1/alerts/+"](ctx, "fleet/v1/alerts/node-2", alert)

	cancel()
	require.NoError(t, <-done)

	lines := out.String()
	assert.Contains(t, lines, "node-1")
	assert.Contains(t, lines, "health warning")
	assert.Contains(t, lines, "1 open alerts")
	assert.Contains(t, lines, "alert  error")
	assert.Contains(t, lines, "GP51 platform critical: down")
}
