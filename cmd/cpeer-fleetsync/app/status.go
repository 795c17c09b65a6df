package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/notifier"
	"github.com/autopeer-io/fleetsync/pkg/mqtt"
	"github.com/autopeer-io/fleetsync/pkg/mqtt/topic"
	"github.com/autopeer-io/fleetsync/pkg/options"
)

const defaultServer = "http://127.0.0.1:8080"

type statusOptions struct {
	server  string
	timeout time.Duration

	// follow streams health snapshots and alerts of every instance from MQTT.
	follow bool
	mqtt   *options.MqttOptions
}

// newStatusCommand prints the sync, polling and health state of a running daemon.
func newStatusCommand() *cobra.Command {
	o := &statusOptions{server: defaultServer, timeout: 5 * time.Second, mqtt: options.NewMqttOptions()}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the synchronization status of a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.follow {
				return o.runWatch(genericapiserver.SetupSignalContext(), cmd.OutOrStdout())
			}
			ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
			defer cancel()
			return o.run(ctx, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&o.server, "server", o.server, "Base URL of the daemon HTTP API.")
	cmd.Flags().DurationVar(&o.timeout, "timeout", o.timeout, "Timeout of the status requests and of the broker connection.")
	cmd.Flags().BoolVarP(&o.follow, "watch", "w", o.follow, "Stream health snapshots and alerts of every instance from the MQTT broker.")
	o.mqtt.AddFlags(cmd.Flags())
	_ = cmd.Flags().MarkHidden("mqtt.enabled")
	return cmd
}

// runWatch connects to the broker and prints health events until ctx is done.
func (o *statusOptions) runWatch(ctx context.Context, out io.Writer) error {
	cfg := o.mqtt.ToClientConfig()
	cfg.ClientID = "cpeer-fleetsync-status-" + uuid.NewString()[:8]
	cfg.CleanStart = true
	cfg.SessionExpiry = 0

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		return err
	}
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", o.mqtt.Broker, err)
	}
	defer client.Disconnect(context.Background())

	connectCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	if err := client.AwaitConnection(connectCtx); err != nil {
		return fmt.Errorf("connect %s: %w", o.mqtt.Broker, err)
	}

	return o.watch(ctx, client, out)
}

func (o *statusOptions) watch(ctx context.Context, client mqtt.Client, out io.Writer) error {
	var mu sync.Mutex
	return notifier.Watch(ctx, client, topic.NewTopicBuilder(o.mqtt.TopicRoot), func(e notifier.Event) {
		mu.Lock()
		defer mu.Unlock()

		switch {
		case e.Snapshot != nil:
			_, _ = fmt.Fprintf(out, "%s  %-16s health %-8s %d open alerts\n",
				formatTime(e.Snapshot.CheckedAt), e.Instance, e.Snapshot.Overall, len(e.Snapshot.Alerts))
		case e.Alert != nil:
			_, _ = fmt.Fprintf(out, "%s  %-16s alert  %-8s %s\n",
				formatTime(e.Alert.Timestamp), e.Instance, e.Alert.Kind, e.Alert.Message)
		}
	})
}

func (o *statusOptions) run(ctx context.Context, out io.Writer) error {
	var (
		sync   model.SyncMetrics
		poll   model.PollMetrics
		health model.HealthSnapshot
	)
	if err := o.get(ctx, "/api/v1/sync/metrics", &sync); err != nil {
		return err
	}
	if err := o.get(ctx, "/api/v1/polling/metrics", &poll); err != nil {
		return err
	}
	if err := o.get(ctx, "/api/v1/health", &health); err != nil {
		return err
	}

	table := uitable.New()
	table.MaxColWidth = 80
	table.Wrap = true

	table.AddRow("SYNC", "")
	table.AddRow("  Devices", fmt.Sprintf("%d updated / %d total (%d errors)", sync.DevicesUpdated, sync.TotalDevices, sync.Errors))
	table.AddRow("  Completion", fmt.Sprintf("%.1f%%", sync.CompletionRate))
	table.AddRow("  Last pass", formatTime(sync.LastSyncTime))
	if sync.LastError != "" {
		table.AddRow("  Last error", sync.LastError)
	}

	table.AddRow("POLLING", "")
	table.AddRow("  State", string(poll.State))
	table.AddRow("  Polls", fmt.Sprintf("%d ok / %d total", poll.SuccessfulPolls, poll.TotalPolls))
	table.AddRow("  Retry", fmt.Sprintf("%d", poll.CurrentRetryCount))
	table.AddRow("  Last success", formatTime(poll.LastSuccessTime))

	table.AddRow("HEALTH", health.Overall.String())
	for _, m := range health.Metrics {
		table.AddRow("  "+m.Name, fmt.Sprintf("%s: %s", m.Status, m.Message))
	}
	for _, a := range health.Alerts {
		table.AddRow("  alert "+a.ID[:min(8, len(a.ID))], fmt.Sprintf("[%s] %s", a.Kind, a.Message))
	}

	_, err := fmt.Fprintln(out, table)
	return err
}

func (o *statusOptions) get(ctx context.Context, path string, v any) error {
	url := strings.TrimRight(o.server, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("query %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query %s: unexpected status %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}
