package app

import (
	"context"
	"fmt"
	"time"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/fleetsync/cmd/cpeer-fleetsync/app/options"
	"github.com/autopeer-io/fleetsync/internal/fleetsync"
	"github.com/autopeer-io/fleetsync/pkg/app"
	"github.com/autopeer-io/fleetsync/pkg/log"
)

const (
	commandName = "cpeer-fleetsync"
	commandDesc = `The FleetSync daemon keeps the last known position of every tracked
vehicle in sync with the GP51 telemetry platform. It polls the platform on a
schedule, backs off and disables itself on repeated failures, and reports its
health over HTTP and MQTT.`
)

func NewApp() *app.App {
	opts := options.NewFleetSyncOptions()
	reloads := make(chan time.Duration, 1)

	application := app.NewApp(
		commandName,
		"Launch the fleet position synchronization daemon",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithEnvPrefix("FLEETSYNC"),
		app.WithSubCommand(newStatusCommand()),
		app.WithWatchConfig(
			func() app.NamedFlagSetOptions { return options.NewFleetSyncOptions() },
			func(fresh app.NamedFlagSetOptions) {
				select {
				case <-reloads:
				default:
				}
				reloads <- fresh.(*options.FleetSyncOptions).PollingOptions.Interval
			},
		),
		app.WithRunFunc(run(opts, reloads)),
	)
	return application
}

func run(opts *options.FleetSyncOptions, reloads <-chan time.Duration) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		server, err := cfg.NewFleetSyncServer(ctx)
		if err != nil {
			return fmt.Errorf("failed to create fleetsync server: %w", err)
		}

		go applyReloads(ctx, server, reloads)

		return server.Run(ctx)
	}
}

func applyReloads(ctx context.Context, server *fleetsync.FleetSyncServer, reloads <-chan time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case interval := <-reloads:
			log.Info("Applying reloaded polling interval", "interval", interval)
			server.UpdatePollingInterval(interval)
		}
	}
}
