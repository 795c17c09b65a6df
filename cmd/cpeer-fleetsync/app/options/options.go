package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/fleetsync/internal/fleetsync"
	"github.com/autopeer-io/fleetsync/pkg/app"
	"github.com/autopeer-io/fleetsync/pkg/log"
	"github.com/autopeer-io/fleetsync/pkg/options"
)

type FleetSyncOptions struct {
	HttpOptions     *options.HttpOptions     `json:"http" mapstructure:"http"`
	MqttOptions     *options.MqttOptions     `json:"mqtt" mapstructure:"mqtt"`
	PostgresOptions *options.PostgresOptions `json:"postgres" mapstructure:"postgres"`
	BadgerOptions   *options.BadgerOptions   `json:"badger" mapstructure:"badger"`
	GP51Options     *options.GP51Options     `json:"gp51" mapstructure:"gp51"`
	PollingOptions  *options.PollingOptions  `json:"polling" mapstructure:"polling"`
	HealthOptions   *options.HealthOptions   `json:"health" mapstructure:"health"`
	Log             *log.Options             `json:"log" mapstructure:"log"`
}

var (
	_ app.NamedFlagSetOptions = (*FleetSyncOptions)(nil)
	_ app.LoggerOptions       = (*FleetSyncOptions)(nil)
)

func NewFleetSyncOptions() *FleetSyncOptions {
	o := &FleetSyncOptions{
		HttpOptions:     options.NewHttpOptions(),
		MqttOptions:     options.NewMqttOptions(),
		PostgresOptions: options.NewPostgresOptions(),
		BadgerOptions:   options.NewBadgerOptions(),
		GP51Options:     options.NewGP51Options(),
		PollingOptions:  options.NewPollingOptions(),
		HealthOptions:   options.NewHealthOptions(),
		Log:             log.NewOptions(),
	}

	return o
}

func (o *FleetSyncOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.PostgresOptions.AddFlags(fss.FlagSet("postgres"))
	o.BadgerOptions.AddFlags(fss.FlagSet("badger"))
	o.GP51Options.AddFlags(fss.FlagSet("gp51"))
	o.PollingOptions.AddFlags(fss.FlagSet("polling"))
	o.HealthOptions.AddFlags(fss.FlagSet("health"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *FleetSyncOptions) Complete() error {
	if o.Log.Name == "" {
		o.Log.Name = "fleetsync"
	}
	return nil
}

func (o *FleetSyncOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.PostgresOptions.Validate()...)
	errs = append(errs, o.BadgerOptions.Validate()...)
	errs = append(errs, o.GP51Options.Validate()...)
	errs = append(errs, o.PollingOptions.Validate()...)
	errs = append(errs, o.HealthOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *FleetSyncOptions) LogOptions() *log.Options {
	return o.Log
}

func (o *FleetSyncOptions) Config() (*fleetsync.Config, error) {
	return &fleetsync.Config{
		HttpOptions:     o.HttpOptions,
		MqttOptions:     o.MqttOptions,
		PostgresOptions: o.PostgresOptions,
		BadgerOptions:   o.BadgerOptions,
		GP51Options:     o.GP51Options,
		PollingOptions:  o.PollingOptions,
		HealthOptions:   o.HealthOptions,
	}, nil
}
