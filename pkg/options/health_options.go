package options

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HealthOptions)(nil)

// HealthOptions configures the periodic health aggregation.
type HealthOptions struct {
	Interval time.Duration `json:"interval" mapstructure:"interval"`

	// Instance names this process in published topics. Defaults to the hostname.
	Instance string `json:"instance" mapstructure:"instance"`
}

func NewHealthOptions() *HealthOptions {
	hostname, _ := os.Hostname()
	return &HealthOptions{
		Interval: 30 * time.Second,
		Instance: hostname,
	}
}

func (o *HealthOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Interval < time.Second {
		errs = append(errs, fmt.Errorf("--health.interval must be at least 1s"))
	}
	if o.Instance == "" {
		errs = append(errs, fmt.Errorf("--health.instance must not be empty"))
	}
	return errs
}

func (o *HealthOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.Interval, "health.interval", o.Interval, "Interval between health evaluations.")
	fs.StringVar(&o.Instance, "health.instance", o.Instance, "Instance name used in published health topics.")
}
