package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*PollingOptions)(nil)

// PollingOptions configures the position polling loop and sync passes.
type PollingOptions struct {
	Interval           time.Duration `json:"interval" mapstructure:"interval"`
	SweepInterval      time.Duration `json:"sweep-interval" mapstructure:"sweep-interval"`
	StaleThreshold     time.Duration `json:"stale-threshold" mapstructure:"stale-threshold"`
	FreshnessThreshold time.Duration `json:"freshness-threshold" mapstructure:"freshness-threshold"`
	MaxRetries         int           `json:"max-retries" mapstructure:"max-retries"`
	BackoffMultiplier  float64       `json:"backoff-multiplier" mapstructure:"backoff-multiplier"`
	ChunkSize          int           `json:"chunk-size" mapstructure:"chunk-size"`
	WriteConcurrency   int           `json:"write-concurrency" mapstructure:"write-concurrency"`

	// AutoStart starts polling at boot unless the stored polling config disables it.
	AutoStart bool `json:"auto-start" mapstructure:"auto-start"`
}

func NewPollingOptions() *PollingOptions {
	return &PollingOptions{
		Interval:           30 * time.Second,
		SweepInterval:      10 * time.Minute,
		StaleThreshold:     24 * time.Hour,
		FreshnessThreshold: 30 * time.Minute,
		MaxRetries:         3,
		BackoffMultiplier:  2,
		ChunkSize:          100,
		WriteConcurrency:   1,
		AutoStart:          true,
	}
}

func (o *PollingOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Interval < time.Second {
		errors = append(errors, fmt.Errorf("--polling.interval must be at least 1s"))
	}
	if o.SweepInterval < 0 {
		errors = append(errors, fmt.Errorf("--polling.sweep-interval must not be negative"))
	}
	if o.StaleThreshold <= 0 || o.FreshnessThreshold <= 0 {
		errors = append(errors, fmt.Errorf("--polling.stale-threshold and --polling.freshness-threshold must be positive"))
	}
	if o.MaxRetries < 0 {
		errors = append(errors, fmt.Errorf("--polling.max-retries must not be negative"))
	}
	if o.BackoffMultiplier < 1 {
		errors = append(errors, fmt.Errorf("--polling.backoff-multiplier must be at least 1"))
	}
	if o.ChunkSize < 1 || o.WriteConcurrency < 1 {
		errors = append(errors, fmt.Errorf("--polling.chunk-size and --polling.write-concurrency must be at least 1"))
	}

	return errors
}

func (o *PollingOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.Interval, "polling.interval", o.Interval, "Interval between full synchronization passes.")
	fs.DurationVar(&o.SweepInterval, "polling.sweep-interval", o.SweepInterval, "Interval between stale-device sweeps (0 disables).")
	fs.DurationVar(&o.StaleThreshold, "polling.stale-threshold", o.StaleThreshold, "Age after which a device is targeted by the stale sweep.")
	fs.DurationVar(&o.FreshnessThreshold, "polling.freshness-threshold", o.FreshnessThreshold, "Age after which a position fix marks the device offline.")
	fs.IntVar(&o.MaxRetries, "polling.max-retries", o.MaxRetries, "Consecutive failed passes tolerated before polling disables itself.")
	fs.Float64Var(&o.BackoffMultiplier, "polling.backoff-multiplier", o.BackoffMultiplier, "Growth factor of the retry delay.")
	fs.IntVar(&o.ChunkSize, "polling.chunk-size", o.ChunkSize, "Number of position writes per batch chunk.")
	fs.IntVar(&o.WriteConcurrency, "polling.write-concurrency", o.WriteConcurrency, "Concurrent writes inside one chunk.")
	fs.BoolVar(&o.AutoStart, "polling.auto-start", o.AutoStart, "Start polling at boot.")
}
