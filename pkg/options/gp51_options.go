package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*GP51Options)(nil)

// GP51Options configures access to the GP51 telemetry platform.
type GP51Options struct {
	BaseURL  string `json:"base-url" mapstructure:"base-url"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`

	// Timeout bounds a single provider request.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxDevicesPerRequest caps the device ids sent in one lastposition call.
	MaxDevicesPerRequest int `json:"max-devices-per-request" mapstructure:"max-devices-per-request"`

	// RequestsPerSecond and Burst pace outbound calls.
	RequestsPerSecond float64 `json:"requests-per-second" mapstructure:"requests-per-second"`
	Burst             int     `json:"burst" mapstructure:"burst"`

	// BreakerTimeout is how long the circuit stays open before probing again.
	BreakerTimeout time.Duration `json:"breaker-timeout" mapstructure:"breaker-timeout"`
}

func NewGP51Options() *GP51Options {
	return &GP51Options{
		BaseURL:              "https://www.gps51.com/webapi",
		Timeout:              30 * time.Second,
		MaxDevicesPerRequest: 200,
		RequestsPerSecond:    5,
		Burst:                5,
		BreakerTimeout:       time.Minute,
	}
}

func (o *GP51Options) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if err := ValidateURL(o.BaseURL, "http", "https"); err != nil {
		errors = append(errors, fmt.Errorf("--gp51.base-url: %w", err))
	}
	if o.Username == "" {
		errors = append(errors, fmt.Errorf("--gp51.username is required"))
	}
	if o.Password == "" {
		errors = append(errors, fmt.Errorf("--gp51.password is required"))
	}
	if o.MaxDevicesPerRequest < 1 {
		errors = append(errors, fmt.Errorf("--gp51.max-devices-per-request must be at least 1"))
	}
	if o.RequestsPerSecond <= 0 {
		errors = append(errors, fmt.Errorf("--gp51.requests-per-second must be positive"))
	}

	return errors
}

func (o *GP51Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.BaseURL, "gp51.base-url", o.BaseURL, "Base URL of the GP51 web API.")
	fs.StringVar(&o.Username, "gp51.username", o.Username, "GP51 account name used to authenticate.")
	fs.StringVar(&o.Password, "gp51.password", o.Password, "GP51 account password (sent as an MD5 digest).")
	fs.DurationVar(&o.Timeout, "gp51.timeout", o.Timeout, "Timeout of a single GP51 request.")
	fs.IntVar(&o.MaxDevicesPerRequest, "gp51.max-devices-per-request", o.MaxDevicesPerRequest, "Maximum device ids per position request.")
	fs.Float64Var(&o.RequestsPerSecond, "gp51.requests-per-second", o.RequestsPerSecond, "Sustained request rate towards GP51.")
	fs.IntVar(&o.Burst, "gp51.burst", o.Burst, "Request burst allowed towards GP51.")
	fs.DurationVar(&o.BreakerTimeout, "gp51.breaker-timeout", o.BreakerTimeout, "Open-circuit duration before a trial request.")
}
