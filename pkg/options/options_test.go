package options

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"0.0.0.0:8080", false},
		{":8080", false},
		{"localhost:443", false},
		{"localhost", true},
		{"host:0", true},
		{"host:99999", true},
		{"bad host:80", true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			err := ValidateAddress(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultsValidate(t *testing.T) {
	groups := map[string]IOptions{
		"http":     NewHttpOptions(),
		"mqtt":     NewMqttOptions(),
		"postgres": NewPostgresOptions(),
		"badger":   NewBadgerOptions(),
		"polling":  NewPollingOptions(),
	}

	for name, o := range groups {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, o.Validate())
		})
	}
}

func TestGP51OptionsRequireCredentials(t *testing.T) {
	o := NewGP51Options()
	assert.Len(t, o.Validate(), 2)

	o.Username, o.Password = "fleet", "secret"
	assert.Empty(t, o.Validate())
}

func TestPollingOptionsFlags(t *testing.T) {
	o := NewPollingOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	err := fs.Parse([]string{"--polling.interval=1m", "--polling.max-retries=5", "--polling.backoff-multiplier=0.5"})
	assert.NoError(t, err)
	assert.Equal(t, time.Minute, o.Interval)
	assert.Equal(t, 5, o.MaxRetries)
	assert.Len(t, o.Validate(), 1)
}

func TestMqttOptionsSkipValidationWhenDisabled(t *testing.T) {
	o := NewMqttOptions()
	o.Broker = "::not a url"
	assert.Empty(t, o.Validate())

	o.Enabled = true
	assert.NotEmpty(t, o.Validate())
}
