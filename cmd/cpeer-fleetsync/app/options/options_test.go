package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequiresCredentials(t *testing.T) {
	o := NewFleetSyncOptions()

	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--gp51.username is required")
	assert.Contains(t, err.Error(), "--gp51.password is required")

	o.GP51Options.Username = "fleet"
	o.GP51Options.Password = "secret"
	assert.NoError(t, o.Validate())
}

func TestFlagsAndConfig(t *testing.T) {
	o := NewFleetSyncOptions()
	fss := o.Flags()

	for _, name := range []string{"http", "mqtt", "postgres", "badger", "gp51", "polling", "health", "log"} {
		assert.Contains(t, fss.FlagSets, name)
	}
	require.NoError(t, fss.FlagSet("polling").Set("polling.interval", "45s"))

	require.NoError(t, o.Complete())
	assert.Equal(t, "fleetsync", o.LogOptions().Name)

	cfg, err := o.Config()
	require.NoError(t, err)
	assert.Equal(t, "45s", cfg.PollingOptions.Interval.String())
	assert.Same(t, o.GP51Options, cfg.GP51Options)
}
