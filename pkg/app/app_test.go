package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cliflag "k8s.io/component-base/cli/flag"
)

type pollOptions struct {
	Interval time.Duration `mapstructure:"interval"`
	Owner    string        `mapstructure:"owner"`
}

type testOptions struct {
	Poll *pollOptions `mapstructure:"poll"`

	validateErr error
	completed   bool
}

func newTestOptions() *testOptions {
	return &testOptions{Poll: &pollOptions{Interval: 30 * time.Second, Owner: "default"}}
}

func (o *testOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	fs := fss.FlagSet("poll")
	fs.DurationVar(&o.Poll.Interval, "poll.interval", o.Poll.Interval, "Poll interval.")
	fs.StringVar(&o.Poll.Owner, "poll.owner", o.Poll.Owner, "Owner.")
	return fss
}

func (o *testOptions) Complete() error {
	o.completed = true
	return nil
}

func (o *testOptions) Validate() error {
	if o.validateErr != nil {
		return o.validateErr
	}
	if o.Poll.Interval <= 0 {
		return errors.New("--poll.interval must be positive")
	}
	return nil
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestConfigPrecedence(t *testing.T) {
	path := writeConfig(t, "poll:\n  interval: 45s\n  owner: file\n")
	t.Setenv("FLEETSYNC_TEST_POLL_OWNER", "env")

	opts := newTestOptions()
	ran := false
	a := NewApp("fleetsync-test", "test",
		WithOptions(opts),
		WithEnvPrefix("FLEETSYNC_TEST"),
		WithDefaultValidArgs(),
		WithSilence(),
		WithRunFunc(func() error {
			ran = true
			return nil
		}),
	)

	cmd := a.Command()
	cmd.SetArgs([]string{"--config", path})
	require.NoError(t, cmd.Execute())

	assert.True(t, ran)
	assert.True(t, opts.completed)
	assert.Equal(t, 45*time.Second, opts.Poll.Interval)
	assert.Equal(t, "env", opts.Poll.Owner)
}

func TestFlagOverridesFile(t *testing.T) {
	path := writeConfig(t, "poll:\n  interval: 45s\n")

	opts := newTestOptions()
	a := NewApp("fleetsync-test", "test", WithOptions(opts), WithSilence(), WithRunFunc(func() error { return nil }))

	cmd := a.Command()
	cmd.SetArgs([]string{"--config", path, "--poll.interval", "2m"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, 2*time.Minute, opts.Poll.Interval)
}

func TestValidationFailureSkipsRun(t *testing.T) {
	opts := newTestOptions()
	opts.validateErr = errors.New("--poll.interval must be positive")

	ran := false
	a := NewApp("fleetsync-test", "test", WithOptions(opts), WithSilence(), WithRunFunc(func() error {
		ran = true
		return nil
	}))

	cmd := a.Command()
	cmd.SetArgs([]string{"--config", writeConfig(t, "poll: {}\n")})
	assert.EqualError(t, cmd.Execute(), "--poll.interval must be positive")
	assert.False(t, ran)
}

func TestMissingExplicitConfigFails(t *testing.T) {
	a := NewApp("fleetsync-test", "test", WithOptions(newTestOptions()), WithSilence(), WithRunFunc(func() error { return nil }))

	cmd := a.Command()
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")})
	assert.Error(t, cmd.Execute())
}

func TestDefaultValidArgsRejectsPositional(t *testing.T) {
	a := NewApp("fleetsync-test", "test", WithOptions(newTestOptions()), WithDefaultValidArgs(), WithSilence(), WithRunFunc(func() error { return nil }))

	cmd := a.Command()
	cmd.SetArgs([]string{"extra"})
	assert.Error(t, cmd.Execute())
}

func TestReloadDecodesIntoFreshOptions(t *testing.T) {
	path := writeConfig(t, "poll:\n  interval: 45s\n  owner: file\n")

	opts := newTestOptions()
	var got []*testOptions
	a := NewApp("fleetsync-test", "test",
		WithOptions(opts),
		WithSilence(),
		WithWatchConfig(
			func() NamedFlagSetOptions { return newTestOptions() },
			func(fresh NamedFlagSetOptions) { got = append(got, fresh.(*testOptions)) },
		),
		WithRunFunc(func() error { return nil }),
	)
	// Reloads are driven directly instead of through the file watcher.
	a.watchConfig = false

	cmd := a.Command()
	cmd.SetArgs([]string{"--config", path})
	require.NoError(t, cmd.Execute())
	require.Equal(t, 45*time.Second, opts.Poll.Interval)

	require.NoError(t, os.WriteFile(path, []byte("poll:\n  interval: 2m\n  owner: reloaded\n"), 0o600))
	require.NoError(t, a.viper.ReadInConfig())
	a.reload()

	require.Len(t, got, 1)
	assert.NotSame(t, opts, got[0])
	assert.True(t, got[0].completed)
	assert.Equal(t, 2*time.Minute, got[0].Poll.Interval)
	assert.Equal(t, "reloaded", got[0].Poll.Owner)

	assert.Equal(t, 45*time.Second, opts.Poll.Interval, "running options are left untouched")
	assert.Equal(t, "file", opts.Poll.Owner)
}

func TestReloadRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "poll:\n  interval: 45s\n")

	opts := newTestOptions()
	calls := 0
	a := NewApp("fleetsync-test", "test",
		WithOptions(opts),
		WithSilence(),
		WithWatchConfig(
			func() NamedFlagSetOptions { return newTestOptions() },
			func(NamedFlagSetOptions) { calls++ },
		),
		WithRunFunc(func() error { return nil }),
	)
	a.watchConfig = false

	cmd := a.Command()
	cmd.SetArgs([]string{"--config", path})
	require.NoError(t, cmd.Execute())

	require.NoError(t, os.WriteFile(path, []byte("poll:\n  interval: -5s\n"), 0o600))
	require.NoError(t, a.viper.ReadInConfig())
	a.reload()

	assert.Zero(t, calls)
	assert.Equal(t, 45*time.Second, opts.Poll.Interval)
}
