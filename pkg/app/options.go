package app

import (
	"github.com/spf13/cobra"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/fleetsync/pkg/log"
)

// NamedFlagSetOptions is implemented by the options of every command.
type NamedFlagSetOptions interface {
	// Flags returns the flag sets, grouped by name for help output.
	Flags() cliflag.NamedFlagSets

	// Complete fills in fields derived from other fields.
	Complete() error

	// Validate checks the options once flags, file and environment are merged.
	Validate() error
}

// LoggerOptions is optionally implemented by command options to have the
// global logger initialized before the run func.
type LoggerOptions interface {
	LogOptions() *log.Options
}

// RunFunc is the entry point of a command.
type RunFunc func() error

// Option configures an App.
type Option func(*App)

// WithOptions sets the command options.
func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) {
		a.options = opts
	}
}

// WithRunFunc sets the function run once options are loaded and validated.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) {
		a.runFunc = run
	}
}

// WithDescription sets the long description of the command.
func WithDescription(desc string) Option {
	return func(a *App) {
		a.description = desc
	}
}

// WithDefaultValidArgs rejects positional arguments.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = cobra.NoArgs
	}
}

// WithValidArgs sets a custom positional argument check.
func WithValidArgs(args cobra.PositionalArgs) Option {
	return func(a *App) {
		a.args = args
	}
}

// WithSilence suppresses usage and error output from cobra.
func WithSilence() Option {
	return func(a *App) {
		a.silence = true
	}
}

// WithEnvPrefix sets the prefix of environment variables read into the options.
func WithEnvPrefix(prefix string) Option {
	return func(a *App) {
		a.envPrefix = prefix
	}
}

// WithSubCommand adds a sub-command.
func WithSubCommand(cmd *cobra.Command) Option {
	return func(a *App) {
		a.subCommands = append(a.subCommands, cmd)
	}
}

// WithWatchConfig watches the config file. On each change a value built by
// newOptions is decoded, completed and validated, then passed to fn. fn runs
// on the watcher goroutine and is not called for an invalid file.
func WithWatchConfig(newOptions func() NamedFlagSetOptions, fn func(NamedFlagSetOptions)) Option {
	return func(a *App) {
		a.watchConfig = true
		a.newOptions = newOptions
		a.onConfigChange = fn
	}
}
