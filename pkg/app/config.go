package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autopeer-io/fleetsync/pkg/log"
)

const configFlagName = "config"

// addConfigFlag registers --config on fs.
func (a *App) addConfigFlag(fs *pflag.FlagSet) {
	fs.StringVarP(&a.configFile, configFlagName, "c", a.configFile,
		"Read configuration from the specified file. Flags and environment variables override it.")
}

// loadConfig merges the config file, the environment and the flags into the
// options. Flags win over the environment, which wins over the file.
func (a *App) loadConfig(fs *pflag.FlagSet) error {
	v := a.viper

	if a.configFile != "" {
		v.SetConfigFile(a.configFile)
	} else {
		v.SetConfigName(a.name)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, "."+a.name))
		}
		v.AddConfigPath(filepath.Join("/etc", a.name))
	}

	v.SetEnvPrefix(a.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.BindPFlags(fs); err != nil {
		return err
	}

	return a.unmarshal()
}

func (a *App) unmarshal() error {
	if a.options == nil {
		return nil
	}
	if err := a.viper.Unmarshal(a.options); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}
	return nil
}

// watch reloads the configuration on every change of the config file.
func (a *App) watch() {
	if a.viper.ConfigFileUsed() == "" {
		log.Warn("No config file in use, configuration watch disabled")
		return
	}

	a.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info("Config file changed, reloading", "file", e.Name, "op", e.Op.String())
		a.reload()
	})
	a.viper.WatchConfig()
}

// reload decodes the current configuration into a fresh options value and
// hands it to the watcher once it completes and validates. The options the
// command started with are never written to. An invalid file is logged and
// the running settings stay in effect.
func (a *App) reload() {
	if a.newOptions == nil {
		return
	}

	fresh := a.newOptions()
	if err := a.viper.Unmarshal(fresh); err != nil {
		log.Error(err, "Failed to decode reloaded configuration, keeping current settings")
		return
	}
	if err := fresh.Complete(); err != nil {
		log.Error(err, "Failed to complete reloaded configuration, keeping current settings")
		return
	}
	if err := fresh.Validate(); err != nil {
		log.Error(err, "Reloaded configuration is invalid, keeping current settings")
		return
	}

	if lo, ok := fresh.(LoggerOptions); ok {
		if err := log.SetLevel(lo.LogOptions().Level); err != nil {
			log.Error(err, "Failed to apply log level")
		}
	}
	if a.onConfigChange != nil {
		a.onConfigChange(fresh)
	}
}
