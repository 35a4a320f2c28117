package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load merges defaults, the optional YAML config file, SIGMA_LAUNCHER_* environment
// variables and any flags already bound to v. An explicit configPath must exist;
// otherwise launcher.yaml in the data directory is used when present.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	setupViper(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	} else {
		dataDir := v.GetString("data_dir")
		if dataDir == "" {
			var err error
			if dataDir, err = DefaultDataDir(); err != nil {
				return nil, err
			}
		}
		candidate := filepath.Join(dataDir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			v.SetConfigFile(candidate)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", candidate, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if cfg.DataDir == "" {
		dataDir, err := DefaultDataDir()
		if err != nil {
			return nil, err
		}
		cfg.DataDir = dataDir
	}
	cfg.DataDir = expandHome(cfg.DataDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupViper configures environment handling and registers every key with its default
// so AutomaticEnv can resolve it during Unmarshal.
func setupViper(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	d := DefaultConfig()
	v.SetDefault("data_dir", "")
	v.SetDefault("port", d.Port)
	v.SetDefault("host", d.Host)

	v.SetDefault("server.dir", "")
	v.SetDefault("server.command", d.Server.Command)
	v.SetDefault("server.args", []string{})
	v.SetDefault("server.entry", d.Server.Entry)

	v.SetDefault("readiness.mode", d.Readiness.Mode)
	v.SetDefault("readiness.markers", d.Readiness.Markers)
	v.SetDefault("readiness.poll", d.Readiness.Poll)

	v.SetDefault("health.interval", d.Health.Interval)
	v.SetDefault("health.timeout", d.Health.Timeout)

	v.SetDefault("restart.delay", d.Restart.Delay)
	v.SetDefault("restart.max", d.Restart.Max)

	v.SetDefault("startup.timeout", d.Startup.Timeout)
	v.SetDefault("startup.settle", d.Startup.Settle)
	v.SetDefault("startup.reopen_delay", d.Startup.ReopenDelay)
	v.SetDefault("startup.confirm_attempts", d.Startup.ConfirmAttempts)

	v.SetDefault("update.repo", d.Update.Repo)
	v.SetDefault("update.interval", d.Update.Interval)
	v.SetDefault("update.mode", d.Update.Mode)
	v.SetDefault("update.disabled", d.Update.Disabled)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.dir", "")
}

// DefaultDataDir returns the per-user application directory, e.g.
// ~/Library/Application Support/sigma-launcher on macOS.
func DefaultDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(base, AppDirName), nil
}

// EnsureDataDir creates the data directory with owner-only permissions.
func EnsureDataDir(dir string) error {
	if dir == "" {
		return errors.New("data directory is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
