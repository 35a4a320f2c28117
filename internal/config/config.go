package config

import (
	"fmt"
	"time"
)

const (
	AppDirName     = "sigma-launcher"
	ConfigFileName = "launcher.yaml"
	EnvPrefix      = "SIGMA_LAUNCHER"

	DefaultPort       = 21000
	DefaultHost       = "0.0.0.0"
	DefaultUpdateRepo = "sigmaauth/sigma-launcher"
)

// Readiness modes
const (
	ReadinessMarker = "marker"
	ReadinessProbe  = "probe"
)

// Update modes
const (
	UpdateModePrompt = "prompt"
	UpdateModeAuto   = "auto"
)

// Config is the effective launcher configuration after defaults, the optional
// config file, environment and flags have been merged.
type Config struct {
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	Port    int    `mapstructure:"port" yaml:"port"`
	Host    string `mapstructure:"host" yaml:"host"`

	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Readiness ReadinessConfig `mapstructure:"readiness" yaml:"readiness"`
	Health    HealthConfig    `mapstructure:"health" yaml:"health"`
	Restart   RestartConfig   `mapstructure:"restart" yaml:"restart"`
	Startup   StartupConfig   `mapstructure:"startup" yaml:"startup"`
	Update    UpdateConfig    `mapstructure:"update" yaml:"update"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// ServerConfig describes how the bundled web server is launched.
type ServerConfig struct {
	// Dir overrides the development layout directory.
	Dir     string   `mapstructure:"dir" yaml:"dir"`
	Command string   `mapstructure:"command" yaml:"command"`
	Args    []string `mapstructure:"args" yaml:"args"`
	Entry   string   `mapstructure:"entry" yaml:"entry"`
}

type ReadinessConfig struct {
	Mode    string        `mapstructure:"mode" yaml:"mode"`
	Markers []string      `mapstructure:"markers" yaml:"markers"`
	Poll    time.Duration `mapstructure:"poll" yaml:"poll"`
}

type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type RestartConfig struct {
	Delay time.Duration `mapstructure:"delay" yaml:"delay"`
	Max   int           `mapstructure:"max" yaml:"max"`
}

type StartupConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Settle          time.Duration `mapstructure:"settle" yaml:"settle"`
	ReopenDelay     time.Duration `mapstructure:"reopen_delay" yaml:"reopen_delay"`
	ConfirmAttempts int           `mapstructure:"confirm_attempts" yaml:"confirm_attempts"`
}

type UpdateConfig struct {
	Repo     string        `mapstructure:"repo" yaml:"repo"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Mode     string        `mapstructure:"mode" yaml:"mode"`
	Disabled bool          `mapstructure:"disabled" yaml:"disabled"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	Dir   string `mapstructure:"dir" yaml:"dir"`
}

// DefaultConfig returns a default configuration. DataDir is filled in by the loader.
func DefaultConfig() *Config {
	return &Config{
		Port: DefaultPort,
		Host: DefaultHost,
		Server: ServerConfig{
			Command: "node",
			Entry:   "server.js",
		},
		Readiness: ReadinessConfig{
			Mode:    ReadinessMarker,
			Markers: []string{"Ready", "started"},
			Poll:    500 * time.Millisecond,
		},
		Health: HealthConfig{
			Interval: 5 * time.Second,
			Timeout:  3 * time.Second,
		},
		Restart: RestartConfig{
			Delay: 2 * time.Second,
			Max:   3,
		},
		Startup: StartupConfig{
			Timeout:         60 * time.Second,
			Settle:          1500 * time.Millisecond,
			ReopenDelay:     time.Second,
			ConfirmAttempts: 5,
		},
		Update: UpdateConfig{
			Repo:     DefaultUpdateRepo,
			Interval: 4 * time.Hour,
			Mode:     UpdateModePrompt,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// BaseURL is the address the health prober and the dashboard use.
func (c *Config) BaseURL() string {
	return fmt.Sprintf("http://localhost:%d", c.Port)
}
