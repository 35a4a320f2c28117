package config

import (
	"errors"
	"fmt"
)

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Server.Command == "" {
		errs = append(errs, errors.New("server.command must not be empty"))
	}
	if c.Server.Entry == "" {
		errs = append(errs, errors.New("server.entry must not be empty"))
	}

	switch c.Readiness.Mode {
	case ReadinessMarker:
		if len(c.Readiness.Markers) == 0 {
			errs = append(errs, errors.New("readiness.markers must not be empty in marker mode"))
		}
	case ReadinessProbe:
		if c.Readiness.Poll <= 0 {
			errs = append(errs, errors.New("readiness.poll must be positive in probe mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown readiness.mode %q (want %q or %q)",
			c.Readiness.Mode, ReadinessMarker, ReadinessProbe))
	}

	if c.Health.Interval <= 0 {
		errs = append(errs, errors.New("health.interval must be positive"))
	}
	if c.Health.Timeout <= 0 {
		errs = append(errs, errors.New("health.timeout must be positive"))
	}
	if c.Restart.Max < 0 {
		errs = append(errs, errors.New("restart.max must not be negative"))
	}
	if c.Restart.Delay < 0 {
		errs = append(errs, errors.New("restart.delay must not be negative"))
	}
	if c.Startup.Timeout <= 0 {
		errs = append(errs, errors.New("startup.timeout must be positive"))
	}
	if c.Startup.ConfirmAttempts <= 0 {
		c.Startup.ConfirmAttempts = 1
	}

	switch c.Update.Mode {
	case UpdateModePrompt, UpdateModeAuto:
	default:
		errs = append(errs, fmt.Errorf("unknown update.mode %q (want %q or %q)",
			c.Update.Mode, UpdateModePrompt, UpdateModeAuto))
	}
	if c.Update.Interval <= 0 && !c.Update.Disabled {
		errs = append(errs, errors.New("update.interval must be positive"))
	}

	return errors.Join(errs...)
}
