package config

import (
	"fmt"
	"strings"
)

// Validate checks the config for semantic errors and returns all of them.
func Validate(cfg *Config) []error {
	var errs []error

	if cfg.Supervisor.Workers < 1 {
		errs = append(errs, fmt.Errorf("supervisor: workers must be >= 1, got %d", cfg.Supervisor.Workers))
	}

	if strings.TrimSpace(cfg.Worker.Command) == "" {
		errs = append(errs, fmt.Errorf("worker: command is required"))
	}
	if cfg.Worker.Steps < 0 {
		errs = append(errs, fmt.Errorf("worker: steps must be >= 0, got %d", cfg.Worker.Steps))
	}
	if cfg.Worker.PauseMS < 0 {
		errs = append(errs, fmt.Errorf("worker: pause_ms must be >= 0, got %d", cfg.Worker.PauseMS))
	}

	if cfg.Metrics.Enabled {
		if strings.TrimSpace(cfg.Metrics.Listen) == "" {
			errs = append(errs, fmt.Errorf("metrics: listen address is required when enabled"))
		}
		if cfg.Metrics.Password != "" && cfg.Metrics.Username == "" {
			errs = append(errs, fmt.Errorf("metrics: username is required when a password is set"))
		}
	}

	return errs
}
