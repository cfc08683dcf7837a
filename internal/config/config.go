// Package config handles loading and validating prefork configuration.
package config

// Config is the top-level prefork configuration.
type Config struct {
	Supervisor SupervisorConfig `toml:"supervisor"`
	Worker     WorkerConfig     `toml:"worker"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// SupervisorConfig holds master-process settings.
type SupervisorConfig struct {
	Workers   int    `toml:"workers"`    // desired pool size
	PIDFile   string `toml:"pidfile"`    // master PID file path, empty disables
	LogLevel  string `toml:"log_level"`  // debug, info, warn, error
	LogFormat string `toml:"log_format"` // text, json
}

// WorkerConfig describes the unit of work each worker advances.
type WorkerConfig struct {
	Command string   `toml:"command"`  // command run once per work step
	Args    []string `toml:"args"`     // command arguments
	Steps   int      `toml:"steps"`    // steps before natural completion, 0 = unbounded
	PauseMS int      `toml:"pause_ms"` // delay after each step, milliseconds
}

// MetricsConfig holds Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled  bool   `toml:"enabled"`
	Listen   string `toml:"listen"`
	Username string `toml:"username"` // HTTP Basic Auth username
	Password string `toml:"password"` // bcrypt-hashed password
}
