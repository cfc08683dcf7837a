package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and validates a prefork config file. The returned warnings
// carry non-fatal findings, currently keys the decoder did not recognize;
// callers decide whether to log them.
func Load(path string) (*Config, []string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return LoadBytes(raw, path)
}

// LoadBytes is Load for in-memory TOML. The path argument only labels
// error messages.
func LoadBytes(raw []byte, path string) (*Config, []string, error) {
	var cfg Config
	md, err := toml.Decode(string(raw), &cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	warnings := undecodedWarnings(md)
	ApplyDefaults(&cfg)

	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, warnings, fmt.Errorf("invalid config %s: %w", path, errors.Join(errs...))
	}
	return &cfg, warnings, nil
}

func undecodedWarnings(md toml.MetaData) []string {
	var warnings []string
	for _, key := range md.Undecoded() {
		warnings = append(warnings, "unknown config key: "+key.String())
	}
	return warnings
}
