package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// DefaultConfig returns the built-in defaults after normalization, the
// same view a fresh install gets.
func DefaultConfig() Config {
	return NormalizeConfig(Config{})
}

// NormalizeConfig fills blanks and sanitizes values on a copy, leaving
// the input untouched.
func NormalizeConfig(cfg Config) Config {
	normalized := cfg
	applyDefaults(&normalized)
	return normalized
}

// LoadConfigFile reads and normalizes a config file without writing it
// back, for tooling that inspects config outside the running assistant.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return NormalizeConfig(cfg), nil
}
