package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyDefaultsSetsSessionDefaults(t *testing.T) {
	cfg := Config{}

	applyDefaults(&cfg)

	if cfg.Session.Timezone != "Asia/Calcutta" {
		t.Fatalf("unexpected timezone: %s", cfg.Session.Timezone)
	}
	if cfg.Session.InactivityTimeoutSec != 1800 {
		t.Fatalf("unexpected inactivity timeout: %d", cfg.Session.InactivityTimeoutSec)
	}
	if cfg.Session.SweepIntervalSec != 60 {
		t.Fatalf("unexpected sweep interval: %d", cfg.Session.SweepIntervalSec)
	}
	if cfg.Session.DefaultDurationMin != 60 {
		t.Fatalf("unexpected default duration: %d", cfg.Session.DefaultDurationMin)
	}
	if cfg.Session.ConfirmBeforeApply {
		t.Fatalf("confirm_before_apply should default off")
	}
	if cfg.Session.RateLimitMessages != 10 || cfg.Session.RateLimitWindowSec != 60 {
		t.Fatalf("unexpected rate limit: %d/%ds", cfg.Session.RateLimitMessages, cfg.Session.RateLimitWindowSec)
	}
}

func TestApplyDefaultsSetsExtractionDefaults(t *testing.T) {
	cfg := Config{}

	applyDefaults(&cfg)

	if cfg.Extraction.MaxAttempts != 3 {
		t.Fatalf("unexpected max attempts: %d", cfg.Extraction.MaxAttempts)
	}
	if cfg.Extraction.BackoffBaseMs != 1000 {
		t.Fatalf("unexpected backoff base: %d", cfg.Extraction.BackoffBaseMs)
	}
	if cfg.Extraction.BackoffFactor != 2 {
		t.Fatalf("unexpected backoff factor: %f", cfg.Extraction.BackoffFactor)
	}
	if cfg.Extraction.TimeoutSec != 10 {
		t.Fatalf("unexpected timeout: %d", cfg.Extraction.TimeoutSec)
	}
}

func TestApplyDefaultsSanitizesCalendarBackend(t *testing.T) {
	cfg := Config{Calendar: CalendarConfig{Backend: "carrier-pigeon"}}

	applyDefaults(&cfg)

	if cfg.Calendar.Backend != "local" {
		t.Fatalf("unknown backend should fall back to local, got %s", cfg.Calendar.Backend)
	}

	cfg = Config{Calendar: CalendarConfig{Backend: "http", BaseURL: "http://calendar.internal"}}
	applyDefaults(&cfg)
	if cfg.Calendar.Backend != "http" {
		t.Fatalf("explicit http backend should survive defaults, got %s", cfg.Calendar.Backend)
	}
}

func TestApplyDefaultsKeepsExplicitConfirmFlag(t *testing.T) {
	cfg := Config{Session: SessionConfig{ConfirmBeforeApply: true}}

	applyDefaults(&cfg)

	if !cfg.Session.ConfirmBeforeApply {
		t.Fatalf("explicit confirm flag should survive defaults")
	}
}

func TestManagerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	if _, err := mgr.Update(func(c *Config) {
		c.Session.Timezone = "Europe/Berlin"
		c.Session.InactivityTimeoutSec = 0
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	got := reloaded.Get()
	if got.Session.Timezone != "Europe/Berlin" {
		t.Fatalf("update not persisted: %s", got.Session.Timezone)
	}
	if got.Session.InactivityTimeoutSec != 1800 {
		t.Fatalf("zero timeout should be re-defaulted, got %d", got.Session.InactivityTimeoutSec)
	}
}

func TestLoadConfigFileNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"session":{"timezone":" "}}`), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	if cfg.Session.Timezone != "Asia/Calcutta" {
		t.Fatalf("blank timezone should be defaulted, got %q", cfg.Session.Timezone)
	}
}
