package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	Assistant  AssistantConfig  `json:"assistant"`
	Session    SessionConfig    `json:"session"`
	Extraction ExtractionConfig `json:"extraction"`
	Calendar   CalendarConfig   `json:"calendar"`
	Channels   ChannelConfig    `json:"channels"`
}

type AssistantConfig struct {
	Name      string `json:"name"`
	CLIUserID string `json:"cli_user_id"`
}

type SessionConfig struct {
	Timezone             string `json:"timezone"`
	InactivityTimeoutSec int    `json:"inactivity_timeout_sec"`
	SweepIntervalSec     int    `json:"sweep_interval_sec"`
	DefaultDurationMin   int    `json:"default_duration_min"`
	ConfirmBeforeApply   bool   `json:"confirm_before_apply"`
	RateLimitMessages    int    `json:"rate_limit_messages"`
	RateLimitWindowSec   int    `json:"rate_limit_window_sec"`
}

type ExtractionConfig struct {
	Model         string  `json:"model"`
	TimeoutSec    int     `json:"timeout_sec"`
	MaxAttempts   int     `json:"max_attempts"`
	BackoffBaseMs int     `json:"backoff_base_ms"`
	BackoffFactor float64 `json:"backoff_factor"`
}

type CalendarConfig struct {
	Backend     string `json:"backend"` // "local" or "http"
	BaseURL     string `json:"base_url"`
	TimeoutSec  int    `json:"timeout_sec"`
	MaxAttempts int    `json:"max_attempts"`
}

type ChannelConfig struct {
	HTTPPort        int  `json:"http_port"`
	TelegramEnabled bool `json:"telegram_enabled"`
}

type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	cfg := defaultConfig()
	mgr := &Manager{
		path: path,
		cfg:  cfg,
	}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	return Config{
		Assistant: AssistantConfig{
			Name:      "SchedMate",
			CLIUserID: "local_user",
		},
		Session: SessionConfig{
			Timezone:             "Asia/Calcutta",
			InactivityTimeoutSec: 1800,
			SweepIntervalSec:     60,
			DefaultDurationMin:   60,
			ConfirmBeforeApply:   false,
			RateLimitMessages:    10,
			RateLimitWindowSec:   60,
		},
		Extraction: ExtractionConfig{
			Model:         "gpt-4o-mini",
			TimeoutSec:    10,
			MaxAttempts:   3,
			BackoffBaseMs: 1000,
			BackoffFactor: 2,
		},
		Calendar: CalendarConfig{
			Backend:     "local",
			TimeoutSec:  10,
			MaxAttempts: 3,
		},
		Channels: ChannelConfig{
			HTTPPort:        8080,
			TelegramEnabled: false,
		},
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Assistant.Name) == "" {
		cfg.Assistant.Name = "SchedMate"
	}
	if strings.TrimSpace(cfg.Assistant.CLIUserID) == "" {
		cfg.Assistant.CLIUserID = "local_user"
	}
	if strings.TrimSpace(cfg.Session.Timezone) == "" {
		cfg.Session.Timezone = "Asia/Calcutta"
	}
	if cfg.Session.InactivityTimeoutSec <= 0 {
		cfg.Session.InactivityTimeoutSec = 1800
	}
	if cfg.Session.SweepIntervalSec <= 0 {
		cfg.Session.SweepIntervalSec = 60
	}
	if cfg.Session.DefaultDurationMin <= 0 {
		cfg.Session.DefaultDurationMin = 60
	}
	if cfg.Session.RateLimitMessages <= 0 {
		cfg.Session.RateLimitMessages = 10
	}
	if cfg.Session.RateLimitWindowSec <= 0 {
		cfg.Session.RateLimitWindowSec = 60
	}
	if strings.TrimSpace(cfg.Extraction.Model) == "" {
		cfg.Extraction.Model = "gpt-4o-mini"
	}
	if cfg.Extraction.TimeoutSec <= 0 {
		cfg.Extraction.TimeoutSec = 10
	}
	if cfg.Extraction.MaxAttempts <= 0 {
		cfg.Extraction.MaxAttempts = 3
	}
	if cfg.Extraction.BackoffBaseMs <= 0 {
		cfg.Extraction.BackoffBaseMs = 1000
	}
	if cfg.Extraction.BackoffFactor <= 1 {
		cfg.Extraction.BackoffFactor = 2
	}
	switch strings.TrimSpace(cfg.Calendar.Backend) {
	case "local", "http":
	default:
		cfg.Calendar.Backend = "local"
	}
	if cfg.Calendar.TimeoutSec <= 0 {
		cfg.Calendar.TimeoutSec = 10
	}
	if cfg.Calendar.MaxAttempts <= 0 {
		cfg.Calendar.MaxAttempts = 3
	}
	if cfg.Channels.HTTPPort <= 0 || cfg.Channels.HTTPPort > 65535 {
		cfg.Channels.HTTPPort = 8080
	}
}
