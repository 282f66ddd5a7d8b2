package configpreflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	config "schedmate/app/configs"
)

type Options struct {
	AllowMissingConfig bool
}

type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

type Gate struct {
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
}

type Report struct {
	GeneratedAt       string  `json:"generated_at"`
	ConfigPath        string  `json:"config_path"`
	ConfigExists      bool    `json:"config_exists"`
	UsedDefaultConfig bool    `json:"used_default_config"`
	Status            string  `json:"status"`
	Checks            []Check `json:"checks"`
	Gate              Gate    `json:"gate"`
}

// EvaluatePath loads a config file, normalizes it, and gates on the
// checks a running assistant would otherwise only discover at startup.
func EvaluatePath(configPath string, opts Options) Report {
	report := Report{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		ConfigPath:  strings.TrimSpace(configPath),
		Status:      "failed",
		Checks:      make([]Check, 0, 4),
		Gate: Gate{
			Passed:   false,
			Failures: []string{},
		},
	}

	if report.ConfigPath == "" {
		appendFailure(&report, "config path is required")
		appendCheck(&report, "config_load", false, "config path is empty")
		return finalize(report)
	}

	cfg, exists, usedDefault, loadErr := loadEffectiveConfig(report.ConfigPath, opts.AllowMissingConfig)
	report.ConfigExists = exists
	report.UsedDefaultConfig = usedDefault
	if loadErr != nil {
		appendFailure(&report, loadErr.Error())
		appendCheck(&report, "config_load", false, loadErr.Error())
		return finalize(report)
	}
	appendCheck(&report, "config_load", true, "config loaded")

	runCheck(&report, "session_timezone", checkTimezone(cfg.Session))
	runCheck(&report, "session_limits", checkSessionLimits(cfg.Session))
	runCheck(&report, "calendar_backend", checkCalendarBackend(cfg.Calendar))
	runCheck(&report, "channels", checkChannels(cfg.Channels))
	runCheck(&report, "extraction", checkExtraction(cfg.Extraction))

	return finalize(report)
}

func checkTimezone(cfg config.SessionConfig) error {
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("timezone %q is not a valid IANA zone: %w", cfg.Timezone, err)
	}
	return nil
}

func checkSessionLimits(cfg config.SessionConfig) error {
	if cfg.InactivityTimeoutSec <= 0 {
		return fmt.Errorf("inactivity_timeout_sec must be positive, got %d", cfg.InactivityTimeoutSec)
	}
	if cfg.SweepIntervalSec <= 0 {
		return fmt.Errorf("sweep_interval_sec must be positive, got %d", cfg.SweepIntervalSec)
	}
	if cfg.SweepIntervalSec > cfg.InactivityTimeoutSec {
		return fmt.Errorf("sweep_interval_sec (%d) exceeds inactivity_timeout_sec (%d); stale sessions would linger", cfg.SweepIntervalSec, cfg.InactivityTimeoutSec)
	}
	if cfg.RateLimitMessages <= 0 || cfg.RateLimitWindowSec <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d messages per %ds", cfg.RateLimitMessages, cfg.RateLimitWindowSec)
	}
	if cfg.DefaultDurationMin <= 0 {
		return fmt.Errorf("default_duration_min must be positive, got %d", cfg.DefaultDurationMin)
	}
	return nil
}

func checkCalendarBackend(cfg config.CalendarConfig) error {
	switch cfg.Backend {
	case "local":
		return nil
	case "http":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return fmt.Errorf("calendar backend %q requires base_url", cfg.Backend)
		}
		if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
			return fmt.Errorf("calendar base_url %q must be an http(s) URL", cfg.BaseURL)
		}
		return nil
	default:
		return fmt.Errorf("unknown calendar backend %q", cfg.Backend)
	}
}

func checkChannels(cfg config.ChannelConfig) error {
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return fmt.Errorf("http_port %d is out of range", cfg.HTTPPort)
	}
	if cfg.TelegramEnabled && strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")) == "" {
		return fmt.Errorf("telegram is enabled but TELEGRAM_BOT_TOKEN is not set")
	}
	return nil
}

func checkExtraction(cfg config.ExtractionConfig) error {
	if strings.TrimSpace(cfg.Model) == "" {
		return fmt.Errorf("extraction model is required")
	}
	if cfg.MaxAttempts <= 0 {
		return fmt.Errorf("extraction max_attempts must be positive, got %d", cfg.MaxAttempts)
	}
	return nil
}

func runCheck(report *Report, name string, err error) {
	if err != nil {
		appendFailure(report, err.Error())
		appendCheck(report, name, false, err.Error())
		return
	}
	appendCheck(report, name, true, "")
}

func finalize(report Report) Report {
	if len(report.Gate.Failures) == 0 {
		report.Gate.Passed = true
		report.Status = "ok"
		return report
	}
	report.Gate.Passed = false
	report.Status = "failed"
	return report
}

func appendFailure(report *Report, failure string) {
	trimmed := strings.TrimSpace(failure)
	if trimmed == "" {
		return
	}
	report.Gate.Failures = append(report.Gate.Failures, trimmed)
}

func appendCheck(report *Report, name string, passed bool, message string) {
	report.Checks = append(report.Checks, Check{
		Name:    name,
		Passed:  passed,
		Message: strings.TrimSpace(message),
	})
}

func loadEffectiveConfig(configPath string, allowMissing bool) (config.Config, bool, bool, error) {
	stat, err := os.Stat(configPath)
	if err == nil {
		if stat.IsDir() {
			return config.Config{}, false, false, fmt.Errorf("config path is a directory: %s", configPath)
		}
		cfg, err := config.LoadConfigFile(configPath)
		if err != nil {
			return config.Config{}, true, false, fmt.Errorf("load config failed: %w", err)
		}
		return cfg, true, false, nil
	}
	if !os.IsNotExist(err) {
		return config.Config{}, false, false, fmt.Errorf("stat config path failed: %w", err)
	}
	if !allowMissing {
		return config.Config{}, false, false, fmt.Errorf("config file not found: %s", configPath)
	}
	return config.DefaultConfig(), false, true, nil
}

// DefaultReportPath is where the CLI writes reports when no override is given.
func DefaultReportPath() string {
	return filepath.Join("output", "config", "preflight-latest.json")
}
