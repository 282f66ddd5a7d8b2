package configpreflight

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func checkByName(report Report, name string) (Check, bool) {
	for _, check := range report.Checks {
		if check.Name == name {
			return check, true
		}
	}
	return Check{}, false
}

func TestEvaluateDefaultsPass(t *testing.T) {
	report := EvaluatePath(filepath.Join(t.TempDir(), "missing.json"), Options{AllowMissingConfig: true})
	if !report.Gate.Passed {
		t.Fatalf("expected gate to pass on defaults, failures: %v", report.Gate.Failures)
	}
	if !report.UsedDefaultConfig {
		t.Fatal("expected default config fallback")
	}
	if report.ConfigExists {
		t.Fatal("config should not exist")
	}
}

func TestEvaluateMissingConfigRejected(t *testing.T) {
	report := EvaluatePath(filepath.Join(t.TempDir(), "missing.json"), Options{})
	if report.Gate.Passed {
		t.Fatal("expected gate to fail when config is required")
	}
}

func TestEvaluateBadTimezone(t *testing.T) {
	path := writeConfig(t, `{"session": {"timezone": "Mars/Olympus"}}`)
	report := EvaluatePath(path, Options{})
	if report.Gate.Passed {
		t.Fatal("expected gate to fail")
	}
	check, ok := checkByName(report, "session_timezone")
	if !ok || check.Passed {
		t.Fatalf("expected session_timezone failure, got: %+v", report.Checks)
	}
}

func TestEvaluateHTTPBackendNeedsBaseURL(t *testing.T) {
	path := writeConfig(t, `{"calendar": {"backend": "http"}}`)
	report := EvaluatePath(path, Options{})
	if report.Gate.Passed {
		t.Fatal("expected gate to fail without base_url")
	}
	check, ok := checkByName(report, "calendar_backend")
	if !ok || check.Passed {
		t.Fatalf("expected calendar_backend failure, got: %+v", report.Checks)
	}

	path = writeConfig(t, `{"calendar": {"backend": "http", "base_url": "https://calendar.example.com"}}`)
	report = EvaluatePath(path, Options{})
	if !report.Gate.Passed {
		t.Fatalf("expected gate to pass, failures: %v", report.Gate.Failures)
	}
}

func TestEvaluateSweepSlowerThanTimeout(t *testing.T) {
	path := writeConfig(t, `{"session": {"inactivity_timeout_sec": 60, "sweep_interval_sec": 600}}`)
	report := EvaluatePath(path, Options{})
	if report.Gate.Passed {
		t.Fatal("expected gate to fail when sweep interval exceeds the idle timeout")
	}
}

func TestEvaluateMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{"session": `)
	report := EvaluatePath(path, Options{})
	if report.Gate.Passed {
		t.Fatal("expected gate to fail on malformed config")
	}
	check, ok := checkByName(report, "config_load")
	if !ok || check.Passed {
		t.Fatalf("expected config_load failure, got: %+v", report.Checks)
	}
}
