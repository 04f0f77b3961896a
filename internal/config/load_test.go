package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.yaml", `
app_name: desyncd-test
logging:
  level: debug
  console: true
desync:
  window: PT5S
  jitter: PT1S
jobs:
  report:
    type: CRON
    value: "0 * * * * *"
    description: hourly report
  cleanup:
    type: DURATION
    value: PT30S
    disabled: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.AppName != "desyncd-test" {
		t.Fatalf("AppName = %q", cfg.AppName)
	}
	if len(cfg.Jobs) != 2 {
		t.Fatalf("Jobs = %d, want 2", len(cfg.Jobs))
	}
	job, ok := cfg.Jobs["report"]
	if !ok || job.Type != JobTypeCron || job.Value != "0 * * * * *" {
		t.Fatalf("unexpected report job: %+v", job)
	}
	if !cfg.Jobs["cleanup"].Disabled {
		t.Fatal("cleanup job should be disabled")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.yaml", `
app_name: x
jobs: {}
surprise: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRequiresAppName(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.yaml", "jobs: {}\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing app_name")
	}
}

func TestLoadRejectsBadDefaultWindow(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.yaml", `
app_name: x
desync:
  window: nonsense
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for bad desync.window")
	}
}
