package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runctl.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
version: "1"
providers:
  - name: aws
    region: us-east-1
    bootstrap_ami: ami-0abc123
cleanup:
  idle_threshold: 48h
  min_age: 10m
  prefer_stale_over_orphaned: true
engine:
  cadence: 30s
  metrics_addr: ":9191"
storage:
  job_db: /tmp/jobs.db
  journal_dir: /tmp/journal
intent_file: /tmp/intent.yaml
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Providers) != 1 || cfg.Providers[0].Region != "us-east-1" {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if cfg.Providers[0].BootstrapAMI != "ami-0abc123" {
		t.Errorf("bootstrap ami = %s", cfg.Providers[0].BootstrapAMI)
	}
	if cfg.Cleanup.IdleThreshold != 48*time.Hour {
		t.Errorf("idle threshold = %v, want 48h", cfg.Cleanup.IdleThreshold)
	}
	if !cfg.Cleanup.PreferStaleOverOrphaned {
		t.Error("prefer_stale_over_orphaned not parsed")
	}
	if cfg.Engine.Cadence != 30*time.Second {
		t.Errorf("cadence = %v, want 30s", cfg.Engine.Cadence)
	}
	if cfg.Storage.JobDB != "/tmp/jobs.db" {
		t.Errorf("job db = %s", cfg.Storage.JobDB)
	}
	if cfg.IntentFile != "/tmp/intent.yaml" {
		t.Errorf("intent file = %s", cfg.IntentFile)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
version: "1"
providers:
  - name: aws
    region: eu-west-1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Cleanup.IdleThreshold != 24*time.Hour {
		t.Errorf("default idle threshold = %v, want 24h", cfg.Cleanup.IdleThreshold)
	}
	if cfg.Cleanup.MinAge != 5*time.Minute {
		t.Errorf("default min age = %v, want 5m", cfg.Cleanup.MinAge)
	}
	if cfg.Engine.Cadence != 60*time.Second {
		t.Errorf("default cadence = %v, want 60s", cfg.Engine.Cadence)
	}
	if cfg.Storage.JobDB == "" || cfg.Storage.JournalDir == "" {
		t.Error("storage defaults not applied")
	}
	if cfg.Storage.JournalRetention != 7*24*time.Hour {
		t.Errorf("default retention = %v, want 168h", cfg.Storage.JournalRetention)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Name != "aws" {
		t.Errorf("default providers = %+v, want single aws entry", cfg.Providers)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing version", "providers:\n  - name: aws\n    region: us-east-1\n"},
		{"provider without name", "version: \"1\"\nproviders:\n  - region: us-east-1\n"},
		{"provider without region", "version: \"1\"\nproviders:\n  - name: aws\n"},
		{"bad yaml", "version: [unclosed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("Load() succeeded, want error")
			}
		})
	}
}
