// Package config loads the runctl configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration, loaded once at startup.
type Config struct {
	Version   string           `yaml:"version"`
	Providers []ProviderConfig `yaml:"providers"`
	Cleanup   CleanupConfig    `yaml:"cleanup,omitempty"`
	Engine    EngineConfig     `yaml:"engine,omitempty"`
	Storage   StorageConfig    `yaml:"storage,omitempty"`
	// IntentFile points at the local project intent declaration.
	IntentFile string `yaml:"intent_file,omitempty"`
}

// ProviderConfig configures one cloud provider connection.
type ProviderConfig struct {
	Name         string `yaml:"name"`
	Region       string `yaml:"region"`
	BootstrapAMI string `yaml:"bootstrap_ami,omitempty"`
}

// CleanupConfig tunes cleanup classification and execution.
type CleanupConfig struct {
	IdleThreshold           time.Duration `yaml:"idle_threshold,omitempty"`
	MinAge                  time.Duration `yaml:"min_age,omitempty"`
	PreferStaleOverOrphaned bool          `yaml:"prefer_stale_over_orphaned,omitempty"`
}

// EngineConfig tunes the background collection loop.
type EngineConfig struct {
	Cadence     time.Duration `yaml:"cadence,omitempty"`
	MetricsAddr string        `yaml:"metrics_addr,omitempty"`
}

// StorageConfig locates local persistence.
type StorageConfig struct {
	// JobDB is the bbolt file holding resilience job records.
	JobDB string `yaml:"job_db,omitempty"`
	// JournalDir holds the append-only audit journal.
	JournalDir string `yaml:"journal_dir,omitempty"`
	// JournalRetention bounds how long journal files are kept.
	JournalRetention time.Duration `yaml:"journal_retention,omitempty"`
}

// Load reads and validates a configuration file. A missing path loads
// defaults with a single AWS provider in the ambient region.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := &Config{Version: "1"}
		cfg.applyDefaults()
		return cfg, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Validate ensures config has required fields.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if p.Region == "" {
			return fmt.Errorf("providers[%d]: region is required", i)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if len(c.Providers) == 0 {
		c.Providers = []ProviderConfig{{Name: "aws", Region: os.Getenv("AWS_REGION")}}
	}
	if c.Cleanup.IdleThreshold == 0 {
		c.Cleanup.IdleThreshold = 24 * time.Hour
	}
	if c.Cleanup.MinAge == 0 {
		c.Cleanup.MinAge = 5 * time.Minute
	}
	if c.Engine.Cadence == 0 {
		c.Engine.Cadence = 60 * time.Second
	}
	if c.Engine.MetricsAddr == "" {
		c.Engine.MetricsAddr = ":9090"
	}
	if c.Storage.JobDB == "" {
		c.Storage.JobDB = filepath.Join(defaultStateDir(), "jobs.db")
	}
	if c.Storage.JournalDir == "" {
		c.Storage.JournalDir = filepath.Join(defaultStateDir(), "journal")
	}
	if c.Storage.JournalRetention == 0 {
		c.Storage.JournalRetention = 7 * 24 * time.Hour
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".runctl"
	}
	return filepath.Join(home, ".runctl")
}
