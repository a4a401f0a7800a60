// Package config holds the YAML-backed configuration for the bytelog
// tooling: logger sizing, compaction behavior, and logging output.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete bytelog configuration.
type Config struct {
	// DataDir is the root directory log folders are created under.
	DataDir string `yaml:"data_dir"`

	// Logger configures the ingestion/persistence stage.
	Logger LoggerConfig `yaml:"logger"`

	// Compaction configures archive assembly.
	Compaction CompactionConfig `yaml:"compaction"`

	// Logging configures structured log output.
	Logging LoggingConfig `yaml:"logging"`
}

// LoggerConfig configures a DataLogger instance.
type LoggerConfig struct {
	// InstanceName names the logger instance. It namespaces the shared
	// termination signal and the log folder.
	InstanceName string `yaml:"instance_name"`

	// Workers is the number of saver workers.
	Workers int `yaml:"workers"`

	// SleepInterval is how long an idle worker sleeps between queue
	// polls. Format: "5ms", "500us".
	SleepInterval time.Duration `yaml:"sleep_interval"`

	// ExistOK allows replacing a leftover termination signal from a
	// crashed previous runtime.
	ExistOK bool `yaml:"exist_ok"`
}

// CompactionConfig configures archive assembly.
type CompactionConfig struct {
	// Workers bounds how many sources are assembled in parallel.
	Workers int `yaml:"workers"`

	// BatchSize is how many record files are staged per archive write.
	BatchSize int `yaml:"batch_size"`

	// RemoveSources deletes per-record files after successful assembly.
	RemoveSources bool `yaml:"remove_sources"`

	// VerifyIntegrity byte-compares archives against sources before any
	// removal.
	VerifyIntegrity bool `yaml:"verify_integrity"`

	// Compression is the archive compression algorithm: zstd, snappy,
	// none.
	Compression string `yaml:"compression"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches output from text to JSON.
	JSON bool `yaml:"json"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Logger: LoggerConfig{
			InstanceName:  "data_logger",
			Workers:       1,
			SleepInterval: 5 * time.Millisecond,
		},
		Compaction: CompactionConfig{
			Workers:       0, // resolved from CPU count
			BatchSize:     1024,
			RemoveSources: true,
			Compression:   "zstd",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a configuration file, applying defaults for unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Logger.InstanceName == "" {
		return fmt.Errorf("logger.instance_name must not be empty")
	}
	if c.Logger.Workers < 0 {
		return fmt.Errorf("logger.workers must not be negative")
	}
	if c.Compaction.Workers < 0 {
		return fmt.Errorf("compaction.workers must not be negative")
	}
	if c.Compaction.BatchSize < 0 {
		return fmt.Errorf("compaction.batch_size must not be negative")
	}
	switch c.Compaction.Compression {
	case "", "zstd", "snappy", "none":
	default:
		return fmt.Errorf("compaction.compression: unknown algorithm %q", c.Compaction.Compression)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
