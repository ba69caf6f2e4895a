// Package config loads the runtime and metablock configuration shared by
// the thread pool and the metablock manager. Loading a config file from
// disk is a thin convenience; callers that already have a Config value
// (tests, embedders) never need to touch the filesystem at all.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig controls the thread pool's shape. NumWorkers excludes the
// utility worker, which the pool always adds on top.
type RuntimeConfig struct {
	NumWorkers       int           `yaml:"num_workers"`
	Affinity         bool          `yaml:"affinity"`
	BlockingPoolSize int           `yaml:"blocking_pool_size"`
	TickInterval     time.Duration `yaml:"tick_interval"`
}

// MetablockConfig controls the on-disk geometry of the metablock ring.
type MetablockConfig struct {
	StaticHeaderSize int64 `yaml:"static_header_size"`
	ExtentSize       int64 `yaml:"extent_size"`
	PayloadSize      int   `yaml:"payload_size"`
	DebugMagic       bool  `yaml:"debug_magic"`
}

// Config is the top-level document loaded from a config file.
type Config struct {
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Metablock MetablockConfig `yaml:"metablock"`
}

var (
	instance *Config
	once     sync.Once
)

// Default returns the process-wide default configuration, loading it from
// METACORE_CONFIG if set, otherwise falling back to built-in defaults.
// Safe to call from multiple goroutines; only the first call does I/O.
func Default() *Config {
	once.Do(func() {
		instance = loadFromEnvOrDefault()
	})
	return instance
}

func loadFromEnvOrDefault() *Config {
	path := os.Getenv("METACORE_CONFIG")
	if path == "" {
		return defaultConfig()
	}

	cfg, err := Load(path)
	if err != nil {
		fmt.Printf("warning: failed to load config from %s, using defaults: %v\n", path, err)
		return defaultConfig()
	}

	return cfg
}

// Load reads and parses a YAML config file, filling in defaults for any
// field the file does not set. A field the file sets explicitly keeps
// that value, even when it is the zero value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			NumWorkers:       4,
			Affinity:         true,
			BlockingPoolSize: 4,
			TickInterval:     250 * time.Millisecond,
		},
		Metablock: MetablockConfig{
			StaticHeaderSize: 4096,
			ExtentSize:       1 << 20, // 1 MiB
			PayloadSize:      512,
			DebugMagic:       false,
		},
	}
}

// Validate performs basic bounds checking, mirroring the invariants the
// runtime and metablock layers themselves assume.
func Validate(cfg *Config) error {
	if cfg.Runtime.NumWorkers < 1 {
		return fmt.Errorf("runtime.num_workers must be at least 1")
	}
	if cfg.Runtime.BlockingPoolSize < 1 {
		return fmt.Errorf("runtime.blocking_pool_size must be at least 1")
	}
	if cfg.Metablock.StaticHeaderSize < 0 {
		return fmt.Errorf("metablock.static_header_size cannot be negative")
	}
	if cfg.Metablock.ExtentSize < 1 {
		return fmt.Errorf("metablock.extent_size must be at least 1")
	}
	if cfg.Metablock.PayloadSize < 1 {
		return fmt.Errorf("metablock.payload_size must be at least 1")
	}

	return nil
}
