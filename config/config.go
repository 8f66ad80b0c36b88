// Package config loads the YAML configuration of the page store tools.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sushant-115/gojodb-pagestore/core/storage_engine/prefetch"
	"github.com/sushant-115/gojodb-pagestore/core/write_engine/memtable"
	"github.com/sushant-115/gojodb-pagestore/pkg/logger"
	"github.com/sushant-115/gojodb-pagestore/pkg/telemetry"
)

// Buffer pool eviction policies.
const (
	PolicyLRU        = "lru"
	PolicySingleSlot = "single_slot"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// StorageConfig locates the database file.
type StorageConfig struct {
	Path string `yaml:"path"`
	// BackupBytesPerSec limits backup copy speed. Zero means unlimited.
	BackupBytesPerSec int64 `yaml:"backup_bytes_per_sec"`
}

// BufferPoolConfig selects the cache policy and its size.
type BufferPoolConfig struct {
	Policy   string `yaml:"policy"`
	Capacity int    `yaml:"capacity"`
}

// PrefetchConfig enables read-ahead in front of the page store.
type PrefetchConfig struct {
	Enabled          bool `yaml:"enabled"`
	prefetch.Options `yaml:",inline"`
}

type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	BufferPool BufferPoolConfig `yaml:"buffer_pool"`
	Prefetch   PrefetchConfig   `yaml:"prefetch"`
	Logger     logger.Config    `yaml:"logger"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Storage: StorageConfig{Path: "gojodb.db"},
		BufferPool: BufferPoolConfig{
			Policy:   PolicyLRU,
			Capacity: memtable.DefaultCapacity,
		},
		Prefetch: PrefetchConfig{Options: prefetch.DefaultOptions()},
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
			Service:    logger.DefaultService,
		},
		Telemetry: telemetry.Config{
			ServiceName:      logger.DefaultService,
			TraceSampleRatio: 1.0,
		},
	}
}

// Load reads path on top of Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path is required", ErrInvalidConfig)
	}
	if c.Storage.BackupBytesPerSec < 0 {
		return fmt.Errorf("%w: storage.backup_bytes_per_sec cannot be negative", ErrInvalidConfig)
	}
	switch c.BufferPool.Policy {
	case PolicyLRU:
		if c.BufferPool.Capacity < 1 {
			return fmt.Errorf("%w: buffer_pool.capacity must be at least 1, got %d", ErrInvalidConfig, c.BufferPool.Capacity)
		}
	case PolicySingleSlot:
	default:
		return fmt.Errorf("%w: unknown buffer_pool.policy %q", ErrInvalidConfig, c.BufferPool.Policy)
	}
	if c.Prefetch.Enabled {
		if err := c.Prefetch.Options.Validate(); err != nil {
			return fmt.Errorf("%w: prefetch: %v", ErrInvalidConfig, err)
		}
	}
	if c.Telemetry.Enabled && c.Telemetry.PrometheusPort < 0 {
		return fmt.Errorf("%w: telemetry.prometheus_port cannot be negative", ErrInvalidConfig)
	}
	return nil
}
