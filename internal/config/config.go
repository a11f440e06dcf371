// Package config provides unified configuration for the document store and
// its ambient services (HTTP surface, guard daemon, index advisory).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the unified configuration for a Store and the background
// services layered on top of it.
type Config struct {
	// DataDir is the base directory for the SQLite file and work directories.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// DBFile is the path to the SQLite database file. Defaults to
	// "<data_dir>/store.db" when empty.
	DBFile string `json:"db_file" yaml:"db_file"`

	// JournalMode is the SQLite journal_mode pragma value. Defaults to "WAL".
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`

	// BusyTimeout is how long a writer waits on SQLITE_BUSY before failing.
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout"`

	// HTTP configuration for the JSON-over-HTTP surface.
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Advisory configuration for the automatic array-index advisor.
	Advisory AdvisoryConfig `json:"advisory" yaml:"advisory"`

	// Guard configuration for the array-index consistency daemon.
	Guard GuardConfig `json:"guard" yaml:"guard"`

	// PlanCache configuration for the compiled-query cache.
	PlanCache PlanCacheConfig `json:"plan_cache" yaml:"plan_cache"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address for the document-store API.
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout.
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout.
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// AdvisoryConfig holds configuration for the Index Advisory.
type AdvisoryConfig struct {
	// Enabled controls whether the advisory loop runs at all.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// CreateThreshold is the compilation frequency (within Window) above
	// which an unindexed $in path is promoted to an array index.
	CreateThreshold int64 `json:"create_threshold" yaml:"create_threshold"`

	// DropThreshold is the compilation frequency below which an existing
	// array index is flagged and logged; the index itself is kept.
	DropThreshold int64 `json:"drop_threshold" yaml:"drop_threshold"`

	// MaxIndexes caps the number of array indexes the advisory will create
	// automatically per collection.
	MaxIndexes int `json:"max_indexes" yaml:"max_indexes"`

	// AutoDrop, when true, changes only the advisory's log message for a
	// flagged index: no drop operation exists, so the index is kept either
	// way. Defaults to false.
	AutoDrop bool `json:"auto_drop" yaml:"auto_drop"`

	// CheckInterval is the interval between advisory evaluation passes.
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`

	// Window is the sliding window over which predicate frequency is tallied.
	Window time.Duration `json:"window" yaml:"window"`

	// MinCardinality is the estimated distinct-value count a candidate array
	// path must clear, from a sample of its values, before the advisory will
	// recommend creating an index for it. Zero disables the cardinality
	// check entirely, so frequency and operator usage alone decide.
	MinCardinality int `json:"min_cardinality" yaml:"min_cardinality"`
}

// GuardConfig holds configuration for the array-index consistency daemon.
type GuardConfig struct {
	// Enabled controls whether the guard daemon runs at all.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// CheckInterval is the interval between verification passes.
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`

	// MaxConcurrency bounds how many RepairArrayIndex calls may run at once.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`

	// MinConcurrency is the floor the backpressure controller will not go below.
	MinConcurrency int `json:"min_concurrency" yaml:"min_concurrency"`

	// FailureRateThreshold is the repair-failure rate above which
	// concurrency is halved.
	FailureRateThreshold float64 `json:"failure_rate_threshold" yaml:"failure_rate_threshold"`
}

// PlanCacheConfig holds configuration for the compiled-query plan cache.
type PlanCacheConfig struct {
	// MaxEntries bounds the number of cached query shapes.
	MaxEntries int `json:"max_entries" yaml:"max_entries"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir:     "./data/docstore",
		JournalMode: "WAL",
		BusyTimeout: 5 * time.Second,
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Advisory: AdvisoryConfig{
			Enabled:         true,
			CreateThreshold: 50,
			DropThreshold:   5,
			MaxIndexes:      20,
			AutoDrop:        false,
			CheckInterval:   5 * time.Minute,
			Window:          1 * time.Hour,
			MinCardinality:  10,
		},
		Guard: GuardConfig{
			Enabled:               true,
			CheckInterval:         10 * time.Minute,
			MaxConcurrency:        8,
			MinConcurrency:        1,
			FailureRateThreshold:  0.2,
		},
		PlanCache: PlanCacheConfig{
			MaxEntries: 512,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/docstore"
	}
	if c.DBFile == "" {
		c.DBFile = filepath.Join(c.DataDir, "store.db")
	}
	if c.JournalMode == "" {
		c.JournalMode = "WAL"
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 5 * time.Second
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch strings.ToUpper(c.JournalMode) {
	case "WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "OFF":
	default:
		return fmt.Errorf("invalid journal_mode: %s", c.JournalMode)
	}

	if c.Advisory.Enabled && c.Advisory.MaxIndexes <= 0 {
		return fmt.Errorf("advisory.max_indexes must be positive when advisory is enabled")
	}

	if c.Guard.Enabled && c.Guard.MaxConcurrency <= 0 {
		return fmt.Errorf("guard.max_concurrency must be positive when guard is enabled")
	}

	if c.Guard.MinConcurrency > c.Guard.MaxConcurrency {
		return fmt.Errorf("guard.min_concurrency must not exceed guard.max_concurrency")
	}

	return nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	if c.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.DataDir, err)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file, starting from
// DefaultConfig so unset fields keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv applies DOCSTORE_-prefixed environment variable overrides
// on top of an existing Config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("DOCSTORE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("DOCSTORE_DB_FILE"); v != "" {
		cfg.DBFile = v
	}
	if v := os.Getenv("DOCSTORE_JOURNAL_MODE"); v != "" {
		cfg.JournalMode = v
	}
	if v := os.Getenv("DOCSTORE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("DOCSTORE_ADVISORY_ENABLED"); v != "" {
		cfg.Advisory.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DOCSTORE_ADVISORY_AUTO_DROP"); v != "" {
		cfg.Advisory.AutoDrop = v == "true" || v == "1"
	}
	if v := os.Getenv("DOCSTORE_ADVISORY_CREATE_THRESHOLD"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Advisory.CreateThreshold = n
		}
	}
	if v := os.Getenv("DOCSTORE_GUARD_ENABLED"); v != "" {
		cfg.Guard.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DOCSTORE_GUARD_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Guard.CheckInterval = d
		}
	}
}
