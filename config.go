package parley

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the file-backed configuration for an Orchestrator and its
// surroundings. Hosts that wire everything programmatically can ignore it;
// it exists so deployments can tune the pipeline without a rebuild.
type Config struct {
	Pipeline PipelineConfig `toml:"pipeline"`
	Identity IdentityConfig `toml:"identity"`
	Timers   TimersConfig   `toml:"timers"`
	Database DatabaseConfig `toml:"database"`
	Observer ObserverConfig `toml:"observer"`
}

type PipelineConfig struct {
	MaxChainDepth int `toml:"max_chain_depth"`
	// ProcessTimeoutSeconds bounds one room section.
	ProcessTimeoutSeconds int  `toml:"process_timeout_seconds"`
	MaxConcurrent         int  `toml:"max_concurrent"`
	LockCapacity          int  `toml:"lock_capacity"`
	AutoCreateRooms       bool `toml:"auto_create_rooms"`
}

type IdentityConfig struct {
	TimeoutSeconds int      `toml:"timeout_seconds"`
	ChannelTypes   []string `toml:"channel_types"`
}

type TimersConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
	// Defaults applied to rooms created without timers.
	InactiveAfterSeconds int64 `toml:"inactive_after_seconds"`
	ClosedAfterSeconds   int64 `toml:"closed_after_seconds"`
}

type DatabaseConfig struct {
	// URL is a postgres connection string for store/postgres. Empty keeps
	// the in-memory store.
	URL string `toml:"url"`
}

type ObserverConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
	Endpoint    string `toml:"endpoint"`
}

// DefaultConfig returns a Config with all defaults applied.
func DefaultConfig() Config {
	return Config{
		Pipeline: PipelineConfig{
			MaxChainDepth:         defaultMaxChainDepth,
			ProcessTimeoutSeconds: int(defaultProcessTimeout / time.Second),
			LockCapacity:          defaultLockCapacity,
			AutoCreateRooms:       true,
		},
		Identity: IdentityConfig{
			TimeoutSeconds: int(defaultIdentityTimeout / time.Second),
		},
		Timers: TimersConfig{
			IntervalSeconds: 60,
		},
		Observer: ObserverConfig{
			ServiceName: "parley",
		},
	}
}

// LoadConfig reads config: defaults -> TOML file -> env vars (env wins).
// A missing file is not an error; defaults apply.
func LoadConfig(path string) Config {
	cfg := DefaultConfig()

	if path == "" {
		path = "parley.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("PARLEY_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("PARLEY_MAX_CHAIN_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MaxChainDepth = n
		}
	}
	if v := os.Getenv("PARLEY_PROCESS_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.ProcessTimeoutSeconds = n
		}
	}
	if v := os.Getenv("PARLEY_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MaxConcurrent = n
		}
	}
	if v := os.Getenv("PARLEY_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}
	if v := os.Getenv("PARLEY_OBSERVER_ENDPOINT"); v != "" {
		cfg.Observer.Endpoint = v
	}

	return cfg
}

// Options converts the pipeline and identity sections into Orchestrator
// options. Resolver, logger, and tracer still come from the host.
func (c Config) Options() []Option {
	opts := []Option{
		WithMaxChainDepth(c.Pipeline.MaxChainDepth),
		WithAutoCreateRooms(c.Pipeline.AutoCreateRooms),
		WithLockCapacity(c.Pipeline.LockCapacity),
		WithMaxConcurrent(int64(c.Pipeline.MaxConcurrent)),
	}
	if c.Pipeline.ProcessTimeoutSeconds > 0 {
		opts = append(opts, WithProcessTimeout(time.Duration(c.Pipeline.ProcessTimeoutSeconds)*time.Second))
	}
	if c.Identity.TimeoutSeconds > 0 {
		opts = append(opts, WithIdentityTimeout(time.Duration(c.Identity.TimeoutSeconds)*time.Second))
	}
	if len(c.Identity.ChannelTypes) > 0 {
		opts = append(opts, WithIdentityChannelTypes(c.Identity.ChannelTypes...))
	}
	return opts
}
