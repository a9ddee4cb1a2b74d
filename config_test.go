package parley

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Pipeline.MaxChainDepth != 10 {
		t.Errorf("max chain depth = %d, want 10", cfg.Pipeline.MaxChainDepth)
	}
	if cfg.Pipeline.ProcessTimeoutSeconds != 30 {
		t.Errorf("process timeout = %d, want 30", cfg.Pipeline.ProcessTimeoutSeconds)
	}
	if !cfg.Pipeline.AutoCreateRooms {
		t.Error("auto create rooms disabled by default")
	}
	if cfg.Identity.TimeoutSeconds != 10 {
		t.Errorf("identity timeout = %d, want 10", cfg.Identity.TimeoutSeconds)
	}
	if cfg.Timers.IntervalSeconds != 60 {
		t.Errorf("timer interval = %d, want 60", cfg.Timers.IntervalSeconds)
	}
}

func TestLoadConfigMissingFileKeepsDefaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if cfg.Pipeline.MaxChainDepth != DefaultConfig().Pipeline.MaxChainDepth {
		t.Error("defaults not applied for missing file")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.toml")
	data := `
[pipeline]
max_chain_depth = 3
process_timeout_seconds = 5
auto_create_rooms = false

[identity]
timeout_seconds = 2
channel_types = ["sms", "email"]

[database]
url = "postgres://localhost/parley"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := LoadConfig(path)
	if cfg.Pipeline.MaxChainDepth != 3 {
		t.Errorf("max chain depth = %d, want 3", cfg.Pipeline.MaxChainDepth)
	}
	if cfg.Pipeline.ProcessTimeoutSeconds != 5 {
		t.Errorf("process timeout = %d, want 5", cfg.Pipeline.ProcessTimeoutSeconds)
	}
	if cfg.Pipeline.AutoCreateRooms {
		t.Error("auto create rooms not overridden")
	}
	if cfg.Identity.TimeoutSeconds != 2 || len(cfg.Identity.ChannelTypes) != 2 {
		t.Errorf("identity config = %+v", cfg.Identity)
	}
	if cfg.Database.URL != "postgres://localhost/parley" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	// untouched sections keep their defaults
	if cfg.Timers.IntervalSeconds != 60 {
		t.Errorf("timer interval = %d, want default 60", cfg.Timers.IntervalSeconds)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.toml")
	if err := os.WriteFile(path, []byte("[pipeline]\nmax_chain_depth = 3\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PARLEY_MAX_CHAIN_DEPTH", "7")
	t.Setenv("PARLEY_DATABASE_URL", "postgres://env/parley")
	t.Setenv("PARLEY_OBSERVER_ENABLED", "true")

	cfg := LoadConfig(path)
	if cfg.Pipeline.MaxChainDepth != 7 {
		t.Errorf("max chain depth = %d, want env override 7", cfg.Pipeline.MaxChainDepth)
	}
	if cfg.Database.URL != "postgres://env/parley" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	if !cfg.Observer.Enabled {
		t.Error("observer not enabled by env")
	}
}

func TestConfigOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.MaxChainDepth = 2
	orch := New(NewMemoryStore(), cfg.Options()...)
	defer orch.Close()
	if orch.maxChainDepth != 2 {
		t.Errorf("orchestrator max chain depth = %d, want 2", orch.maxChainDepth)
	}
}
