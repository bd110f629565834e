package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsWellFormed(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Pool.MinConnections > cfg.Pool.MaxConnections {
		t.Fatalf("min_connections (%d) must not exceed max_connections (%d)", cfg.Pool.MinConnections, cfg.Pool.MaxConnections)
	}
	if cfg.Consistency.BloomFPR <= 0 || cfg.Consistency.BloomFPR >= 1 {
		t.Fatalf("bloom_fpr out of range: %f", cfg.Consistency.BloomFPR)
	}
}

func TestLoadFromFileOverridesOnlySetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cortex.yaml")
	yamlBody := "pool:\n  max_connections: 64\nsync:\n  wal_dir: /tmp/custom-wal\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Pool.MaxConnections != 64 {
		t.Fatalf("expected overridden max_connections=64, got %d", cfg.Pool.MaxConnections)
	}
	if cfg.Sync.WALDir != "/tmp/custom-wal" {
		t.Fatalf("expected overridden wal_dir, got %s", cfg.Sync.WALDir)
	}
	// Untouched fields keep their defaults.
	if cfg.Pool.MinConnections != DefaultConfig().Pool.MinConnections {
		t.Fatalf("expected min_connections to keep its default, got %d", cfg.Pool.MinConnections)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("CORTEX_DSTORE_DSN", "postgres://test/db")
	t.Setenv("CORTEX_MAX_CONNECTIONS", "99")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.DStore.DSN != "postgres://test/db" {
		t.Fatalf("expected env override for dsn, got %s", cfg.DStore.DSN)
	}
	if cfg.Pool.MaxConnections != 99 {
		t.Fatalf("expected env override for max_connections, got %d", cfg.Pool.MaxConnections)
	}
}

func TestLoadFromFileMissingReturnsError(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/path/cortex.yaml"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
