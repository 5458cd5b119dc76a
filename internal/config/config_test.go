package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxBatchSize != 50 {
		t.Errorf("MaxBatchSize = %d, want 50", cfg.MaxBatchSize)
	}
	if cfg.BatchTimeout != 5*time.Second {
		t.Errorf("BatchTimeout = %s, want 5s", cfg.BatchTimeout)
	}
	if cfg.PrefetchCount != 10 {
		t.Errorf("PrefetchCount = %d, want 10", cfg.PrefetchCount)
	}
	if cfg.MaxZipEntrySize != 20<<30 {
		t.Errorf("MaxZipEntrySize = %d, want 20 GiB", cfg.MaxZipEntrySize)
	}
	if cfg.DLQTTL != 24*time.Hour {
		t.Errorf("DLQTTL = %s, want 24h", cfg.DLQTTL)
	}
}

func TestLoadRejectsRecursiveScan(t *testing.T) {
	t.Setenv("SCAN_RECURSIVE", "true")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted SCAN_RECURSIVE=true")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_BATCH_SIZE", "10")
	t.Setenv("BATCH_TIMEOUT", "2s")
	t.Setenv("CACHE_ROOTS", "/a, /b,")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxBatchSize != 10 {
		t.Errorf("MaxBatchSize = %d, want 10", cfg.MaxBatchSize)
	}
	if cfg.BatchTimeout != 2*time.Second {
		t.Errorf("BatchTimeout = %s, want 2s", cfg.BatchTimeout)
	}
	if len(cfg.CacheRoots) != 2 || cfg.CacheRoots[0] != "/a" || cfg.CacheRoots[1] != "/b" {
		t.Errorf("CacheRoots = %v, want [/a /b]", cfg.CacheRoots)
	}
}

func TestLoadInvalidQuality(t *testing.T) {
	t.Setenv("CACHE_QUALITY", "250")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted CACHE_QUALITY=250")
	}
}
