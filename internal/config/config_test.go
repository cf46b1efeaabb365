package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Storage.Engine != "sqlite" {
		t.Errorf("default storage engine = %q, want sqlite", cfg.Storage.Engine)
	}
	if cfg.Engine.PromotionCap != 20 {
		t.Errorf("default promotion cap = %d, want 20", cfg.Engine.PromotionCap)
	}
	if cfg.Engine.FullConsolidationEvery != 5 {
		t.Errorf("default full consolidation cadence = %d, want 5", cfg.Engine.FullConsolidationEvery)
	}
	if cfg.Engine.ReflectionEvery != 20 {
		t.Errorf("default reflection cadence = %d, want 20", cfg.Engine.ReflectionEvery)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("ENGRAM_PROMOTION_CAP", "7")
	t.Setenv("ENGRAM_TEXT_PROVIDER", "openai")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Engine.PromotionCap != 7 {
		t.Errorf("promotion cap = %d, want 7", cfg.Engine.PromotionCap)
	}
	if cfg.Text.Provider != "openai" {
		t.Errorf("text provider = %q, want openai", cfg.Text.Provider)
	}
}

func TestLoadConfigPostgresRequiresDSN(t *testing.T) {
	t.Setenv("ENGRAM_STORAGE_ENGINE", "postgres")

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for postgres engine without DSN")
	}
}

func TestApplyFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.yaml")
	body := "engine:\n  promotion_cap: 5\nstorage:\n  engine: sqlite\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ENGRAM_CONFIG_FILE", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Engine.PromotionCap != 5 {
		t.Errorf("promotion cap = %d, want 5 from yaml overlay", cfg.Engine.PromotionCap)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Engine.ReflectionEvery != 20 {
		t.Errorf("reflection cadence = %d, want default 20", cfg.Engine.ReflectionEvery)
	}
}

func TestApplyFileMissing(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ApplyFile("/nonexistent/engram.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}
