package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_DefaultPort(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port default = %d, want %d", cfg.Server.Port, 8080)
	}
}

func TestConfig_PortEnvOverride(t *testing.T) {
	t.Setenv("RISKBATCH_PORT", "9090")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d after env override, want %d", cfg.Server.Port, 9090)
	}
}

func TestConfig_BatchDefaults(t *testing.T) {
	cfg := NewDefaultConfig()

	if got := cfg.Batch.GetStalePlaceholderAge(); got != time.Hour {
		t.Errorf("stale placeholder age = %v, want 1h", got)
	}
	if cfg.Batch.ValuationPriceLookbackDays != 5 {
		t.Errorf("valuation lookback = %d, want 5", cfg.Batch.ValuationPriceLookbackDays)
	}
	if cfg.Batch.PnLPriceLookbackDays != 10 {
		t.Errorf("pnl lookback = %d, want 10", cfg.Batch.PnLPriceLookbackDays)
	}
	if cfg.Batch.PriceCacheLookbackDays != 366 {
		t.Errorf("price cache lookback = %d, want 366", cfg.Batch.PriceCacheLookbackDays)
	}
	if cfg.Factors.BatchSize != 50 || cfg.Factors.MaxConcurrent != 8 {
		t.Errorf("factor batching = %d/%d, want 50/8", cfg.Factors.BatchSize, cfg.Factors.MaxConcurrent)
	}
}

func TestConfig_GetCutoff(t *testing.T) {
	cases := []struct {
		in   string
		h, m int
	}{
		{"16:30", 16, 30},
		{"09:05", 9, 5},
		{"", 16, 30},
		{"25:00", 16, 30},
		{"garbage", 16, 30},
	}
	for _, tc := range cases {
		c := BatchConfig{MarketCloseCutoff: tc.in}
		h, m := c.GetCutoff()
		if h != tc.h || m != tc.m {
			t.Errorf("GetCutoff(%q) = %d:%d, want %d:%d", tc.in, h, m, tc.h, tc.m)
		}
	}
}

func TestConfig_InvalidDurationsFallBack(t *testing.T) {
	c := BatchConfig{StalePlaceholderAge: "soon"}
	if got := c.GetStalePlaceholderAge(); got != time.Hour {
		t.Errorf("got %v, want 1h fallback", got)
	}

	e := EODHDConfig{Timeout: "nope"}
	if got := e.GetTimeout(); got != 30*time.Second {
		t.Errorf("got %v, want 30s fallback", got)
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "riskbatch.toml")
	content := `
environment = "production"

[batch]
valuation_price_lookback_days = 7

[factors]
batch_size = 25

[factors.methods.ridge]
window = 126
min_observations = 40
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("RISKBATCH_STORAGE_BACKEND", "MEMORY")

	cfg, err := LoadConfig(filepath.Join(dir, "missing.toml"), path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if !cfg.IsProduction() {
		t.Error("expected production environment from file")
	}
	if cfg.Batch.ValuationPriceLookbackDays != 7 {
		t.Errorf("valuation lookback = %d, want 7", cfg.Batch.ValuationPriceLookbackDays)
	}
	// Untouched defaults survive the merge
	if cfg.Batch.PnLPriceLookbackDays != 10 {
		t.Errorf("pnl lookback = %d, want default 10", cfg.Batch.PnLPriceLookbackDays)
	}
	if cfg.Factors.BatchSize != 25 {
		t.Errorf("batch size = %d, want 25", cfg.Factors.BatchSize)
	}
	if mc := cfg.Factors.Methods["ridge"]; mc.Window != 126 || mc.MinObservations != 40 {
		t.Errorf("ridge override = %+v", mc)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Errorf("backend = %q, want %q", cfg.Storage.Backend, BackendMemory)
	}
}
