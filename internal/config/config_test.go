package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"SEED", "DB_DSN", "API_PORT", "JWT_SECRET", "REDIS_URL", "CATALOG_FILE", "TICK_INTERVAL", "LOG_LEVEL", "CONFIG_FILE"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.TickInterval != time.Second || cfg.Seed != 0 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Sim.Trade.TopN != 5 || cfg.Sim.Nations != 8 {
		t.Errorf("unexpected simulation defaults: %+v", cfg.Sim)
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("SEED", "42")
	t.Setenv("API_PORT", "9000")
	t.Setenv("TICK_INTERVAL", "250ms")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Seed != 42 || cfg.Port != "9000" || cfg.TickInterval != 250*time.Millisecond {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.RedisURL != "redis://localhost:6379/1" {
		t.Errorf("redis = %q", cfg.RedisURL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"SEED", "forty"},
		{"TICK_INTERVAL", "soon"},
		{"TICK_INTERVAL", "-1s"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv("SEED", "")
			t.Setenv("TICK_INTERVAL", "")
			t.Setenv("CONFIG_FILE", "")
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestConfigFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	data := "nations: 4\ndisabled_stages: [trade]\ntrade:\n  top_n: 3\n  max_partners: 6\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SEED", "")
	t.Setenv("TICK_INTERVAL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sim := cfg.Sim
	if sim.Nations != 4 || sim.Trade.TopN != 3 || sim.Trade.MaxPartners != 6 {
		t.Errorf("overlay not applied: %+v", sim)
	}
	if sim.Trade.MinMargin != 0.10 {
		t.Errorf("min margin = %v, want default kept", sim.Trade.MinMargin)
	}
	if len(sim.DisabledStages) != 1 || sim.DisabledStages[0] != "trade" {
		t.Errorf("disabled = %v", sim.DisabledStages)
	}
	if sim.EventBuffer != 500 {
		t.Errorf("event buffer = %d, want default kept", sim.EventBuffer)
	}
}

func TestOverlayRejectsNegative(t *testing.T) {
	s := DefaultSimulation()
	if err := s.Overlay([]byte("speed: -2\n")); err == nil {
		t.Error("expected an error for negative speed")
	}
	if err := s.Overlay([]byte("nations: [\n")); err == nil {
		t.Error("expected a parse error")
	}
}
