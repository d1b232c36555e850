package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yungbote/kg-sidecar/internal/domain"
)

func TestApplyFillsOnlyZeroFields(t *testing.T) {
	temp := 0.3
	defaults := &PipelineDefaults{
		DecayBase:             0.95,
		DeleteThreshold:       0.2,
		ContextWindowMessages: 40,
		TimeoutMs:             15000,
		SlotTimeoutsMs:        map[string]int{"judge": 8000},
		Models: map[string]ModelDefault{
			"actor": {Provider: "openrouter", Model: "openrouter/auto", Temperature: &temp},
		},
	}

	cfg := &domain.PipelineConfig{DecayBase: 0.99}
	defaults.Apply(cfg)

	if cfg.DecayBase != 0.99 {
		t.Fatalf("request value must win, got %v", cfg.DecayBase)
	}
	if cfg.DeleteThreshold != 0.2 || cfg.ContextWindowMessages != 40 || cfg.TimeoutMs != 15000 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.SlotTimeoutsMs["judge"] != 8000 {
		t.Fatalf("slot timeout default not applied")
	}
	if cfg.Models["actor"].Model != "openrouter/auto" {
		t.Fatalf("model default not applied")
	}

	// Existing per-slot entries are never overwritten.
	cfg = &domain.PipelineConfig{
		SlotTimeoutsMs: map[string]int{"judge": 3000},
		Models:         map[string]domain.SlotOverride{"actor": {Model: "custom"}},
	}
	defaults.Apply(cfg)
	if cfg.SlotTimeoutsMs["judge"] != 3000 || cfg.Models["actor"].Model != "custom" {
		t.Fatalf("request overrides clobbered: %+v", cfg)
	}
}

func TestLoad(t *testing.T) {
	defaults, err := Load("")
	if err != nil || defaults == nil {
		t.Fatalf("empty path must yield empty defaults: %v", err)
	}

	path := filepath.Join(t.TempDir(), "defaults.yaml")
	content := "decay_base: 0.97\ndelete_threshold: 0.15\nmodels:\n  judge:\n    model: openrouter/auto\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	defaults, err = Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if defaults.DecayBase != 0.97 || defaults.DeleteThreshold != 0.15 {
		t.Fatalf("parsed defaults: %+v", defaults)
	}
	if defaults.Models["judge"].Model != "openrouter/auto" {
		t.Fatalf("model map not parsed: %+v", defaults.Models)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing file must error")
	}
}
