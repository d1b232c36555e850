// Package config loads server-side pipeline defaults from an optional YAML
// file. Request values always win; defaults only fill fields the caller
// left at zero.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/kg-sidecar/internal/domain"
	"github.com/yungbote/kg-sidecar/internal/platform/envutil"
	"github.com/yungbote/kg-sidecar/internal/platform/logger"
)

type ModelDefault struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
}

type PipelineDefaults struct {
	DecayBase             float64                 `yaml:"decay_base"`
	DeleteThreshold       float64                 `yaml:"delete_threshold"`
	ContextWindowMessages int                     `yaml:"context_window_messages"`
	KeyEventLimit         int                     `yaml:"key_event_limit"`
	KeyEventMaxAgeSteps   int                     `yaml:"key_event_max_age_steps"`
	TimeoutMs             int                     `yaml:"timeout_ms"`
	SlotTimeoutsMs        map[string]int          `yaml:"slot_timeouts_ms"`
	Models                map[string]ModelDefault `yaml:"models"`
}

// Load parses a defaults file. A missing path returns empty defaults.
func Load(path string) (*PipelineDefaults, error) {
	if path == "" {
		return &PipelineDefaults{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read defaults file %s: %w", path, err)
	}
	var defaults PipelineDefaults
	if err := yaml.Unmarshal(raw, &defaults); err != nil {
		return nil, fmt.Errorf("parse defaults file %s: %w", path, err)
	}
	return &defaults, nil
}

// LoadFromEnv reads the file named by KG_DEFAULTS_FILE. Parse failures are
// logged and ignored so a broken file never blocks startup.
func LoadFromEnv(log *logger.Logger) *PipelineDefaults {
	path := envutil.Str("KG_DEFAULTS_FILE", "")
	defaults, err := Load(path)
	if err != nil {
		log.Warn("pipeline defaults file ignored", "error", err)
		return &PipelineDefaults{}
	}
	return defaults
}

// Apply fills zero-valued request fields from the defaults.
func (d *PipelineDefaults) Apply(cfg *domain.PipelineConfig) {
	if d == nil || cfg == nil {
		return
	}
	if cfg.DecayBase == 0 {
		cfg.DecayBase = d.DecayBase
	}
	if cfg.DeleteThreshold == 0 {
		cfg.DeleteThreshold = d.DeleteThreshold
	}
	if cfg.ContextWindowMessages == 0 {
		cfg.ContextWindowMessages = d.ContextWindowMessages
	}
	if cfg.KeyEventLimit == 0 {
		cfg.KeyEventLimit = d.KeyEventLimit
	}
	if cfg.KeyEventMaxAgeSteps == 0 {
		cfg.KeyEventMaxAgeSteps = d.KeyEventMaxAgeSteps
	}
	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = d.TimeoutMs
	}
	for slot, ms := range d.SlotTimeoutsMs {
		if cfg.SlotTimeoutsMs == nil {
			cfg.SlotTimeoutsMs = map[string]int{}
		}
		if _, ok := cfg.SlotTimeoutsMs[slot]; !ok {
			cfg.SlotTimeoutsMs[slot] = ms
		}
	}
	for slot, override := range d.Models {
		if cfg.Models == nil {
			cfg.Models = map[string]domain.SlotOverride{}
		}
		if _, ok := cfg.Models[slot]; !ok {
			cfg.Models[slot] = domain.SlotOverride{
				Provider:    override.Provider,
				Model:       override.Model,
				Temperature: override.Temperature,
			}
		}
	}
}
