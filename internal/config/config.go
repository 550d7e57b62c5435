// Package config loads crucible's layered YAML configuration: one
// nested block per subsystem with a DefaultConfig constructor.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all crucible configuration.
type Config struct {
	Home string `yaml:"-"` // resolved at load time, not serialized

	Logging  LoggingConfig  `yaml:"logging"`
	Store    StoreConfig    `yaml:"store"`
	Crystal  CrystalConfig  `yaml:"crystal"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Trust    TrustConfig    `yaml:"trust"`
	Provider ProviderConfig `yaml:"provider"`
}

type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// StoreConfig controls where the SQLite-backed mark/crystal/sovereign
// stores keep their databases, per §6's directory-per-entity layout.
type StoreConfig struct {
	MarkDB      string `yaml:"mark_db"`
	CrystalDB   string `yaml:"crystal_db"`
	SovereignDB string `yaml:"sovereign_db"`
	// BusyWatermark is the pending-append queue depth past which the
	// mark ledger starts returning BUSY (§5 backpressure).
	BusyWatermark int `yaml:"busy_watermark"`
}

type CrystalConfig struct {
	// SimilarityThreshold is the near-duplicate-source dedup threshold
	// used by the crystallizer's Select step (§4.2 step 1).
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// RetrievalWeights are alpha/beta for budget-aware retrieval scoring.
	RecencyWeight   float64 `yaml:"recency_weight"`
	RelevanceWeight float64 `yaml:"relevance_weight"`
}

type SandboxConfig struct {
	DefaultTimeoutSeconds int   `yaml:"default_timeout_seconds"`
	MaxOutputBytes        int   `yaml:"max_output_bytes"`
}

type TrustConfig struct {
	// RateLimitPerHour is keyed by level name (L0..L3).
	RateLimitPerHour map[string]int `yaml:"rate_limit_per_hour"`
	// ConfirmationTTLSeconds is the default expiry for pending suggestions.
	ConfirmationTTLSeconds int `yaml:"confirmation_ttl_seconds"`
	// SandboxPrefixes are the path prefixes an L1 bounded action must
	// fall under to be allowed (§4.6).
	SandboxPrefixes []string `yaml:"sandbox_prefixes"`
}

// ProviderConfig names the external LLM/spec-report endpoints. crucible
// never dials these itself; they are here only so a deployment can wire
// up its chosen implementation of the capability interfaces in §6.
type ProviderConfig struct {
	LLMEndpoint        string `yaml:"llm_endpoint"`
	SpecReportEndpoint string `yaml:"spec_report_endpoint"`
}

// DefaultConfig returns crucible's built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Debug: false},
		Store: StoreConfig{
			MarkDB:        "marks.db",
			CrystalDB:     "crystals.db",
			SovereignDB:   "sovereign.db",
			BusyWatermark: 1000,
		},
		Crystal: CrystalConfig{
			SimilarityThreshold: 0.92,
			RecencyWeight:       0.5,
			RelevanceWeight:     0.5,
		},
		Sandbox: SandboxConfig{
			DefaultTimeoutSeconds: 30,
			MaxOutputBytes:        1_000_000,
		},
		Trust: TrustConfig{
			RateLimitPerHour: map[string]int{
				"L0_READ_ONLY": 10000,
				"L1_BOUNDED":   200,
				"L2_SUGGESTION": 100,
				"L3_AUTONOMOUS": 50,
			},
			ConfirmationTTLSeconds: 3600,
			SandboxPrefixes:        []string{".crucible/sandbox/"},
		},
	}
}

// Home resolves crucible's data/config root: $CRUCIBLE_HOME if set,
// otherwise $XDG_CONFIG_HOME/crucible, otherwise ~/.config/crucible.
func Home() (string, error) {
	if h := os.Getenv("CRUCIBLE_HOME"); h != "" {
		return h, nil
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "crucible"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "crucible"), nil
}

// Load reads config.yaml from home, falling back to defaults for any
// field the file omits (YAML unmarshal onto a pre-populated struct).
func Load(home string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Home = home

	path := filepath.Join(home, "config.yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Home = home
	return cfg, nil
}
