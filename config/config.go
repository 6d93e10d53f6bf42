// Package config provides configuration loading and management for
// briefmill.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/briefmill/briefmill/grading"
	"github.com/briefmill/briefmill/llm"
	"github.com/briefmill/briefmill/workflow"
)

// Config represents the complete briefmill configuration.
type Config struct {
	Store      StoreConfig           `yaml:"store"`
	NATS       NATSConfig            `yaml:"nats"`
	Completion CompletionConfig      `yaml:"completion"`
	Verifier   VerifierConfig        `yaml:"verifier"`
	Quality    grading.QualityPolicy `yaml:"quality"`
	Engine     EngineConfig          `yaml:"engine"`
}

// StoreConfig configures the persistent store.
type StoreConfig struct {
	// Path is the SQLite database file (default: ~/.briefmill/briefmill.db).
	Path string `yaml:"path"`
}

// NATSConfig configures the NATS connection used for side-channel events.
type NATSConfig struct {
	// URL is the NATS server URL (empty disables event emission).
	URL string `yaml:"url"`
}

// CompletionConfig configures the completion service.
type CompletionConfig struct {
	// Endpoints is the fallback chain, tried in order.
	Endpoints []llm.EndpointConfig `yaml:"endpoints"`

	// Temperature controls randomness (0.0-1.0).
	Temperature float64 `yaml:"temperature"`

	// Timeout is the maximum time to wait for completion responses.
	Timeout time.Duration `yaml:"timeout"`

	// ReasoningBudget is the extended-reasoning token budget granted to
	// phases flagged for it.
	ReasoningBudget int `yaml:"reasoning_budget"`
}

// VerifierConfig configures the external citation verification service.
type VerifierConfig struct {
	// URL is the verification service base URL (empty = no semantic
	// verification; citations stay pending for manual sign-off).
	URL string `yaml:"url"`

	// APIKey authenticates against the service.
	APIKey string `yaml:"api_key"`
}

// EngineConfig configures engine behavior.
type EngineConfig struct {
	// Production enables the CRITICAL-violation force-block.
	Production bool `yaml:"production"`

	// WordLimit caps drafted motions; 0 disables the check.
	WordLimit int `yaml:"word_limit"`

	// Jurisdiction selects mandated disclosures during assembly scans.
	Jurisdiction string `yaml:"jurisdiction"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "", // Resolved to ~/.briefmill/briefmill.db at open
		},
		NATS: NATSConfig{
			URL: "",
		},
		Completion: CompletionConfig{
			Endpoints: []llm.EndpointConfig{
				{Provider: "anthropic", Model: "claude-sonnet-4-20250514", MaxTokens: 8192},
			},
			Temperature:     0.2,
			Timeout:         5 * time.Minute,
			ReasoningBudget: 16000,
		},
		Verifier: VerifierConfig{
			URL: "",
		},
		Quality: grading.DefaultQualityPolicy(),
		Engine: EngineConfig{
			Production:   false,
			WordLimit:    0,
			Jurisdiction: "federal",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Completion.Endpoints) == 0 {
		return fmt.Errorf("completion.endpoints must list at least one endpoint")
	}
	for i, ep := range c.Completion.Endpoints {
		if ep.Provider == "" {
			return fmt.Errorf("completion.endpoints[%d].provider is required", i)
		}
		if ep.Model == "" {
			return fmt.Errorf("completion.endpoints[%d].model is required", i)
		}
	}
	if c.Completion.Temperature < 0 || c.Completion.Temperature > 1 {
		return fmt.Errorf("completion.temperature must be between 0 and 1")
	}
	if err := c.Quality.Validate(); err != nil {
		return fmt.Errorf("quality: %w", err)
	}
	for tier := range c.Quality.TierThresholds {
		if !tier.Valid() {
			return fmt.Errorf("quality.tier_thresholds: unknown tier %q", tier)
		}
	}
	return nil
}

// StorePath resolves the SQLite database location.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".briefmill", "briefmill.db"), nil
}

// LoadFromFile loads configuration from a YAML file, layered over defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if len(other.Completion.Endpoints) > 0 {
		c.Completion.Endpoints = other.Completion.Endpoints
	}
	if other.Completion.Temperature != 0 {
		c.Completion.Temperature = other.Completion.Temperature
	}
	if other.Completion.Timeout != 0 {
		c.Completion.Timeout = other.Completion.Timeout
	}
	if other.Completion.ReasoningBudget != 0 {
		c.Completion.ReasoningBudget = other.Completion.ReasoningBudget
	}
	if other.Verifier.URL != "" {
		c.Verifier.URL = other.Verifier.URL
	}
	if other.Verifier.APIKey != "" {
		c.Verifier.APIKey = other.Verifier.APIKey
	}
	if len(other.Quality.TierThresholds) > 0 {
		c.Quality.TierThresholds = other.Quality.TierThresholds
	}
	if len(other.Quality.CitationMinimums) > 0 {
		c.Quality.CitationMinimums = other.Quality.CitationMinimums
	}
	if other.Quality.DefaultCitationMinimum != 0 {
		c.Quality.DefaultCitationMinimum = other.Quality.DefaultCitationMinimum
	}
	if other.Quality.MaxRevisionLoops != 0 {
		c.Quality.MaxRevisionLoops = other.Quality.MaxRevisionLoops
	}
	if other.Engine.Production {
		c.Engine.Production = true
	}
	if other.Engine.WordLimit != 0 {
		c.Engine.WordLimit = other.Engine.WordLimit
	}
	if other.Engine.Jurisdiction != "" {
		c.Engine.Jurisdiction = other.Engine.Jurisdiction
	}
}

// TierFor parses a tier string from order metadata, defaulting to standard.
func TierFor(s string) workflow.Tier {
	t := workflow.Tier(s)
	if t.Valid() {
		return t
	}
	return workflow.TierStandard
}
