// Package config holds the adjudicator configuration: YAML file with
// defaults, environment-variable overrides for provider credentials,
// and hot-reloadable direction lexicons.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all adjudicator configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// HTTP server
	Server ServerConfig `yaml:"server"`

	// Panel evaluation
	Panel PanelConfig `yaml:"panel"`

	// Provider credentials and endpoints
	Providers ProvidersConfig `yaml:"providers"`

	// Web search and page fetching
	Search SearchConfig `yaml:"search"`

	// Explorer gathering
	Explorer ExplorerConfig `yaml:"explorer"`

	// Agentic research
	Research ResearchConfig `yaml:"research"`

	// Verification cache and archive
	Verification VerificationConfig `yaml:"verification"`

	// Direction lexicons for the stub payload's claim-direction inference
	Lexicon LexiconConfig `yaml:"lexicon"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP host.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// PanelConfig configures panel evaluation.
type PanelConfig struct {
	// Models in evaluation order (provider inferred from the name).
	Models []string `yaml:"models"`

	// Agentic research before evaluation (default true).
	Agentic bool `yaml:"agentic"`

	// Budget for an auto-created claim's panel run.
	EvaluationTimeout string `yaml:"evaluation_timeout"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// ProvidersConfig carries per-provider API keys and base URLs. Keys
// are normally supplied through the environment, not the YAML file.
type ProvidersConfig struct {
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	XAIAPIKey       string `yaml:"xai_api_key"`
	XAIBaseURL      string `yaml:"xai_base_url"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	Timeout         string `yaml:"timeout"`
}

// SearchConfig configures the search/fetch toolset.
type SearchConfig struct {
	BraveAPIKey  string `yaml:"brave_api_key"`
	BraveBaseURL string `yaml:"brave_base_url"`
	MCPServerURL string `yaml:"mcp_server_url"`

	// Leaky-bucket rates, requests per second.
	SearchRPS float64 `yaml:"search_rps"`
	FetchRPS  float64 `yaml:"fetch_rps"`

	FetchTimeout string `yaml:"fetch_timeout"`
	MaxResults   int    `yaml:"max_results"`
}

// ExplorerConfig configures multi-strategy evidence gathering.
type ExplorerConfig struct {
	TargetSourceCount int     `yaml:"target_source_count"`
	MaxDomainShare    float64 `yaml:"max_domain_share"`
}

// ResearchConfig configures the per-model agentic researcher.
type ResearchConfig struct {
	MaxTurns          int      `yaml:"max_turns"`
	SufficientSources int      `yaml:"sufficient_sources"`
	SufficientDomains int      `yaml:"sufficient_domains"`
	ResultsPerQuery   int      `yaml:"results_per_query"`
	TargetSites       []string `yaml:"target_sites"`
}

// VerificationConfig configures the verification cache and archive.
type VerificationConfig struct {
	// Providers used for verify runs; defaults to the panel lineup.
	Providers []string `yaml:"providers"`

	// SQLite archive journal path; empty disables the archive.
	ArchivePath string `yaml:"archive_path"`
}

// LexiconConfig holds the directional token lists and an optional
// file to hot-reload them from.
type LexiconConfig struct {
	UpTokens   []string `yaml:"up_tokens"`
	DownTokens []string `yaml:"down_tokens"`

	// Optional YAML file watched for lexicon updates.
	File string `yaml:"file"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "truce",
		Version: "1.0.0",

		Server: ServerConfig{
			Addr:            ":8000",
			ShutdownTimeout: "10s",
		},

		Panel: PanelConfig{
			Models: []string{
				"gpt-4o",
				"grok-3",
				"gemini-2.0-flash-exp",
				"claude-sonnet-4-20250514",
			},
			Agentic:           true,
			EvaluationTimeout: "180s",
			Temperature:       0.1,
			MaxTokens:         2000,
		},

		Providers: ProvidersConfig{
			OpenAIBaseURL: "https://api.openai.com/v1",
			XAIBaseURL:    "https://api.x.ai/v1",
			Timeout:       "120s",
		},

		Search: SearchConfig{
			BraveBaseURL: "https://api.search.brave.com/res/v1",
			SearchRPS:    2,
			FetchRPS:     3,
			FetchTimeout: "10s",
			MaxResults:   10,
		},

		Explorer: ExplorerConfig{
			TargetSourceCount: 20,
			MaxDomainShare:    0.25,
		},

		Research: ResearchConfig{
			MaxTurns:          5,
			SufficientSources: 8,
			SufficientDomains: 4,
			ResultsPerQuery:   5,
			TargetSites: []string{
				"statcan.gc.ca",
				"canada.ca",
				"cbc.ca",
				"reuters.com",
			},
		},

		Verification: VerificationConfig{
			ArchivePath: "data/verifications.db",
		},

		Lexicon: LexiconConfig{
			UpTokens: []string{
				"increase", "increased", "increasing", "rise", "rose",
				"risen", "rising", "grow", "grew", "grown", "growing",
				"up", "higher", "surge", "surged", "climb", "climbed",
				"gain", "gained", "jump", "jumped", "expand", "expanded",
			},
			DownTokens: []string{
				"decrease", "decreased", "decreasing", "decline",
				"declined", "declining", "fall", "fell", "fallen",
				"falling", "drop", "dropped", "down", "lower", "shrink",
				"shrank", "shrunk", "plunge", "plunged", "reduce",
				"reduced", "contract", "contracted",
			},
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults
// when the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Providers.OpenAIAPIKey = v
	}
	if v := os.Getenv("XAI_API_KEY"); v != "" {
		c.Providers.XAIAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Providers.GeminiAPIKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" && c.Providers.GeminiAPIKey == "" {
		c.Providers.GeminiAPIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Providers.AnthropicAPIKey = v
	}
	if v := os.Getenv("BRAVE_SEARCH_API_KEY"); v != "" {
		c.Search.BraveAPIKey = v
	}
	if v := os.Getenv("MCP_BRAVE_SERVER_URL"); v != "" {
		c.Search.MCPServerURL = v
	}
	if v := os.Getenv("TRUCE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("TRUCE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration for obvious misconfiguration.
func (c *Config) Validate() error {
	if len(c.Panel.Models) == 0 {
		return fmt.Errorf("panel.models must not be empty")
	}
	if c.Search.SearchRPS <= 0 || c.Search.FetchRPS <= 0 {
		return fmt.Errorf("search rates must be positive")
	}
	if c.Explorer.TargetSourceCount < 1 {
		return fmt.Errorf("explorer.target_source_count must be at least 1")
	}
	if c.Explorer.MaxDomainShare <= 0 || c.Explorer.MaxDomainShare > 1 {
		return fmt.Errorf("explorer.max_domain_share must be in (0, 1]")
	}
	return nil
}

// VerificationProviders returns the verify lineup, defaulting to the
// panel models.
func (c *Config) VerificationProviders() []string {
	if len(c.Verification.Providers) > 0 {
		return c.Verification.Providers
	}
	return c.Panel.Models
}

// GetProviderTimeout returns the provider HTTP timeout.
func (c *Config) GetProviderTimeout() time.Duration {
	return parseDurationOr(c.Providers.Timeout, 120*time.Second)
}

// GetFetchTimeout returns the page-fetch budget.
func (c *Config) GetFetchTimeout() time.Duration {
	return parseDurationOr(c.Search.FetchTimeout, 10*time.Second)
}

// GetEvaluationTimeout returns the auto-create panel budget.
func (c *Config) GetEvaluationTimeout() time.Duration {
	return parseDurationOr(c.Panel.EvaluationTimeout, 180*time.Second)
}

// GetShutdownTimeout returns the server drain budget.
func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDurationOr(c.Server.ShutdownTimeout, 10*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
