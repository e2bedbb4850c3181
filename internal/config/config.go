// Package config handles trialscribe configuration loading and validation.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure for trialscribe.
type Config struct {
	// Model selects the generation backend as "provider:model".
	Model string `yaml:"model" mapstructure:"model"`

	// LLM contains generation settings.
	LLM LLMConfig `yaml:"llm" mapstructure:"llm"`

	// Loop contains draft/check/revise loop settings.
	Loop LoopConfig `yaml:"loop" mapstructure:"loop"`

	// Retrieval contains guidance-retrieval settings.
	Retrieval RetrievalConfig `yaml:"retrieval" mapstructure:"retrieval"`

	// Store contains database settings.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Logging contains logging settings.
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// LLMConfig contains generation settings.
type LLMConfig struct {
	// Temperature is the sampling temperature passed to the provider.
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`

	// MaxTokens caps the response length. Zero means the provider default.
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// LoopConfig contains loop settings.
type LoopConfig struct {
	// MaxIterations bounds revision calls per run.
	MaxIterations int `yaml:"max_iterations" mapstructure:"max_iterations"`
}

// RetrievalConfig contains guidance-retrieval settings.
type RetrievalConfig struct {
	// TopK is the number of snippets retrieved per run.
	TopK int `yaml:"top_k" mapstructure:"top_k"`

	// PreviewLen bounds each snippet in the formatted context.
	PreviewLen int `yaml:"preview_len" mapstructure:"preview_len"`
}

// StoreConfig contains database settings.
type StoreConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Model: "anthropic:claude-3-5-sonnet-20241022",
		LLM: LLMConfig{
			Temperature: 0.2,
			MaxTokens:   0,
		},
		Loop: LoopConfig{
			MaxIterations: 2,
		},
		Retrieval: RetrievalConfig{
			TopK:       4,
			PreviewLen: 350,
		},
		Store: StoreConfig{
			Path: "trialscribe.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if !strings.Contains(c.Model, ":") {
		return fmt.Errorf("model must be provider:model, got %q", c.Model)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be in [0, 2], got %v", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("llm.max_tokens must be ≥ 0, got %d", c.LLM.MaxTokens)
	}
	if c.Loop.MaxIterations < 0 {
		return fmt.Errorf("loop.max_iterations must be ≥ 0, got %d", c.Loop.MaxIterations)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be > 0, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.PreviewLen <= 0 {
		return fmt.Errorf("retrieval.preview_len must be > 0, got %d", c.Retrieval.PreviewLen)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
