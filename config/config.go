// Package config loads engine configuration from YAML and converts it into
// the option types the llm and agent packages consume.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/martinemde/agentcore/agent"
	"github.com/martinemde/agentcore/llm"
)

// ModelConfig selects the provider and model and its retry behavior.
type ModelConfig struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	Streaming   bool     `yaml:"streaming"`

	MaxRetries        int     `yaml:"max_retries"`
	BaseDelay         string  `yaml:"base_delay"`
	MaxDelay          string  `yaml:"max_delay"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// ToolsConfig bounds tool call execution.
type ToolsConfig struct {
	MaxConcurrency          int            `yaml:"max_concurrency"`
	CallTimeout             string         `yaml:"call_timeout"`
	MaxRetries              int            `yaml:"max_retries"`
	TerminateOnUnknownCalls bool           `yaml:"terminate_on_unknown_calls"`
	BreakerThreshold        int            `yaml:"breaker_threshold"`
	ApprovalTimeout         string         `yaml:"approval_timeout"`
	ResultCharLimits        map[string]int `yaml:"result_char_limits,omitempty"`
	ResultLineLimits        map[string]int `yaml:"result_line_limits,omitempty"`
}

// HistoryConfig controls context reduction.
type HistoryConfig struct {
	SystemPrompt           string  `yaml:"system_prompt"`
	Strategy               string  `yaml:"strategy"` // "summarize" or "truncate"
	ContextPercent         float64 `yaml:"context_percent"`
	TokenBudget            int     `yaml:"token_budget"`
	MaxMessages            int     `yaml:"max_messages"`
	TargetMessageCount     int     `yaml:"target_message_count"`
	SummarizationThreshold int     `yaml:"summarization_threshold"`
	TailWindow             int     `yaml:"tail_window"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // "memory", "file", or "sqlite"
	Path    string `yaml:"path"`
}

// EngineConfig is the root document.
type EngineConfig struct {
	Model         ModelConfig   `yaml:"model"`
	MaxIterations int           `yaml:"max_iterations"`
	Tools         ToolsConfig   `yaml:"tools"`
	History       HistoryConfig `yaml:"history"`
	Store         StoreConfig   `yaml:"store"`
}

// Default returns the configuration used when no file is present.
func Default() *EngineConfig {
	return &EngineConfig{
		Model: ModelConfig{
			Model:             "claude-sonnet-4-5",
			MaxRetries:        3,
			BaseDelay:         "1s",
			MaxDelay:          "30s",
			BackoffMultiplier: 2.0,
		},
		MaxIterations: 25,
		Tools: ToolsConfig{
			MaxConcurrency:  5,
			CallTimeout:     "30s",
			MaxRetries:      2,
			ApprovalTimeout: "60s",
		},
		History: HistoryConfig{
			Strategy:               "summarize",
			ContextPercent:         0.8,
			MaxMessages:            200,
			TargetMessageCount:     40,
			SummarizationThreshold: 5,
			TailWindow:             10,
		},
		Store: StoreConfig{Backend: "memory"},
	}
}

// Load reads a YAML config file over the defaults. A missing file returns
// the defaults without error.
func Load(path string) (*EngineConfig, error) {
	cfg := Default()
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
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot honor.
func (c *EngineConfig) Validate() error {
	if c.Model.Model == "" {
		return fmt.Errorf("model.model is required")
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("max_iterations cannot be negative")
	}
	if c.Model.MaxRetries < 0 || c.Tools.MaxRetries < 0 {
		return fmt.Errorf("retry counts cannot be negative")
	}
	if c.History.ContextPercent < 0 || c.History.ContextPercent > 1 {
		return fmt.Errorf("history.context_percent must be within [0, 1]")
	}
	switch c.History.Strategy {
	case "", "summarize", "truncate":
	default:
		return fmt.Errorf("history.strategy must be summarize or truncate, got %q", c.History.Strategy)
	}
	switch c.Store.Backend {
	case "", "memory", "file", "sqlite":
	default:
		return fmt.Errorf("store.backend must be memory, file, or sqlite, got %q", c.Store.Backend)
	}
	if (c.Store.Backend == "file" || c.Store.Backend == "sqlite") && c.Store.Path == "" {
		return fmt.Errorf("store.path is required for the %s backend", c.Store.Backend)
	}
	for _, d := range []string{c.Model.BaseDelay, c.Model.MaxDelay, c.Tools.CallTimeout, c.Tools.ApprovalTimeout} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid duration %q: %w", d, err)
		}
	}
	return nil
}

// RetryPolicy converts the model retry knobs.
func (c *EngineConfig) RetryPolicy() *llm.RetryPolicy {
	policy := llm.DefaultRetryPolicy()
	policy.MaxRetries = c.Model.MaxRetries
	if d := duration(c.Model.BaseDelay); d > 0 {
		policy.BaseDelay = d
	}
	if d := duration(c.Model.MaxDelay); d > 0 {
		policy.MaxDelay = d
	}
	if c.Model.BackoffMultiplier > 0 {
		policy.BackoffMultiplier = c.Model.BackoffMultiplier
	}
	return policy
}

// SchedulerConfig converts the tool execution knobs.
func (c *EngineConfig) SchedulerConfig() agent.SchedulerConfig {
	cfg := agent.DefaultSchedulerConfig()
	if c.Tools.MaxConcurrency > 0 {
		cfg.MaxConcurrency = c.Tools.MaxConcurrency
	}
	if d := duration(c.Tools.CallTimeout); d > 0 {
		cfg.CallTimeout = d
	}
	cfg.MaxRetries = c.Tools.MaxRetries
	cfg.TerminateOnUnknownCalls = c.Tools.TerminateOnUnknownCalls
	cfg.BreakerThreshold = c.Tools.BreakerThreshold
	if d := duration(c.Tools.ApprovalTimeout); d > 0 {
		cfg.ApprovalTimeout = d
	}
	cfg.CharLimits = c.Tools.ResultCharLimits
	cfg.LineLimits = c.Tools.ResultLineLimits
	return cfg
}

// HistoryManagerConfig converts the reduction knobs. The context window is
// taken from the model catalog.
func (c *EngineConfig) HistoryManagerConfig() agent.HistoryConfig {
	cfg := agent.DefaultHistoryConfig()
	cfg.SystemPrompt = c.History.SystemPrompt
	if c.History.Strategy != "" {
		cfg.Strategy = agent.ReductionStrategy(c.History.Strategy)
	}
	cfg.ContextWindow = llm.ContextWindowFor(c.Model.Model)
	if c.History.ContextPercent > 0 {
		cfg.ContextPercent = c.History.ContextPercent
	}
	cfg.TokenBudget = c.History.TokenBudget
	if c.History.MaxMessages > 0 {
		cfg.MaxMessages = c.History.MaxMessages
	}
	if c.History.TargetMessageCount > 0 {
		cfg.TargetMessageCount = c.History.TargetMessageCount
	}
	if c.History.SummarizationThreshold > 0 {
		cfg.SummarizationThreshold = c.History.SummarizationThreshold
	}
	if c.History.TailWindow > 0 {
		cfg.TailWindow = c.History.TailWindow
	}
	return cfg
}

func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
