package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/martinemde/agentcore/agent"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
model:
  provider: anthropic
  model: claude-opus-4-6
  max_retries: 5
  base_delay: 500ms
max_iterations: 10
tools:
  max_concurrency: 3
  call_timeout: 10s
  breaker_threshold: 4
  terminate_on_unknown_calls: true
history:
  strategy: truncate
  max_messages: 50
  target_message_count: 15
store:
  backend: sqlite
  path: /tmp/sessions.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "claude-opus-4-6", cfg.Model.Model)
	require.Equal(t, 10, cfg.MaxIterations)

	// Fields absent from the file keep their defaults.
	require.Equal(t, "60s", cfg.Tools.ApprovalTimeout)
	require.Equal(t, 0.8, cfg.History.ContextPercent)

	policy := cfg.RetryPolicy()
	require.Equal(t, 5, policy.MaxRetries)
	require.Equal(t, 500*time.Millisecond, policy.BaseDelay)

	sched := cfg.SchedulerConfig()
	require.Equal(t, 3, sched.MaxConcurrency)
	require.Equal(t, 10*time.Second, sched.CallTimeout)
	require.Equal(t, 4, sched.BreakerThreshold)
	require.True(t, sched.TerminateOnUnknownCalls)

	hist := cfg.HistoryManagerConfig()
	require.Equal(t, agent.StrategyTruncate, hist.Strategy)
	require.Equal(t, 50, hist.MaxMessages)
	require.Equal(t, 15, hist.TargetMessageCount)
	require.Equal(t, 200000, hist.ContextWindow)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*EngineConfig)
	}{
		{"empty model", func(c *EngineConfig) { c.Model.Model = "" }},
		{"negative iterations", func(c *EngineConfig) { c.MaxIterations = -1 }},
		{"negative retries", func(c *EngineConfig) { c.Model.MaxRetries = -1 }},
		{"bad percent", func(c *EngineConfig) { c.History.ContextPercent = 1.5 }},
		{"bad strategy", func(c *EngineConfig) { c.History.Strategy = "compress" }},
		{"bad backend", func(c *EngineConfig) { c.Store.Backend = "redis" }},
		{"file backend without path", func(c *EngineConfig) { c.Store.Backend = "file"; c.Store.Path = "" }},
		{"bad duration", func(c *EngineConfig) { c.Tools.CallTimeout = "soon" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	require.NoError(t, Default().Validate())
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := writeConfig(t, "model: [not a mapping")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "max_iterations: -2\n")
	_, err := Load(path)
	require.Error(t, err)
}
