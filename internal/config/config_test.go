// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "waypoint", cfg.Logger.ServiceName)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 30*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 50, cfg.Agent.MaxIterations)
	assert.Equal(t, 0.5, cfg.Agent.ConfidenceGate)
	assert.Equal(t, 15, cfg.Memory.ShortTermCapacity)
	assert.Equal(t, 100, cfg.Memory.EpisodeCapacity)
	assert.Equal(t, 7*24*time.Hour, cfg.Memory.SelectorValidity)
	assert.Equal(t, 0.5, cfg.Memory.LookupMinSuccessRate)
	assert.Equal(t, 0.3, cfg.Memory.FailureMinSuccessRate)
	assert.Equal(t, 0.90, cfg.Answers.AutoThreshold)
	assert.Equal(t, 0.75, cfg.Answers.SuggestThreshold)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.PowerfulModel)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Validate(), "defaults must be valid")

		invalidViewport := *cfg
		invalidViewport.Browser.ViewportWidth = 0
		err := invalidViewport.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "viewport_width")

		invalidBackend := *cfg
		invalidBackend.Store.Backend = "redis"
		err = invalidBackend.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported store.backend")

		missingPostgres := *cfg
		missingPostgres.Store.Backend = BackendPostgres
		err = missingPostgres.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store.postgres_url is required")

		badPoll := *cfg
		badPoll.Recovery.ChallengeTimeout = time.Millisecond
		assert.Error(t, badPoll.Validate())
	})

	t.Run("Agent Validation", func(t *testing.T) {
		valid := AgentConfig{MaxIterations: 10, ConfidenceGate: 0.5, HistoryWindow: 3}
		assert.NoError(t, valid.Validate())

		noIterations := valid
		noIterations.MaxIterations = 0
		assert.ErrorContains(t, noIterations.Validate(), "max_iterations")

		gate := valid
		gate.ConfidenceGate = 1.2
		assert.ErrorContains(t, gate.Validate(), "confidence_gate")
	})

	t.Run("Answers Validation", func(t *testing.T) {
		valid := AnswersConfig{AutoThreshold: 0.9, SuggestThreshold: 0.75, MatchThreshold: 0.6, KeywordTagLength: 32}
		assert.NoError(t, valid.Validate())

		inverted := valid
		inverted.SuggestThreshold = 0.95
		assert.ErrorContains(t, inverted.Validate(), "suggest_threshold must not exceed auto_threshold")

		outOfRange := valid
		outOfRange.MatchThreshold = -0.1
		assert.ErrorContains(t, outOfRange.Validate(), "between 0.0 and 1.0")
	})

	t.Run("Memory Validation", func(t *testing.T) {
		cfg := NewDefaultConfig().Memory
		assert.NoError(t, cfg.Validate())

		noFlush := cfg
		noFlush.FlushEvery = 0
		assert.ErrorContains(t, noFlush.Validate(), "flush_every")

		badRate := cfg
		badRate.FailureMinSuccessRate = 2
		assert.ErrorContains(t, badRate.Validate(), "success rate")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
agent:
  max_iterations: 12
  confidence_gate: 0.65
answers:
  auto_threshold: 0.95
memory:
  dir: /tmp/waypoint-memory
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, 12, cfg.Agent.MaxIterations)
		assert.Equal(t, 0.65, cfg.Agent.ConfidenceGate)
		assert.Equal(t, 0.95, cfg.Answers.AutoThreshold)
		assert.Equal(t, "/tmp/waypoint-memory", cfg.Memory.Dir)
		// Untouched keys keep their defaults.
		assert.Equal(t, 0.75, cfg.Answers.SuggestThreshold)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("agent.max_iterations", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "max_iterations must be greater than 0")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "test-key")

		v := viper.New()
		SetDefaults(v)
		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "test-key", cfg.LLM.APIKey)
	})

	t.Run("Home Paths Are Expanded", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.NotContains(t, cfg.Profile.Path, "~")
		assert.NotContains(t, cfg.Memory.Dir, "~")
	})
}
