// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/waypoint/internal/config"
)

// TestRootCmd_VersionFlag tests if the --version flag works correctly.
func TestRootCmd_VersionFlag(t *testing.T) {
	resetForTest(t)
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "waypoint version Alpha")
}

func TestRootCmd_NoArgs(t *testing.T) {
	resetForTest(t)
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{})

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "drives a browser toward a goal")
	for _, sub := range []string{"run", "answer", "memory", "profile", "version"} {
		assert.Contains(t, out.String(), sub)
	}
}

func TestVersionCommand(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "waypoint Alpha\n", out)
}

func TestInitializeConfig_FlagOverrides(t *testing.T) {
	resetForTest(t)
	runCmd := newRunCmd()
	require.NoError(t, runCmd.ParseFlags([]string{"--max-iterations", "7", "--headless=false", "--start-url", "https://jobs.example.com"}))

	v := viper.New()
	config.SetDefaults(v)
	require.NoError(t, initializeConfig(runCmd, v))
	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Agent.MaxIterations)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "https://jobs.example.com", cfg.Browser.StartURL)
	assert.Equal(t, 0.5, cfg.Agent.ConfidenceGate, "untouched keys keep their defaults")
}

func TestInitializeConfig_UnsetFlagsKeepDefaults(t *testing.T) {
	resetForTest(t)
	runCmd := newRunCmd()
	require.NoError(t, runCmd.ParseFlags(nil))

	v := viper.New()
	config.SetDefaults(v)
	require.NoError(t, initializeConfig(runCmd, v))
	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Agent.MaxIterations)
	assert.True(t, cfg.Browser.Headless)
}

func TestInitializeConfig_EnvironmentOverrides(t *testing.T) {
	resetForTest(t)
	t.Setenv("WAYPOINT_AGENT_MAX_ITERATIONS", "12")
	t.Setenv("WAYPOINT_AGENT_SETTLE_DELAY", "250ms")

	v := viper.New()
	config.SetDefaults(v)
	require.NoError(t, initializeConfig(newMemoryCmd(), v))
	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Agent.MaxIterations)
	assert.Equal(t, 250*time.Millisecond, cfg.Agent.SettleDelay)
}

func TestGetConfigFromContext(t *testing.T) {
	_, err := getConfigFromContext(context.Background())
	assert.Error(t, err)

	cfg := config.NewDefaultConfig()
	got, err := getConfigFromContext(context.WithValue(context.Background(), configKey, cfg))
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}
