// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/waypoint/internal/config"
	"github.com/xkilldash9x/waypoint/internal/llmclient"
	"github.com/xkilldash9x/waypoint/internal/observability"
	"github.com/xkilldash9x/waypoint/internal/store"
)

// resetForTest restores package state and silences the logger.
func resetForTest(t *testing.T) {
	t.Helper()

	cfgFile = ""
	observability.ResetForTest()
	observability.Initialize(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"}, zapcore.AddSync(io.Discard))

	t.Cleanup(func() {
		cfgFile = ""
		newLLMClient = llmclient.NewClient
		openStore = store.Open
		launchBrowser = defaultLaunchBrowser
		observability.ResetForTest()
	})
}

var defaultLaunchBrowser = launchBrowser

// testEnv is an isolated data directory with a config file pointing into it.
type testEnv struct {
	dir        string
	configPath string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	resetForTest(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "waypoint.yaml")
	content := strings.Join([]string{
		"memory:",
		"  dir: " + filepath.Join(dir, "memory"),
		"store:",
		"  backend: sqlite",
		"  sqlite_path: " + filepath.Join(dir, "answers.db"),
		"profile:",
		"  path: " + filepath.Join(dir, "profile.yaml"),
		"agent:",
		"  settle_delay: 0s",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))
	return &testEnv{dir: dir, configPath: configPath}
}

func (e *testEnv) memoryConfig() config.MemoryConfig {
	cfg := config.NewDefaultConfig().Memory
	cfg.Dir = filepath.Join(e.dir, "memory")
	return cfg
}

// execute runs the CLI with input on stdin and returns everything written to
// stdout and stderr.
func (e *testEnv) execute(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(input))
	root.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}
