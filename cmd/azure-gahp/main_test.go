package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqnkjsx/htcondor/gahp"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, gahp.DefaultWorkers, cfg.Dispatcher.Workers)
	assert.Equal(t, gahp.DefaultQueueDepth, cfg.Dispatcher.QueueDepth)
	assert.Equal(t, 10*time.Second, cfg.Poll.Interval.Duration)
	assert.Equal(t, 45*time.Minute, cfg.Poll.Timeout.Duration)
	assert.Equal(t, defaultLogFile, cfg.Log.File)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeFile(t, "gahp.toml", `
[dispatcher]
workers = 3

[poll]
interval = "2s"
timeout = "90m"

[log]
level = "warn"
debug = true

[azure]
simulator_endpoint = "http://127.0.0.1:4566"
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Dispatcher.Workers)
	assert.Equal(t, gahp.DefaultQueueDepth, cfg.Dispatcher.QueueDepth)
	assert.Equal(t, 2*time.Second, cfg.Poll.Interval.Duration)
	assert.Equal(t, 90*time.Minute, cfg.Poll.Timeout.Duration)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Log.Debug)
	assert.Equal(t, "http://127.0.0.1:4566", cfg.Azure.SimulatorEndpoint)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := map[string]string{
		"unknown key":    "[dispatcher]\nthreads = 4\n",
		"bad duration":   "[poll]\ninterval = \"soon\"\n",
		"zero workers":   "[dispatcher]\nworkers = 0\n",
		"malformed toml": "[dispatcher\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := loadConfig(writeFile(t, "gahp.toml", content))
			assert.Error(t, err)
		})
	}
}

func TestRunServesUntilQuit(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "gahp.log")
	var out bytes.Buffer

	err := run([]string{"--log-file", logFile, "--workers", "2"}, strings.NewReader("VERSION\r\nAZURE_NOPE r1 c s\r\nRESULTS\r\nQUIT\r\n"), &out)
	require.NoError(t, err)

	assert.Equal(t, strings.Join([]string{
		gahp.Version,
		"S " + gahp.Version,
		"E",
		"S 0",
		"S",
		"",
	}, "\r\n"), out.String())

	logged, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(logged), `"message":"starting"`)
	assert.Contains(t, string(logged), `"message":"stopped"`)
}

func TestRunRejectsBadConfig(t *testing.T) {
	err := run([]string{"--config", filepath.Join(t.TempDir(), "missing.toml")}, strings.NewReader(""), &bytes.Buffer{})
	assert.Error(t, err)
}
