package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CZERTAINLY/echo-processor/internal/model"
)

var envNames = []string{
	"ECHOCONFIG",
	"EXECUTION_ID",
	"LOG_LEVEL",
	"LOG_PATH",
	"ECHO_EXECUTION_ID",
	"ECHO_LOG_LEVEL",
	"ECHO_LOG_PATH",
	"ECHO_MATCH_EXECUTION_ID",
	"ECHO_CALLBACK_TIMEOUT",
	"ECHO_CALLBACK_QUEUE_SIZE",
}

// cleanEnv unsets every variable the worker reads and sets env instead.
func cleanEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for _, name := range envNames {
		t.Setenv(name, "") // restores the original value on cleanup
		require.NoError(t, os.Unsetenv(name))
	}
	for name, value := range env {
		t.Setenv(name, value)
	}
}

func runConfig(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"config"}, args...))
	var out bytes.Buffer
	cmd.SetOut(&out)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestInitWorker(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "echo.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
execution_id: from-file
callback:
  timeout: 2s
`), 0o600))

	type given struct {
		env  map[string]string
		args []string
	}
	type then struct {
		executionID string
		level       string
		path        string
		timeout     time.Duration
		match       bool
	}
	var testCases = []struct {
		scenario string
		given    given
		then     then
	}{
		{
			"defaults",
			given{},
			then{"unknown", "Info", model.LogStderr, 5 * time.Second, false},
		},
		{
			"legacy env",
			given{env: map[string]string{"EXECUTION_ID": "legacy", "LOG_LEVEL": "Warning", "LOG_PATH": "discard"}},
			then{"legacy", "Warning", model.LogDiscard, 5 * time.Second, false},
		},
		{
			"prefixed env wins over legacy",
			given{env: map[string]string{"EXECUTION_ID": "legacy", "ECHO_EXECUTION_ID": "prefixed"}},
			then{"prefixed", "Info", model.LogStderr, 5 * time.Second, false},
		},
		{
			"flags win over env",
			given{
				env:  map[string]string{"EXECUTION_ID": "legacy", "LOG_LEVEL": "Warning", "ECHO_MATCH_EXECUTION_ID": "false"},
				args: []string{"--execution-id", "flag", "--log-level", "Error", "--log", "discard", "--match-execution-id"},
			},
			then{"flag", "Error", model.LogDiscard, 5 * time.Second, true},
		},
		{
			"config file",
			given{args: []string{"--config", cfgFile}},
			then{"from-file", "Info", model.LogStderr, 2 * time.Second, false},
		},
		{
			"env wins over config file",
			given{
				env:  map[string]string{"EXECUTION_ID": "legacy", "ECHO_CALLBACK_TIMEOUT": "3s"},
				args: []string{"--config", cfgFile},
			},
			then{"legacy", "Info", model.LogStderr, 3 * time.Second, false},
		},
		{
			"config file from env",
			given{env: map[string]string{"ECHOCONFIG": cfgFile}},
			then{"from-file", "Info", model.LogStderr, 2 * time.Second, false},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			cleanEnv(t, tc.given.env)
			out, err := runConfig(t, tc.given.args...)
			require.NoError(t, err)

			require.Equal(t, tc.then.executionID, config.ExecutionID)
			require.Equal(t, tc.then.level, config.Log.Level)
			require.Equal(t, tc.then.path, config.Log.Path)
			require.Equal(t, tc.then.timeout, config.Callback.Timeout)
			require.Equal(t, tc.then.match, config.MatchExecutionID)
			require.Contains(t, out, "execution_id: "+tc.then.executionID)
		})
	}
}

func TestInitWorkerInvalid(t *testing.T) {
	cleanEnv(t, map[string]string{"ECHO_CALLBACK_QUEUE_SIZE": "0", "LOG_PATH": "discard"})
	_, err := runConfig(t)
	require.Error(t, err)
	var cerr *model.ConfigError
	require.ErrorAs(t, err, &cerr)
	require.ErrorContains(t, err, "callback.queue_size")

	cleanEnv(t, map[string]string{"ECHOCONFIG": filepath.Join(t.TempDir(), "missing.yaml")})
	_, err = runConfig(t)
	require.ErrorContains(t, err, "reading config file")
}
