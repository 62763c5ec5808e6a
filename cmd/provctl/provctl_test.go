package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/andrej220/provchain/internal/lg"
	"github.com/andrej220/provchain/pkg/config"
	"github.com/andrej220/provchain/pkg/executor"
	"github.com/andrej220/provchain/pkg/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSettings = `
buildDir: /opt/build
machines:
  - {name: builder, host: 10.0.0.5, user: vagrant, password: x, insecureIgnoreHostKey: true}
`

type recordingRunner struct {
	commands []string
	err      error
	closed   bool
}

func (r *recordingRunner) Execute(ctx context.Context, m *machine.Machine, command string, privileged bool) (*executor.Output, error) {
	r.commands = append(r.commands, command)
	if r.err != nil {
		return nil, r.err
	}
	return &executor.Output{}, nil
}

func (r *recordingRunner) Close() error {
	r.closed = true
	return nil
}

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func stubRunner(t *testing.T, r *recordingRunner) {
	t.Helper()
	orig := newRunner
	newRunner = func(*config.Settings, lg.Logger) closingRunner { return r }
	t.Cleanup(func() { newRunner = orig })
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", "--config", writeSettings(t, testSettings))
	require.NoError(t, err)
	assert.Contains(t, out, `plan "checkout-tests": 1 step(s)`)
	assert.Contains(t, out, "1. checkout_tests")
	assert.Contains(t, out, "1 machine(s)")
}

func TestValidateCommandRejectsBadSettings(t *testing.T) {
	_, err := execute(t, "validate", "--config", writeSettings(t, "machines: []\n"))
	assert.Error(t, err)

	_, err = execute(t, "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	runner := &recordingRunner{}
	stubRunner(t, runner)
	report := filepath.Join(t.TempDir(), "out", "report.json")

	out, err := execute(t, "run", "--config", writeSettings(t, testSettings), "--machine", "builder",
		"--build-dir", "/srv/build", "--report", report, "--log-format", "json")
	require.NoError(t, err)
	assert.Equal(t, []string{"cd /srv/build/builder; rake checkout_tests"}, runner.commands)
	assert.True(t, runner.closed)
	assert.Contains(t, out, "on builder: completed")

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	var rep map[string]any
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, "completed", rep["state"])
}

func TestRunCommandFailure(t *testing.T) {
	runner := &recordingRunner{err: executor.NonZeroExit(1, "rake aborted!")}
	stubRunner(t, runner)

	out, err := execute(t, "run", "--config", writeSettings(t, testSettings), "--machine", "builder")
	assert.ErrorIs(t, err, executor.ErrNonZeroExit)
	assert.Contains(t, out, "halted (error at step 1)")
}

func TestRunCommandUnknownMachine(t *testing.T) {
	runner := &recordingRunner{}
	stubRunner(t, runner)

	_, err := execute(t, "run", "--config", writeSettings(t, testSettings), "--machine", "ghost")
	assert.ErrorIs(t, err, machine.ErrNotFound)
	assert.Empty(t, runner.commands)

	_, err = execute(t, "run", "--config", writeSettings(t, testSettings))
	assert.Error(t, err, "machine flag is required")
}
