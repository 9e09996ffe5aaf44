package commands

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func useTempDatabase(t *testing.T) {
	t.Helper()
	t.Setenv("CHATMEMORY_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("COMPLETION_MODE", "mock")
	t.Setenv("LOG_LEVEL", "ERROR")
}

func TestSweepCommand(t *testing.T) {
	useTempDatabase(t)
	out, err := runCLI(t, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 0 expired turns")
}

func TestClearAndContextCommands(t *testing.T) {
	useTempDatabase(t)

	out, err := runCLI(t, "clear", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 0 turns for user 42")

	out, err = runCLI(t, "context", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "[]")
}

func TestContextCommandRejectsBadID(t *testing.T) {
	useTempDatabase(t)
	_, err := runCLI(t, "context", "abc")
	assert.ErrorContains(t, err, "invalid external id")
}
