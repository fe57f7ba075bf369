package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_HasCommands(t *testing.T) {
	// Given: the root command
	root := NewRootCmd()

	// When: listing subcommands
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	// Then: every top-level command is registered
	for _, want := range []string{"index", "search", "timeline", "stats", "doctor", "config", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	root := NewRootCmd()

	dir := root.PersistentFlags().Lookup("dir")
	require.NotNil(t, dir)
	assert.Equal(t, ".", dir.DefValue)
	assert.Equal(t, "C", dir.Shorthand)
	assert.NotNil(t, root.PersistentFlags().Lookup("debug"))
}

func TestRootCmd_SilencesUsageOnError(t *testing.T) {
	newTestProject(t)

	out, err := execute(t, "", "search")

	// A missing query is a usage error, but no usage text reaches stdout.
	require.Error(t, err)
	assert.NotContains(t, out, "Usage:")
}

func TestRootCmd_UnknownCommand(t *testing.T) {
	_, err := execute(t, "", "bogus")

	assert.Error(t, err)
}

func TestRootCmd_ProfileFlags(t *testing.T) {
	// Given: a project and a heap profile request
	newTestProject(t)
	heap := filepath.Join(t.TempDir(), "heap.prof")

	// When: running a cheap command
	_, err := execute(t, "", "--mem-profile", heap, "version", "--short")

	// Then: the profile is written when the command finishes
	require.NoError(t, err)
	info, err := os.Stat(heap)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
