package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/newsline/internal/config"
)

const testSnapshot = `{"id":"a1","title":"Oil prices climb","content":"Brent crude rose after OPEC cut output again.","published_at":"2024-03-01T09:00:00Z","author":"Reuters"}
{"id":"a2","title":"Chesapeake agrees merger","content":"The deal creates the largest gas producer in the country.","published_at":"2024-01-11T12:00:00Z","entities":["Chesapeake","Southwestern"]}
{"id":"a3","title":"Regulators review gas deal","content":"The FTC opened a review of the merger.","published_at":"2024-02-20T15:30:00Z"}
`

// projectConfig keeps every term of a tiny corpus and every timeline group.
const projectConfig = `search:
  min_df: 1
  max_df: 1.0
timeline:
  min_confidence: 0
  importance_threshold: 0
`

// newTestProject isolates config and logs in temp directories and selects
// the offline embedder and oracle. It returns the project directory.
func newTestProject(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv(config.EnvPrefix+"EMBEDDINGS_PROVIDER", "static")
	t.Setenv(config.EnvPrefix+"ORACLE_PROVIDER", "stub")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.ProjectConfigName), []byte(projectConfig), 0o644))
	return dir
}

// writeFile writes content under dir and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// indexSnapshot indexes testSnapshot into dir.
func indexSnapshot(t *testing.T, dir string) {
	t.Helper()
	path := writeFile(t, t.TempDir(), "snapshot.jsonl", testSnapshot)
	_, err := execute(t, "", "--dir", dir, "index", path)
	require.NoError(t, err)
}
