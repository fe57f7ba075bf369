package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/newsline/internal/index"
)

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
		{CheckStatus(9), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCheckResult_JSONStatusIsLowerCase(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "disk_space", Status: StatusWarn})

	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"warn"`)
}

func TestCheckResult_IsCritical(t *testing.T) {
	tests := []struct {
		name     string
		result   CheckResult
		expected bool
	}{
		{"required pass is not critical", CheckResult{Status: StatusPass, Required: true}, false},
		{"required fail is critical", CheckResult{Status: StatusFail, Required: true}, true},
		{"optional fail is not critical", CheckResult{Status: StatusFail}, false},
		{"required warn is not critical", CheckResult{Status: StatusWarn, Required: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.IsCritical())
		})
	}
}

func TestChecker_SummaryStatus(t *testing.T) {
	checker := New(t.TempDir())

	tests := []struct {
		name     string
		results  []CheckResult
		expected string
		critical bool
	}{
		{"all pass", []CheckResult{{Status: StatusPass}, {Status: StatusPass}}, "ready", false},
		{"with warnings", []CheckResult{{Status: StatusPass}, {Status: StatusWarn}}, "ready_with_warnings", false},
		{"with critical failure", []CheckResult{{Status: StatusPass}, {Status: StatusFail, Required: true}}, "failed", true},
		{"with optional failure", []CheckResult{{Status: StatusFail}}, "ready_with_warnings", false},
		{"no results", nil, "ready", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, checker.SummaryStatus(tt.results))
			assert.Equal(t, tt.critical, checker.HasCriticalFailures(tt.results))
		})
	}
}

// =============================================================================
// Local checks
// =============================================================================

func TestChecker_CheckWritePermissions_CreatesDataDir(t *testing.T) {
	// Given: a data directory that does not exist yet
	dir := filepath.Join(t.TempDir(), ".newsline")

	// When: checking write permissions
	result := New(dir).CheckWritePermissions(dir)

	// Then: it passes, the directory exists and no scratch file is left
	assert.Equal(t, StatusPass, result.Status)
	assert.True(t, result.Required)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChecker_CheckWritePermissions_ReadOnly(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("Skipping read-only test when running as root")
	}

	readOnlyDir := filepath.Join(t.TempDir(), "readonly")
	require.NoError(t, os.Mkdir(readOnlyDir, 0o555))
	defer func() { _ = os.Chmod(readOnlyDir, 0o755) }()

	result := New(readOnlyDir).CheckWritePermissions(readOnlyDir)

	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Message, "permission denied")
}

func TestChecker_CheckDiskSpace_MissingPathUsesParent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not", "yet", "created")

	result := New(dir).CheckDiskSpace(dir)

	assert.NotEqual(t, StatusFail, result.Status, result.Message)
	assert.Contains(t, result.Message, "free")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 bytes", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "100.0 MB", formatBytes(MinDiskSpaceBytes))
	assert.Equal(t, "2.0 GB", formatBytes(2*1024*1024*1024))
}

// =============================================================================
// Upstream and index checks
// =============================================================================

func up(ok bool) PingFunc {
	return func(context.Context) bool { return ok }
}

type fakeInspector struct {
	result *index.CheckResult
	err    error
}

func (f fakeInspector) Check(context.Context) (*index.CheckResult, error) {
	return f.result, f.err
}

func TestChecker_Upstreams(t *testing.T) {
	// Given: a reachable required embedder and two unreachable upstreams
	checker := New(t.TempDir(),
		WithUpstream("embedder", true, up(true), ""),
		WithUpstream("oracle", false, up(false), "Start Ollama"),
		WithUpstream("vector_store", true, up(false), "Check vector.milvus_address"),
	)

	// When: running all checks
	results := checker.RunAll(context.Background())

	// Then: upstream results follow the local ones in registration order
	byName := make(map[string]CheckResult)
	names := make([]string, 0, len(results))
	for _, r := range results {
		byName[r.Name] = r
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"disk_space", "write_permissions", "file_descriptors", "embedder", "oracle", "vector_store"}, names)
	assert.Equal(t, StatusPass, byName["embedder"].Status)
	assert.Equal(t, StatusWarn, byName["oracle"].Status)
	assert.Equal(t, "Start Ollama", byName["oracle"].Details)
	assert.Equal(t, StatusFail, byName["vector_store"].Status)
	assert.True(t, checker.HasCriticalFailures(results))
}

func TestChecker_UpstreamCheckIsBounded(t *testing.T) {
	var deadlineSet bool
	ping := PingFunc(func(ctx context.Context) bool {
		_, deadlineSet = ctx.Deadline()
		return true
	})

	New(t.TempDir(), WithUpstream("redis", false, ping, "")).RunAll(context.Background())

	assert.True(t, deadlineSet)
}

func TestChecker_CheckIndex(t *testing.T) {
	tests := []struct {
		name    string
		inspect fakeInspector
		status  CheckStatus
		message string
	}{
		{
			name:    "consistent",
			inspect: fakeInspector{result: &index.CheckResult{Checked: 3}},
			status:  StatusPass,
			message: "3 articles, all with vectors",
		},
		{
			name: "drift",
			inspect: fakeInspector{result: &index.CheckResult{Checked: 3, Inconsistencies: []index.Inconsistency{
				{Type: index.InconsistencyOrphanVector, ArticleID: "gone"},
				{Type: index.InconsistencyMissingVector, ArticleID: "a1"},
				{Type: index.InconsistencyMissingVector, ArticleID: "a2"},
			}}},
			status:  StatusWarn,
			message: "2 articles without vectors, 1 orphan vectors",
		},
		{
			name:    "error",
			inspect: fakeInspector{err: errors.New("database is locked")},
			status:  StatusFail,
			message: "check failed: database is locked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := New(t.TempDir(), WithIndex(tt.inspect)).CheckIndex(context.Background())

			assert.Equal(t, tt.status, result.Status)
			assert.Equal(t, tt.message, result.Message)
			assert.False(t, result.IsCritical())
		})
	}
}

func TestChecker_PrintResults(t *testing.T) {
	results := []CheckResult{
		{Name: "disk_space", Status: StatusPass, Message: "50 GB free", Details: "hidden unless verbose"},
		{Name: "oracle", Status: StatusWarn, Message: "not reachable", Details: "Start Ollama"},
		{Name: "embedder", Status: StatusFail, Message: "not reachable", Required: true},
	}
	buf := &bytes.Buffer{}

	New(t.TempDir(), WithOutput(buf)).PrintResults(results)

	out := buf.String()
	assert.Contains(t, out, "[PASS] disk_space: 50 GB free")
	assert.Contains(t, out, "[WARN] oracle: not reachable")
	assert.Contains(t, out, "Start Ollama")
	assert.NotContains(t, out, "hidden unless verbose")
	assert.Contains(t, out, "Status: FAILED")
}
