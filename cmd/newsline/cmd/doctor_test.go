package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/newsline/internal/preflight"
)

func doctorJSON(t *testing.T, dir string) (*doctorReport, map[string]preflight.CheckResult) {
	t.Helper()
	out, err := execute(t, "", "--dir", dir, "doctor", "--json")
	require.NoError(t, err)

	var raw struct {
		Status string `json:"status"`
		Checks []struct {
			Name    string `json:"name"`
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw))

	report := &doctorReport{Status: raw.Status}
	byName := make(map[string]preflight.CheckResult)
	for _, c := range raw.Checks {
		r := preflight.CheckResult{Name: c.Name, Message: c.Message}
		switch c.Status {
		case "pass":
			r.Status = preflight.StatusPass
		case "warn":
			r.Status = preflight.StatusWarn
		default:
			r.Status = preflight.StatusFail
		}
		report.Checks = append(report.Checks, r)
		byName[c.Name] = r
	}
	return report, byName
}

func TestDoctorCmd_FreshProject(t *testing.T) {
	// Given: a project with the offline embedder and no index
	dir := newTestProject(t)

	// When: running doctor
	report, checks := doctorJSON(t, dir)

	// Then: the embedder is reachable and no index check runs
	assert.NotEqual(t, "failed", report.Status)
	assert.Equal(t, preflight.StatusPass, checks["embedder"].Status)
	assert.Equal(t, preflight.StatusPass, checks["write_permissions"].Status)
	assert.NotContains(t, checks, "index_consistency")
	assert.NotContains(t, checks, "oracle", "stub oracle is not checked")
}

func TestDoctorCmd_IndexedProjectIsConsistent(t *testing.T) {
	dir := newTestProject(t)
	indexSnapshot(t, dir)

	_, checks := doctorJSON(t, dir)

	require.Contains(t, checks, "index_consistency")
	assert.Equal(t, preflight.StatusPass, checks["index_consistency"].Status)
	assert.Equal(t, "3 articles, all with vectors", checks["index_consistency"].Message)
}

func TestDoctorCmd_HumanOutput(t *testing.T) {
	dir := newTestProject(t)

	out, err := execute(t, "", "--dir", dir, "doctor")

	require.NoError(t, err)
	assert.Contains(t, out, "newsline system check")
	assert.Contains(t, out, "[PASS] embedder")
}
