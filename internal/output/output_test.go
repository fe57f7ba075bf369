package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/newsline/internal/search"
	"github.com/Aman-CERP/newsline/internal/timeline"
)

func newPlain() (*Writer, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return NewWithColor(buf, false), buf
}

// =============================================================================
// Status lines
// =============================================================================

func TestWriter_StatusLines(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  []string
	}{
		{"status", func(w *Writer) { w.Status("🔍", "Checking embedder...") }, []string{"🔍", "Checking embedder..."}},
		{"success", func(w *Writer) { w.Successf("Indexed %d articles", 12) }, []string{"✅", "Indexed 12 articles"}},
		{"warning", func(w *Writer) { w.Warning("Oracle not available") }, []string{"⚠️", "Oracle not available"}},
		{"error", func(w *Writer) { w.Errorf("failed: %s", "boom") }, []string{"❌", "failed: boom"}},
		{"no icon", func(w *Writer) { w.Status("", "indented") }, []string{"   indented"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, buf := newPlain()

			tt.write(w)

			for _, s := range tt.want {
				assert.Contains(t, buf.String(), s)
			}
		})
	}
}

func TestWriter_Newline_PrintsEmptyLine(t *testing.T) {
	w, buf := newPlain()

	w.Newline()

	assert.Equal(t, "\n", buf.String())
}

func TestWriter_JSON(t *testing.T) {
	w, buf := newPlain()

	require.NoError(t, w.JSON(map[string]int{"hits": 3}))

	var got map[string]int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 3, got["hits"])
}

func TestNew_BufferIsNotATerminal(t *testing.T) {
	assert.False(t, IsTTY(&bytes.Buffer{}))
	assert.False(t, ColorEnabled(&bytes.Buffer{}))
	assert.NotNil(t, New(&bytes.Buffer{}))
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	assert.True(t, DetectNoColor())
}

// =============================================================================
// Progress
// =============================================================================

func TestWriter_Progress_PrintsProgressBar(t *testing.T) {
	// Given: a plain writer
	w, buf := newPlain()

	// When: printing progress at 50%
	w.Progress(50, 100, "Embedding articles")

	// Then: output contains percentage and message, no trailing newline yet
	assert.Contains(t, buf.String(), "50%")
	assert.Contains(t, buf.String(), "Embedding articles")
	assert.False(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestWriter_Progress_ZeroTotalIsSilent(t *testing.T) {
	w, buf := newPlain()

	w.Progress(0, 0, "Processing")

	assert.Empty(t, buf.String())
}

func TestProgressBar_Render(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		total    int
		width    int
		wantFull int
	}{
		{"0 percent", 0, 100, 10, 0},
		{"50 percent", 50, 100, 10, 5},
		{"100 percent", 100, 100, 10, 10},
		{"over 100 percent", 150, 100, 10, 10},
		{"25 percent", 25, 100, 20, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := renderProgressBar(tt.current, tt.total, tt.width)

			assert.Equal(t, tt.wantFull, strings.Count(bar, "█"))
			assert.Equal(t, tt.width, len([]rune(bar)))
		})
	}
}

// =============================================================================
// Renderers
// =============================================================================

func TestWriter_SearchResults(t *testing.T) {
	// Given: a degraded, temporally reranked response
	w, buf := newPlain()
	resp := &search.Response{
		Query:     "oil prices",
		Label:     search.QueryTypeFactual,
		LabelFrom: search.SourcePattern,
		Alpha:     0.4,
		Temporal:  true,
		DateTerm:  "last month",
		Candidates: []search.ScoredCandidate{
			{ArticleID: "a1", Title: "Crude rallies", PublishedAt: time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), Final: 0.91, Temporal: 0.8, TemporalApplied: true},
			{ArticleID: "a2", Final: 0.5},
		},
		Degraded: []search.Degradation{{Component: "dense", Code: "ERR_201_UPSTREAM_TIMEOUT", Reason: "embedder timed out"}},
	}

	// When: rendering verbosely
	w.SearchResults(resp, true)

	// Then: header, rows, scores and the degradation are shown
	out := buf.String()
	assert.Contains(t, out, `2 results for "oil prices"`)
	assert.Contains(t, out, "label=factual (pattern) alpha=0.40")
	assert.Contains(t, out, `window="last month"`)
	assert.Contains(t, out, " 1. 0.910  Crude rallies")
	assert.Contains(t, out, "2026-02-28")
	assert.Contains(t, out, " 2. 0.500  a2")
	assert.Contains(t, out, "temporal=0.800")
	assert.Contains(t, out, "degraded: dense (ERR_201_UPSTREAM_TIMEOUT) embedder timed out")
}

func TestWriter_SearchResults_QueryAnalysis(t *testing.T) {
	w, buf := newPlain()
	resp := &search.Response{
		Query:      "Chevron oil prices",
		Label:      search.QueryTypeEntity,
		Entities:   []string{"Chevron"},
		Expansions: []string{"Chevron crude output", "Chevron news oil prices"},
		Candidates: []search.ScoredCandidate{{ArticleID: "a1", Final: 0.7, VariantHits: 2}},
	}

	w.SearchResults(resp, true)

	out := buf.String()
	assert.Contains(t, out, "entities: Chevron (not applied)")
	assert.Contains(t, out, "also searched: Chevron crude output | Chevron news oil prices")
	assert.Contains(t, out, "variants=2")
}

func TestWriter_SearchResults_Empty(t *testing.T) {
	w, buf := newPlain()

	w.SearchResults(&search.Response{Query: "nothing", Candidates: []search.ScoredCandidate{}}, false)

	assert.Contains(t, buf.String(), "No matching articles.")
}

func TestWriter_Timeline(t *testing.T) {
	// Given: a timeline with dated, estimated and undated events
	w, buf := newPlain()
	d1 := time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tl := &timeline.Timeline{
		Topic: "energy mergers",
		Events: []timeline.MergedEvent{
			{Description: "Chesapeake agrees deal", Date: &d1, DateStatus: timeline.DateExplicit, EventType: timeline.TypeTransaction, SourceArticleIDs: []string{"a1", "a2"}, Importance: 0.9},
			{Description: "Regulators review", Date: &d2, DateStatus: timeline.DateEstimated, EventType: timeline.TypeRegulatory, SourceArticleIDs: []string{"a3"}},
			{Description: "Analysts react", DateStatus: timeline.DateUnresolved, EventType: timeline.TypeGeneral, SourceArticleIDs: []string{"a4"}},
		},
		ConsistencyScore:  0.5,
		CompletenessScore: 0.75,
		DateRange:         timeline.DateRange{From: &d1, To: &d2},
		Dropped:           timeline.DropReport{Irrelevant: 1},
		Warnings:          []timeline.Warning{{Kind: timeline.WarnCausalOrder, Message: "cause g3 is ordered after its effect"}},
	}

	// When: rendering
	w.Timeline(tl)

	// Then: every section appears
	out := buf.String()
	assert.Contains(t, out, "Timeline: energy mergers")
	assert.Contains(t, out, "consistency=0.50  completeness=0.75")
	assert.Contains(t, out, "2024-01-11 → 2024-03-01")
	assert.Contains(t, out, "dropped 1 groups (0 low confidence, 1 off topic, 0 over cap)")
	assert.Contains(t, out, "2024-01-11  Chesapeake agrees deal [transaction]")
	assert.Contains(t, out, "~2024-03-01  Regulators review")
	assert.Contains(t, out, "undated  Analysts react")
	assert.Contains(t, out, "sources=a1, a2")
	assert.Contains(t, out, "causal_order: cause g3 is ordered after its effect")
}

// =============================================================================
// Styles
// =============================================================================

func TestStyles_RenderText(t *testing.T) {
	for _, s := range []Styles{DefaultStyles(), NoColorStyles()} {
		assert.Contains(t, s.Header.Render("Header"), "Header")
		assert.Contains(t, s.Warning.Render("careful"), "careful")
	}
	assert.Equal(t, "plain", NoColorStyles().Score.Render("plain"))
}
