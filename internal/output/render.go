package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/newsline/internal/search"
	"github.com/Aman-CERP/newsline/internal/timeline"
)

// SearchResults prints a ranked result list. Verbose adds the per-signal scores.
func (w *Writer) SearchResults(resp *search.Response, verbose bool) {
	s := w.styles
	header := fmt.Sprintf("%d results for %q", len(resp.Candidates), resp.Query)
	_, _ = fmt.Fprintln(w.out, s.Header.Render(header))

	meta := fmt.Sprintf("label=%s (%s) alpha=%.2f temporal=%t took=%s",
		resp.Label, resp.LabelFrom, resp.Alpha, resp.Temporal, resp.Took.Round(time.Millisecond))
	if resp.CacheHit {
		meta += " cached"
	}
	if resp.DateTerm != "" {
		meta += fmt.Sprintf(" window=%q", resp.DateTerm)
	}
	_, _ = fmt.Fprintln(w.out, s.Label.Render(meta))
	if len(resp.Entities) > 0 {
		line := "entities: " + strings.Join(resp.Entities, ", ")
		if !resp.EntitiesApplied {
			line += " (not applied)"
		}
		_, _ = fmt.Fprintln(w.out, s.Dim.Render(line))
	}
	if verbose && len(resp.Expansions) > 0 {
		_, _ = fmt.Fprintln(w.out, s.Dim.Render("also searched: "+strings.Join(resp.Expansions, " | ")))
	}
	w.degraded(resp.Degraded)
	w.Newline()

	if len(resp.Candidates) == 0 {
		_, _ = fmt.Fprintln(w.out, s.Dim.Render("No matching articles."))
		return
	}

	for i, c := range resp.Candidates {
		title := c.Title
		if title == "" {
			title = c.ArticleID
		}
		_, _ = fmt.Fprintf(w.out, "%2d. %s  %s\n", i+1,
			s.Score.Render(fmt.Sprintf("%.3f", c.Final)),
			s.Title.Render(title))
		_, _ = fmt.Fprintf(w.out, "    %s  %s\n",
			s.Date.Render(formatDate(c.PublishedAt)),
			s.Dim.Render(c.ArticleID))
		if verbose {
			line := fmt.Sprintf("sparse=%.3f dense=%.3f fused=%.3f", c.SparseNorm, c.DenseNorm, c.Fused)
			if c.TemporalApplied {
				line += fmt.Sprintf(" temporal=%.3f", c.Temporal)
			}
			if c.VariantHits > 0 {
				line += fmt.Sprintf(" variants=%d", c.VariantHits)
			}
			_, _ = fmt.Fprintf(w.out, "    %s\n", s.Label.Render(line))
		}
	}
}

// Timeline prints a timeline with its scores, warnings and citations.
func (w *Writer) Timeline(tl *timeline.Timeline) {
	s := w.styles
	_, _ = fmt.Fprintln(w.out, s.Header.Render("Timeline: "+tl.Topic))

	summary := fmt.Sprintf("%d events  consistency=%.2f  completeness=%.2f  confidence=%.2f",
		len(tl.Events), tl.ConsistencyScore, tl.CompletenessScore, tl.Confidence)
	if tl.DateRange.From != nil && tl.DateRange.To != nil {
		summary += fmt.Sprintf("  %s → %s", formatDate(*tl.DateRange.From), formatDate(*tl.DateRange.To))
	}
	_, _ = fmt.Fprintln(w.out, s.Label.Render(summary))
	if n := tl.Dropped.Total(); n > 0 {
		_, _ = fmt.Fprintln(w.out, s.Dim.Render(fmt.Sprintf(
			"dropped %d groups (%d low confidence, %d off topic, %d over cap)",
			n, tl.Dropped.LowConfidence, tl.Dropped.Irrelevant, tl.Dropped.OverCap)))
	}
	w.degraded(tl.Degraded)
	w.Newline()

	for _, e := range tl.Events {
		_, _ = fmt.Fprintf(w.out, "%s  %s %s\n",
			s.Date.Render(eventDate(e)),
			s.Title.Render(e.Description),
			s.Dim.Render("["+e.EventType+"]"))
		_, _ = fmt.Fprintf(w.out, "    %s\n", s.Label.Render(fmt.Sprintf(
			"importance=%.2f confidence=%.2f sources=%s",
			e.Importance, e.Confidence, strings.Join(e.SourceArticleIDs, ", "))))
	}

	if len(tl.Warnings) > 0 {
		w.Newline()
		for _, warn := range tl.Warnings {
			w.Warningf("%s: %s", warn.Kind, warn.Message)
		}
	}
}

func (w *Writer) degraded(ds []search.Degradation) {
	for _, d := range ds {
		_, _ = fmt.Fprintln(w.out, w.styles.Warning.Render(
			fmt.Sprintf("degraded: %s (%s) %s", d.Component, d.Code, d.Reason)))
	}
}

func eventDate(e timeline.MergedEvent) string {
	switch e.DateStatus {
	case timeline.DateExplicit:
		return formatDate(*e.Date)
	case timeline.DateEstimated:
		return "~" + formatDate(*e.Date)
	default:
		return "undated"
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format(time.DateOnly)
}
