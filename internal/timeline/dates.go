package timeline

import (
	"slices"
	"strings"
	"time"
)

// dateTextLayouts are the absolute forms accepted in Event.DateText, most
// specific first.
var dateTextLayouts = []string{
	time.DateOnly,
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"January 2006",
	"Jan 2006",
	"2006",
}

// ParseDateText parses an absolute date phrase. Relative phrases such as
// "last week" have no grounding here and are rejected.
func ParseDateText(text string) (time.Time, bool) {
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "."))
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range dateTextLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// resolveDate sets the group's date from its members: the median explicit
// date, else the first parseable date text, else unresolved.
func resolveDate(g *MergedEvent, members []Event) {
	var dates []time.Time
	var end *time.Time
	for _, e := range members {
		if e.Date == nil {
			continue
		}
		dates = append(dates, e.Date.UTC())
		if e.DateEnd != nil && (end == nil || e.DateEnd.After(*end)) {
			t := e.DateEnd.UTC()
			end = &t
		}
	}

	if len(dates) > 0 {
		d := median(dates)
		g.Date = &d
		g.DateStatus = DateExplicit
		if end != nil && !end.Before(d) {
			g.DateEnd = end
		}
		return
	}

	for _, e := range members {
		if t, ok := ParseDateText(e.DateText); ok {
			g.Date = &t
			g.DateText = e.DateText
			g.DateStatus = DateEstimated
			return
		}
	}
	g.DateStatus = DateUnresolved
}

// median of an even count is the midpoint of the two middle dates.
func median(dates []time.Time) time.Time {
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })
	mid := len(dates) / 2
	if len(dates)%2 == 1 {
		return dates[mid]
	}
	lo, hi := dates[mid-1], dates[mid]
	return lo.Add(hi.Sub(lo) / 2)
}

var eventTypeKeywords = []struct {
	kind  string
	words []string
}{
	{TypeAnnouncement, []string{"announced", "announces", "unveiled", "unveils", "revealed", "reveals"}},
	{TypeTransaction, []string{"acquired", "acquires", "acquisition", "merger", "deal", "purchased", "bought", "buys"}},
	{TypeDecision, []string{"decided", "approved", "approves", "voted", "ruled", "rejected"}},
	{TypeRegulatory, []string{"regulation", "regulator", "policy", "law", "rule", "sanction"}},
	{TypeMarketAction, []string{"market", "trading", "price", "prices", "shares", "exchange"}},
}

// ClassifyEventType assigns a type from keywords in the description.
func ClassifyEventType(description string) string {
	words := strings.FieldsFunc(strings.ToLower(description), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	present := make(map[string]struct{}, len(words))
	for _, w := range words {
		present[w] = struct{}{}
	}
	for _, k := range eventTypeKeywords {
		for _, w := range k.words {
			if _, ok := present[w]; ok {
				return k.kind
			}
		}
	}
	return TypeGeneral
}
