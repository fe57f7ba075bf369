package search

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	agoPattern       = regexp.MustCompile(`(?i)\b(\d{1,4})\s+(day|week|month|year)s?\s+ago\b`)
	yesterdayPattern = regexp.MustCompile(`(?i)\byesterday\b`)
	todayPattern     = regexp.MustCompile(`(?i)\btoday\b`)
	lastPattern      = regexp.MustCompile(`(?i)\b(last|past)\s+(week|month|year)\b`)
	thisPattern      = regexp.MustCompile(`(?i)\bthis\s+(week|month|year)\b`)
	sincePattern     = regexp.MustCompile(`(?i)\bsince\s+((?:19|20)\d{2})\b`)
	monthYearPattern = regexp.MustCompile(`(?i)\bin\s+(january|february|march|april|may|june|july|august|september|october|november|december)\s+((?:19|20)\d{2})\b`)
	inYearPattern    = regexp.MustCompile(`(?i)\bin\s+((?:19|20)\d{2})\b`)
)

// DateRange is a publication window derived from the query text.
type DateRange struct {
	From time.Time
	To   time.Time

	// Term is the phrase the range was derived from.
	Term string
}

// ExtractDateRange finds the first relative or absolute date phrase in query
// and resolves it against now. Ranges never extend past now.
func ExtractDateRange(query string, now time.Time) (DateRange, bool) {
	day := startOfDay(now)

	if m := agoPattern.FindStringSubmatch(query); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			return DateRange{From: shift(day, strings.ToLower(m[2]), -n), To: now, Term: m[0]}, true
		}
	}

	if m := yesterdayPattern.FindString(query); m != "" {
		from := day.AddDate(0, 0, -1)
		return DateRange{From: from, To: day.Add(-time.Nanosecond), Term: m}, true
	}

	if m := todayPattern.FindString(query); m != "" {
		return DateRange{From: day, To: now, Term: m}, true
	}

	if m := lastPattern.FindStringSubmatch(query); m != nil {
		return DateRange{From: shift(day, strings.ToLower(m[2]), -1), To: now, Term: m[0]}, true
	}

	if m := thisPattern.FindStringSubmatch(query); m != nil {
		return DateRange{From: periodStart(day, strings.ToLower(m[1])), To: now, Term: m[0]}, true
	}

	if m := sincePattern.FindStringSubmatch(query); m != nil {
		year, _ := strconv.Atoi(m[1])
		from := time.Date(year, time.January, 1, 0, 0, 0, 0, now.Location())
		if from.After(now) {
			return DateRange{}, false
		}
		return DateRange{From: from, To: now, Term: m[0]}, true
	}

	if m := monthYearPattern.FindStringSubmatch(query); m != nil {
		month, err := time.Parse("January", titleCase(m[1]))
		if err == nil {
			year, _ := strconv.Atoi(m[2])
			from := time.Date(year, month.Month(), 1, 0, 0, 0, 0, now.Location())
			return clampRange(from, from.AddDate(0, 1, 0).Add(-time.Nanosecond), now, m[0])
		}
	}

	if m := inYearPattern.FindStringSubmatch(query); m != nil {
		year, _ := strconv.Atoi(m[1])
		from := time.Date(year, time.January, 1, 0, 0, 0, 0, now.Location())
		return clampRange(from, from.AddDate(1, 0, 0).Add(-time.Nanosecond), now, m[0])
	}

	return DateRange{}, false
}

func clampRange(from, to, now time.Time, term string) (DateRange, bool) {
	if from.After(now) {
		return DateRange{}, false
	}
	if to.After(now) {
		to = now
	}
	return DateRange{From: from, To: to, Term: term}, true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func shift(t time.Time, unit string, n int) time.Time {
	switch unit {
	case "week":
		return t.AddDate(0, 0, 7*n)
	case "month":
		return t.AddDate(0, n, 0)
	case "year":
		return t.AddDate(n, 0, 0)
	default:
		return t.AddDate(0, 0, n)
	}
}

// periodStart returns the first day of the week (Monday), month or year containing t.
func periodStart(t time.Time, unit string) time.Time {
	switch unit {
	case "week":
		offset := (int(t.Weekday()) + 6) % 7
		return t.AddDate(0, 0, -offset)
	case "month":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}
