package timeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	nerrors "github.com/Aman-CERP/newsline/internal/errors"
)

// eventRecord is the wire form of an Event. Dates are RFC 3339 or YYYY-MM-DD.
type eventRecord struct {
	ID          string   `json:"id"`
	ArticleID   string   `json:"article_id"`
	Description string   `json:"description"`
	Date        string   `json:"date"`
	DateEnd     string   `json:"date_end"`
	DateText    string   `json:"date_text"`
	Confidence  *float64 `json:"confidence"`
	Entities    []string `json:"entities"`
	CausedBy    []string `json:"caused_by"`
}

type eventDocument struct {
	Topic  string        `json:"topic"`
	Events []eventRecord `json:"events"`
}

// ReadEvents decodes extracted events. The input is either a bare JSON
// array of events or an object {"topic": ..., "events": [...]}; topic is
// empty for the array form.
func ReadEvents(r io.Reader) (string, []Event, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", nil, fmt.Errorf("read events: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", nil, nerrors.InvalidInput("event input is empty")
	}

	var doc eventDocument
	if data[0] == '[' {
		err = json.Unmarshal(data, &doc.Events)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return "", nil, nerrors.New(nerrors.ErrCodeInvalidInput, "malformed event JSON", err)
	}

	events := make([]Event, len(doc.Events))
	for i, rec := range doc.Events {
		e := Event{
			ID:          rec.ID,
			ArticleID:   rec.ArticleID,
			Description: rec.Description,
			DateText:    rec.DateText,
			Confidence:  rec.Confidence,
			Entities:    rec.Entities,
			CausedBy:    rec.CausedBy,
		}
		if e.Date, err = parseEventDate(rec.Date); err != nil {
			return "", nil, nerrors.InvalidInput(fmt.Sprintf("event %d: %v", i, err))
		}
		if e.DateEnd, err = parseEventDate(rec.DateEnd); err != nil {
			return "", nil, nerrors.InvalidInput(fmt.Sprintf("event %d: %v", i, err))
		}
		events[i] = e
	}
	return strings.TrimSpace(doc.Topic), events, nil
}

func parseEventDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q (want RFC 3339 or YYYY-MM-DD)", s)
}
