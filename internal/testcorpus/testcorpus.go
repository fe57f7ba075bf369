// Package testcorpus generates deterministic synthetic news corpora for
// benchmarks, load tests and demos. The same Options always produce the
// same articles and events.
package testcorpus

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/Aman-CERP/newsline/internal/store"
	"github.com/Aman-CERP/newsline/internal/timeline"
)

// Options controls corpus generation.
type Options struct {
	// Articles is the number of articles to generate.
	Articles int

	// Seed makes generation reproducible.
	Seed int64

	// Start and Span bound publication times: [Start, Start+Span).
	Start time.Time
	Span  time.Duration
}

// DefaultOptions returns a 1000-article corpus spread over one year.
func DefaultOptions() Options {
	return Options{
		Articles: 1000,
		Seed:     42,
		Start:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Span:     365 * 24 * time.Hour,
	}
}

type topic struct {
	name     string
	entities []string
	actions  []string
	objects  []string
}

var topics = []topic{
	{
		name:     "energy",
		entities: []string{"Chesapeake", "Southwestern", "OPEC", "ExxonMobil", "Shell"},
		actions:  []string{"cuts output", "agrees merger", "raises forecast", "announces buyback", "delays project"},
		objects:  []string{"crude oil", "natural gas", "refining margins", "pipeline capacity", "drilling budgets"},
	},
	{
		name:     "central banks",
		entities: []string{"Federal Reserve", "ECB", "Bank of England", "Bank of Japan"},
		actions:  []string{"holds rates", "raises rates", "signals cuts", "publishes minutes", "warns on inflation"},
		objects:  []string{"interest rates", "bond yields", "core inflation", "the labour market", "balance sheet runoff"},
	},
	{
		name:     "technology",
		entities: []string{"Nvidia", "Microsoft", "Apple", "TSMC", "Samsung"},
		actions:  []string{"unveils chip", "beats estimates", "faces inquiry", "expands plant", "cuts jobs"},
		objects:  []string{"AI accelerators", "cloud revenue", "smartphone demand", "chip exports", "data centres"},
	},
	{
		name:     "regulation",
		entities: []string{"FTC", "European Commission", "SEC", "CMA"},
		actions:  []string{"opens review", "blocks deal", "fines company", "proposes rules", "clears acquisition"},
		objects:  []string{"antitrust concerns", "market dominance", "disclosure rules", "merger remedies", "consumer harm"},
	},
}

var authors = []string{"Reuters", "Associated Press", "Bloomberg", "Financial Times", "Staff Writer"}

var bodyTemplates = []string{
	"%s %s on %s, according to people familiar with the matter.",
	"Analysts said the move by %s reflects pressure to %s as %s shifts.",
	"Shares reacted after %s said it %s amid concerns about %s.",
	"The decision by %s to %s was expected to weigh on %s for several quarters.",
}

// Articles generates opts.Articles articles. IDs are art-00001, art-00002, ...
func Articles(opts Options) []store.Article {
	opts = normalize(opts)
	rng := rand.New(rand.NewSource(opts.Seed))

	out := make([]store.Article, opts.Articles)
	for i := range out {
		tp := topics[rng.Intn(len(topics))]
		who := tp.entities[rng.Intn(len(tp.entities))]
		act := tp.actions[rng.Intn(len(tp.actions))]
		obj := tp.objects[rng.Intn(len(tp.objects))]

		var body strings.Builder
		sentences := 2 + rng.Intn(4)
		for range sentences {
			tmpl := bodyTemplates[rng.Intn(len(bodyTemplates))]
			fmt.Fprintf(&body, tmpl+" ",
				tp.entities[rng.Intn(len(tp.entities))],
				strings.Fields(tp.actions[rng.Intn(len(tp.actions))])[0],
				tp.objects[rng.Intn(len(tp.objects))])
		}

		entities := []string{who}
		if other := tp.entities[rng.Intn(len(tp.entities))]; other != who {
			entities = append(entities, other)
		}

		out[i] = store.Article{
			ID:          fmt.Sprintf("art-%05d", i+1),
			Title:       fmt.Sprintf("%s %s as %s come into focus", who, act, obj),
			Content:     strings.TrimSpace(body.String()),
			Author:      authors[rng.Intn(len(authors))],
			Source:      "synthetic/" + strings.ReplaceAll(tp.name, " ", "-"),
			PublishedAt: opts.Start.Add(time.Duration(rng.Int63n(int64(opts.Span)))).UTC().Truncate(time.Minute),
			Entities:    entities,
		}
	}
	return out
}

// Events extracts perArticle events from each article the way an upstream
// extractor would: the headline on the publication day, plus paraphrased
// follow-ups, some with only a date phrase.
func Events(articles []store.Article, perArticle int, seed int64) []timeline.Event {
	if perArticle <= 0 {
		perArticle = 1
	}
	rng := rand.New(rand.NewSource(seed))

	events := make([]timeline.Event, 0, len(articles)*perArticle)
	for _, a := range articles {
		for j := range perArticle {
			conf := 0.5 + rng.Float64()/2
			e := timeline.Event{
				ID:          fmt.Sprintf("%s-e%d", a.ID, j+1),
				ArticleID:   a.ID,
				Description: a.Title,
				Confidence:  &conf,
				Entities:    a.Entities,
			}
			switch j % 3 {
			case 0:
				d := a.PublishedAt.Truncate(24 * time.Hour)
				e.Date = &d
			case 1:
				e.Description = "Follow-up: " + a.Title
				e.DateText = a.PublishedAt.Format("January 2006")
				e.CausedBy = []string{fmt.Sprintf("%s-e1", a.ID)}
			default:
				e.Description = "Reaction to " + strings.ToLower(a.Title)
			}
			events = append(events, e)
		}
	}
	return events
}

// WriteJSONL writes articles in the snapshot format read by 'newsline index'.
func WriteJSONL(w io.Writer, articles []store.Article) error {
	enc := json.NewEncoder(w)
	for _, a := range articles {
		if err := enc.Encode(a); err != nil {
			return fmt.Errorf("encode %s: %w", a.ID, err)
		}
	}
	return nil
}

// WriteEvents writes events in the document format read by 'newsline timeline'.
func WriteEvents(w io.Writer, topic string, events []timeline.Event) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Topic  string           `json:"topic"`
		Events []timeline.Event `json:"events"`
	}{topic, events})
}

func normalize(opts Options) Options {
	def := DefaultOptions()
	if opts.Articles < 0 {
		opts.Articles = 0
	}
	if opts.Start.IsZero() {
		opts.Start = def.Start
	}
	if opts.Span <= 0 {
		opts.Span = def.Span
	}
	return opts
}
