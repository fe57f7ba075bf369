package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	nerrors "github.com/Aman-CERP/newsline/internal/errors"
	"github.com/Aman-CERP/newsline/internal/oracle"
	"github.com/Aman-CERP/newsline/internal/search"
	"github.com/Aman-CERP/newsline/internal/tokenize"
)

// Builder constructs timelines. It is safe for concurrent use; Close
// releases the similarity worker pool.
type Builder struct {
	oracle   oracle.Oracle
	config   Config
	analyzer analysis.Analyzer
	pool     *ants.Pool
	newID    func() string
}

// NewBuilder creates a builder. A nil oracle scores everything locally.
func NewBuilder(o oracle.Oracle, cfg Config) (*Builder, error) {
	cfg = normalizeConfig(cfg)

	analyzer, err := tokenize.Default()
	if err != nil {
		return nil, fmt.Errorf("timeline analyzer: %w", err)
	}
	pool, err := newPool(cfg.SimilarityWorkers)
	if err != nil {
		return nil, fmt.Errorf("similarity pool: %w", err)
	}

	return &Builder{
		oracle:   o,
		config:   cfg,
		analyzer: analyzer,
		pool:     pool,
		newID:    uuid.NewString,
	}, nil
}

func normalizeConfig(cfg Config) Config {
	d := DefaultConfig()
	if cfg.DedupThreshold <= 0 || cfg.DedupThreshold > 1 {
		cfg.DedupThreshold = d.DedupThreshold
	}
	cfg.MinConfidence = max(0, min(1, cfg.MinConfidence))
	cfg.ImportanceThreshold = max(0, min(1, cfg.ImportanceThreshold))
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = d.MaxEvents
	}
	if cfg.SimilarityWorkers <= 0 {
		cfg.SimilarityWorkers = d.SimilarityWorkers
	}
	if cfg.SimilarityBatchSize <= 0 {
		cfg.SimilarityBatchSize = d.SimilarityBatchSize
	}
	return cfg
}

// Close releases the worker pool.
func (b *Builder) Close() error {
	b.pool.Release()
	return nil
}

func (b *Builder) useOracle() bool {
	return b.config.UseOracle && b.oracle != nil
}

// Build deduplicates, dates, scores, filters, orders and validates events.
//
// Invalid input is rejected before any oracle call. Oracle failures never
// fail the build: the affected stage falls back to local scoring, or to the
// input's own causal links, and is listed in Timeline.Degraded.
func (b *Builder) Build(ctx context.Context, topic string, events []Event) (*Timeline, error) {
	start := time.Now()

	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, nerrors.InvalidInput("timeline topic is required")
	}
	events, err := normalizeEvents(events)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tl := &Timeline{ID: b.newID(), Topic: topic, Events: []MergedEvent{}}

	// Raw → deduplicated
	scores, err := b.similarities(ctx, events)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		tl.Degraded = append(tl.Degraded, degradation(ComponentSimilarity, err))
	}
	groups, members := b.dedupe(events, scores)

	// Deduplicated → dated
	for i := range groups {
		resolveDate(&groups[i], members[i])
	}

	if err := b.scoreImportance(ctx, topic, groups, members); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		tl.Degraded = append(tl.Degraded, degradation(ComponentImportance, err))
	}

	kept := b.filter(groups, &tl.Dropped)

	// Dated → ordered
	order(kept)
	kept = b.capGroups(kept, &tl.Dropped)

	// Ordered → validated
	links, contradictions, warnings := linkCauses(kept, events)
	inferred, err := b.inferCauses(ctx, kept)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		tl.Degraded = append(tl.Degraded, degradation(ComponentRelationships, err))
	}
	n, c, w := mergeInferred(kept, inferred)
	links += n
	contradictions += c
	warnings = append(warnings, w...)
	tl.Warnings = warnings
	tl.ConsistencyScore = 1 - float64(contradictions)/float64(max(1, links))

	retained := 0
	for _, g := range kept {
		retained += len(g.SourceEventIDs)
	}
	if len(events) > 0 {
		tl.CompletenessScore = float64(retained) / float64(len(events))
	}
	tl.Dropped.RawEvents = len(events) - retained

	tl.Events = kept
	tl.Stats = computeStats(kept, len(events), len(groups), links)
	tl.DateRange = tl.Stats.DateRange
	tl.Confidence = tl.Stats.MeanConfidence
	tl.Took = time.Since(start)

	slog.Debug("timeline_built",
		slog.String("topic", topic),
		slog.Int("raw_events", len(events)),
		slog.Int("groups", len(groups)),
		slog.Int("kept", len(kept)),
		slog.Int("warnings", len(warnings)),
		slog.Int("degraded", len(tl.Degraded)))

	return tl, nil
}

// normalizeEvents validates input and fills defaults on a copy.
func normalizeEvents(in []Event) ([]Event, error) {
	out := make([]Event, len(in))
	seen := make(map[string]int, len(in))
	for i, e := range in {
		e.Description = strings.TrimSpace(e.Description)
		e.ArticleID = strings.TrimSpace(e.ArticleID)
		if e.Description == "" {
			return nil, nerrors.InvalidInput(fmt.Sprintf("event %d has no description", i))
		}
		if e.ArticleID == "" {
			return nil, nerrors.InvalidInput(fmt.Sprintf("event %d has no source article id", i))
		}
		if e.Date != nil && e.DateEnd != nil && e.DateEnd.Before(*e.Date) {
			return nil, nerrors.InvalidInput(fmt.Sprintf("event %d ends before it starts", i))
		}
		if e.ID == "" {
			e.ID = fmt.Sprintf("event-%d", i)
		}
		if j, dup := seen[e.ID]; dup {
			return nil, nerrors.InvalidInput(fmt.Sprintf("events %d and %d share id %q", j, i, e.ID))
		}
		seen[e.ID] = i

		c := DefaultConfidence
		if e.Confidence != nil && !math.IsNaN(*e.Confidence) {
			c = max(0, min(1, *e.Confidence))
		}
		e.Confidence = &c
		out[i] = e
	}
	return out, nil
}

// dedupe unions every pair at or above the threshold and builds one merged
// event per set. The returned members align with the groups.
func (b *Builder) dedupe(events []Event, scores pairScores) ([]MergedEvent, [][]Event) {
	ds := newDisjointSet(len(events))
	for p, s := range scores {
		if s >= b.config.DedupThreshold {
			ds.union(p.A, p.B)
		}
	}

	sets := ds.groups()
	groups := make([]MergedEvent, len(sets))
	members := make([][]Event, len(sets))
	for gi, set := range sets {
		ms := make([]Event, len(set))
		for k, idx := range set {
			ms[k] = events[idx]
		}
		members[gi] = ms
		groups[gi] = b.merge(ms, set[0])
	}
	return groups, members
}

// merge builds the group from members in extraction order. The canonical
// description is the most confident member's, earliest on ties.
func (b *Builder) merge(members []Event, first int) MergedEvent {
	canonical := members[0]
	var sum float64
	articles := make(map[string]struct{})
	entitySeen := make(map[string]struct{})
	g := MergedEvent{ID: b.newID(), first: first}

	for _, e := range members {
		if *e.Confidence > *canonical.Confidence {
			canonical = e
		}
		sum += *e.Confidence
		g.SourceEventIDs = append(g.SourceEventIDs, e.ID)
		articles[e.ArticleID] = struct{}{}
		for _, ent := range e.Entities {
			ent = strings.TrimSpace(ent)
			key := strings.ToLower(ent)
			if _, ok := entitySeen[key]; ok || ent == "" {
				continue
			}
			entitySeen[key] = struct{}{}
			g.Entities = append(g.Entities, ent)
		}
	}

	for id := range articles {
		g.SourceArticleIDs = append(g.SourceArticleIDs, id)
	}
	slices.Sort(g.SourceArticleIDs)

	g.Description = canonical.Description
	g.DateText = canonical.DateText
	g.Confidence = sum / float64(len(members))
	g.EventType = ClassifyEventType(canonical.Description)
	return g
}

// scoreImportance sets Importance on every group. Oracle scores win where
// present; the rest use localImportance.
func (b *Builder) scoreImportance(ctx context.Context, topic string, groups []MergedEvent, members [][]Event) error {
	topicTerms := tokenize.Set(b.analyzer, topic)
	for i := range groups {
		groups[i].Importance = localImportance(b.analyzer, topicTerms, groups[i], members[i])
	}
	if !b.useOracle() || len(groups) == 0 {
		return nil
	}

	texts := make([]string, len(groups))
	for i, g := range groups {
		texts[i] = g.Description
	}

	octx := ctx
	if b.config.OracleTimeout > 0 {
		var cancel context.CancelFunc
		octx, cancel = context.WithTimeout(ctx, b.config.OracleTimeout)
		defer cancel()
	}
	resp, err := b.oracle.Importance(octx, oracle.ImportanceRequest{Topic: topic, Texts: texts})
	if err != nil {
		err = nerrors.Classify("oracle", err)
		slog.Warn("oracle_importance_degraded", slog.String("error", err.Error()))
		return err
	}
	for i, s := range resp.Scores {
		if i >= 0 && i < len(groups) && s >= 0 && s <= 1 {
			groups[i].Importance = s
		}
	}
	return nil
}

// localImportance is 0.5·topic overlap + 0.3·confidence + 0.2·min(1, sources/3),
// where overlap is the share of topic terms found in the group's text.
func localImportance(a analysis.Analyzer, topic map[string]struct{}, g MergedEvent, members []Event) float64 {
	var overlap float64
	if len(topic) > 0 {
		var text strings.Builder
		for _, e := range members {
			text.WriteString(e.Description)
			text.WriteByte(' ')
		}
		text.WriteString(strings.Join(g.Entities, " "))
		terms := tokenize.Set(a, text.String())
		hit := 0
		for t := range topic {
			if _, ok := terms[t]; ok {
				hit++
			}
		}
		overlap = float64(hit) / float64(len(topic))
	}
	sources := min(1, float64(len(g.SourceArticleIDs))/3)
	return 0.5*overlap + 0.3*g.Confidence + 0.2*sources
}

// filter drops groups below the confidence or importance thresholds.
func (b *Builder) filter(groups []MergedEvent, report *DropReport) []MergedEvent {
	kept := make([]MergedEvent, 0, len(groups))
	for _, g := range groups {
		switch {
		case g.Confidence < b.config.MinConfidence:
			report.LowConfidence++
		case g.Importance < b.config.ImportanceThreshold:
			report.Irrelevant++
		default:
			kept = append(kept, g)
		}
	}
	return kept
}

// order sorts dated groups by date ascending, importance descending, then
// earliest source article; unresolved groups follow in extraction order.
func order(groups []MergedEvent) {
	slices.SortStableFunc(groups, func(a, b MergedEvent) int {
		switch {
		case a.Date == nil && b.Date == nil:
			return a.first - b.first
		case a.Date == nil:
			return 1
		case b.Date == nil:
			return -1
		}
		if c := a.Date.Compare(*b.Date); c != 0 {
			return c
		}
		if a.Importance != b.Importance {
			if a.Importance > b.Importance {
				return -1
			}
			return 1
		}
		if c := strings.Compare(a.SourceArticleIDs[0], b.SourceArticleIDs[0]); c != 0 {
			return c
		}
		return a.first - b.first
	})
}

// capGroups removes the least important groups beyond MaxEvents, keeping
// order. Among equal importance the later group goes first.
func (b *Builder) capGroups(groups []MergedEvent, report *DropReport) []MergedEvent {
	excess := len(groups) - b.config.MaxEvents
	if excess <= 0 {
		return groups
	}

	idx := make([]int, len(groups))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(x, y int) int {
		gx, gy := groups[x].Importance, groups[y].Importance
		switch {
		case gx < gy:
			return -1
		case gx > gy:
			return 1
		}
		return y - x
	})

	drop := make(map[int]struct{}, excess)
	for _, i := range idx[:excess] {
		drop[i] = struct{}{}
	}
	kept := make([]MergedEvent, 0, b.config.MaxEvents)
	for i, g := range groups {
		if _, ok := drop[i]; !ok {
			kept = append(kept, g)
		}
	}
	report.OverCap += excess
	return kept
}

// linkCauses maps raw CausedBy references onto kept groups and flags causes
// ordered after their effects. References into dropped groups are ignored.
func linkCauses(groups []MergedEvent, events []Event) (links, contradictions int, warnings []Warning) {
	known := make(map[string]struct{}, len(events))
	for _, e := range events {
		known[e.ID] = struct{}{}
	}
	position := make(map[string]int)
	groupOf := make(map[string]string)
	for pos, g := range groups {
		for _, id := range g.SourceEventIDs {
			position[id] = pos
			groupOf[id] = g.ID
		}
	}
	byID := make(map[string]Event, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}

	for pos := range groups {
		g := &groups[pos]
		seen := make(map[string]struct{})
		for _, memberID := range g.SourceEventIDs {
			for _, ref := range byID[memberID].CausedBy {
				if _, ok := known[ref]; !ok {
					warnings = append(warnings, Warning{
						Kind:    WarnUnknownReference,
						EventID: g.ID,
						Message: fmt.Sprintf("event %s cites unknown cause %q", memberID, ref),
					})
					continue
				}
				causeGroup, ok := groupOf[ref]
				if !ok || causeGroup == g.ID {
					continue
				}
				if _, dup := seen[causeGroup]; dup {
					continue
				}
				seen[causeGroup] = struct{}{}
				g.CausedBy = append(g.CausedBy, causeGroup)
				links++
				if position[ref] > pos {
					contradictions++
					warnings = append(warnings, Warning{
						Kind:    WarnCausalOrder,
						EventID: g.ID,
						Message: fmt.Sprintf("cause %s is ordered after its effect", causeGroup),
					})
				}
			}
		}
	}
	return links, contradictions, warnings
}

// inferCauses asks the oracle for causal links between the ordered groups.
// Link indices refer to positions in groups.
func (b *Builder) inferCauses(ctx context.Context, groups []MergedEvent) ([]oracle.Link, error) {
	if !b.useOracle() || len(groups) < 2 {
		return nil, nil
	}
	texts := make([]string, len(groups))
	for i, g := range groups {
		when := "undated"
		if g.Date != nil {
			when = g.Date.Format(time.DateOnly)
		}
		texts[i] = fmt.Sprintf("%s (%s)", g.Description, when)
	}

	octx := ctx
	if b.config.OracleTimeout > 0 {
		var cancel context.CancelFunc
		octx, cancel = context.WithTimeout(ctx, b.config.OracleTimeout)
		defer cancel()
	}
	resp, err := b.oracle.Relationships(octx, oracle.RelationshipsRequest{Texts: texts})
	if err != nil {
		err = nerrors.Classify("oracle", err)
		slog.Warn("oracle_relationships_degraded", slog.String("error", err.Error()))
		return nil, err
	}
	return resp.Links, nil
}

// mergeInferred adds oracle links not already present from the input.
// A cause ordered after its effect counts as a contradiction.
func mergeInferred(groups []MergedEvent, links []oracle.Link) (added, contradictions int, warnings []Warning) {
	for _, l := range links {
		if l.Cause < 0 || l.Cause >= len(groups) || l.Effect < 0 || l.Effect >= len(groups) || l.Cause == l.Effect {
			continue
		}
		effect := &groups[l.Effect]
		cause := groups[l.Cause].ID
		if slices.Contains(effect.CausedBy, cause) {
			continue
		}
		effect.CausedBy = append(effect.CausedBy, cause)
		added++
		if l.Cause > l.Effect {
			contradictions++
			warnings = append(warnings, Warning{
				Kind:    WarnCausalOrder,
				EventID: effect.ID,
				Message: fmt.Sprintf("inferred cause %s (%s) is ordered after its effect", cause, l.Type),
			})
		}
	}
	return added, contradictions, warnings
}

func computeStats(groups []MergedEvent, raw, total, links int) Stats {
	s := Stats{RawEvents: raw, Groups: total, Total: len(groups), CausalLinks: links}
	var sum float64
	for _, g := range groups {
		sum += g.Confidence
		switch g.DateStatus {
		case DateExplicit:
			s.Dated++
		case DateEstimated:
			s.Estimated++
		default:
			s.Unresolved++
		}
		if g.Date == nil {
			continue
		}
		if s.DateRange.From == nil || g.Date.Before(*s.DateRange.From) {
			s.DateRange.From = g.Date
		}
		last := g.Date
		if g.DateEnd != nil {
			last = g.DateEnd
		}
		if s.DateRange.To == nil || last.After(*s.DateRange.To) {
			s.DateRange.To = last
		}
	}
	if len(groups) > 0 {
		s.MeanConfidence = sum / float64(len(groups))
	}
	return s
}

func degradation(component string, err error) search.Degradation {
	code := nerrors.GetCode(err)
	if code == "" {
		code = nerrors.ErrCodeUpstreamUnavailable
	}
	return search.Degradation{Component: component, Code: code, Reason: err.Error()}
}
