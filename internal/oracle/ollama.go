package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	nerrors "github.com/Aman-CERP/newsline/internal/errors"
)

// Default Ollama oracle configuration.
const (
	DefaultModel   = "qwen3:4b"
	DefaultHost    = "http://localhost:11434"
	DefaultTimeout = 60 * time.Second

	upstreamName = "oracle"
)

// Config configures the Ollama-backed oracle.
type Config struct {
	Host    string
	Model   string
	Timeout time.Duration

	// MaxRetries bounds retries for transient and malformed replies.
	MaxRetries int

	// BreakerFailures opens the circuit after this many consecutive failed calls.
	BreakerFailures int
	BreakerReset    time.Duration
}

// OllamaOracle implements Oracle over Ollama's /api/generate in JSON mode.
type OllamaOracle struct {
	client  *http.Client
	cfg     Config
	retry   nerrors.RetryConfig
	breaker *nerrors.CircuitBreaker
}

var _ Oracle = (*OllamaOracle)(nil)

// generateRequest is the Ollama /api/generate request body.
type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// generateResponse is the Ollama /api/generate response body.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaOracle creates an oracle client. No network call is made.
func NewOllamaOracle(cfg Config) *OllamaOracle {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if !strings.HasPrefix(cfg.Host, "http://") && !strings.HasPrefix(cfg.Host, "https://") {
		cfg.Host = "http://" + cfg.Host
	}
	cfg.Host = strings.TrimSuffix(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = 30 * time.Second
	}

	retry := nerrors.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries
	retry.ShouldRetry = func(err error) bool {
		return nerrors.IsRetryable(err) || nerrors.HasCode(err, nerrors.ErrCodeMalformedUpstream)
	}

	return &OllamaOracle{
		client: &http.Client{},
		cfg:    cfg,
		retry:  retry,
		breaker: nerrors.NewCircuitBreaker(upstreamName,
			nerrors.WithMaxFailures(cfg.BreakerFailures),
			nerrors.WithResetTimeout(cfg.BreakerReset)),
	}
}

const classifyPrompt = `You classify news search queries. Choose exactly ONE category:

%s

Definitions:
- factual: asks for a specific fact, number or figure ("how many barrels did OPEC cut")
- entity: centres on a named person, company, country or organisation ("Shell")
- conceptual: asks about ideas, causes or explanations ("why are energy prices rising")
- temporal: asks about timing, sequence or a period ("what happened after the merger")
- comparative: compares two or more things ("BP vs Shell profits")

Query: %q

Respond with JSON only: {"query_type": "<category>", "confidence": <0.0-1.0>}`

const similarityPrompt = `You compare extracted news events. For each numbered pair, score how likely
both events describe the SAME real-world occurrence (same actors, same action, same time).
1.0 means certainly the same event, 0.0 means clearly different events.

Events:
%s

Pairs:
%s

Respond with JSON only: {"scores": [{"a": <id>, "b": <id>, "score": <0.0-1.0>}, ...]}`

const importancePrompt = `Score the importance of each event for a timeline about %q.
Events unrelated to the topic must score 0.0-0.2. Major milestones of the topic score near 1.0.

Events:
%s

Respond with JSON only: {"scores": [{"event_id": <id>, "importance_score": <0.0-1.0>}, ...]}`

const entitiesPrompt = `List the named entities in this news search query: people, companies,
organisations and locations. Use the spelling from the query.

Query: %q

Respond with JSON only: {"entities": ["<name>", ...]}. Use an empty list when there are none.`

const expandPrompt = `You rewrite news search queries to improve recall. The query is %s.
%s
Original query: %q

Write %d alternative search queries with the same intent and different wording.
Each must be between 10 and 150 characters.

Respond with JSON only: {"queries": ["<query>", ...]}`

const relationshipsPrompt = `These news events are listed in chronological order:

%s
Identify cause and effect relationships between them. Only link events where one
clearly led to the other. relationship_type is one of direct_cause,
contributing_factor or reaction.

Respond with JSON only: {"relationships": [{"cause_event_id": <id>, "effect_event_id": <id>, "relationship_type": "<type>", "confidence": <0.0-1.0>}, ...]}`

// expandGuidance steers the rewrite per query label.
var expandGuidance = map[string]string{
	"factual":     "Add precise terms: figures, dates, official sources.",
	"entity":      "Keep the named entities and vary the surrounding context.",
	"conceptual":  "Use broader terms and closely related concepts.",
	"temporal":    "Add time references such as latest, recent or a named period.",
	"comparative": "Name both sides of the comparison explicitly.",
}

type entitiesReply struct {
	Entities []string `json:"entities"`
}

type expandReply struct {
	Queries []string `json:"queries"`
}

type relationshipsReply struct {
	Relationships []struct {
		Cause      int      `json:"cause_event_id"`
		Effect     int      `json:"effect_event_id"`
		Type       string   `json:"relationship_type"`
		Confidence *float64 `json:"confidence"`
	} `json:"relationships"`
}

type classifyReply struct {
	QueryType  string   `json:"query_type"`
	Confidence *float64 `json:"confidence"`
}

type similarityReply struct {
	Scores []struct {
		A     int      `json:"a"`
		B     int      `json:"b"`
		Score *float64 `json:"score"`
	} `json:"scores"`
}

type importanceReply struct {
	Scores []struct {
		EventID int      `json:"event_id"`
		Score   *float64 `json:"importance_score"`
	} `json:"scores"`
}

// Classify asks the model for a label and validates it against req.Labels.
// A missing confidence is treated as 1.
func (o *OllamaOracle) Classify(ctx context.Context, req ClassifyRequest) (ClassifyResponse, error) {
	prompt := fmt.Sprintf(classifyPrompt, strings.Join(req.Labels, ", "), req.Query)

	return call(ctx, o, prompt, func(raw string) (ClassifyResponse, error) {
		var reply classifyReply
		if err := Decode(upstreamName, raw, &reply); err != nil {
			return ClassifyResponse{}, err
		}

		label := strings.ToLower(strings.TrimSpace(reply.QueryType))
		if !slices.Contains(req.Labels, label) {
			return ClassifyResponse{}, nerrors.MalformedUpstream(upstreamName,
				fmt.Sprintf("label %q is not one of %v", reply.QueryType, req.Labels), nil)
		}

		confidence := 1.0
		if reply.Confidence != nil {
			confidence = *reply.Confidence
		}
		if !validScore(confidence) {
			return ClassifyResponse{}, nerrors.MalformedUpstream(upstreamName,
				fmt.Sprintf("confidence %v out of range", confidence), nil)
		}
		return ClassifyResponse{Label: label, Confidence: confidence}, nil
	})
}

// Similarity scores the requested pairs. Entries for unknown pairs or with
// out-of-range scores are dropped; a reply with no usable entry is malformed.
func (o *OllamaOracle) Similarity(ctx context.Context, req SimilarityRequest) (SimilarityResponse, error) {
	if len(req.Pairs) == 0 {
		return SimilarityResponse{Scores: map[Pair]float64{}}, nil
	}

	wanted := make(map[Pair]bool, len(req.Pairs))
	var events, pairs strings.Builder
	listed := make(map[int]bool)
	for _, p := range req.Pairs {
		p = p.Ordered()
		wanted[p] = true
		for _, idx := range []int{p.A, p.B} {
			if !listed[idx] && idx >= 0 && idx < len(req.Texts) {
				listed[idx] = true
				fmt.Fprintf(&events, "%d: %s\n", idx, req.Texts[idx])
			}
		}
		fmt.Fprintf(&pairs, "(%d, %d)\n", p.A, p.B)
	}

	prompt := fmt.Sprintf(similarityPrompt, events.String(), pairs.String())

	return call(ctx, o, prompt, func(raw string) (SimilarityResponse, error) {
		var reply similarityReply
		if err := Decode(upstreamName, raw, &reply); err != nil {
			return SimilarityResponse{}, err
		}

		scores := make(map[Pair]float64, len(reply.Scores))
		for _, s := range reply.Scores {
			p := Pair{A: s.A, B: s.B}.Ordered()
			if !wanted[p] || s.Score == nil || !validScore(*s.Score) {
				continue
			}
			scores[p] = *s.Score
		}
		if len(scores) == 0 {
			return SimilarityResponse{}, nerrors.MalformedUpstream(upstreamName, "no valid similarity scores", nil)
		}
		return SimilarityResponse{Scores: scores}, nil
	})
}

// Importance scores each text against the topic, dropping invalid entries.
func (o *OllamaOracle) Importance(ctx context.Context, req ImportanceRequest) (ImportanceResponse, error) {
	if len(req.Texts) == 0 {
		return ImportanceResponse{Scores: map[int]float64{}}, nil
	}

	var events strings.Builder
	for i, t := range req.Texts {
		fmt.Fprintf(&events, "%d: %s\n", i, t)
	}
	prompt := fmt.Sprintf(importancePrompt, req.Topic, events.String())

	return call(ctx, o, prompt, func(raw string) (ImportanceResponse, error) {
		var reply importanceReply
		if err := Decode(upstreamName, raw, &reply); err != nil {
			return ImportanceResponse{}, err
		}

		scores := make(map[int]float64, len(reply.Scores))
		for _, s := range reply.Scores {
			if s.EventID < 0 || s.EventID >= len(req.Texts) || s.Score == nil || !validScore(*s.Score) {
				continue
			}
			scores[s.EventID] = *s.Score
		}
		if len(scores) == 0 {
			return ImportanceResponse{}, nerrors.MalformedUpstream(upstreamName, "no valid importance scores", nil)
		}
		return ImportanceResponse{Scores: scores}, nil
	})
}

// Entities extracts named entities from the query. A reply without an
// entities list is malformed; an empty list is not.
func (o *OllamaOracle) Entities(ctx context.Context, req EntitiesRequest) (EntitiesResponse, error) {
	prompt := fmt.Sprintf(entitiesPrompt, req.Query)

	return call(ctx, o, prompt, func(raw string) (EntitiesResponse, error) {
		var reply entitiesReply
		if err := Decode(upstreamName, raw, &reply); err != nil {
			return EntitiesResponse{}, err
		}
		if reply.Entities == nil {
			return EntitiesResponse{}, nerrors.MalformedUpstream(upstreamName, "reply has no entities list", nil)
		}
		return EntitiesResponse{Entities: cleanEntities(reply.Entities)}, nil
	})
}

// Expand asks for alternative phrasings. A reply with no usable alternative
// is malformed.
func (o *OllamaOracle) Expand(ctx context.Context, req ExpandRequest) (ExpandResponse, error) {
	limit := req.Max
	if limit <= 0 {
		limit = DefaultExpansions
	}
	kind := "a general news query"
	if req.QueryType != "" {
		kind = "classified as " + req.QueryType
	}
	guidance := expandGuidance[req.QueryType]
	if len(req.Entities) > 0 {
		guidance = strings.TrimSpace(guidance + "\nEntities to keep: " + strings.Join(req.Entities, ", ") + ".")
	}
	prompt := fmt.Sprintf(expandPrompt, kind, guidance, req.Query, limit)

	return call(ctx, o, prompt, func(raw string) (ExpandResponse, error) {
		var reply expandReply
		if err := Decode(upstreamName, raw, &reply); err != nil {
			return ExpandResponse{}, err
		}
		queries := cleanQueries(req.Query, reply.Queries, limit)
		if len(queries) == 0 {
			return ExpandResponse{}, nerrors.MalformedUpstream(upstreamName, "no usable query alternatives", nil)
		}
		return ExpandResponse{Queries: queries}, nil
	})
}

// Relationships asks for causal links among the texts, which must already be
// in chronological order. Fewer than two texts never reach the upstream.
func (o *OllamaOracle) Relationships(ctx context.Context, req RelationshipsRequest) (RelationshipsResponse, error) {
	if len(req.Texts) < 2 {
		return RelationshipsResponse{Links: []Link{}}, nil
	}

	var events strings.Builder
	for i, t := range req.Texts {
		fmt.Fprintf(&events, "%d: %s\n", i, t)
	}
	prompt := fmt.Sprintf(relationshipsPrompt, events.String())

	return call(ctx, o, prompt, func(raw string) (RelationshipsResponse, error) {
		var reply relationshipsReply
		if err := Decode(upstreamName, raw, &reply); err != nil {
			return RelationshipsResponse{}, err
		}
		if reply.Relationships == nil {
			return RelationshipsResponse{}, nerrors.MalformedUpstream(upstreamName, "reply has no relationships list", nil)
		}
		links := make([]Link, 0, len(reply.Relationships))
		for _, r := range reply.Relationships {
			confidence := 1.0
			if r.Confidence != nil {
				confidence = *r.Confidence
			}
			links = append(links, Link{Cause: r.Cause, Effect: r.Effect, Type: r.Type, Confidence: confidence})
		}
		return RelationshipsResponse{Links: cleanLinks(len(req.Texts), links)}, nil
	})
}

// call runs generate+parse through the circuit breaker with retries.
// Malformed replies are retried like transient failures.
func call[T any](ctx context.Context, o *OllamaOracle, prompt string, parse func(string) (T, error)) (T, error) {
	return nerrors.CircuitExecute(o.breaker, func() (T, error) {
		return nerrors.RetryWithResult(ctx, o.retry, func() (T, error) {
			raw, err := o.generate(ctx, prompt)
			if err != nil {
				var zero T
				return zero, err
			}
			result, err := parse(raw)
			if err != nil {
				slog.Debug("oracle_reply_rejected",
					slog.String("model", o.cfg.Model),
					slog.String("error", err.Error()))
			}
			return result, err
		})
	})
}

// generate performs one /api/generate round trip under the configured timeout.
func (o *OllamaOracle) generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Model:   o.cfg.Model,
		Prompt:  prompt,
		Stream:  false,
		Format:  "json",
		Options: map[string]any{"temperature": 0.1},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", nerrors.Classify(upstreamName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", nerrors.UpstreamUnavailable(upstreamName, cause)
		}
		return "", nerrors.New(nerrors.ErrCodeMalformedUpstream, "oracle rejected the request", cause)
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		if ctx.Err() != nil {
			return "", nerrors.Classify(upstreamName, ctx.Err())
		}
		return "", nerrors.MalformedUpstream(upstreamName, "decode generate envelope", err)
	}

	return genResp.Response, nil
}

// Available checks if Ollama is reachable and the circuit is not open.
func (o *OllamaOracle) Available(ctx context.Context) bool {
	if !o.breaker.Allow() {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

// ModelName returns the model being used.
func (o *OllamaOracle) ModelName() string {
	return o.cfg.Model
}

// BreakerState exposes the circuit state for status output.
func (o *OllamaOracle) BreakerState() nerrors.State {
	return o.breaker.State()
}
