package oracle

import (
	"context"
	"errors"
	"sync"

	nerrors "github.com/Aman-CERP/newsline/internal/errors"
)

// ErrStubUnscripted is the cause reported when a Stub operation has no script.
var ErrStubUnscripted = errors.New("stub oracle: operation not scripted")

// Stub is a deterministic, scriptable Oracle.
//
// Classify looks up Labels by exact query first, then calls ClassifyFunc.
// The other operations call their funcs; Entities, Expand and Relationships
// results are cleaned the same way live replies are. An operation with no script
// behaves like an unreachable upstream, so callers exercise their local
// fallbacks. Err, when set, is returned from every operation.
type Stub struct {
	Labels         map[string]ClassifyResponse
	ClassifyFunc   func(ClassifyRequest) (ClassifyResponse, error)
	SimilarityFunc func(SimilarityRequest) (SimilarityResponse, error)
	ImportanceFunc func(ImportanceRequest) (ImportanceResponse, error)
	EntitiesFunc   func(EntitiesRequest) (EntitiesResponse, error)
	ExpandFunc     func(ExpandRequest) (ExpandResponse, error)
	RelationsFunc  func(RelationshipsRequest) (RelationshipsResponse, error)
	Err            error
	Down           bool

	mu    sync.Mutex
	calls map[string]int
}

var _ Oracle = (*Stub)(nil)

// NewStub returns a Stub with no scripts.
func NewStub() *Stub {
	return &Stub{Labels: make(map[string]ClassifyResponse)}
}

// Classify returns the scripted label for req.Query.
func (s *Stub) Classify(ctx context.Context, req ClassifyRequest) (ClassifyResponse, error) {
	s.record("classify")
	if err := s.precheck(ctx); err != nil {
		return ClassifyResponse{}, err
	}
	if resp, ok := s.Labels[req.Query]; ok {
		return resp, nil
	}
	if s.ClassifyFunc != nil {
		return s.ClassifyFunc(req)
	}
	return ClassifyResponse{}, nerrors.UpstreamUnavailable(upstreamName, ErrStubUnscripted)
}

// Similarity returns the scripted pair scores.
func (s *Stub) Similarity(ctx context.Context, req SimilarityRequest) (SimilarityResponse, error) {
	s.record("similarity")
	if err := s.precheck(ctx); err != nil {
		return SimilarityResponse{}, err
	}
	if s.SimilarityFunc != nil {
		return s.SimilarityFunc(req)
	}
	return SimilarityResponse{}, nerrors.UpstreamUnavailable(upstreamName, ErrStubUnscripted)
}

// Importance returns the scripted topic scores.
func (s *Stub) Importance(ctx context.Context, req ImportanceRequest) (ImportanceResponse, error) {
	s.record("importance")
	if err := s.precheck(ctx); err != nil {
		return ImportanceResponse{}, err
	}
	if s.ImportanceFunc != nil {
		return s.ImportanceFunc(req)
	}
	return ImportanceResponse{}, nerrors.UpstreamUnavailable(upstreamName, ErrStubUnscripted)
}

// Entities returns the scripted entities for req.Query.
func (s *Stub) Entities(ctx context.Context, req EntitiesRequest) (EntitiesResponse, error) {
	s.record("entities")
	if err := s.precheck(ctx); err != nil {
		return EntitiesResponse{}, err
	}
	if s.EntitiesFunc == nil {
		return EntitiesResponse{}, nerrors.UpstreamUnavailable(upstreamName, ErrStubUnscripted)
	}
	resp, err := s.EntitiesFunc(req)
	if err != nil {
		return EntitiesResponse{}, err
	}
	return EntitiesResponse{Entities: cleanEntities(resp.Entities)}, nil
}

// Expand returns the scripted alternatives for req.Query.
func (s *Stub) Expand(ctx context.Context, req ExpandRequest) (ExpandResponse, error) {
	s.record("expand")
	if err := s.precheck(ctx); err != nil {
		return ExpandResponse{}, err
	}
	if s.ExpandFunc == nil {
		return ExpandResponse{}, nerrors.UpstreamUnavailable(upstreamName, ErrStubUnscripted)
	}
	resp, err := s.ExpandFunc(req)
	if err != nil {
		return ExpandResponse{}, err
	}
	return ExpandResponse{Queries: cleanQueries(req.Query, resp.Queries, req.Max)}, nil
}

// Relationships returns the scripted causal links.
func (s *Stub) Relationships(ctx context.Context, req RelationshipsRequest) (RelationshipsResponse, error) {
	s.record("relationships")
	if err := s.precheck(ctx); err != nil {
		return RelationshipsResponse{}, err
	}
	if s.RelationsFunc == nil {
		return RelationshipsResponse{}, nerrors.UpstreamUnavailable(upstreamName, ErrStubUnscripted)
	}
	resp, err := s.RelationsFunc(req)
	if err != nil {
		return RelationshipsResponse{}, err
	}
	return RelationshipsResponse{Links: cleanLinks(len(req.Texts), resp.Links)}, nil
}

// Available reports false only when Down is set.
func (s *Stub) Available(_ context.Context) bool {
	return !s.Down
}

// Calls returns how many times op ran. Ops are named after the methods in
// lower case: "classify", "similarity", "importance", "entities", "expand"
// and "relationships".
func (s *Stub) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Stub) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[op]++
}

func (s *Stub) precheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return nerrors.Classify(upstreamName, err)
	}
	if s.Err != nil {
		return s.Err
	}
	if s.Down {
		return nerrors.UpstreamUnavailable(upstreamName, errors.New("stub oracle is down"))
	}
	return nil
}
