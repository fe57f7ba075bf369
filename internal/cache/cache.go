// Package cache provides the read-through result cache used by the retrieval
// engine: a process-local LRU with TTL, a Redis-backed shared tier, and a
// tiered composition of the two.
//
// Stored values are immutable. Every implementation hands out copies, so a
// caller mutating a returned value never changes what the next caller sees.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Store is a key-value cache for ranked results.
//
// Get returns ok=false on a miss. A non-nil error from Get or Put reports a
// degraded cache tier; callers treat it as a miss and carry on.
type Store[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Put(ctx context.Context, key string, value V) error
}

// Stats are cumulative cache counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
	Corruptions int64
	Entries     int
}

// KeyParts is everything that distinguishes one cached result from another.
type KeyParts struct {
	Query string

	// Variants are the rewrites ranked alongside Query. Their order does
	// not matter.
	Variants []string

	From     time.Time
	To       time.Time
	Entities []string
	Authors  []string
	Alpha    float64
	Temporal bool

	// Corpus identifies the indexed snapshot. A reindex changes it, so
	// results ranked against an older corpus stop matching.
	Corpus string
}

// Key derives a deterministic cache key. Query whitespace and case are
// normalized and filter lists are order-insensitive, so two semantically
// identical requests map to the same key.
func Key(p KeyParts) string {
	var b strings.Builder
	b.WriteString("q=")
	b.WriteString(NormalizeQuery(p.Query))
	b.WriteString("\x00variants=")
	variants := make([]string, len(p.Variants))
	for i, v := range p.Variants {
		variants[i] = NormalizeQuery(v)
	}
	b.WriteString(strings.Join(normalizeList(variants), "\x1f"))
	b.WriteString("\x00from=")
	b.WriteString(formatTime(p.From))
	b.WriteString("\x00to=")
	b.WriteString(formatTime(p.To))
	b.WriteString("\x00entities=")
	b.WriteString(strings.Join(normalizeList(p.Entities), "\x1f"))
	b.WriteString("\x00authors=")
	b.WriteString(strings.Join(normalizeList(p.Authors), "\x1f"))
	fmt.Fprintf(&b, "\x00alpha=%.4f\x00temporal=%t", p.Alpha, p.Temporal)
	b.WriteString("\x00corpus=")
	b.WriteString(p.Corpus)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// NormalizeQuery lowercases and collapses whitespace.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
