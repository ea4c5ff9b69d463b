package vectordb

import (
	"context"
	"strings"
	"unicode"

	"github.com/palisade-ai/palisade/engine/core"
)

// Record represents a chunk persisted to the vector store, tagged with the
// scope that produced it.
type Record struct {
	ID        string
	Text      string
	Embedding []float32
	Scope     core.Scope
	Metadata  map[string]string
}

// SearchOptions controls similarity search execution.
type SearchOptions struct {
	TopK     int
	MinScore float64
}

// Match captures a similarity search result. Scores are raw cosine
// similarities; normalization happens in the coordinator.
type Match struct {
	ID       string
	Score    float64
	Text     string
	Scope    core.Scope
	Metadata map[string]string
}

// Store exposes the minimal contract for ingestion and retrieval. Collections
// are named deterministically from scope, one per division.
type Store interface {
	Upsert(ctx context.Context, collection string, records []Record) error
	Search(ctx context.Context, collection string, query []float32, opts SearchOptions) ([]Match, error)
	Close(ctx context.Context) error
}

// CollectionForScope derives the deterministic collection name for a scope.
// Isolation is per division; departments share a division's collection and
// are filtered by scope tags at read time.
func CollectionForScope(scope core.Scope) string {
	return "vectors:" + sanitizeKey(scope.DivisionID)
}

func sanitizeKey(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "default"
	}
	builder := strings.Builder{}
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			builder.WriteRune(unicode.ToLower(r))
		case r == ':', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('_')
		}
	}
	key := strings.Trim(builder.String(), "_:-")
	if key == "" {
		return "default"
	}
	return key
}
