package vectordb

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-process vector store keyed by collection. It backs
// tests and the CLI; production deployments use the redis store.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string][]Record)}
}

func (s *MemoryStore) Upsert(_ context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.collections[collection]
	for _, record := range records {
		if record.ID == "" {
			return fmt.Errorf("vectordb: record without id in collection %q", collection)
		}
		replaced := false
		for i := range existing {
			if existing[i].ID == record.ID {
				existing[i] = record
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, record)
		}
	}
	s.collections[collection] = existing
	return nil
}

func (s *MemoryStore) Search(_ context.Context, collection string, query []float32, opts SearchOptions) ([]Match, error) {
	s.mu.RLock()
	records := s.collections[collection]
	s.mu.RUnlock()
	if len(records) == 0 {
		return nil, nil
	}
	matches := make([]Match, 0, len(records))
	for i := range records {
		score, err := CosineSimilarity(query, records[i].Embedding)
		if err != nil {
			return nil, err
		}
		if score < opts.MinScore {
			continue
		}
		matches = append(matches, Match{
			ID:       records[i].ID,
			Score:    score,
			Text:     records[i].Text,
			Scope:    records[i].Scope,
			Metadata: records[i].Metadata,
		})
	}
	sortMatches(matches)
	if opts.TopK > 0 && len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches, nil
}

func (s *MemoryStore) Close(_ context.Context) error {
	return nil
}

func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
}

// CosineSimilarity computes the cosine similarity of two equal-length vectors.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectordb: dimension mismatch (%d vs %d)", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
