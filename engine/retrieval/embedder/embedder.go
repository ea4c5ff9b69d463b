package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tmc/langchaingo/embeddings"
)

// Embedder turns query text into a vector for similarity search.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

const defaultCacheSize = 512

// Adapter wraps a langchaingo embedder implementation with an LRU cache so
// repeated queries skip the provider round trip.
type Adapter struct {
	impl    embeddings.Embedder
	cacheMu sync.Mutex
	cache   *lru.Cache[string, []float32]
}

// New constructs a provider-backed embedder adapter.
func New(impl embeddings.Embedder, cacheSize int) (*Adapter, error) {
	if impl == nil {
		return nil, errors.New("embedder: implementation is required")
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedder: build cache: %w", err)
	}
	return &Adapter{impl: impl, cache: cache}, nil
}

func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	a.cacheMu.Lock()
	if vector, ok := a.cache.Get(key); ok {
		a.cacheMu.Unlock()
		return vector, nil
	}
	a.cacheMu.Unlock()
	vector, err := a.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedder: embed query: %w", err)
	}
	a.cacheMu.Lock()
	a.cache.Add(key, vector)
	a.cacheMu.Unlock()
	return vector, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Static is a deterministic, dependency-free embedder used by tests and the
// CLI demo: it folds text bytes into a fixed-dimension vector. It is not a
// semantic embedding and must not be used where retrieval quality matters.
type Static struct {
	Dimension int
}

func NewStatic(dimension int) *Static {
	if dimension <= 0 {
		dimension = 16
	}
	return &Static{Dimension: dimension}
}

func (s *Static) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	vector := make([]float32, s.Dimension)
	if text == "" {
		return vector, nil
	}
	for i, b := range []byte(text) {
		vector[i%s.Dimension] += float32(b) / 255
	}
	return vector, nil
}
