package embedder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingImpl struct {
	calls int
	fail  bool
}

func (c *countingImpl) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func (c *countingImpl) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	c.calls++
	if c.fail {
		return nil, errors.New("provider down")
	}
	return []float32{0.1, 0.2}, nil
}

func TestAdapter(t *testing.T) {
	ctx := context.Background()

	t.Run("Should cache repeated queries", func(t *testing.T) {
		impl := &countingImpl{}
		adapter, err := New(impl, 8)
		require.NoError(t, err)
		first, err := adapter.EmbedQuery(ctx, "same text")
		require.NoError(t, err)
		second, err := adapter.EmbedQuery(ctx, "same text")
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, 1, impl.calls)
	})

	t.Run("Should miss the cache for different text", func(t *testing.T) {
		impl := &countingImpl{}
		adapter, err := New(impl, 8)
		require.NoError(t, err)
		_, err = adapter.EmbedQuery(ctx, "one")
		require.NoError(t, err)
		_, err = adapter.EmbedQuery(ctx, "two")
		require.NoError(t, err)
		assert.Equal(t, 2, impl.calls)
	})

	t.Run("Should surface provider errors", func(t *testing.T) {
		adapter, err := New(&countingImpl{fail: true}, 8)
		require.NoError(t, err)
		_, err = adapter.EmbedQuery(ctx, "boom")
		assert.Error(t, err)
	})

	t.Run("Should require an implementation", func(t *testing.T) {
		_, err := New(nil, 8)
		assert.Error(t, err)
	})
}

func TestStatic(t *testing.T) {
	ctx := context.Background()

	t.Run("Should produce deterministic fixed-dimension vectors", func(t *testing.T) {
		static := NewStatic(8)
		a, err := static.EmbedQuery(ctx, "hello world")
		require.NoError(t, err)
		b, err := static.EmbedQuery(ctx, "hello world")
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Len(t, a, 8)
	})

	t.Run("Should produce different vectors for different text", func(t *testing.T) {
		static := NewStatic(8)
		a, _ := static.EmbedQuery(ctx, "alpha")
		b, _ := static.EmbedQuery(ctx, "omega")
		assert.NotEqual(t, a, b)
	})
}
