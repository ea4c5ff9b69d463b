package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palisade-ai/palisade/engine/model"
)

func noopTestDescriptor() model.Descriptor {
	return model.Descriptor{ModelID: model.NoopModelID, Provider: "noop", CostPerToken: decimal.Zero}
}

func TestNoopClient(t *testing.T) {
	ctx := context.Background()

	t.Run("Should answer deterministically at zero cost", func(t *testing.T) {
		client := NewNoopClient(noopTestDescriptor())
		first, err := client.Generate(ctx, Params{Prompt: "top accounts"})
		require.NoError(t, err)
		second, err := client.Generate(ctx, Params{Prompt: "top accounts"})
		require.NoError(t, err)
		assert.Equal(t, first.Text, second.Text)
		assert.True(t, first.Cost.IsZero())
		assert.Positive(t, first.Tokens)
	})

	t.Run("Should stream the same text it generates", func(t *testing.T) {
		client := NewNoopClient(noopTestDescriptor())
		var chunks strings.Builder
		streamed, err := client.GenerateStream(ctx, Params{Prompt: "top accounts"}, func(_ context.Context, chunk string) error {
			chunks.WriteString(chunk)
			return nil
		})
		require.NoError(t, err)
		generated, err := client.Generate(ctx, Params{Prompt: "top accounts"})
		require.NoError(t, err)
		assert.Equal(t, generated.Text, streamed.Text)
		assert.Equal(t, generated.Text, chunks.String())
	})

	t.Run("Should stop streaming when the consumer aborts", func(t *testing.T) {
		client := NewNoopClient(noopTestDescriptor())
		delivered := 0
		abort := errors.New("consumer gone")
		response, err := client.GenerateStream(ctx, Params{Prompt: "top accounts"}, func(_ context.Context, _ string) error {
			delivered++
			if delivered >= 2 {
				return abort
			}
			return nil
		})
		require.ErrorIs(t, err, abort)
		// Only delivered chunks count toward the returned usage.
		assert.Equal(t, 2, delivered)
		assert.Less(t, len(response.Text), len(noopText(Params{Prompt: "top accounts"})))
	})

	t.Run("Should respect context cancellation", func(t *testing.T) {
		client := NewNoopClient(noopTestDescriptor())
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := client.Generate(cancelled, Params{Prompt: "hello"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDefaultFactory(t *testing.T) {
	t.Run("Should build the noop client", func(t *testing.T) {
		client, err := DefaultFactory{}.NewClient(noopTestDescriptor())
		require.NoError(t, err)
		assert.IsType(t, &NoopClient{}, client)
	})

	t.Run("Should reject unknown providers", func(t *testing.T) {
		_, err := DefaultFactory{}.NewClient(model.Descriptor{ModelID: "x", Provider: "teleport"})
		assert.Error(t, err)
	})
}

func TestPricing(t *testing.T) {
	t.Run("Should price tokens at the descriptor rate", func(t *testing.T) {
		descriptor := model.Descriptor{ModelID: "gpt-4", Provider: "openai", CostPerToken: decimal.RequireFromString("0.00003")}
		cost := priceTokens(descriptor, 1000)
		assert.True(t, cost.Equal(decimal.RequireFromString("0.03")))
	})

	t.Run("Should price zero tokens as zero", func(t *testing.T) {
		descriptor := model.Descriptor{ModelID: "gpt-4", Provider: "openai", CostPerToken: decimal.RequireFromString("0.00003")}
		assert.True(t, priceTokens(descriptor, 0).IsZero())
	})

	t.Run("Should estimate at least one token for non-empty text", func(t *testing.T) {
		assert.Equal(t, 1, estimateTokens("hi"))
		assert.Equal(t, 0, estimateTokens(""))
	})
}

func TestUsageTokens(t *testing.T) {
	t.Run("Should sum prompt and completion usage", func(t *testing.T) {
		tokens := usageTokens(map[string]any{"PromptTokens": 10, "CompletionTokens": 25})
		assert.Equal(t, 35, tokens)
	})

	t.Run("Should fall back to total usage", func(t *testing.T) {
		tokens := usageTokens(map[string]any{"TotalTokens": 42})
		assert.Equal(t, 42, tokens)
	})

	t.Run("Should report zero when nothing is reported", func(t *testing.T) {
		assert.Zero(t, usageTokens(map[string]any{}))
	})
}
