package adapter

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/palisade-ai/palisade/engine/model"
)

// Params carries one generation request to a provider client. Prompt is
// already redacted by the time it reaches an adapter.
type Params struct {
	SystemPrompt string
	Prompt       string
	MaxTokens    int
	Temperature  float64
}

// Response is the provider-independent generation result. Tokens covers the
// full exchange (prompt plus completion) when the provider reports usage, and
// an estimate otherwise. Cost is already priced with the serving model's
// per-token rate.
type Response struct {
	Text   string
	Tokens int
	Cost   decimal.Decimal
}

// StreamFunc receives one consumed chunk of streamed output. Returning an
// error aborts the stream; tokens from chunks never delivered are not billed.
type StreamFunc func(ctx context.Context, chunk string) error

// Client is one provider-bound generation client.
type Client interface {
	Generate(ctx context.Context, params Params) (*Response, error)
	GenerateStream(ctx context.Context, params Params, fn StreamFunc) (*Response, error)
	Close() error
}

// Factory builds clients from catalog descriptors. The router caches clients
// per model, so a factory is only consulted on first use.
type Factory interface {
	NewClient(descriptor model.Descriptor) (Client, error)
}

// DefaultFactory routes descriptors to the matching provider implementation.
type DefaultFactory struct{}

func (DefaultFactory) NewClient(descriptor model.Descriptor) (Client, error) {
	switch descriptor.Provider {
	case "noop":
		return NewNoopClient(descriptor), nil
	case "openai", "anthropic", "ollama", "groq":
		return NewLangchainClient(descriptor)
	default:
		return nil, fmt.Errorf("adapter: unsupported provider %q for model %q", descriptor.Provider, descriptor.ModelID)
	}
}

// priceTokens converts a token count into cost at the descriptor's rate.
func priceTokens(descriptor model.Descriptor, tokens int) decimal.Decimal {
	if tokens <= 0 {
		return decimal.Zero
	}
	return descriptor.CostPerToken.Mul(decimal.NewFromInt(int64(tokens)))
}

// estimateTokens approximates usage when a provider omits token counts. The
// four-bytes-per-token heuristic matches what hosted tokenizers average on
// English text.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	tokens := len(text) / 4
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
