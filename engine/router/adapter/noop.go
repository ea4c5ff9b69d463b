package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/palisade-ai/palisade/engine/model"
)

// NoopClient is the model of last resort: deterministic, offline, and free.
// It answers with a fixed acknowledgement so a fully degraded pipeline still
// completes instead of failing.
type NoopClient struct {
	descriptor model.Descriptor
}

func NewNoopClient(descriptor model.Descriptor) *NoopClient {
	return &NoopClient{descriptor: descriptor}
}

func (c *NoopClient) Generate(ctx context.Context, params Params) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := noopText(params)
	return &Response{Text: text, Tokens: estimateTokens(text), Cost: decimal.Zero}, nil
}

func (c *NoopClient) GenerateStream(ctx context.Context, params Params, fn StreamFunc) (*Response, error) {
	text := noopText(params)
	var consumed strings.Builder
	for _, word := range strings.SplitAfter(text, " ") {
		if err := ctx.Err(); err != nil {
			return &Response{Text: consumed.String(), Tokens: estimateTokens(consumed.String()), Cost: decimal.Zero}, err
		}
		if err := fn(ctx, word); err != nil {
			return &Response{Text: consumed.String(), Tokens: estimateTokens(consumed.String()), Cost: decimal.Zero}, err
		}
		consumed.WriteString(word)
	}
	return &Response{Text: text, Tokens: estimateTokens(text), Cost: decimal.Zero}, nil
}

func (c *NoopClient) Close() error { return nil }

func noopText(params Params) string {
	preview := params.Prompt
	if len(preview) > 80 {
		preview = preview[:80] + "..."
	}
	return fmt.Sprintf("No language model is currently available. Your request (%q) was received and can be retried.", preview)
}
