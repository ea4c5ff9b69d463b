package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/palisade-ai/palisade/engine/model"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// LangchainClient serves one catalog model through a langchaingo provider
// binding.
type LangchainClient struct {
	descriptor model.Descriptor
	llm        llms.Model
}

// NewLangchainClient builds the provider binding described by the descriptor.
func NewLangchainClient(descriptor model.Descriptor) (*LangchainClient, error) {
	llm, err := buildModel(descriptor)
	if err != nil {
		return nil, err
	}
	return &LangchainClient{descriptor: descriptor, llm: llm}, nil
}

func buildModel(descriptor model.Descriptor) (llms.Model, error) {
	providerModel := descriptor.ProviderModel
	if providerModel == "" {
		providerModel = descriptor.ModelID
	}
	switch descriptor.Provider {
	case "openai":
		opts := []openai.Option{openai.WithModel(providerModel)}
		if descriptor.APIKey != "" {
			opts = append(opts, openai.WithToken(descriptor.APIKey))
		}
		if descriptor.APIURL != "" {
			opts = append(opts, openai.WithBaseURL(descriptor.APIURL))
		}
		return openai.New(opts...)
	case "groq":
		baseURL := descriptor.APIURL
		if baseURL == "" {
			baseURL = groqBaseURL
		}
		opts := []openai.Option{openai.WithModel(providerModel), openai.WithBaseURL(baseURL)}
		if descriptor.APIKey != "" {
			opts = append(opts, openai.WithToken(descriptor.APIKey))
		}
		return openai.New(opts...)
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithModel(providerModel)}
		if descriptor.APIKey != "" {
			opts = append(opts, anthropic.WithToken(descriptor.APIKey))
		}
		return anthropic.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(providerModel)}
		if descriptor.APIURL != "" {
			opts = append(opts, ollama.WithServerURL(descriptor.APIURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("adapter: no langchain binding for provider %q", descriptor.Provider)
	}
}

func (c *LangchainClient) Generate(ctx context.Context, params Params) (*Response, error) {
	response, err := c.llm.GenerateContent(ctx, buildMessages(params), buildCallOptions(params)...)
	if err != nil {
		return nil, fmt.Errorf("adapter: %s generate: %w", c.descriptor.ModelID, err)
	}
	return c.buildResponse(response)
}

func (c *LangchainClient) GenerateStream(ctx context.Context, params Params, fn StreamFunc) (*Response, error) {
	if fn == nil {
		return nil, errors.New("adapter: stream func is required")
	}
	var consumed strings.Builder
	opts := append(buildCallOptions(params), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		if err := fn(ctx, string(chunk)); err != nil {
			return err
		}
		consumed.WriteString(string(chunk))
		return nil
	}))
	response, err := c.llm.GenerateContent(ctx, buildMessages(params), opts...)
	if err != nil {
		// Only chunks the consumer actually received count toward usage.
		tokens := estimateTokens(consumed.String())
		return &Response{
			Text:   consumed.String(),
			Tokens: tokens,
			Cost:   priceTokens(c.descriptor, tokens),
		}, fmt.Errorf("adapter: %s stream: %w", c.descriptor.ModelID, err)
	}
	return c.buildResponse(response)
}

func (c *LangchainClient) Close() error { return nil }

func (c *LangchainClient) buildResponse(response *llms.ContentResponse) (*Response, error) {
	if response == nil || len(response.Choices) == 0 {
		return nil, fmt.Errorf("adapter: %s returned no choices", c.descriptor.ModelID)
	}
	choice := response.Choices[0]
	tokens := usageTokens(choice.GenerationInfo)
	if tokens == 0 {
		tokens = estimateTokens(choice.Content)
	}
	return &Response{
		Text:   choice.Content,
		Tokens: tokens,
		Cost:   priceTokens(c.descriptor, tokens),
	}, nil
}

func buildMessages(params Params) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, 2)
	if params.SystemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, params.SystemPrompt))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, params.Prompt))
	return messages
}

func buildCallOptions(params Params) []llms.CallOption {
	var opts []llms.CallOption
	if params.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(params.MaxTokens))
	}
	if params.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(params.Temperature))
	}
	return opts
}

// usageTokens pulls reported usage out of provider generation info. Key names
// differ per provider; anything missing falls back to estimation.
func usageTokens(info map[string]any) int {
	total := 0
	for _, key := range []string{"PromptTokens", "CompletionTokens", "InputTokens", "OutputTokens"} {
		if v, ok := info[key]; ok {
			if n, ok := v.(int); ok {
				total += n
			}
		}
	}
	if total == 0 {
		if v, ok := info["TotalTokens"]; ok {
			if n, ok := v.(int); ok {
				total = n
			}
		}
	}
	return total
}
