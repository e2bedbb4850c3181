package llm

import (
	"context"
	"fmt"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openaiProvider wraps the official openai-go SDK (chat completions).
type openaiProvider struct {
	model string
	opts  []option.RequestOption
}

// newOpenAIProvider constructs a provider for the given model. baseURL may
// be empty; when set (e.g. for a compatible gateway or an httptest server)
// it overrides the SDK default endpoint.
func newOpenAIProvider(model, apiKey, baseURL string) *openaiProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openaiProvider{model: model, opts: opts}
}

func (p *openaiProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	client := openai.NewClient(p.opts...)

	// Only include a system message when non-empty.
	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.UserPrompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	return &Response{
		Content: resp.Choices[0].Message.Content,
		Model:   fmt.Sprintf("openai:%s", resp.Model),
	}, nil
}
