package genai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openAIChat adapts the SDK completion service to chatService.
type openAIChat struct {
	completions *openai.ChatCompletionService
}

func (o openAIChat) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := o.completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// openAIProvider sends requests to the OpenAI chat completions API.
type openAIProvider struct {
	chat chatService
}

func newOpenAIProvider(apiKey string) *openAIProvider {
	// Retries are handled by Client.
	cli := openai.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0))
	return &openAIProvider{chat: openAIChat{completions: &cli.Chat.Completions}}
}

func (p *openAIProvider) Name() string { return ProviderOpenAI }

func (p *openAIProvider) Complete(ctx context.Context, model string, maxTokens int, req Request) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		if m.Role == RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(m.Content))
			continue
		}
		msgs = append(msgs, openai.UserMessage(m.Content))
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}

	resp, err := p.chat.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}
