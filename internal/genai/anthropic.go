package genai

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// messageService defines minimal interface for the Anthropic messages API.
type messageService interface {
	Create(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

type anthropicMessages struct {
	svc *anthropic.MessageService
}

func (a anthropicMessages) Create(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return a.svc.New(ctx, params)
}

// anthropicProvider sends requests to the Anthropic messages API.
type anthropicProvider struct {
	messages messageService
}

func newAnthropicProvider(apiKey string) *anthropicProvider {
	cli := anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0))
	return &anthropicProvider{messages: anthropicMessages{svc: &cli.Messages}}
}

func (p *anthropicProvider) Name() string { return ProviderAnthropic }

func (p *anthropicProvider) Complete(ctx context.Context, model string, maxTokens int, req Request) (string, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  toAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := p.messages.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return "", ErrNoChoicesReturned
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

// toAnthropicMessages merges consecutive same-role messages and makes sure the
// conversation opens with a user turn, as the messages API requires.
func toAnthropicMessages(in []Message) []anthropic.MessageParam {
	type turn struct {
		role Role
		text []string
	}
	var turns []turn
	for _, m := range in {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := m.Role
		if role != RoleAssistant {
			role = RoleUser
		}
		if len(turns) == 0 && role == RoleAssistant {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].text = append(turns[n-1].text, m.Content)
			continue
		}
		turns = append(turns, turn{role: role, text: []string{m.Content}})
	}

	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(strings.Join(t.text, "\n\n"))
		if t.role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}
