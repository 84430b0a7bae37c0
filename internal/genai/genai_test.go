package genai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	mu     sync.Mutex
	resp   openai.ChatCompletion
	err    error
	calls  int
	params []openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.params = append(m.params, params)
	return m.resp, m.err
}

func completion(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func newTestClient(t *testing.T, chat chatService, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithBackend(&openAIProvider{chat: chat}),
		WithBackoffStep(time.Millisecond),
	}, opts...)
	c, err := NewClient(opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestComplete_Success(t *testing.T) {
	chat := &mockChatService{resp: completion("  Hello World \n")}
	client := newTestClient(t, chat)

	out, err := client.Complete(context.Background(), Request{System: "sys", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
	if len(chat.params[0].Messages) != 2 {
		t.Errorf("expected system and user messages, got %d", len(chat.params[0].Messages))
	}
	if !chat.params[0].MaxCompletionTokens.Valid() || chat.params[0].MaxCompletionTokens.Value != DefaultMaxTokens {
		t.Errorf("expected max tokens %d to be sent", DefaultMaxTokens)
	}
}

func TestComplete_ServiceErrorRetriesThenFails(t *testing.T) {
	chat := &mockChatService{err: errors.New("service failure")}
	client := newTestClient(t, chat, WithAttempts(3))

	_, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProviderError, got %v", err)
	}
	if perr.Attempts != 3 || chat.calls != 3 {
		t.Errorf("expected 3 attempts, got %d (calls %d)", perr.Attempts, chat.calls)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected wrapped service failure, got %v", err)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	chat := &mockChatService{resp: openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}}
	client := newTestClient(t, chat, WithAttempts(1))

	_, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestComplete_EmptyContent(t *testing.T) {
	chat := &mockChatService{resp: completion("   ")}
	client := newTestClient(t, chat, WithAttempts(2))

	_, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if !errors.Is(err, ErrEmptyContent) {
		t.Errorf("expected empty content error, got %v", err)
	}
	if chat.calls != 2 {
		t.Errorf("expected blank content to be retried, got %d calls", chat.calls)
	}
}

type slowProvider struct{}

func (slowProvider) Name() string { return "slow" }

func (slowProvider) Complete(ctx context.Context, model string, maxTokens int, req Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestComplete_TimeoutPerAttempt(t *testing.T) {
	client, err := NewClient(WithBackend(slowProvider{}), WithTimeout(10*time.Millisecond), WithAttempts(2), WithBackoffStep(time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type panicProvider struct{}

func (panicProvider) Name() string { return "panic" }

func (panicProvider) Complete(context.Context, string, int, Request) (string, error) {
	panic("boom")
}

func TestComplete_ProviderPanicBecomesError(t *testing.T) {
	client, err := NewClient(WithBackend(panicProvider{}), WithAttempts(1))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Complete(context.Background(), Request{})
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("expected panic converted to error, got %v", err)
	}
}

func TestSelectModel(t *testing.T) {
	client := newTestClient(t, &mockChatService{})
	if got := client.SelectModel("int main() { return 0; }"); got != DefaultFineTunedModel {
		t.Errorf("expected fine-tuned model for C content, got %s", got)
	}
	if got := client.SelectModel("hello there"); got != DefaultModel {
		t.Errorf("expected general model, got %s", got)
	}
}

func TestComplete_UsesSelectedModel(t *testing.T) {
	chat := &mockChatService{resp: completion("ok")}
	client := newTestClient(t, chat, WithModel("general"), WithFineTunedModel("tuned"))

	_, _ = client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "#include <stdio.h>"}}})
	_, _ = client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hello"}}})
	if chat.params[0].Model != "tuned" || chat.params[1].Model != "general" {
		t.Errorf("unexpected models %q %q", chat.params[0].Model, chat.params[1].Model)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
	_, err = NewClient(WithProvider(ProviderAnthropic))
	if err == nil {
		t.Error("expected error when Anthropic key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil {
		t.Error("expected client instance, got nil")
	}
}

func TestNewClient_AnthropicDefaults(t *testing.T) {
	cli, err := NewClient(WithProvider(ProviderAnthropic), WithAnthropicAPIKey("k"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cli.model != DefaultAnthropicModel || cli.fineTunedModel != DefaultAnthropicModel {
		t.Errorf("unexpected anthropic models %q %q", cli.model, cli.fineTunedModel)
	}
}

func TestNewClient_UnknownProvider(t *testing.T) {
	if _, err := NewClient(WithProvider("bogus"), WithAPIKey("k")); err == nil {
		t.Error("expected error for unknown provider")
	}
}
