package genai

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

type mockMessageService struct {
	resp   *anthropic.Message
	err    error
	params anthropic.MessageNewParams
}

func (m *mockMessageService) Create(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	m.params = params
	return m.resp, m.err
}

func TestToAnthropicMessagesMergesAndTrims(t *testing.T) {
	in := []Message{
		{Role: RoleAssistant, Content: "dangling"},
		{Role: RoleUser, Content: "one"},
		{Role: RoleUser, Content: "two"},
		{Role: RoleAssistant, Content: ""},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "three"},
	}
	out := toAnthropicMessages(in)
	if len(out) != 3 {
		t.Fatalf("expected 3 merged turns, got %d", len(out))
	}
	if out[0].Role != anthropic.MessageParamRoleUser || out[1].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("unexpected roles %q %q", out[0].Role, out[1].Role)
	}
}

func TestAnthropicProviderError(t *testing.T) {
	svc := &mockMessageService{err: errors.New("overloaded")}
	p := &anthropicProvider{messages: svc}
	_, err := p.Complete(context.Background(), "m", 100, Request{System: "sys", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err == nil {
		t.Fatal("expected error")
	}
	if svc.params.MaxTokens != 100 || len(svc.params.System) != 1 {
		t.Errorf("unexpected params %+v", svc.params)
	}
}

func TestAnthropicProviderNoContent(t *testing.T) {
	p := &anthropicProvider{messages: &mockMessageService{resp: &anthropic.Message{}}}
	_, err := p.Complete(context.Background(), "m", 0, Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Fatalf("expected ErrNoChoicesReturned, got %v", err)
	}
}
