package linebot

import (
	"context"
	"errors"
	"sync"
)

// ErrReplyTokenRejected is what MockClient returns for tokens listed in RejectTokens.
var ErrReplyTokenRejected = errors.New("invalid reply token")

// SentMessage is a message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// MockClient records replies and pushes instead of calling LINE.
type MockClient struct {
	mu           sync.Mutex
	Replies      []SentMessage
	Pushes       []SentMessage
	RejectTokens map[string]bool
	PushErr      error
}

// NewMockClient returns an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{RejectTokens: map[string]bool{}}
}

// Reply records the reply unless its token is rejected.
func (m *MockClient) Reply(ctx context.Context, replyToken, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if replyToken == "" || m.RejectTokens[replyToken] {
		return ErrReplyTokenRejected
	}
	m.Replies = append(m.Replies, SentMessage{To: replyToken, Body: text})
	return nil
}

// Push records the push.
func (m *MockClient) Push(ctx context.Context, to, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PushErr != nil {
		return m.PushErr
	}
	m.Pushes = append(m.Pushes, SentMessage{To: to, Body: text})
	return nil
}

// Sent returns copies of the recorded replies and pushes.
func (m *MockClient) Sent() (replies, pushes []SentMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Replies...), append([]SentMessage(nil), m.Pushes...)
}
