package genai

import (
	"context"
	"sync"
)

// MockClient is a scripted Completer for tests.
type MockClient struct {
	mu sync.Mutex
	// Responses are returned in order; the last one repeats once exhausted.
	Responses []string
	// Err, when set, is returned from every call.
	Err error
	// CompleteFunc, when set, overrides Responses and Err.
	CompleteFunc func(ctx context.Context, req Request) (string, error)
	Requests     []Request
	next         int
}

// NewMockClient returns a MockClient answering with the given responses.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{Responses: responses}
}

// Complete records the request and returns the next scripted response.
func (m *MockClient) Complete(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	fn := m.CompleteFunc
	err := m.Err
	var out string
	if len(m.Responses) > 0 {
		i := m.next
		if i >= len(m.Responses) {
			i = len(m.Responses) - 1
		} else {
			m.next++
		}
		out = m.Responses[i]
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return "", err
	}
	return out, nil
}

// Calls returns a copy of the recorded requests.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.Requests))
	copy(out, m.Requests)
	return out
}
