// Package genai provides the completion gateway used to generate tutor replies.
//
// A Client selects a model from the prompt content, bounds every provider call with a
// timeout, retries with backoff and reports exhaustion as a *ProviderError.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/BTreeMap/LearnRelay/internal/classifier"
	"github.com/BTreeMap/LearnRelay/internal/util"
)

// Provider names accepted by WithProvider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Defaults for the completion gateway.
const (
	DefaultModel          = "gpt-4o"
	DefaultFineTunedModel = "ft:gpt-4o-2024-08-06:personal::B5sbnkYa"
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultMaxTokens      = 500
	DefaultTimeout        = 30 * time.Second
	DefaultAttempts       = 3
	DefaultBackoffStep    = 2 * time.Second
)

var (
	// ErrNoChoicesReturned is returned when the provider answers without any choice.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrEmptyContent is returned when the provider answers with blank text.
	ErrEmptyContent = errors.New("empty completion content")
)

// ProviderError reports that every attempt to reach the completion provider failed.
type ProviderError struct {
	Attempts int
	Model    string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("completion with model %s failed after %d attempt(s): %v", e.Model, e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message sent to the provider.
type Message struct {
	Role    Role
	Content string
}

// Request is a provider-neutral completion request.
type Request struct {
	System   string
	Messages []Message
	// Purpose labels the request in logs, e.g. "answer_feedback".
	Purpose string
}

// Text concatenates every prompt text of the request.
func (r Request) Text() string {
	parts := make([]string, 0, len(r.Messages)+1)
	parts = append(parts, r.System)
	for _, m := range r.Messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

// Completer generates text for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Provider performs a single completion call against one backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, model string, maxTokens int, req Request) (string, error)
}

// Opts holds configuration options for the completion gateway.
type Opts struct {
	Provider        string
	APIKey          string // OpenAI API key
	AnthropicAPIKey string
	Model           string
	FineTunedModel  string
	MaxTokens       int
	Timeout         time.Duration
	Attempts        int
	BackoffStep     time.Duration
	backend         Provider
}

// Option defines a configuration option for the completion gateway.
type Option func(*Opts)

// WithProvider selects the backend by name ("openai" or "anthropic").
func WithProvider(name string) Option {
	return func(o *Opts) { o.Provider = name }
}

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithAnthropicAPIKey sets the Anthropic API key.
func WithAnthropicAPIKey(key string) Option {
	return func(o *Opts) { o.AnthropicAPIKey = key }
}

// WithModel sets the general purpose model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithFineTunedModel sets the model used for C language content.
func WithFineTunedModel(model string) Option {
	return func(o *Opts) { o.FineTunedModel = model }
}

// WithMaxTokens bounds the completion length.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithTimeout bounds each provider attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithAttempts sets how many times a failing call is tried.
func WithAttempts(n int) Option {
	return func(o *Opts) { o.Attempts = n }
}

// WithBackoffStep sets the linear backoff step between attempts.
func WithBackoffStep(d time.Duration) Option {
	return func(o *Opts) { o.BackoffStep = d }
}

// WithBackend injects a Provider, skipping API key checks.
func WithBackend(p Provider) Option {
	return func(o *Opts) { o.backend = p }
}

// Client is the completion gateway.
type Client struct {
	provider       Provider
	model          string
	fineTunedModel string
	maxTokens      int
	timeout        time.Duration
	attempts       int
	backoff        util.Backoff
	isDomain       func(string) bool
}

// NewClient builds a completion gateway from the given options.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Provider:    ProviderOpenAI,
		MaxTokens:   DefaultMaxTokens,
		Timeout:     DefaultTimeout,
		Attempts:    DefaultAttempts,
		BackoffStep: DefaultBackoffStep,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	backend := cfg.backend
	if backend == nil {
		var err error
		backend, err = newBackend(cfg)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
		if backend.Name() == ProviderAnthropic {
			cfg.Model = DefaultAnthropicModel
		}
	}
	if cfg.FineTunedModel == "" {
		cfg.FineTunedModel = cfg.Model
		if backend.Name() == ProviderOpenAI {
			cfg.FineTunedModel = DefaultFineTunedModel
		}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}

	slog.Debug("GenAI client configured", "provider", backend.Name(), "model", cfg.Model,
		"fineTunedModel", cfg.FineTunedModel, "maxTokens", cfg.MaxTokens, "timeout", cfg.Timeout, "attempts", cfg.Attempts)

	return &Client{
		provider:       backend,
		model:          cfg.Model,
		fineTunedModel: cfg.FineTunedModel,
		maxTokens:      cfg.MaxTokens,
		timeout:        cfg.Timeout,
		attempts:       cfg.Attempts,
		backoff:        util.LinearBackoff(cfg.BackoffStep),
		isDomain:       classifier.Default.IsDomainContent,
	}, nil
}

func newBackend(cfg Opts) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key not set")
		}
		return newOpenAIProvider(cfg.APIKey), nil
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key not set")
		}
		return newAnthropicProvider(cfg.AnthropicAPIKey), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}
}

// SelectModel returns the fine-tuned model for C language content and the general model otherwise.
func (c *Client) SelectModel(text string) string {
	if c.isDomain != nil && c.isDomain(text) {
		return c.fineTunedModel
	}
	return c.model
}

// Complete runs the request against the provider with per-attempt timeout and bounded retry.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	model := c.SelectModel(req.Text())
	tried := 0
	var out string

	err := util.Retry(ctx, c.attempts, c.backoff, func(attempt int) error {
		tried = attempt
		text, err := c.attempt(ctx, model, req)
		if err != nil {
			slog.Warn("GenAI.Complete: attempt failed", "purpose", req.Purpose, "model", model, "attempt", attempt, "error", err)
			return err
		}
		out = text
		return nil
	})
	if err != nil {
		perr := &ProviderError{Attempts: tried, Model: model, Err: err}
		slog.Error("GenAI.Complete: giving up", "purpose", req.Purpose, "model", model, "attempts", tried, "error", err)
		return "", perr
	}

	slog.Debug("GenAI.Complete: success", "purpose", req.Purpose, "model", model, "attempts", tried, "length", len(out))
	return out, nil
}

// attempt makes one bounded provider call, converting a provider panic into an error.
func (c *Client) attempt(ctx context.Context, model string, req Request) (string, error) {
	actx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var (
		text string
		err  error
		pc   panics.Catcher
	)
	pc.Try(func() {
		text, err = c.provider.Complete(actx, model, c.maxTokens, req)
	})
	if r := pc.Recovered(); r != nil {
		return "", fmt.Errorf("provider %s panicked: %w", c.provider.Name(), r.AsError())
	}
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyContent
	}
	return text, nil
}
