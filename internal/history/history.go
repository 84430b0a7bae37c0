// Package history reads and writes conversation turns kept by the history store service.
//
// Reads never fail from the caller's point of view: transport errors are retried a bounded
// number of times and then degrade to an empty history. Writes are best effort and return
// an error the caller logs and drops.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/LearnRelay/internal/models"
	"github.com/BTreeMap/LearnRelay/internal/store"
	"github.com/BTreeMap/LearnRelay/internal/util"
)

// Default configuration for the HTTP client.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultAttempts   = 3
	DefaultRetryDelay = 3 * time.Second
	// DefaultLoadLimit is used when Load is called with a non-positive limit.
	DefaultLoadLimit = 10
)

// Endpoint paths served by the history store.
const (
	GetHistoryPath  = "/get_history"
	SaveMessagePath = "/save_message"
)

// Client loads and saves conversation turns.
type Client interface {
	// Load returns up to limit of the user's newest turns, oldest first. It never fails.
	Load(ctx context.Context, userID string, limit int) []models.ConversationTurn
	// Save appends one turn.
	Save(ctx context.Context, turn models.ConversationTurn) error
}

// SaveRequest is the body of POST /save_message.
type SaveRequest struct {
	UserID      string `json:"user_id"`
	MessageText string `json:"message_text,omitempty"`
	BotResponse string `json:"bot_response,omitempty"`
	MessageType string `json:"message_type"`
}

// HistoryResponse is the body of GET /get_history.
type HistoryResponse struct {
	Messages []models.ConversationTurn `json:"messages"`
}

// NewSaveRequest converts a turn to its wire form.
func NewSaveRequest(turn models.ConversationTurn) SaveRequest {
	return SaveRequest{
		UserID:      turn.UserID,
		MessageText: turn.UserText,
		BotResponse: turn.BotText,
		MessageType: string(turn.Kind),
	}
}

// Turn converts the request back into a turn stamped with now.
func (r SaveRequest) Turn(now time.Time) models.ConversationTurn {
	kind := models.TurnKind(r.MessageType)
	if kind == "" {
		kind = inferKind(r.MessageText, r.BotResponse)
	}
	return models.ConversationTurn{
		UserID:    r.UserID,
		UserText:  r.MessageText,
		BotText:   r.BotResponse,
		Kind:      kind,
		Timestamp: now,
	}
}

// Opts holds configuration options for HTTPClient.
type Opts struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Attempts   int
	RetryDelay time.Duration
}

// Option defines a configuration option for HTTPClient.
type Option func(*Opts)

// WithBaseURL sets the history store base URL, e.g. http://localhost:3000.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithAttempts sets how many times a history read is tried.
func WithAttempts(n int) Option {
	return func(o *Opts) { o.Attempts = n }
}

// WithRetryDelay sets the pause between history read attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Opts) { o.RetryDelay = d }
}

// HTTPClient talks to the history store service over HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	attempts   int
	retryDelay time.Duration
}

var _ Client = (*HTTPClient)(nil)

// errMalformed marks a response body that is not history JSON. It is not retried.
var errMalformed = errors.New("malformed history response")

// NewHTTPClient creates a client for the history store at the configured base URL.
func NewHTTPClient(opts ...Option) (*HTTPClient, error) {
	cfg := Opts{
		Timeout:    DefaultTimeout,
		Attempts:   DefaultAttempts,
		RetryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("history base URL must be provided")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid history base URL: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	slog.Debug("History HTTPClient configured", "baseURL", cfg.BaseURL, "timeout", cfg.Timeout, "attempts", cfg.Attempts)
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		timeout:    cfg.Timeout,
		attempts:   cfg.Attempts,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// Load fetches the user's recent turns. Failures are logged and yield an empty history.
func (c *HTTPClient) Load(ctx context.Context, userID string, limit int) []models.ConversationTurn {
	if limit <= 0 {
		limit = DefaultLoadLimit
	}
	var turns []models.ConversationTurn
	err := util.Retry(ctx, c.attempts, util.ConstantBackoff(c.retryDelay), func(attempt int) error {
		got, err := c.fetch(ctx, userID, limit)
		if errors.Is(err, errMalformed) {
			slog.Warn("HistoryClient.Load: malformed response, using empty history", "userID", userID, "error", err)
			return nil
		}
		if err != nil {
			slog.Warn("HistoryClient.Load: attempt failed", "userID", userID, "attempt", attempt, "attempts", c.attempts, "error", err)
			return err
		}
		turns = got
		return nil
	})
	if err != nil {
		slog.Error("HistoryClient.Load: giving up, using empty history", "userID", userID, "error", err)
		return nil
	}
	return normalize(turns, limit)
}

func (c *HTTPClient) fetch(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("limit", strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+GetHistoryPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read history body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("get history: unexpected status %d", resp.StatusCode)
	}
	var hr HistoryResponse
	if err := json.Unmarshal(body, &hr); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return hr.Messages, nil
}

// Save posts one turn to the history store.
func (c *HTTPClient) Save(ctx context.Context, turn models.ConversationTurn) error {
	payload, err := json.Marshal(NewSaveRequest(turn))
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+SaveMessagePath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build save request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("save message for %s: %w", turn.UserID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("save message for %s: unexpected status %d", turn.UserID, resp.StatusCode)
	}
	slog.Debug("HistoryClient.Save: turn saved", "userID", turn.UserID, "kind", turn.Kind)
	return nil
}

// StoreBackend reads and writes turns directly through a store.Store.
type StoreBackend struct {
	store store.Store
}

var _ Client = (*StoreBackend)(nil)

// NewStoreBackend wraps s.
func NewStoreBackend(s store.Store) *StoreBackend {
	return &StoreBackend{store: s}
}

func (b *StoreBackend) Load(ctx context.Context, userID string, limit int) []models.ConversationTurn {
	if limit <= 0 {
		limit = DefaultLoadLimit
	}
	turns, err := b.store.ListTurns(ctx, userID, limit)
	if err != nil {
		slog.Error("HistoryStoreBackend.Load: list failed, using empty history", "userID", userID, "error", err)
		return nil
	}
	return normalize(turns, limit)
}

func (b *StoreBackend) Save(ctx context.Context, turn models.ConversationTurn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	return b.store.SaveTurn(ctx, turn)
}

// Noop discards writes and always returns an empty history.
type Noop struct{}

var _ Client = Noop{}

func (Noop) Load(context.Context, string, int) []models.ConversationTurn { return nil }

func (Noop) Save(context.Context, models.ConversationTurn) error { return nil }

// normalize fills missing kinds, orders by timestamp and keeps the newest limit turns.
func normalize(turns []models.ConversationTurn, limit int) []models.ConversationTurn {
	out := make([]models.ConversationTurn, 0, len(turns))
	for _, t := range turns {
		if t.Kind == "" {
			t.Kind = inferKind(t.UserText, t.BotText)
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func inferKind(userText, botText string) models.TurnKind {
	if strings.TrimSpace(userText) == "" && strings.TrimSpace(botText) != "" {
		return models.TurnKindBot
	}
	return models.TurnKindUser
}
