// Package twiliowhatsapp wraps the Twilio API for WhatsApp delivery.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioClient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/LearnRelay/internal/util"
)

// MaxBodyLength is the longest body Twilio accepts for a single WhatsApp message.
const MaxBodyLength = 1600

// SignatureHeader carries Twilio's request signature on webhooks.
const SignatureHeader = "X-Twilio-Signature"

// Sender sends WhatsApp text through Twilio.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number in "whatsapp:+1234567890" format.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps Twilio REST API for WhatsApp
type Client struct {
	client    *twilio.RestClient
	fromWhats string
}

var _ Sender = (*Client)(nil)

// NewClient creates a Twilio WhatsApp client. Missing options fall back to
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}
	if !strings.HasPrefix(cfg.FromWhats, "whatsapp:") {
		cfg.FromWhats = "whatsapp:" + cfg.FromWhats
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &Client{
		client:    client,
		fromWhats: cfg.FromWhats,
	}, nil
}

// SendMessage sends body to a WhatsApp number, splitting it when it exceeds MaxBodyLength.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	to = Address(to)
	for i, chunk := range util.SplitText(body, MaxBodyLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		params := &twilioApi.CreateMessageParams{}
		params.SetTo(to)
		params.SetFrom(c.fromWhats)
		params.SetBody(chunk)

		if _, err := c.client.Api.CreateMessage(params); err != nil {
			slog.Error("Twilio SendMessage failed", "to", to, "chunk", i, "error", err)
			return fmt.Errorf("failed to send message to %s: %w", to, err)
		}
	}
	slog.Debug("Twilio message sent", "to", to)
	return nil
}

// Address normalizes a phone number or WhatsApp address to "whatsapp:+<digits>".
func Address(to string) string {
	to = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(to), "whatsapp:"))
	if !strings.HasPrefix(to, "+") {
		to = "+" + to
	}
	return "whatsapp:" + to
}

// SignatureValidator checks the X-Twilio-Signature of inbound webhooks.
type SignatureValidator struct {
	validator twilioClient.RequestValidator
}

// NewSignatureValidator creates a validator for the account's auth token.
func NewSignatureValidator(authToken string) *SignatureValidator {
	return &SignatureValidator{validator: twilioClient.NewRequestValidator(authToken)}
}

// Validate reports whether signature matches the public webhook URL and form params.
func (v *SignatureValidator) Validate(url string, params map[string]string, signature string) bool {
	return v.validator.Validate(url, params, signature)
}

// MockClient records messages instead of calling Twilio.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Err          error
}

// SentMessage is a message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
}

var _ Sender = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{
		SentMessages: []SentMessage{},
	}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}
