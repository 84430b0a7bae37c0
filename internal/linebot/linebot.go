// Package linebot wraps the LINE Messaging API for replies, pushes and webhook parsing.
package linebot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
	"github.com/samber/lo"

	"github.com/BTreeMap/LearnRelay/internal/models"
	"github.com/BTreeMap/LearnRelay/internal/util"
)

// SignatureHeader carries the HMAC signature of a webhook body.
const SignatureHeader = "X-Line-Signature"

// LINE message limits.
const (
	// MaxTextLength is the longest text a single LINE text message may carry.
	MaxTextLength = 5000
	// MaxMessagesPerRequest is how many messages one reply or push request may carry.
	MaxMessagesPerRequest = 5
)

var (
	// ErrMissingSignature is returned when a webhook request has no signature header.
	ErrMissingSignature = errors.New("missing webhook signature")
	// ErrInvalidSignature is returned when the webhook signature does not match the body.
	ErrInvalidSignature = webhook.ErrInvalidSignature
)

// Sender delivers text through the LINE reply and push channels.
type Sender interface {
	Reply(ctx context.Context, replyToken, text string) error
	Push(ctx context.Context, to, text string) error
}

// Opts holds configuration options for the LINE client.
type Opts struct {
	ChannelAccessToken string
	Endpoint           string
}

// Option defines a configuration option for the LINE client.
type Option func(*Opts)

// WithChannelAccessToken sets the long-lived channel access token.
func WithChannelAccessToken(token string) Option {
	return func(o *Opts) { o.ChannelAccessToken = token }
}

// WithEndpoint overrides the API base URL.
func WithEndpoint(endpoint string) Option {
	return func(o *Opts) { o.Endpoint = endpoint }
}

// Client wraps the LINE Messaging API.
type Client struct {
	api *messaging_api.MessagingApiAPI
}

// NewClient creates a LINE Messaging API client.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ChannelAccessToken == "" {
		return nil, fmt.Errorf("LINE channel access token must be provided")
	}

	var apiOpts []messaging_api.MessagingApiAPIOption
	if cfg.Endpoint != "" {
		apiOpts = append(apiOpts, messaging_api.WithEndpoint(cfg.Endpoint))
	}
	api, err := messaging_api.NewMessagingApiAPI(cfg.ChannelAccessToken, apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create LINE messaging client: %w", err)
	}
	slog.Debug("LINE client created", "custom_endpoint", cfg.Endpoint != "")
	return &Client{api: api}, nil
}

// messageBatches splits text into LINE text messages grouped by the per-request cap.
func messageBatches(text string) [][]messaging_api.MessageInterface {
	msgs := lo.Map(util.SplitText(text, MaxTextLength), func(chunk string, _ int) messaging_api.MessageInterface {
		return messaging_api.TextMessage{Text: chunk}
	})
	return lo.Chunk(msgs, MaxMessagesPerRequest)
}

// Reply sends text with a single-use reply token. A reply carries at most
// MaxMessagesPerRequest messages; text beyond that is dropped.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	batches := messageBatches(text)
	if len(batches) > 1 {
		slog.Warn("LINE reply exceeds one request, sending the first part only", "length", len(text), "requests", len(batches))
	}
	_, err := c.api.WithContext(ctx).ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   batches[0],
	})
	if err != nil {
		return fmt.Errorf("failed to reply with LINE token: %w", err)
	}
	slog.Debug("LINE reply sent", "length", len(text), "messages", len(batches[0]))
	return nil
}

// Push sends text to a user, group or room ID, using as many requests as it needs.
func (c *Client) Push(ctx context.Context, to, text string) error {
	for i, batch := range messageBatches(text) {
		// The retry key makes a retried push idempotent on the platform side.
		_, err := c.api.WithContext(ctx).PushMessage(&messaging_api.PushMessageRequest{
			To:       to,
			Messages: batch,
		}, uuid.NewString())
		if err != nil {
			return fmt.Errorf("failed to push LINE message %d to %s: %w", i+1, to, err)
		}
	}
	slog.Debug("LINE push sent", "to", to, "length", len(text))
	return nil
}

// ParseRequest verifies the webhook signature and normalizes the events it carries.
// Events without a user identity are dropped.
func ParseRequest(channelSecret string, r *http.Request) ([]models.InboundEvent, error) {
	if r.Header.Get(SignatureHeader) == "" {
		return nil, ErrMissingSignature
	}
	cb, err := webhook.ParseRequest(channelSecret, r)
	if err != nil {
		return nil, err
	}

	events := make([]models.InboundEvent, 0, len(cb.Events))
	for _, raw := range cb.Events {
		ev, ok := normalize(raw)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func normalize(raw webhook.EventInterface) (models.InboundEvent, bool) {
	switch e := raw.(type) {
	case webhook.MessageEvent:
		ev := models.InboundEvent{
			Kind:       models.EventKindOther,
			UserID:     sourceUserID(e.Source),
			ReplyToken: e.ReplyToken,
			EventID:    e.WebhookEventId,
			Redelivery: e.DeliveryContext != nil && e.DeliveryContext.IsRedelivery,
			Timestamp:  time.UnixMilli(e.Timestamp),
		}
		if text, ok := e.Message.(webhook.TextMessageContent); ok {
			ev.Kind = models.EventKindMessage
			ev.Text = text.Text
		}
		return ev, ev.UserID != ""
	case webhook.FollowEvent:
		ev := models.InboundEvent{
			Kind:       models.EventKindFollow,
			UserID:     sourceUserID(e.Source),
			ReplyToken: e.ReplyToken,
			EventID:    e.WebhookEventId,
			Redelivery: e.DeliveryContext != nil && e.DeliveryContext.IsRedelivery,
			Timestamp:  time.UnixMilli(e.Timestamp),
		}
		return ev, ev.UserID != ""
	default:
		slog.Debug("LINE event ignored", "type", fmt.Sprintf("%T", raw))
		return models.InboundEvent{}, false
	}
}

func sourceUserID(src webhook.SourceInterface) string {
	switch s := src.(type) {
	case webhook.UserSource:
		return s.UserId
	case webhook.GroupSource:
		return s.UserId
	case webhook.RoomSource:
		return s.UserId
	default:
		return ""
	}
}
