package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/LearnRelay/internal/linebot"
	"github.com/BTreeMap/LearnRelay/internal/models"
)

// LineService implements Service over the LINE Messaging API.
type LineService struct {
	client linebot.Sender
	secret string
	sink   *eventSink
}

var _ Service = (*LineService)(nil)

// NewLineService creates a LINE service. channelSecret verifies webhook signatures.
func NewLineService(client linebot.Sender, channelSecret string) *LineService {
	return &LineService{
		client: client,
		secret: channelSecret,
		sink:   newEventSink("LineService"),
	}
}

// Start is a no-op; LINE delivers events through the webhook.
func (s *LineService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channel.
func (s *LineService) Stop() error {
	s.sink.stop()
	slog.Info("LineService stopped")
	return nil
}

func (s *LineService) Reply(ctx context.Context, replyToken, text string) error {
	if s.sink.isStopped() {
		return ErrServiceStopped
	}
	if replyToken == "" {
		return fmt.Errorf("reply token is empty")
	}
	return s.client.Reply(ctx, replyToken, text)
}

func (s *LineService) Push(ctx context.Context, to, text string) error {
	if s.sink.isStopped() {
		return ErrServiceStopped
	}
	return s.client.Push(ctx, to, text)
}

func (s *LineService) Events() <-chan models.InboundEvent {
	return s.sink.events
}

// CallbackHandler handles LINE webhook requests. A missing signature is rejected with 403,
// a signature that does not match the body with 400. Parsed events are queued and the
// request is acknowledged with 200.
func (s *LineService) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	events, err := linebot.ParseRequest(s.secret, r)
	switch {
	case errors.Is(err, linebot.ErrMissingSignature):
		slog.Warn("LineService.CallbackHandler: missing signature")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	case errors.Is(err, linebot.ErrInvalidSignature):
		slog.Warn("LineService.CallbackHandler: invalid signature")
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	case err != nil:
		slog.Error("LineService.CallbackHandler: failed to parse webhook", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	slog.Debug("LineService.CallbackHandler: webhook received", "events", len(events))
	for _, ev := range events {
		s.sink.emit(ev)
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
