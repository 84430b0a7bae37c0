package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/LearnRelay/internal/models"
	"github.com/BTreeMap/LearnRelay/internal/twiliowhatsapp"
)

// TwilioService implements Service using the Twilio API. Twilio has no reply tokens, so
// the reply token of an inbound event is the sender's address.
type TwilioService struct {
	client     twiliowhatsapp.Sender
	validator  *twiliowhatsapp.SignatureValidator
	webhookURL string
	sink       *eventSink
}

var _ Service = (*TwilioService)(nil)

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhooks whose X-Twilio-Signature does not match
// webhookURL, the public URL Twilio posts to.
func WithSignatureValidation(authToken, webhookURL string) TwilioOption {
	return func(s *TwilioService) {
		s.validator = twiliowhatsapp.NewSignatureValidator(authToken)
		s.webhookURL = webhookURL
	}
}

// NewTwilioService creates a new TwilioService around a real or mock client.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client: client,
		sink:   newEventSink("TwilioService"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start is a no-op for Twilio (events arrive through the webhook).
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channel.
func (s *TwilioService) Stop() error {
	s.sink.stop()
	slog.Info("TwilioService stopped")
	return nil
}

// Reply sends text back to the address carried in replyToken.
func (s *TwilioService) Reply(ctx context.Context, replyToken, text string) error {
	if replyToken == "" {
		return fmt.Errorf("reply address is empty")
	}
	return s.Push(ctx, replyToken, text)
}

func (s *TwilioService) Push(ctx context.Context, to, text string) error {
	if s.sink.isStopped() {
		return ErrServiceStopped
	}
	return s.client.SendMessage(ctx, to, text)
}

func (s *TwilioService) Events() <-chan models.InboundEvent {
	return s.sink.events
}

// TwilioWebhookHandler handles inbound Twilio webhook requests and queues them as
// message events.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.validator.Validate(s.webhookURL, params, r.Header.Get(twiliowhatsapp.SignatureHeader)) {
			slog.Warn("Twilio webhook signature mismatch")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from := strings.TrimSpace(r.FormValue("From"))
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	eventID := r.FormValue("MessageSid")
	if eventID == "" {
		eventID = uuid.NewString()
	}
	s.sink.emit(models.InboundEvent{
		Kind:       models.EventKindMessage,
		UserID:     from,
		Text:       body,
		ReplyToken: from,
		EventID:    eventID,
		Timestamp:  time.Now(),
	})

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
