package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/LearnRelay/internal/models"
	"github.com/BTreeMap/LearnRelay/internal/whatsapp"
)

// WhatsAppService implements Service using the whatsmeow-based client. Like Twilio it
// has no reply tokens; the reply token is the sender's number.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client
	sink     *eventSink
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	s := &WhatsAppService{
		client: client,
		sink:   newEventSink("WhatsAppService"),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return s
}

// Start subscribes to whatsmeow events when a real client is present.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			if ev, ok := inboundFromWhatsApp(msg); ok {
				s.sink.emit(ev)
			}
		}
	})
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop closes the event channel and disconnects the client.
func (s *WhatsAppService) Stop() error {
	s.sink.stop()
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	slog.Info("WhatsAppService stopped")
	return nil
}

// Reply sends text to the number carried in replyToken.
func (s *WhatsAppService) Reply(ctx context.Context, replyToken, text string) error {
	if replyToken == "" {
		return fmt.Errorf("reply address is empty")
	}
	return s.Push(ctx, replyToken, text)
}

func (s *WhatsAppService) Push(ctx context.Context, to, text string) error {
	if s.sink.isStopped() {
		return ErrServiceStopped
	}
	return s.client.SendMessage(ctx, to, text)
}

func (s *WhatsAppService) Events() <-chan models.InboundEvent {
	return s.sink.events
}

// inboundFromWhatsApp normalizes a text message event. Non-text and own messages are skipped.
func inboundFromWhatsApp(evt *events.Message) (models.InboundEvent, bool) {
	if evt.Message == nil || evt.Info.IsFromMe {
		return models.InboundEvent{}, false
	}
	var text string
	switch {
	case evt.Message.GetConversation() != "":
		text = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage().GetText() != "":
		text = evt.Message.GetExtendedTextMessage().GetText()
	default:
		return models.InboundEvent{}, false
	}

	from := evt.Info.Sender.User
	if from == "" {
		return models.InboundEvent{}, false
	}
	if !strings.HasPrefix(from, "+") {
		from = "+" + from
	}
	return models.InboundEvent{
		Kind:       models.EventKindMessage,
		UserID:     from,
		Text:       text,
		ReplyToken: from,
		EventID:    string(evt.Info.ID),
		Timestamp:  evt.Info.Timestamp,
	}, true
}
