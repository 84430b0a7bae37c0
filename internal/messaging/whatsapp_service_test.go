package messaging

import (
	"context"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/LearnRelay/internal/models"
	"github.com/BTreeMap/LearnRelay/internal/whatsapp"
)

func textMessage(from, text string, fromMe bool) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Sender:   types.NewJID(from, types.DefaultUserServer),
				IsFromMe: fromMe,
			},
			ID:        "3EB0ABC",
			Timestamp: time.Unix(1700000000, 0),
		},
		Message: &waE2E.Message{Conversation: &text},
	}
}

func TestInboundFromWhatsApp(t *testing.T) {
	ev, ok := inboundFromWhatsApp(textMessage("886912345678", "下一題", false))
	if !ok {
		t.Fatal("expected text message to be accepted")
	}
	if ev.Kind != models.EventKindMessage || ev.UserID != "+886912345678" || ev.Text != "下一題" || ev.ReplyToken != "+886912345678" || ev.EventID != "3EB0ABC" {
		t.Errorf("unexpected event: %+v", ev)
	}

	if _, ok := inboundFromWhatsApp(textMessage("886912345678", "echo", true)); ok {
		t.Error("own messages must be skipped")
	}
	empty := textMessage("886912345678", "", false)
	empty.Message = &waE2E.Message{}
	if _, ok := inboundFromWhatsApp(empty); ok {
		t.Error("non-text messages must be skipped")
	}
}

func TestWhatsAppServiceWithMock(t *testing.T) {
	client := whatsapp.NewMockClient()
	svc := NewWhatsAppService(client)
	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Reply(ctx, "+1555", "hi"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if msgs := client.Messages(); len(msgs) != 1 || msgs[0].To != "+1555" {
		t.Errorf("unexpected messages: %+v", msgs)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if _, ok := <-svc.Events(); ok {
		t.Error("expected events channel closed")
	}
}
