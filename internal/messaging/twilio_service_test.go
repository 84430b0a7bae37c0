package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BTreeMap/LearnRelay/internal/models"
	"github.com/BTreeMap/LearnRelay/internal/twiliowhatsapp"
)

func postForm(h http.HandlerFunc, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestTwilioWebhookEmitsMessage(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	rec := postForm(svc.TwilioWebhookHandler, url.Values{"From": {"whatsapp:+886912345678"}, "Body": {"主動式"}, "MessageSid": {"SM1"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	select {
	case ev := <-svc.Events():
		if ev.Kind != models.EventKindMessage || ev.UserID != "whatsapp:+886912345678" || ev.Text != "主動式" || ev.EventID != "SM1" || ev.ReplyToken != ev.UserID {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected an event")
	}
}

func TestTwilioWebhookRejectsMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	rec := postForm(svc.TwilioWebhookHandler, url.Values{"From": {"whatsapp:+1"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestTwilioWebhookRejectsForgedSignature(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient(), WithSignatureValidation("auth-token", "https://relay.example.com/twilio/webhook"))
	rec := postForm(svc.TwilioWebhookHandler, url.Values{"From": {"whatsapp:+1"}, "Body": {"hi"}})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
	if len(svc.Events()) != 0 {
		t.Error("forged webhook must not emit events")
	}
}

func TestTwilioReplySendsToSender(t *testing.T) {
	client := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(client)
	if err := svc.Reply(context.Background(), "whatsapp:+1555", "hello"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Reply(context.Background(), "", "hello"); err == nil {
		t.Error("empty reply address should fail")
	}
	sent := client.Sent()
	if len(sent) != 1 || sent[0].To != "whatsapp:+1555" || sent[0].Body != "hello" {
		t.Errorf("unexpected sends: %+v", sent)
	}
	_ = svc.Stop()
	if err := svc.Push(context.Background(), "whatsapp:+1555", "x"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}
