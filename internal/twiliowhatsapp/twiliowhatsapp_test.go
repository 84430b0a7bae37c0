package twiliowhatsapp

import (
	"context"
	"errors"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "12345", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}

	if sent[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", sent[0].Body)
	}
}

func TestMockClient_Err(t *testing.T) {
	mock := NewMockClient()
	mock.Err = errors.New("boom")
	if err := mock.SendMessage(context.Background(), "1", "x"); err == nil {
		t.Fatal("expected error")
	}
	if len(mock.Sent()) != 0 {
		t.Error("failed send must not be recorded")
	}
}

func TestAddress(t *testing.T) {
	tests := map[string]string{
		"+886912345678":          "whatsapp:+886912345678",
		"886912345678":           "whatsapp:+886912345678",
		"whatsapp:+886912345678": "whatsapp:+886912345678",
		" whatsapp:+1555 ":       "whatsapp:+1555",
	}
	for in, want := range tests {
		if got := Address(in); got != want {
			t.Errorf("Address(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); err == nil {
		t.Fatal("expected error without from number")
	}
	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromWhats("+15550001111"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.fromWhats != "whatsapp:+15550001111" {
		t.Errorf("fromWhats = %q", c.fromWhats)
	}
}

func TestSignatureValidatorRejectsForgery(t *testing.T) {
	v := NewSignatureValidator("secret")
	if v.Validate("https://example.com/twilio/webhook", map[string]string{"From": "whatsapp:+1", "Body": "hi"}, "forged") {
		t.Error("forged signature accepted")
	}
}
