// Package testutil provides common test utilities and helpers for LearnRelay tests.
package testutil

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/LearnRelay/internal/models"
	"github.com/BTreeMap/LearnRelay/internal/store"
)

// ErrTokenRejected is returned by RecordingService.Reply for rejected tokens.
var ErrTokenRejected = errors.New("reply token rejected")

// Sent is one message recorded by RecordingService.
type Sent struct {
	To   string
	Text string
}

// RecordingService is an in-memory chat platform that records every reply and push.
// It satisfies messaging.Service.
type RecordingService struct {
	mu           sync.Mutex
	replies      []Sent
	pushes       []Sent
	rejectTokens map[string]bool
	pushErr      error
	events       chan models.InboundEvent
	stopOnce     sync.Once
}

// NewRecordingService returns a service whose Events channel holds up to 100 events.
func NewRecordingService() *RecordingService {
	return &RecordingService{
		rejectTokens: map[string]bool{},
		events:       make(chan models.InboundEvent, 100),
	}
}

// RejectToken makes Reply fail for token, as an expired reply token would.
func (s *RecordingService) RejectToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectTokens[token] = true
}

// FailPushes makes every Push return err. A nil err restores pushes.
func (s *RecordingService) FailPushes(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushErr = err
}

func (s *RecordingService) Reply(ctx context.Context, replyToken, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if replyToken == "" || s.rejectTokens[replyToken] {
		return ErrTokenRejected
	}
	s.replies = append(s.replies, Sent{To: replyToken, Text: text})
	return nil
}

func (s *RecordingService) Push(ctx context.Context, to, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushErr != nil {
		return s.pushErr
	}
	s.pushes = append(s.pushes, Sent{To: to, Text: text})
	return nil
}

func (s *RecordingService) Events() <-chan models.InboundEvent { return s.events }

func (s *RecordingService) Start(ctx context.Context) error { return nil }

func (s *RecordingService) Stop() error {
	s.stopOnce.Do(func() { close(s.events) })
	return nil
}

// Emit queues an inbound event.
func (s *RecordingService) Emit(ev models.InboundEvent) {
	s.events <- ev
}

// Replies returns a copy of the recorded replies.
func (s *RecordingService) Replies() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.replies...)
}

// Pushes returns a copy of the recorded pushes.
func (s *RecordingService) Pushes() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.pushes...)
}

// PushTexts returns the texts of the recorded pushes in order.
func (s *RecordingService) PushTexts() []string {
	var out []string
	for _, p := range s.Pushes() {
		out = append(out, p.Text)
	}
	return out
}

// MessageEvent builds a text message event with a reply token derived from id.
func MessageEvent(userID, id, text string) models.InboundEvent {
	return models.InboundEvent{
		Kind:       models.EventKindMessage,
		UserID:     userID,
		Text:       text,
		ReplyToken: "token-" + id,
		EventID:    id,
		Timestamp:  time.Now(),
	}
}

// SignLineBody computes the X-Line-Signature for body.
func SignLineBody(channelSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// LineTextWebhook returns a LINE webhook body carrying one text message event.
func LineTextWebhook(userID, replyToken, eventID, text string) []byte {
	return []byte(fmt.Sprintf(`{"destination":"Ubot","events":[{"type":"message","mode":"active","timestamp":1700000000000,`+
		`"source":{"type":"user","userId":%q},"webhookEventId":%q,"deliveryContext":{"isRedelivery":false},`+
		`"replyToken":%q,"message":{"type":"text","id":"1","quoteToken":"q","text":%q}}]}`,
		userID, eventID, replyToken, text))
}

// NewLineWebhookRequest builds a signed POST /callback request for body.
func NewLineWebhookRequest(t *testing.T, channelSecret string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(body))
	req.Header.Set("X-Line-Signature", SignLineBody(channelSecret, body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// Eventually polls cond until it holds or timeout passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// SeedTurns stores alternating user and bot turns for userID, one second apart.
func SeedTurns(t *testing.T, st store.Store, userID string, texts ...string) {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	for i, text := range texts {
		turn := models.ConversationTurn{UserID: userID, Timestamp: base.Add(time.Duration(i) * time.Second)}
		if i%2 == 0 {
			turn.UserText, turn.Kind = text, models.TurnKindUser
		} else {
			turn.BotText, turn.Kind = text, models.TurnKindBot
		}
		if err := st.SaveTurn(context.Background(), turn); err != nil {
			t.Fatalf("failed to seed turn: %v", err)
		}
	}
}
