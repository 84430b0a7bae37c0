package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeSource struct {
	recipients []Recipient
	mu         sync.Mutex
	generated  map[string]int
}

func (f *fakeSource) ChallengeRecipients() []Recipient { return f.recipients }

func (f *fakeSource) DailyChallenge(ctx context.Context, level string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.generated == nil {
		f.generated = map[string]int{}
	}
	f.generated[level]++
	return "challenge for " + level
}

type fakeAnnouncer struct {
	mu   sync.Mutex
	sent map[string]string
	fail map[string]bool
}

func (f *fakeAnnouncer) Announce(ctx context.Context, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[userID] {
		return errors.New("push failed")
	}
	if f.sent == nil {
		f.sent = map[string]string{}
	}
	f.sent[userID] = text
	return nil
}

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	// Should add a valid cron job without error
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
}

func TestScheduleDailyChallengeRejectsBadExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.ScheduleDailyChallenge(context.Background(), "not a cron", &fakeSource{}, &fakeAnnouncer{}); err == nil {
		t.Error("expected error for invalid cron expression")
	}
	if err := s.ScheduleDailyChallenge(context.Background(), "0 8 * * *", &fakeSource{}, &fakeAnnouncer{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunDailyChallengeGeneratesOncePerLevel(t *testing.T) {
	src := &fakeSource{recipients: []Recipient{
		{UserID: "a", Level: "beginner"},
		{UserID: "b", Level: "beginner"},
		{UserID: "c", Level: "advanced"},
	}}
	out := &fakeAnnouncer{}

	if got := RunDailyChallenge(context.Background(), src, out); got != 3 {
		t.Fatalf("expected 3 sent, got %d", got)
	}
	if src.generated["beginner"] != 1 || src.generated["advanced"] != 1 {
		t.Errorf("each level should be generated once, got %v", src.generated)
	}
	if out.sent["b"] != "challenge for beginner" || out.sent["c"] != "challenge for advanced" {
		t.Errorf("unexpected messages: %v", out.sent)
	}
}

func TestRunDailyChallengeContinuesAfterPushFailure(t *testing.T) {
	src := &fakeSource{recipients: []Recipient{{UserID: "a", Level: "beginner"}, {UserID: "b", Level: "beginner"}}}
	out := &fakeAnnouncer{fail: map[string]bool{"a": true}}
	if got := RunDailyChallenge(context.Background(), src, out); got != 1 {
		t.Errorf("expected 1 sent, got %d", got)
	}
	if _, ok := out.sent["b"]; !ok {
		t.Error("b should still receive the challenge")
	}
}

func TestRunDailyChallengeWithoutRecipients(t *testing.T) {
	src := &fakeSource{}
	if got := RunDailyChallenge(context.Background(), src, &fakeAnnouncer{}); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
	if len(src.generated) != 0 {
		t.Error("no generation expected without recipients")
	}
}
