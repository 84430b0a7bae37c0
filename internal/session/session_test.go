package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/LearnRelay/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestGetCreatesDefaultPassiveSession(t *testing.T) {
	s := NewStore()
	sess := s.Get("new-user")
	if sess.Mode != models.ModePassive {
		t.Errorf("expected passive, got %q", sess.Mode)
	}
	if sess.Active != nil {
		t.Error("expected no active state for a new user")
	}
	if s.Len() != 1 {
		t.Errorf("expected session to be created, len=%d", s.Len())
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Set("u", models.UserSession{Mode: models.ModeActive, Active: &models.ActiveState{LastQuestion: "Q", AwaitingAnswer: true, DifficultyLevel: 1}})
	got := s.Get("u")
	got.Active.LastQuestion = "mutated"
	if s.Get("u").Active.LastQuestion != "Q" {
		t.Error("Get leaked a reference to stored state")
	}
}

func TestUpdateDiscardsOnError(t *testing.T) {
	s := NewStore()
	_, err := s.Update("u", func(sess *models.UserSession) error {
		sess.Mode = models.ModeActive
		return errors.New("nope")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if s.Get("u").Mode != models.ModePassive {
		t.Error("failed update must not be stored")
	}
}

func TestUpdateSerializesPerUser(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Update("u", func(sess *models.UserSession) error {
				a := sess.EnsureActive()
				a.IrrelevantCount++
				return nil
			})
		}()
	}
	wg.Wait()
	if got := s.Get("u").Active.IrrelevantCount; got != 100 {
		t.Errorf("expected 100 serialized increments, got %d", got)
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := NewStore(WithTTL(time.Hour), WithClock(clock.Now))
	s.Get("old")
	clock.Advance(30 * time.Minute)
	s.Get("fresh")
	clock.Advance(45 * time.Minute)

	if n := s.Sweep(); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, ok := s.Peek("old"); ok {
		t.Error("expected old session to be evicted")
	}
	if _, ok := s.Peek("fresh"); !ok {
		t.Error("expected fresh session to remain")
	}
}

func TestSweepSkipsLockedSessions(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := NewStore(WithTTL(time.Minute), WithClock(clock.Now))

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Update("busy", func(sess *models.UserSession) error {
			close(started)
			<-release
			sess.Mode = models.ModeActive
			return nil
		})
	}()
	<-started
	clock.Advance(time.Hour)
	if n := s.Sweep(); n != 0 {
		t.Errorf("locked session must not be evicted, got %d", n)
	}
	close(release)
	<-done
	if s.Get("busy").Mode != models.ModeActive {
		t.Error("update lost")
	}
}

func TestUpdateAfterEvictionRecreates(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := NewStore(WithTTL(time.Minute), WithClock(clock.Now))
	s.Set("u", models.UserSession{Mode: models.ModeInteractive})
	clock.Advance(time.Hour)
	s.Sweep()

	sess, err := s.Update("u", func(sess *models.UserSession) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Mode != models.ModePassive {
		t.Errorf("evicted session should restart as passive, got %q", sess.Mode)
	}
}

func TestMaxSessionsEvictsLRU(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := NewStore(WithMaxSessions(2), WithClock(clock.Now))
	s.Get("a")
	clock.Advance(time.Second)
	s.Get("b")
	clock.Advance(time.Second)
	s.Get("a")
	clock.Advance(time.Second)
	s.Get("c")

	if s.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", s.Len())
	}
	if _, ok := s.Peek("b"); ok {
		t.Error("expected least recently used session b to be evicted")
	}
}

func TestRangeSnapshots(t *testing.T) {
	s := NewStore()
	s.Get("a")
	s.Get("b")
	seen := map[string]bool{}
	s.Range(func(id string, sess models.UserSession) bool {
		seen[id] = true
		return true
	})
	if len(seen) != 2 {
		t.Errorf("expected 2 sessions, got %v", seen)
	}
}
