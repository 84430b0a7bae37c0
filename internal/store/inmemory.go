package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/LearnRelay/internal/models"
)

// InMemoryStore is a process-local Store.
type InMemoryStore struct {
	mu     sync.RWMutex
	turns  map[string][]models.ConversationTurn
	events map[string]EventRecord
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		turns:  make(map[string][]models.ConversationTurn),
		events: make(map[string]EventRecord),
	}
}

func (s *InMemoryStore) SaveTurn(ctx context.Context, turn models.ConversationTurn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.UserID] = append(s.turns[turn.UserID], turn)
	return nil
}

func (s *InMemoryStore) ListTurns(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error) {
	s.mu.RLock()
	all := make([]models.ConversationTurn, len(s.turns[userID]))
	copy(all, s.turns[userID])
	s.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *InMemoryStore) ClaimEvent(ctx context.Context, eventID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; ok {
		return false, nil
	}
	s.events[eventID] = EventRecord{EventID: eventID, UserID: userID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) CompleteEvent(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.events[eventID]
	if !ok || rec.HandledAt != nil {
		return nil
	}
	now := time.Now()
	rec.HandledAt = &now
	s.events[eventID] = rec
	return nil
}

func (s *InMemoryStore) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.events {
		if rec.ReceivedAt.Before(cutoff) {
			delete(s.events, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }
