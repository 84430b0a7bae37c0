// Package messaging delivers the relay's answers over a chat platform and feeds inbound
// events to the dispatcher.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LearnRelay/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound event channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines how long an emit waits on a full channel before dropping
	DefaultChannelTimeout = 1 * time.Second
)

// Platform names accepted by the relay.
const (
	PlatformLine     = "line"
	PlatformTwilio   = "twilio"
	PlatformWhatsApp = "whatsapp"
)

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service is a pluggable chat platform.
type Service interface {
	// Reply answers an inbound event through its reply channel. Tokens may be single use.
	Reply(ctx context.Context, replyToken, text string) error

	// Push sends an unsolicited message to a user.
	Push(ctx context.Context, to, text string) error

	// Events returns the channel of normalized inbound events.
	Events() <-chan models.InboundEvent

	// Start begins any background processing (e.g., event subscriptions).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channel.
	Stop() error
}

// eventSink is the stop-aware inbound channel shared by the services.
type eventSink struct {
	name    string
	mu      sync.RWMutex
	events  chan models.InboundEvent
	stopped bool
}

func newEventSink(name string) *eventSink {
	return &eventSink{name: name, events: make(chan models.InboundEvent, DefaultChannelBufferSize)}
}

// emit forwards ev unless the sink is stopped or stays full for DefaultChannelTimeout.
func (s *eventSink) emit(ev models.InboundEvent) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn(s.name+" dropping inbound event (service stopped)", "userID", ev.UserID)
		return false
	}
	select {
	case s.events <- ev:
		slog.Debug(s.name+" emitted inbound event", "userID", ev.UserID, "kind", ev.Kind)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(s.name+" events channel blocked, dropping event", "userID", ev.UserID, "timeout", DefaultChannelTimeout)
		return false
	}
}

func (s *eventSink) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// stop closes the channel once. Emits in flight finish first because they hold the read lock.
func (s *eventSink) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.events)
}
