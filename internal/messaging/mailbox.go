package messaging

import (
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// mailbox runs jobs one at a time per key, in the order they were posted. Each key with
// pending jobs has exactly one draining goroutine; idle keys hold no goroutine.
type mailbox struct {
	mu     sync.Mutex
	queues map[string][]func()
	wg     conc.WaitGroup
}

func newMailbox() *mailbox {
	return &mailbox{queues: make(map[string][]func())}
}

func (m *mailbox) post(key string, job func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, running := m.queues[key]
	m.queues[key] = append(q, job)
	if running {
		return
	}
	m.wg.Go(func() { m.drain(key) })
}

func (m *mailbox) drain(key string) {
	for {
		m.mu.Lock()
		q := m.queues[key]
		if len(q) == 0 {
			delete(m.queues, key)
			m.mu.Unlock()
			return
		}
		job := q[0]
		m.queues[key] = q[1:]
		m.mu.Unlock()

		var pc panics.Catcher
		pc.Try(job)
		if r := pc.Recovered(); r != nil {
			slog.Error("mailbox: job panicked", "key", key, "error", r.AsError())
		}
	}
}

// wait blocks until every queue has drained.
func (m *mailbox) wait() {
	m.wg.Wait()
}
