// Package eventbus is a small in-memory fanout used to decouple the job
// registry and runner from stats collection and the HTTP surface.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Job lifecycle event types published on the bus.
const (
	JobScheduled = "job.scheduled"
	JobStarted   = "job.started"
	JobFinished  = "job.finished"
	JobFailed    = "job.failed"
	JobDropped   = "job.dropped"
	JobCancelled = "job.cancelled"
)

// JobEvent is the payload carried by job lifecycle events.
type JobEvent struct {
	RunID    string
	JobID    string
	Started  time.Time
	Duration time.Duration
	Error    string
}

// Event is a lightweight in-memory signal.
//
// Contract:
//   - Publish never blocks.
//   - Slow subscribers lose events (bounded backpressure, no buffering
//     beyond the subscriber channel).
type Event struct {
	Type string
	Time time.Time
	Data JobEvent
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Publishing under RLock means Unsubscribe (which takes the write lock)
	// cannot close a channel while a send is being attempted.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
