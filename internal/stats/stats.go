// Package stats aggregates per-job execution counters from the event bus.
//
// Counters are owned by the service instance, not by package-level state, so
// independent registries in tests do not share counts.
package stats

import (
	"context"
	"sync"
	"time"

	"desyncd/internal/eventbus"
	"desyncd/internal/storage"
	"desyncd/pkg/logx"
)

// JobCounters holds the lifetime counts for one job id (since startup or the
// last Reset).
type JobCounters struct {
	Scheduled uint64        `json:"scheduled"`
	Fired     uint64        `json:"fired"`
	Succeeded uint64        `json:"succeeded"`
	Failed    uint64        `json:"failed"`
	Dropped   uint64        `json:"dropped"`
	Cancelled uint64        `json:"cancelled"`
	Runtime   time.Duration `json:"runtime_ns"`
	LastRun   time.Time     `json:"last_run,omitzero"`
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Since time.Time              `json:"since"`
	Jobs  map[string]JobCounters `json:"jobs"`
	Total JobCounters            `json:"total"`
}

type Service struct {
	bus   eventbus.Bus
	store storage.Store
	log   logx.Logger

	mu    sync.Mutex
	jobs  map[string]*JobCounters
	since time.Time

	unsub func()
	done  chan struct{}
}

// New creates the collector. store may be nil (no persistence).
func New(bus eventbus.Bus, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		bus:   bus,
		store: store,
		log:   log,
		jobs:  map[string]*JobCounters{},
		since: time.Now(),
	}
}

// Start subscribes to the bus and begins counting. Call once per instance.
func (s *Service) Start(ctx context.Context) {
	ch, unsub := s.bus.Subscribe(128)
	s.unsub = unsub
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				s.apply(ctx, e)
			}
		}
	}()
}

// Stop unsubscribes and waits for the consumer to drain.
func (s *Service) Stop() {
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	if s.done != nil {
		<-s.done
		s.done = nil
	}
}

func (s *Service) apply(ctx context.Context, e eventbus.Event) {
	s.mu.Lock()
	c := s.jobs[e.Data.JobID]
	if c == nil {
		c = &JobCounters{}
		s.jobs[e.Data.JobID] = c
	}
	switch e.Type {
	case eventbus.JobScheduled:
		c.Scheduled++
	case eventbus.JobStarted:
		c.Fired++
	case eventbus.JobFinished:
		c.Succeeded++
		c.Runtime += e.Data.Duration
		c.LastRun = e.Data.Started
	case eventbus.JobFailed:
		c.Failed++
		c.Runtime += e.Data.Duration
		c.LastRun = e.Data.Started
	case eventbus.JobDropped:
		c.Dropped++
	case eventbus.JobCancelled:
		c.Cancelled++
	}
	s.mu.Unlock()

	if s.store != nil && (e.Type == eventbus.JobFinished || e.Type == eventbus.JobFailed) {
		rec := storage.RunRecord{
			At:       e.Data.Started,
			RunID:    e.Data.RunID,
			JobID:    e.Data.JobID,
			Duration: e.Data.Duration,
			OK:       e.Type == eventbus.JobFinished,
			Error:    e.Data.Error,
		}
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		if err := s.store.AppendRun(wctx, rec); err != nil {
			s.log.Warn("run record not persisted", logx.String("job", rec.JobID), logx.Err(err))
		}
		cancel()
	}
}

// Snapshot returns a copy of all counters plus a rollup total.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Snapshot{Since: s.since, Jobs: make(map[string]JobCounters, len(s.jobs))}
	for id, c := range s.jobs {
		out.Jobs[id] = *c
		out.Total.Scheduled += c.Scheduled
		out.Total.Fired += c.Fired
		out.Total.Succeeded += c.Succeeded
		out.Total.Failed += c.Failed
		out.Total.Dropped += c.Dropped
		out.Total.Cancelled += c.Cancelled
		out.Total.Runtime += c.Runtime
		if c.LastRun.After(out.Total.LastRun) {
			out.Total.LastRun = c.LastRun
		}
	}
	return out
}

// Reset zeroes all counters and restarts the observation window.
func (s *Service) Reset() {
	s.mu.Lock()
	s.jobs = map[string]*JobCounters{}
	s.since = time.Now()
	s.mu.Unlock()
	s.log.Info("job counters reset")
}
