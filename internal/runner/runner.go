// Package runner executes job bodies on a shared bounded worker pool.
//
// The pool deliberately has more than one worker by default: intercepted
// jobs sleep their desync delay on the worker, and a single-worker pool
// would let one job's sleep starve the rest.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"desyncd/internal/eventbus"
	"desyncd/pkg/logx"
)

var (
	// ErrNotRunning is returned by Enqueue when the pool is stopped.
	ErrNotRunning = errors.New("runner: not running")
	// ErrQueueFull is returned when the bounded queue rejects a run.
	ErrQueueFull = errors.New("runner: queue full")
)

const dropWarnEvery = 5 * time.Second

// Config controls the worker pool.
type Config struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration // 0 disables the global per-run timeout
	HistorySize    int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}

// Task is one queued job run.
type Task struct {
	RunID   string // assigned if empty
	JobID   string
	Timeout time.Duration // falls back to Config.DefaultTimeout when 0
	Run     func(ctx context.Context) error
}

// HistoryItem records one finished run (kept in a bounded in-memory ring).
type HistoryItem struct {
	RunID    string
	JobID    string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	queue  chan Task
	stopCh chan struct{}
	wg     sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem

	dropped        atomic.Uint64
	lastDropWarnNs atomic.Int64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), log: log, bus: bus}
}

// Start launches the workers. Idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.queue = make(chan Task, s.cfg.QueueSize)

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.worker(ctx)
		}()
	}
	s.log.Info("runner started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop signals workers and waits for them (bounded by ctx). Queued tasks
// that have not started are abandoned; in-flight runs finish on their own.
// Idempotent.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// best-effort
	}
	s.log.Info("runner stopped")
}

// Enqueue submits a run without blocking. A full queue drops the run and
// returns ErrQueueFull; callers treat drops as lost firings, not failures of
// the schedule itself.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return errors.New("runner: task has no body")
	}
	if t.RunID == "" {
		t.RunID = uuid.NewString()
	}

	s.mu.Lock()
	running := s.stopCh != nil
	queue := s.queue
	s.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	select {
	case queue <- t:
		return nil
	default:
		s.dropped.Add(1)
		s.warnDropThrottled(t)
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.JobDropped, Data: eventbus.JobEvent{
				RunID: t.RunID, JobID: t.JobID, Error: "queue_full",
			}})
		}
		return fmt.Errorf("%w: job %s", ErrQueueFull, t.JobID)
	}
}

// Dropped reports the total number of runs rejected by the full queue.
func (s *Service) Dropped() uint64 { return s.dropped.Load() }

// History returns a copy of the recent run records, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Service) worker(ctx context.Context) {
	s.mu.Lock()
	stopCh := s.stopCh
	queue := s.queue
	s.mu.Unlock()
	if stopCh == nil {
		return
	}

	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.runOne(ctx, t)
		}
	}
}

func (s *Service) runOne(ctx context.Context, t Task) {
	start := time.Now()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.JobStarted, Time: start, Data: eventbus.JobEvent{
			RunID: t.RunID, JobID: t.JobID, Started: start,
		}})
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	rctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := s.invoke(rctx, t)
	dur := time.Since(start)

	errStr := ""
	evType := eventbus.JobFinished
	if err != nil {
		errStr = err.Error()
		evType = eventbus.JobFailed
		s.log.Warn("job run failed", logx.String("job", t.JobID), logx.Duration("took", dur), logx.Err(err))
	} else {
		s.log.Debug("job run finished", logx.String("job", t.JobID), logx.Duration("took", dur))
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: evType, Data: eventbus.JobEvent{
			RunID: t.RunID, JobID: t.JobID, Started: start, Duration: dur, Error: errStr,
		}})
	}

	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{RunID: t.RunID, JobID: t.JobID, Started: start, Duration: dur, Error: errStr})
	if n := s.cfg.HistorySize; len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
	s.hmu.Unlock()
}

// invoke runs the task body, converting panics into errors so one bad
// handler cannot take down a worker.
func (s *Service) invoke(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("job panicked", logx.String("job", t.JobID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return t.Run(ctx)
}

func (s *Service) warnDropThrottled(t Task) {
	now := time.Now().UnixNano()
	last := s.lastDropWarnNs.Load()
	if now-last < int64(dropWarnEvery) {
		return
	}
	if s.lastDropWarnNs.CompareAndSwap(last, now) {
		s.log.Warn("job run dropped, queue full",
			logx.String("job", t.JobID),
			logx.Uint64("dropped_total", s.dropped.Load()))
	}
}
