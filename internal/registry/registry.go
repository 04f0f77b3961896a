package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"desyncd/internal/config"
	"desyncd/internal/desync"
	"desyncd/internal/eventbus"
	"desyncd/internal/identity"
	"desyncd/internal/runner"
	"desyncd/pkg/logx"
)

// ErrUnavailable is returned when scheduling is requested after Stop.
var ErrUnavailable = errors.New("registry: scheduler unavailable")

// Desync defaults applied to jobs that do not set their own window/jitter.
const (
	DefaultWindow = 7 * time.Minute
	DefaultJitter = 20 * time.Second
)

// Handler is a job body. Handlers may run past their trigger's next firing;
// overlap is the pool's concern, not the registry's.
type Handler func(ctx context.Context) error

// Config holds the static job table plus process-wide desync defaults.
type Config struct {
	Jobs map[string]config.JobConfig

	DefaultWindow time.Duration // 0 means DefaultWindow
	DefaultJitter time.Duration // 0 means DefaultJitter
}

func (c Config) withDefaults() Config {
	if c.DefaultWindow <= 0 {
		c.DefaultWindow = DefaultWindow
	}
	if c.DefaultJitter < 0 {
		c.DefaultJitter = DefaultJitter
	}
	return c
}

// Handle is the cancel capability for one live schedule. The registry owns
// everything else about the job.
type Handle struct {
	jobID     string
	entry     cron.EntryID
	reg       *Registry
	cancelled atomic.Bool
}

func (h *Handle) JobID() string { return h.jobID }

// Cancelled reports whether this handle has been cancelled or superseded.
func (h *Handle) Cancelled() bool { return h.cancelled.Load() }

// Cancel prevents future firings. It returns true exactly once; an in-flight
// run is not interrupted.
func (h *Handle) Cancel() bool {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()
	return h.reg.cancelHandleLocked(h)
}

// Registry turns the declarative job table into live schedules: cron jobs
// get a desync-wrapped trigger, fixed-period jobs get an interceptor-wrapped
// body. One live Handle per job id; re-activating an id cancels its
// predecessor first.
type Registry struct {
	mu sync.Mutex

	cfg Config
	id  identity.Identity
	run *runner.Service

	calc desync.DelaySource
	log  logx.Logger
	bus  eventbus.Bus

	parser cron.Parser
	c      *cron.Cron

	handlers map[string]Handler
	handles  map[string]*Handle
	errs     map[string]error

	started bool
	stopped bool
}

func New(cfg Config, id identity.Identity, run *runner.Service, log logx.Logger, bus eventbus.Bus) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		cfg:  cfg.withDefaults(),
		id:   id,
		run:  run,
		calc: desync.NewCalculator(),
		log:  log,
		bus:  bus,
		// SecondOptional accepts both 5-field and 6-field (with seconds)
		// cron expressions, matching the job tables this replaces.
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		handlers: map[string]Handler{},
		handles:  map[string]*Handle{},
		errs:     map[string]error{},
	}
}

// RegisterHandler associates a task body with a job id. Call before Start;
// later registrations take effect on the next (re-)activation of the id.
// Enabled jobs without a handler fall back to a log-only default, so a
// declarative job table is safe to apply before real logic is wired.
func (r *Registry) RegisterHandler(jobID string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil {
		delete(r.handlers, jobID)
		return
	}
	r.handlers[jobID] = h
}

// Start activates every enabled job in the table. A job spec that fails
// validation is logged and recorded but does not prevent sibling jobs from
// being scheduled; Start errors only when the scheduler itself is gone.
// Calling Start again re-activates the table, replacing live handles
// (idempotent re-schedule).
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrUnavailable
	}

	if r.c == nil {
		r.c = cron.New(cron.WithParser(r.parser), cron.WithLocation(time.UTC))
	}

	r.log.Debug("desync identity", logx.String("app", r.id.App), logx.String("host", r.id.Host))
	if len(r.cfg.Jobs) == 0 {
		r.log.Info("job table is empty, nothing to schedule")
	}

	ids := make([]string, 0, len(r.cfg.Jobs))
	for id := range r.cfg.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, jobID := range ids {
		jc := r.cfg.Jobs[jobID]
		if jc.Disabled {
			r.log.Info("job disabled", logx.String("job", jobID))
			continue
		}
		if err := r.scheduleLocked(jobID, jc); err != nil {
			r.errs[jobID] = err
			r.log.Error("failed to schedule job", logx.String("job", jobID), logx.Err(err))
			continue
		}
		delete(r.errs, jobID)
	}

	if !r.started {
		r.c.Start()
		r.started = true
	}
	r.log.Info("registry started", logx.Int("scheduled", len(r.handles)), logx.Int("failed", len(r.errs)))
	return nil
}

// Cancel removes and cancels the live schedule for jobID, reporting whether
// anything was cancelled.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[jobID]
	if !ok {
		return false
	}
	return r.cancelHandleLocked(h)
}

// Stop cancels all live handles and halts triggering. It does not wait for
// in-flight job bodies. Idempotent; the registry cannot be started again.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true

	for _, h := range r.handles {
		r.cancelHandleLocked(h)
	}
	if r.c != nil {
		// Stop halts trigger evaluation; queued enqueues are trivial and
		// drain on their own.
		r.c.Stop()
		r.c = nil
	}
	r.started = false
	r.log.Info("registry stopped")
}

// Handle returns the live handle for jobID, if any.
func (r *Registry) Handle(jobID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[jobID]
	return h, ok
}

// Errors returns a copy of the per-job validation errors recorded by the
// last Start.
func (r *Registry) Errors() map[string]error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]error, len(r.errs))
	for k, v := range r.errs {
		out[k] = v
	}
	return out
}

// JobInfo describes one live schedule for the status surface.
type JobInfo struct {
	JobID string
	Type  config.JobType
	Value string
	Next  time.Time
	Prev  time.Time
}

// Jobs lists the live schedules, sorted by job id.
func (r *Registry) Jobs() []JobInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JobInfo, 0, len(r.handles))
	for jobID, h := range r.handles {
		info := JobInfo{JobID: jobID}
		if jc, ok := r.cfg.Jobs[jobID]; ok {
			info.Type = jc.Type
			info.Value = jc.Value
		}
		if r.c != nil {
			e := r.c.Entry(h.entry)
			info.Next = e.Next
			info.Prev = e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// ---------- internals ----------

func (r *Registry) scheduleLocked(jobID string, jc config.JobConfig) error {
	window, err := config.ParseDurationOrDefault(jc.DesyncWindow, r.cfg.DefaultWindow)
	if err != nil {
		return fmt.Errorf("%w: desync_window: %v", desync.ErrInvalidConfig, err)
	}
	jitter, err := config.ParseDurationOrDefault(jc.DesyncJitter, r.cfg.DefaultJitter)
	if err != nil {
		return fmt.Errorf("%w: desync_jitter: %v", desync.ErrInvalidConfig, err)
	}

	handler, ok := r.handlers[jobID]
	if !ok {
		handler = defaultHandler(jobID, jc, r.log)
	}

	var sched cron.Schedule
	body := handler

	switch jc.Type {
	case config.JobTypeCron:
		parsed, err := r.parser.Parse(jc.Value)
		if err != nil {
			return fmt.Errorf("%w: invalid cron expression %q (expected 5 or 6 fields: [sec] min hour dom month dow): %v",
				desync.ErrInvalidConfig, jc.Value, err)
		}
		trig, err := desync.WrapSchedule(parsed, r.calc, jobID, r.id.App, r.id.Host, window, jitter, r.log)
		if err != nil {
			return err
		}
		sched = trig

	case config.JobTypeDuration:
		period, err := config.ParsePositiveDuration(jc.Value)
		if err != nil {
			return fmt.Errorf("%w: invalid period (ISO-8601 like PT30S, or Go form like 30s): %v",
				desync.ErrInvalidConfig, err)
		}
		// Fixed-period schedules cannot be shifted per firing, so the delay
		// moves into the body: sleep, then invoke.
		ic, err := desync.NewInterceptor(r.calc, jobID, r.id.App, r.id.Host, window, jitter, r.log)
		if err != nil {
			return err
		}
		sched = cron.Every(period)
		body = ic.Wrap(handler)

	default:
		return fmt.Errorf("%w: unsupported job type %q", desync.ErrInvalidConfig, jc.Type)
	}

	// Keep activation idempotent: a previous schedule for this id is
	// cancelled before the replacement goes live.
	if prev, ok := r.handles[jobID]; ok {
		r.cancelHandleLocked(prev)
		r.log.Debug("replaced existing schedule", logx.String("job", jobID))
	}

	h := &Handle{jobID: jobID, reg: r}
	run := body
	h.entry = r.c.Schedule(sched, cron.FuncJob(func() {
		if err := r.run.Enqueue(runner.Task{JobID: jobID, Run: run}); err != nil {
			r.log.Debug("enqueue rejected", logx.String("job", jobID), logx.Err(err))
		}
	}))
	r.handles[jobID] = h

	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.JobScheduled, Data: eventbus.JobEvent{JobID: jobID}})
	}
	r.log.Info("job scheduled",
		logx.String("job", jobID),
		logx.String("type", string(jc.Type)),
		logx.String("value", jc.Value),
		logx.Duration("window", window),
		logx.Duration("jitter", jitter))
	return nil
}

// cancelHandleLocked cancels h if it is still live. Call with r.mu held.
func (r *Registry) cancelHandleLocked(h *Handle) bool {
	if !h.cancelled.CompareAndSwap(false, true) {
		return false
	}
	if r.c != nil {
		r.c.Remove(h.entry)
	}
	if cur, ok := r.handles[h.jobID]; ok && cur == h {
		delete(r.handles, h.jobID)
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.JobCancelled, Data: eventbus.JobEvent{JobID: h.jobID}})
	}
	r.log.Info("job cancelled", logx.String("job", h.jobID))
	return true
}

// defaultHandler is used for enabled jobs with no registered body. It only
// logs, so a declarative table never errors just because wiring is pending.
func defaultHandler(jobID string, jc config.JobConfig, log logx.Logger) Handler {
	return func(ctx context.Context) error {
		log.Info("executing configured job",
			logx.String("job", jobID),
			logx.String("description", jc.Description))
		if jc.Endpoint != "" {
			log.Debug("job endpoint (informational)", logx.String("job", jobID), logx.String("endpoint", jc.Endpoint))
		}
		return nil
	}
}
