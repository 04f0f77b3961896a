package desync

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"desyncd/pkg/logx"
)

// minFallbackSkew is the floor applied when a shifted fire time has already
// passed, so a delay that rounds to zero cannot cause a busy refire loop.
const minFallbackSkew = 250 * time.Millisecond

// Trigger wraps a cron.Schedule and shifts every computed next-fire instant
// later by a desync delay. It is a stateless decorator: each Next call
// delegates first and computes a fresh delay.
type Trigger struct {
	delegate cron.Schedule
	calc     DelaySource

	key, app, host string
	window, jitter time.Duration

	log     logx.Logger
	planLog *rate.Limiter

	now func() time.Time
}

// WrapSchedule decorates delegate with a desync shift. Validation failures
// (empty key/app/host, non-positive window, negative jitter) return an error
// wrapping ErrInvalidConfig.
func WrapSchedule(delegate cron.Schedule, calc DelaySource, key, app, host string, window, jitter time.Duration, log logx.Logger) (*Trigger, error) {
	if delegate == nil {
		return nil, fmt.Errorf("%w: delegate schedule is required", ErrInvalidConfig)
	}
	if err := validateParams(key, app, host, window, jitter); err != nil {
		return nil, err
	}
	if calc == nil {
		calc = NewCalculator()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Trigger{
		delegate: delegate,
		calc:     calc,
		key:      key,
		app:      app,
		host:     host,
		window:   window,
		jitter:   jitter,
		log:      log,
		// Observability only: the plan log must never become the hot path.
		planLog: rate.NewLimiter(rate.Every(5*time.Second), 1),
		now:     time.Now,
	}, nil
}

// Next implements cron.Schedule. A zero time from the delegate (no further
// executions) is propagated unchanged without computing a delay. Otherwise
// the result is strictly in the future: base+delay when that still lies
// ahead, else now+max(delay, minFallbackSkew).
func (t *Trigger) Next(from time.Time) time.Time {
	base := t.delegate.Next(from)
	if base.IsZero() {
		return base
	}

	now := t.now()
	if now.Before(from) {
		now = from
	}

	delay, err := t.calc.Delay(t.key, t.app, t.host, t.window, t.jitter)
	if err != nil {
		// Cannot happen after construction-time validation; run undelayed
		// rather than killing the schedule.
		t.log.Error("desync delay computation failed", logx.String("job", t.key), logx.Err(err))
		return base
	}

	candidate := base.Add(delay)
	if candidate.After(now) {
		if t.planLog.Allow() {
			t.log.Debug("desync plan",
				logx.String("job", t.key),
				logx.Time("base", base),
				logx.Duration("delay", delay),
				logx.Time("run_at", candidate))
		}
		return candidate
	}

	// The shifted time is already behind us (slow trigger evaluation, clock
	// skew, or a base inside the window). Push past now instead of firing at
	// a past instant.
	skew := delay
	if skew < minFallbackSkew {
		skew = minFallbackSkew
	}
	runAt := now.Add(skew)
	if t.planLog.Allow() {
		t.log.Debug("desync plan overdue, rescheduling",
			logx.String("job", t.key),
			logx.Time("base", base),
			logx.Duration("skew", skew),
			logx.Time("run_at", runAt))
	}
	return runAt
}
