package desync

import (
	"context"
	"time"

	"desyncd/pkg/logx"
)

// Interceptor applies the desync delay as a blocking sleep immediately
// before invoking the job body. It is the integration point for schedules
// that cannot be wrapped with a Trigger (fixed-period jobs).
//
// The sleep occupies a worker for its whole duration. Run intercepted jobs
// on a pool with more than one worker.
type Interceptor struct {
	calc DelaySource

	key, app, host string
	window, jitter time.Duration

	log logx.Logger
}

// NewInterceptor validates parameters the same way WrapSchedule does.
func NewInterceptor(calc DelaySource, key, app, host string, window, jitter time.Duration, log logx.Logger) (*Interceptor, error) {
	if err := validateParams(key, app, host, window, jitter); err != nil {
		return nil, err
	}
	if calc == nil {
		calc = NewCalculator()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Interceptor{
		calc:   calc,
		key:    key,
		app:    app,
		host:   host,
		window: window,
		jitter: jitter,
		log:    log,
	}, nil
}

// Wrap returns a job body that sleeps for the computed delay, then invokes
// job. The delay is applied whether or not job will fail; job errors are
// propagated unchanged. Cancellation during the sleep aborts promptly with
// ctx.Err() and the job is not invoked.
func (i *Interceptor) Wrap(job func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		delay, err := i.calc.Delay(i.key, i.app, i.host, i.window, i.jitter)
		if err != nil {
			return err
		}

		if delay > 0 {
			i.log.Debug("desync sleep",
				logx.String("job", i.key),
				logx.Duration("delay", delay),
				logx.Duration("window", i.window),
				logx.Duration("jitter", i.jitter))
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}

		start := time.Now()
		err = job(ctx)
		i.log.Trace("job finished", logx.String("job", i.key), logx.Duration("took", time.Since(start)))
		return err
	}
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
// Callers must ensure d > 0.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
