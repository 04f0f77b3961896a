package desync

import (
	"context"
	"errors"
	"testing"
	"time"

	"desyncd/pkg/logx"
)

func newTestInterceptor(t *testing.T, calc DelaySource) *Interceptor {
	t.Helper()
	ic, err := NewInterceptor(calc, "job-a", "svc", "h1", 5*time.Second, 0, logx.Nop())
	if err != nil {
		t.Fatalf("NewInterceptor error: %v", err)
	}
	return ic
}

func TestInterceptorZeroDelayRunsImmediately(t *testing.T) {
	t.Parallel()
	ic := newTestInterceptor(t, &stubDelay{d: 0})

	ran := false
	start := time.Now()
	err := ic.Wrap(func(ctx context.Context) error {
		ran = true
		return nil
	})(context.Background())
	if err != nil {
		t.Fatalf("wrapped job error: %v", err)
	}
	if !ran {
		t.Fatal("job did not run")
	}
	if took := time.Since(start); took > 200*time.Millisecond {
		t.Fatalf("zero delay took %v, expected immediate invocation", took)
	}
}

func TestInterceptorNeverSleepsNegative(t *testing.T) {
	t.Parallel()
	ic := newTestInterceptor(t, &stubDelay{d: -time.Hour})

	start := time.Now()
	err := ic.Wrap(func(ctx context.Context) error { return nil })(context.Background())
	if err != nil {
		t.Fatalf("wrapped job error: %v", err)
	}
	if took := time.Since(start); took > 200*time.Millisecond {
		t.Fatalf("negative delay took %v, expected no sleep", took)
	}
}

func TestInterceptorDelayAppliesBeforeFailure(t *testing.T) {
	t.Parallel()
	const delay = 30 * time.Millisecond
	ic := newTestInterceptor(t, &stubDelay{d: delay})

	boom := errors.New("boom")
	start := time.Now()
	err := ic.Wrap(func(ctx context.Context) error { return boom })(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if took := time.Since(start); took < delay {
		t.Fatalf("job failed after %v, delay %v was not applied first", took, delay)
	}
}

func TestInterceptorSleepHonorsCancellation(t *testing.T) {
	t.Parallel()
	ic := newTestInterceptor(t, &stubDelay{d: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	ran := false
	start := time.Now()
	err := ic.Wrap(func(ctx context.Context) error {
		ran = true
		return nil
	})(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if ran {
		t.Fatal("job must not run after cancelled sleep")
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("cancellation took %v, expected prompt abort", took)
	}
}

func TestNewInterceptorValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewInterceptor(nil, "a", "svc", "h1", 0, 0, logx.Nop()); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}
