package desync

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"time"
)

// ErrInvalidConfig is wrapped by all validation failures in this package:
// non-positive window, negative jitter, or missing key/identity fields.
var ErrInvalidConfig = errors.New("invalid desync configuration")

// Calculator produces desync delays. The zero value is not usable; create
// one with NewCalculator.
//
// Safe for concurrent use: the default random source is the locked
// math/rand global, and the calculator itself holds no mutable state.
type Calculator struct {
	// randInt returns a uniform value in [0, n). Replaced in tests.
	randInt func(n int64) int64
}

// DelaySource computes a per-run desync delay. Calculator is the production
// implementation; tests substitute deterministic stubs.
type DelaySource interface {
	Delay(key, app, host string, window, jitter time.Duration) (time.Duration, error)
}

func NewCalculator() *Calculator {
	return &Calculator{randInt: rand.Int63n}
}

// Delay computes the delay for one firing of job key on instance (app, host).
//
// The result is always in [0, window], regardless of random draws. window
// must be positive and jitter non-negative.
func (c *Calculator) Delay(key, app, host string, window, jitter time.Duration) (time.Duration, error) {
	if err := validateParams(key, app, host, window, jitter); err != nil {
		return 0, err
	}

	winMs := window.Milliseconds()
	if winMs < 1 {
		winMs = 1
	}

	// Stable per-instance offset.
	splayMs := int64(stableHash(app, host, key) % uint64(winMs))

	// Per-run random half-window. Fresh draw each call so instances that
	// happen to share a splay do not stay aligned forever.
	randMs := c.randInt(winMs + 1)

	// Per-run jitter in [-jitter, +jitter].
	jitBound := jitter.Milliseconds()
	var jitMs int64
	if jitBound > 0 {
		jitMs = c.randInt(2*jitBound+1) - jitBound
	}

	totalMs := clamp(0, winMs, splayMs+randMs/2+jitMs)
	return time.Duration(totalMs) * time.Millisecond, nil
}

// Splay returns only the deterministic component of the delay: the stable
// per-(instance, job) offset in [0, window). Exposed for observability and
// tests; the full Delay adds random terms on top.
func Splay(key, app, host string, window time.Duration) time.Duration {
	winMs := window.Milliseconds()
	if winMs < 1 {
		winMs = 1
	}
	return time.Duration(int64(stableHash(app, host, key)%uint64(winMs))) * time.Millisecond
}

// stableHash combines the identity strings into a well-distributed 64-bit
// value. NUL separators keep ("ab","c") distinct from ("a","bc").
func stableHash(app, host, key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(app))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(host))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}

func clamp(lo, hi, v int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func validateParams(key, app, host string, window, jitter time.Duration) error {
	switch {
	case strings.TrimSpace(key) == "":
		return fmt.Errorf("%w: key is required", ErrInvalidConfig)
	case strings.TrimSpace(app) == "":
		return fmt.Errorf("%w: app name is required", ErrInvalidConfig)
	case strings.TrimSpace(host) == "":
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	case window <= 0:
		return fmt.Errorf("%w: window must be > 0, got %v", ErrInvalidConfig, window)
	case jitter < 0:
		return fmt.Errorf("%w: jitter must be >= 0, got %v", ErrInvalidConfig, jitter)
	}
	return nil
}
