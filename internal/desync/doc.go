// Package desync spreads identical scheduled jobs across service instances
// so they stop firing at the same wall-clock moment (the "thundering herd").
//
// Each instance computes its own delay locally; there is no cross-instance
// coordination. The delay is composed of:
//
//   - a stable per-(instance, job) splay in [0, window), derived from a hash
//     of the application name, host and job key;
//   - a fresh per-run random half-window component;
//   - optional per-run jitter in [-jitter, +jitter] to prevent long-term
//     re-alignment.
//
// The sum is clamped into [0, window]. The splay carries most of the budget,
// so an operator reading logs still sees roughly predictable run times.
//
// Two application points are provided: Trigger shifts the next-fire instant
// of a wrapped cron.Schedule, and Interceptor sleeps inside the job body
// right before invoking it (for schedules that cannot be wrapped, such as
// fixed-period ones). Interceptor users must run jobs on a pool with more
// than one worker, or the sleep will delay unrelated jobs.
package desync
