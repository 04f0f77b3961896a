// Package registry resolves the declarative job table into live, cancellable
// schedules.
//
// Cron-typed jobs are scheduled with a desync.Trigger so the scheduler's own
// clock is shifted; fixed-period jobs keep their nominal schedule and get the
// delay applied inside the body via desync.Interceptor. Job bodies never run
// on the cron bookkeeping goroutine: every firing is enqueued on the shared
// worker pool.
//
// Activation is idempotent per job id (last writer wins), and one malformed
// job spec never blocks its siblings from being scheduled.
package registry
