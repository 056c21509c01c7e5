// Package work runs background jobs one at a time.
//
// A WorkType names a job, how often it may run and what it depends on.
// FindSubjects turns a type into concrete items; the processor picks the
// first eligible item of the highest-priority type, runs it with a timeout
// and retries failures up to MaxRetries.
//
// The processor is woken by the scheduler every minute, by the spool
// watcher when a file arrives, and by POST /api/work/trigger.
//
// # Intervals
//
//   - ingest:spool: on demand, one item per file in spool/incoming
//   - maintenance:health: 24 hours
//   - maintenance:vacuum: 7 days, after a health check
//   - maintenance:review-cleanup: 24 hours
//   - maintenance:cache-cleanup: 24 hours
//   - maintenance:backup: 24 hours, only when R2 is configured
//   - maintenance:backup-rotation: 24 hours, after a backup
package work
