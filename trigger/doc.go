// Package trigger defines workflow triggers and the scheduler that
// fires them.
//
// Two trigger kinds exist: cron triggers fire on a schedule parsed with
// robfig/cron (standard 5-field expressions plus descriptors like
// "@every 30s"), and event triggers fire when a named event matching
// their pattern is published, subject to a per-trigger rate limit.
//
// The scheduler runs a tick loop. Next fire times are always computed
// from the wall clock, so occurrences missed while the process was
// down are not backfilled. When a non-concurrent workflow is busy, the
// workflow's busy policy decides between queueing the run and skipping
// the occurrence.
package trigger
