// Package stream fans workflow lifecycle events out to subscribers
// over topic-based pub/sub.
//
// The Hub registers on the hook registry and converts lifecycle
// callbacks into Event envelopes published on three topic shapes:
// run:<runID> for a single run, workflow:<workflowID> for every run of
// a workflow, and firehose for everything. Each subscriber carries a
// bounded buffer; when a slow consumer falls behind, the oldest
// buffered events are dropped and a single stream.gap marker is
// injected per burst so the consumer knows delivery was lossy.
//
// An optional Redis bridge republishes local events on a pub/sub
// channel and injects events published by other nodes, giving
// multi-node deployments a shared firehose.
package stream
