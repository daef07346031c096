// Package blackboard provides the shared task-type definitions and the
// Redis-backed task queue ("blackboard") for the Distill pipeline. The
// blackboard is the only shared mutable state between the pipeline workers
// (analyzer, validator, publisher): every unit of work is an immutable Task
// that is enqueued onto it, atomically claimed from it, and acknowledged
// back to it.
//
// All Redis keys and channels are namespaced by instance name so that
// multiple pipeline instances can safely coexist on a single Redis server.
//
// # Task lifecycle
//
// A task is in exactly one of three states:
//
//   - pending: sitting in a per-kind FIFO list, waiting to be claimed
//   - in-flight: claimed by a worker via Take, not yet acknowledged
//   - settled: acknowledged via Complete or Fail, no longer tracked
//
// Take pops a task and marks it in-flight in one server-side script, so two
// concurrent callers can never claim the same task and the pending plus
// in-flight counters never undercount a claimed task. Complete and Fail are
// idempotent: acknowledging
// a task that is no longer in-flight is a no-op and publishes no event.
//
// # Events
//
// Every state transition publishes a TaskEvent (enqueued, started,
// completed, failed) on the instance's task-events Pub/Sub channel.
// Delivery is at-most-once; Drain therefore also polls the pending and
// in-flight counters so progress is never missed between events.
package blackboard
