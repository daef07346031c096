// Package worker implements the three pipeline consumers (analyzer,
// validator, publisher) that claim tasks from the blackboard, process them
// to completion, and acknowledge the outcome.
//
// Each worker runs a single logical consume loop: claim a matching task,
// process it fully, claim the next; when nothing is pending, idle for a
// fixed short interval before retrying. Workers for different task-kind
// groups run concurrently with each other, but no worker processes two
// tasks at once. Cancelling the loop's context stops it after the current
// iteration; a task in flight at that moment is abandoned, not re-queued.
package worker

import (
	"context"
	"time"
)

// DefaultPollInterval is the idle wait between claim attempts when no
// matching task is pending.
const DefaultPollInterval = 25 * time.Millisecond

// sleepOrDone pauses for d or until the context is cancelled.
// Returns false when the context ended first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
