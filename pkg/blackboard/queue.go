package blackboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// drainPollInterval bounds how long Drain waits between counter checks when
// no lifecycle event arrives. Polling covers the window where the last
// completion fires before the subscription is established.
const drainPollInterval = 25 * time.Millisecond

// takeScript pops the oldest pending task of one kind and records it in the
// in-flight hash as a single atomic step. Pop and mark must not be separate
// round trips: a task observable in neither place would let Drain report an
// empty queue while a claim is still in progress.
// KEYS[1] is the kind's pending list, KEYS[2] the in-flight hash.
var takeScript = redis.NewScript(`
local wire = redis.call('LPOP', KEYS[1])
if not wire then
	return false
end
local task = cjson.decode(wire)
redis.call('HSET', KEYS[2], task.id, wire)
return wire
`)

// Queue provides instance-scoped Redis operations for the blackboard task
// queue. All keys and channels are automatically namespaced with the
// instance name. The queue is thread-safe and can be used concurrently from
// multiple goroutines; Take claims tasks through a server-side script, so
// concurrent callers never race.
type Queue struct {
	rdb          *redis.Client
	instanceName string
}

// NewQueue creates a new blackboard queue client for the specified instance.
//
// Returns an error if instanceName is empty.
func NewQueue(redisOpts *redis.Options, instanceName string) (*Queue, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Queue{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (q *Queue) Close() error {
	return q.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Enqueue stamps the task with a fresh ID and creation timestamp, validates
// it, appends it to its kind's pending list, and publishes a task.enqueued
// event. Returns the stamped task; the input is not mutated.
func (q *Queue) Enqueue(ctx context.Context, task *Task) (*Task, error) {
	stamped := *task
	stamped.ID = uuid.New().String()
	stamped.CreatedAtMs = time.Now().UnixMilli()

	if err := stamped.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	wire, err := EncodeTask(&stamped)
	if err != nil {
		return nil, err
	}

	key := PendingKey(q.instanceName, stamped.Kind)
	if err := q.rdb.RPush(ctx, key, wire).Err(); err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.publishEvent(ctx, &TaskEvent{Type: TaskEnqueued, Task: &stamped})

	return &stamped, nil
}

// Take atomically claims the oldest pending task of the first listed kind
// that has one, moves it to the in-flight hash, and publishes task.started.
// Kinds are checked in argument order; FIFO order holds within each kind.
// Calling Take with no kinds checks every kind.
//
// Returns (nil, nil) when no matching task is pending; callers poll.
// Pop and in-flight mark happen in a single Redis script, so concurrent
// callers can never claim the same task, and a claimed task is observable
// in either the pending list or the in-flight hash at every instant.
func (q *Queue) Take(ctx context.Context, kinds ...TaskKind) (*Task, error) {
	if len(kinds) == 0 {
		kinds = AllKinds
	}

	for _, kind := range kinds {
		keys := []string{PendingKey(q.instanceName, kind), InFlightKey(q.instanceName)}
		wire, err := takeScript.Run(ctx, q.rdb, keys).Text()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to claim task: %w", err)
		}

		task, err := DecodeTask(wire)
		if err != nil {
			return nil, err
		}

		q.publishEvent(ctx, &TaskEvent{Type: TaskStarted, Task: task})

		return task, nil
	}

	return nil, nil
}

// Complete acknowledges a claimed task as done, removing it from the
// in-flight hash. Acknowledging a task that is no longer in-flight is a
// no-op and publishes no event.
func (q *Queue) Complete(ctx context.Context, task *Task) error {
	removed, err := q.rdb.HDel(ctx, InFlightKey(q.instanceName), task.ID).Result()
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}

	if removed > 0 {
		q.publishEvent(ctx, &TaskEvent{Type: TaskCompleted, Task: task})
	}

	return nil
}

// Fail acknowledges a claimed task as failed, removing it from the
// in-flight hash and publishing a task.failed event carrying the reason.
// Failure is terminal: the pipeline defines no automatic retry.
// Acknowledging a task that is no longer in-flight is a no-op.
func (q *Queue) Fail(ctx context.Context, task *Task, reason string) error {
	removed, err := q.rdb.HDel(ctx, InFlightKey(q.instanceName), task.ID).Result()
	if err != nil {
		return fmt.Errorf("failed to fail task: %w", err)
	}

	if removed > 0 {
		q.publishEvent(ctx, &TaskEvent{Type: TaskFailed, Task: task, Reason: reason})
	}

	return nil
}

// PendingCount returns the total number of pending tasks across all kinds.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	var total int64
	for _, kind := range AllKinds {
		n, err := q.rdb.LLen(ctx, PendingKey(q.instanceName, kind)).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to count pending tasks: %w", err)
		}
		total += n
	}
	return total, nil
}

// InFlightCount returns the number of claimed, not-yet-acknowledged tasks.
func (q *Queue) InFlightCount(ctx context.Context) (int64, error) {
	n, err := q.rdb.HLen(ctx, InFlightKey(q.instanceName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count in-flight tasks: %w", err)
	}
	return n, nil
}

// Drain waits until both the pending and in-flight counters reach zero, or
// until the timeout elapses, whichever comes first. Returns true if the
// queue drained, false on timeout. A timeout does not cancel in-flight
// work; it only stops waiting.
//
// Drain subscribes to the task event feed and additionally polls on a fixed
// short interval, so a completion that fires between subscription setup and
// the first check is never missed.
func (q *Queue) Drain(ctx context.Context, timeout time.Duration) (bool, error) {
	sub, err := q.SubscribeTaskEvents(ctx)
	if err != nil {
		return false, err
	}
	defer sub.Close()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		pending, err := q.PendingCount(ctx)
		if err != nil {
			return false, err
		}
		inFlight, err := q.InFlightCount(ctx)
		if err != nil {
			return false, err
		}
		if pending == 0 && inFlight == 0 {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		case <-sub.Events():
		}
	}
}

// publishEvent publishes a task lifecycle event. Publication failures are
// swallowed: the event feed is advisory and must never fail a queue
// operation that has already taken effect.
func (q *Queue) publishEvent(ctx context.Context, event *TaskEvent) {
	wire, err := EncodeTaskEvent(event)
	if err != nil {
		return
	}
	q.rdb.Publish(ctx, TaskEventsChannel(q.instanceName), wire)
}

// Subscription represents an active Pub/Sub subscription to task lifecycle
// events. Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *TaskEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of task events. The channel is closed when the
// subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *TaskEvent {
	return s.events
}

// Errors returns the channel of subscription errors. Errors are non-fatal:
// the subscription continues and the offending message is skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements
// io.Closer. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeTaskEvents subscribes to task lifecycle events for this instance.
// Caller must call subscription.Close() when done. Context cancellation
// also stops the subscription.
//
// Events are delivered on a buffered channel (size 16). Redis Pub/Sub is
// at-most-once: a slow subscriber may drop events, which is why Drain polls
// as well as subscribes.
func (q *Queue) SubscribeTaskEvents(ctx context.Context) (*Subscription, error) {
	pubsub := q.rdb.Subscribe(ctx, TaskEventsChannel(q.instanceName))

	eventsChan := make(chan *TaskEvent, 16)
	errorsChan := make(chan error, 16)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				event, err := DecodeTaskEvent(msg.Payload)
				if err != nil {
					select {
					case errorsChan <- err:
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}
