package blackboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to
// enable multiple pipeline instances to safely coexist on a single Redis
// server.
//
// Key pattern: distill:{instance_name}:{entity}
// Channel pattern: distill:{instance_name}:{event_type}_events

// PendingKey returns the Redis key for a task kind's pending FIFO list.
// Pattern: distill:{instance_name}:pending:{kind}
func PendingKey(instanceName string, kind TaskKind) string {
	return fmt.Sprintf("distill:%s:pending:%s", instanceName, kind)
}

// InFlightKey returns the Redis key for the in-flight tasks hash.
// Fields are task IDs, values are the task JSON.
// Pattern: distill:{instance_name}:inflight
func InFlightKey(instanceName string) string {
	return fmt.Sprintf("distill:%s:inflight", instanceName)
}

// TaskEventsChannel returns the Pub/Sub channel name for task lifecycle
// events (enqueued, started, completed, failed).
// Pattern: distill:{instance_name}:task_events
func TaskEventsChannel(instanceName string) string {
	return fmt.Sprintf("distill:%s:task_events", instanceName)
}
