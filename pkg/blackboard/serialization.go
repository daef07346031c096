package blackboard

import (
	"encoding/json"
	"fmt"
)

// Serialization helpers for the Redis representation of tasks and events.
//
// Pending lists and the in-flight hash both store full task JSON: tasks are
// immutable once stamped, so there is no need for field-level queryability,
// and a single codec keeps the two collections interchangeable.

// EncodeTask serializes a task to its Redis/JSON wire form.
func EncodeTask(t *Task) (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task: %w", err)
	}
	return string(data), nil
}

// DecodeTask deserializes a task from its Redis/JSON wire form.
func DecodeTask(data string) (*Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &t, nil
}

// TaskEventType identifies a task lifecycle transition.
type TaskEventType string

const (
	// TaskEnqueued fires when a task is appended to a pending list.
	TaskEnqueued TaskEventType = "task.enqueued"

	// TaskStarted fires when a worker atomically claims a task.
	TaskStarted TaskEventType = "task.started"

	// TaskCompleted fires when an in-flight task is acknowledged as done.
	TaskCompleted TaskEventType = "task.completed"

	// TaskFailed fires when an in-flight task is acknowledged as failed.
	// Failure is terminal: the pipeline defines no retry.
	TaskFailed TaskEventType = "task.failed"
)

// TaskEvent is published on the task-events channel for every lifecycle
// transition. Reason is set only for TaskFailed.
type TaskEvent struct {
	Type   TaskEventType `json:"type"`
	Task   *Task         `json:"task"`
	Reason string        `json:"reason,omitempty"`
}

// EncodeTaskEvent serializes a task event for Pub/Sub publication.
func EncodeTaskEvent(e *TaskEvent) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task event: %w", err)
	}
	return string(data), nil
}

// DecodeTaskEvent deserializes a task event received from Pub/Sub.
func DecodeTaskEvent(data string) (*TaskEvent, error) {
	var e TaskEvent
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task event: %w", err)
	}
	return &e, nil
}
