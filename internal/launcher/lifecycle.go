package launcher

import (
	"time"
)

// LifecycleState represents the child's lifecycle state
type LifecycleState string

const (
	StateStarting  LifecycleState = "starting"
	StateRunning   LifecycleState = "running"
	StateCompleted LifecycleState = "completed"
	StateFailed    LifecycleState = "failed"
	StateKilled    LifecycleState = "killed"
)

// LifecycleEvent represents a lifecycle state change
type LifecycleEvent struct {
	PID       int            `json:"pid"`
	State     LifecycleState `json:"state"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message,omitempty"`
}

// EventFunc receives lifecycle events as they happen
type EventFunc func(LifecycleEvent)
