package task

import (
	"errors"
	"fmt"
)

// ErrAgentRequired is returned when a launch names no target agent. It is
// rejected synchronously, before any session is created.
var ErrAgentRequired = errors.New("agent is required: specify which agent to use")

// ErrSessionExpired is returned when a task's underlying session vanished
// before a resume could proceed.
var ErrSessionExpired = errors.New("session expired or was deleted")

// NotFoundError reports an unknown task ID or prefix.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.ID)
}

// InvalidTransitionError reports a lifecycle operation attempted from the
// wrong status, naming the current status.
type InvalidTransitionError struct {
	Op     string // "cancel" | "resume"
	Status Status
}

func (e *InvalidTransitionError) Error() string {
	switch e.Op {
	case "cancel":
		return fmt.Sprintf("cannot cancel task: current status is %q, only running tasks can be cancelled", e.Status)
	case "resume":
		return fmt.Sprintf("cannot resume task: current status is %q, only completed tasks can be resumed", e.Status)
	}
	return fmt.Sprintf("invalid %s from status %q", e.Op, e.Status)
}
