// Package session defines the contract with the session-execution service and
// provides HTTP/WebSocket implementations of it.
package session

import (
	"context"
	"encoding/json"
	"time"
)

// Part is one fragment of a message: text or a tool invocation.
type Part struct {
	Type string `json:"type"` // "text" | "tool"
	Text string `json:"text,omitempty"`
	Tool string `json:"tool,omitempty"`
}

// Message is one ordered entry in a session's history.
type Message struct {
	Role  string `json:"role"` // "user" | "assistant"
	Parts []Part `json:"parts,omitempty"`
}

// TextContent joins the non-empty text parts of a message.
func (m Message) TextContent() string {
	var out string
	for _, p := range m.Parts {
		if p.Type != "text" || p.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

// SessionStatus is one entry of the batched status report.
type SessionStatus struct {
	Type string `json:"type"` // "idle" | "busy"
}

const (
	StatusIdle = "idle"
	StatusBusy = "busy"
)

// Service is the session-execution substrate the orchestrator drives. All
// calls are suspension points; implementations must be safe for concurrent
// use.
type Service interface {
	// Create opens a new child session under parentID and returns its ID.
	Create(ctx context.Context, parentID, title string) (string, error)
	// Fork creates a new session inheriting parentID's history.
	Fork(ctx context.Context, sessionID string) (string, error)
	// PromptAsync starts a fire-and-forget agent turn. The gate disables
	// named tools for the turn (name → false).
	PromptAsync(ctx context.Context, sessionID, agent, text string, gate map[string]bool) error
	// Prompt injects a message and runs a turn synchronously.
	Prompt(ctx context.Context, sessionID, agent, text string) error
	// Status returns the batched status report. Sessions may be absent.
	Status(ctx context.Context) (map[string]SessionStatus, error)
	// Messages returns the ordered message history of a session.
	Messages(ctx context.Context, sessionID string) ([]Message, error)
	// Abort asks the service to stop a session's execution.
	Abort(ctx context.Context, sessionID string) error
	// Exists reports whether a session is still known to the service.
	Exists(ctx context.Context, sessionID string) (bool, error)
}

// Toast is a best-effort UI notification.
type Toast struct {
	Title    string        `json:"title"`
	Message  string        `json:"message"`
	Variant  string        `json:"variant"` // "info" | "success" | "error"
	Duration time.Duration `json:"-"`
}

// Toaster is the UI notification surface.
type Toaster interface {
	ShowToast(ctx context.Context, t Toast) error
}

// EventType identifies a push event from the service.
type EventType string

const (
	EventSessionIdle    EventType = "session.idle"
	EventSessionDeleted EventType = "session.deleted"
	EventSessionCreated EventType = "session.created"
	EventCommand        EventType = "tui.command.execute"
)

// UI commands that reset the task registry.
const (
	CommandSessionNew       = "session.new"
	CommandPromptClear      = "prompt.clear"
	CommandSessionInterrupt = "session.interrupt"
)

// Event is a parsed push event.
type Event struct {
	Type      EventType
	SessionID string // session.idle / session.deleted
	Command   string // tui.command.execute
}

// EventSource delivers push events. The returned channel closes when the
// stream terminates; callers re-subscribe to reconnect.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// wireEvent is the raw frame shape on the event stream.
type wireEvent struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// ParseEvent decodes a raw stream frame into an Event. Unrecognized or
// malformed frames return ok=false and are skipped by consumers.
func ParseEvent(data []byte) (Event, bool) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, false
	}

	switch EventType(w.Type) {
	case EventSessionIdle:
		var p struct {
			SessionID string `json:"sessionID"`
		}
		if err := json.Unmarshal(w.Properties, &p); err != nil || p.SessionID == "" {
			return Event{}, false
		}
		return Event{Type: EventSessionIdle, SessionID: p.SessionID}, true

	case EventSessionDeleted, EventSessionCreated:
		var p struct {
			Info struct {
				ID string `json:"id"`
			} `json:"info"`
		}
		if err := json.Unmarshal(w.Properties, &p); err != nil || p.Info.ID == "" {
			return Event{}, false
		}
		return Event{Type: EventType(w.Type), SessionID: p.Info.ID}, true

	case EventCommand:
		var p struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(w.Properties, &p); err != nil || p.Command == "" {
			return Event{}, false
		}
		return Event{Type: EventCommand, Command: p.Command}, true
	}

	return Event{}, false
}
