// Package task defines the background task model and its durable shadow.
package task

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a background task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
	StatusResumed   Status = "resumed"
)

// Terminal reports whether the status ends an episode. A completed task can
// still start a new episode via resume.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusCompleted, StatusError, StatusCancelled, StatusResumed:
		return true
	}
	return false
}

// Progress tracks advisory, display-only activity within a task. ToolCalls is
// monotonically non-decreasing while the task is active.
type Progress struct {
	ToolCalls  int       `json:"tool_calls"`
	LastTools  []string  `json:"last_tools,omitempty"`
	LastUpdate time.Time `json:"last_update"`
}

// Task is the in-memory record for one supervised unit of work. The session ID
// is the task identifier; there is no separate surrogate key.
type Task struct {
	SessionID         string     `json:"session_id"`
	ParentSessionID   string     `json:"parent_session_id"`
	ParentMessageID   string     `json:"parent_message_id,omitempty"`
	ParentAgent       string     `json:"parent_agent,omitempty"`
	Description       string     `json:"description"`
	Prompt            string     `json:"prompt,omitempty"`
	Agent             string     `json:"agent"`
	Status            Status     `json:"status"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	ResultRetrievedAt *time.Time `json:"result_retrieved_at,omitempty"`
	Error             string     `json:"error,omitempty"`
	Progress          *Progress  `json:"progress,omitempty"`
	BatchID           string     `json:"batch_id"`
	ResumeCount       int        `json:"resume_count"`
	Forked            bool       `json:"forked,omitempty"`
}

// Persisted is the minimal subset of task metadata mirrored to disk. Prompt
// text and the parent message ID stay in memory only.
type Persisted struct {
	Description     string    `json:"description"`
	Agent           string    `json:"agent"`
	ParentSessionID string    `json:"parent_session_id"`
	CreatedAt       time.Time `json:"created_at"`
	Status          Status    `json:"status"`
	ResumeCount     int       `json:"resume_count,omitempty"`
	Forked          bool      `json:"forked,omitempty"`
}

// Persisted returns the durable subset of the task.
func (t *Task) Persisted() Persisted {
	return Persisted{
		Description:     t.Description,
		Agent:           t.Agent,
		ParentSessionID: t.ParentSessionID,
		CreatedAt:       t.StartedAt,
		Status:          t.Status,
		ResumeCount:     t.ResumeCount,
		Forked:          t.Forked,
	}
}

// Rehydrate reconstructs an in-memory task from its durable shadow. Fields the
// shadow deliberately omits come back empty.
func Rehydrate(sessionID string, p Persisted) *Task {
	return &Task{
		SessionID:       sessionID,
		ParentSessionID: p.ParentSessionID,
		Description:     p.Description,
		Agent:           p.Agent,
		Status:          p.Status,
		StartedAt:       p.CreatedAt,
		ResumeCount:     p.ResumeCount,
		Forked:          p.Forked,
	}
}

// SetStatus changes the task status, stamping CompletedAt on terminal
// transitions. CompletedAt is overwritten on each resume-completion.
func (t *Task) SetStatus(s Status) {
	t.Status = s
	if s.Terminal() {
		now := time.Now()
		t.CompletedAt = &now
	}
}

// ShortID converts a full session ID to a short display ID.
// Example: ses_41e080918ffeyhQtX6E4vERe4O → ses_41e08091.
func ShortID(sessionID string) string {
	if !strings.HasPrefix(sessionID, "ses_") {
		if len(sessionID) > 12 {
			return sessionID[:12]
		}
		return sessionID
	}
	suffix := sessionID[4:]
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return "ses_" + suffix
}

// FormatDuration renders the elapsed time between start and end as "5s",
// "2m 30s" or "1h 15m 20s". A zero end means now.
func FormatDuration(start time.Time, end time.Time) string {
	if end.IsZero() {
		end = time.Now()
	}
	seconds := int(end.Sub(start).Seconds())
	if seconds < 0 {
		seconds = 0
	}
	minutes := seconds / 60
	hours := minutes / 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes%60, seconds%60)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds%60)
	}
	return fmt.Sprintf("%ds", seconds)
}

// Duration returns the formatted running time of the task, using CompletedAt
// when set.
func (t *Task) Duration() string {
	var end time.Time
	if t.CompletedAt != nil {
		end = *t.CompletedAt
	}
	return FormatDuration(t.StartedAt, end)
}

// Clone returns a deep copy safe to read outside the registry lock.
func (t *Task) Clone() *Task {
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	if t.ResultRetrievedAt != nil {
		at := *t.ResultRetrievedAt
		c.ResultRetrievedAt = &at
	}
	if t.Progress != nil {
		p := *t.Progress
		p.LastTools = append([]string(nil), t.Progress.LastTools...)
		c.Progress = &p
	}
	return &c
}

// NewBatchID mints a batch identifier from the current wall clock.
func NewBatchID() string {
	return fmt.Sprintf("batch_%d", time.Now().UnixMilli())
}
