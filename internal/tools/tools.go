package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/overseer-dev/overseer/internal/orchestrator"
	"github.com/overseer-dev/overseer/internal/task"
)

const (
	defaultBlockTimeout = time.Minute
	maxBlockTimeout     = 10 * time.Minute
)

// Tools wraps the orchestrator behind the produced tool surface.
type Tools struct {
	orc *orchestrator.Orchestrator
}

// New creates the tool surface.
func New(orc *orchestrator.Orchestrator) *Tools {
	return &Tools{orc: orc}
}

// Launch starts a background task and returns the launch receipt. Validation
// failures come back as readable messages, not errors.
func (tl *Tools) Launch(ctx context.Context, in orchestrator.LaunchInput) string {
	t, err := tl.orc.Launch(ctx, in)
	if err != nil {
		if errors.Is(err, task.ErrAgentRequired) {
			return "Agent parameter is required. Specify which agent to use."
		}
		return fmt.Sprintf("Failed to launch background task: %v", err)
	}

	id := task.ShortID(t.SessionID)
	return fmt.Sprintf("⏳ **Background task launched**\nTask ID: `%s`\nSession ID: `%s`\n\nTask runs in the background; you will be notified when it completes. Use `background_output` with task_id=`%s` to fetch results.",
		id, t.SessionID, id)
}

// Output returns a task's result, optionally blocking until it finishes.
// Retrieving a finished task's output stamps resultRetrievedAt, which starts
// its retention clock.
func (tl *Tools) Output(ctx context.Context, taskID string, block bool, timeout time.Duration) string {
	t, ok := tl.orc.Resolve(taskID)
	if !ok {
		return fmt.Sprintf("Task not found: %s", taskID)
	}

	t, _ = tl.orc.CheckTask(ctx, t.SessionID, false)
	if t == nil {
		return fmt.Sprintf("Task was deleted: %s", taskID)
	}

	if t.Status.Terminal() {
		return tl.renderFinished(ctx, t)
	}
	if !block {
		return FormatTaskStatus(t)
	}

	if timeout <= 0 {
		timeout = defaultBlockTimeout
	}
	if timeout > maxBlockTimeout {
		timeout = maxBlockTimeout
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return FormatTaskStatus(t)
		}

		// The blocked caller reports the result itself, so the generic
		// notification is suppressed to avoid a duplicate message.
		cur, ok := tl.orc.CheckTask(ctx, t.SessionID, true)
		if !ok {
			return fmt.Sprintf("Task was deleted: %s", taskID)
		}
		t = cur
		if t.Status.Terminal() {
			return tl.renderFinished(ctx, t)
		}
	}

	return fmt.Sprintf("Timeout exceeded (%s). Task still %s.\n\n%s", timeout, t.Status, FormatTaskStatus(t))
}

func (tl *Tools) renderFinished(ctx context.Context, t *task.Task) string {
	tl.orc.MarkResultRetrieved(t.SessionID)
	if t.Status != task.StatusCompleted {
		return FormatTaskStatus(t)
	}
	msgs, err := tl.orc.Messages(ctx, t.SessionID)
	if err != nil {
		return fmt.Sprintf("%s\n\nError fetching messages: %v", FormatTaskStatus(t), err)
	}
	return FormatTaskResult(t, msgs)
}

// Block waits until every given task reaches a terminal status or the timeout
// elapses, then returns a status summary of all of them. Unknown IDs are
// reported in the summary rather than failing the call.
func (tl *Tools) Block(ctx context.Context, taskIDs []string, timeout time.Duration) string {
	if len(taskIDs) == 0 {
		return "task_ids is required and must not be empty."
	}

	if timeout <= 0 {
		timeout = defaultBlockTimeout
	}
	if timeout > maxBlockTimeout {
		timeout = maxBlockTimeout
	}

	// Resolve prefixes up front so the wait observes full session IDs.
	resolved := make([]string, len(taskIDs))
	var waitIDs []string
	for i, id := range taskIDs {
		t, ok := tl.orc.Resolve(id)
		if !ok {
			continue
		}
		resolved[i] = t.SessionID
		if !t.Status.Terminal() {
			waitIDs = append(waitIDs, t.SessionID)
		}
	}

	if len(waitIDs) > 0 {
		tl.orc.WaitForTasks(ctx, waitIDs, timeout)
	}

	entries := make([]BlockEntry, len(taskIDs))
	timedOut := false
	for i, id := range taskIDs {
		entries[i] = BlockEntry{Requested: id}
		if resolved[i] == "" {
			continue
		}
		if t, ok := tl.orc.Get(resolved[i]); ok {
			entries[i].Task = t
			if t.Status == task.StatusRunning || t.Status == task.StatusResumed {
				timedOut = true
			}
		}
	}
	return FormatBlockResult(entries, timedOut)
}

// Cancel aborts a running task.
func (tl *Tools) Cancel(ctx context.Context, taskID string) string {
	t, err := tl.orc.Cancel(taskID)
	if err != nil {
		return fmt.Sprintf("Cannot cancel: %v", err)
	}
	return fmt.Sprintf("⊘ Task `%s` cancelled after %s.", task.ShortID(t.SessionID), t.Duration())
}

// List renders all tasks, optionally filtered by status.
func (tl *Tools) List(_ context.Context, status string) string {
	filter := task.Status(status)
	if status != "" && !filter.Valid() {
		return fmt.Sprintf("Unknown status %q. Valid: running, completed, error, cancelled, resumed.", status)
	}
	return FormatTaskList(tl.orc.List(filter), status)
}

// Clear aborts and forgets every task. Durable metadata survives, so cleared
// tasks stay resumable.
func (tl *Tools) Clear(_ context.Context) string {
	n := len(tl.orc.List(""))
	tl.orc.ClearAll()
	return fmt.Sprintf("Cleared %d background task(s). Persisted metadata was kept; completed tasks remain resumable.", n)
}

// Resume sends a follow-up prompt to a completed task.
func (tl *Tools) Resume(ctx context.Context, taskID, prompt string, tc orchestrator.ToolContext) string {
	t, err := tl.orc.Resume(ctx, taskID, prompt, tc)
	if err != nil {
		switch {
		case errors.Is(err, task.ErrSessionExpired):
			return "Session expired or was deleted. Start a new background_task to continue."
		default:
			var inv *task.InvalidTransitionError
			if errors.As(err, &inv) && inv.Status == task.StatusResumed {
				return "Task is currently being resumed. Wait for it to complete."
			}
			return fmt.Sprintf("Cannot resume: %v", err)
		}
	}

	countInfo := ""
	if t.ResumeCount > 1 {
		countInfo = fmt.Sprintf("\nResume count: %d", t.ResumeCount)
	}
	return fmt.Sprintf("⏳ **Resume initiated**\nTask ID: `%s`%s\n\nFollow-up prompt sent. You will be notified when the response is ready.",
		task.ShortID(t.SessionID), countInfo)
}
