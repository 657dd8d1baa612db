package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/overseer-dev/overseer/internal/session"
	"github.com/overseer-dev/overseer/internal/task"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Notifier delivers terminal-state and resume messages to the supervising
// session and the toast surface. Every delivery is best-effort: failures are
// logged at debug and swallowed, never surfaced to lifecycle code.
type Notifier struct {
	svc     session.Service
	toaster session.Toaster
	delay   time.Duration
}

// NewNotifier creates a dispatcher. The delay spaces the parent prompt away
// from the tool call that triggered the transition.
func NewNotifier(svc session.Service, toaster session.Toaster, delay time.Duration) *Notifier {
	return &Notifier{svc: svc, toaster: toaster, delay: delay}
}

// NotifyTerminal reports a task's terminal transition: an immediate toast,
// then (after the configured delay) a message injected into the parent
// session. Callers invoke it exactly once per transition.
func (n *Notifier) NotifyTerminal(ctx context.Context, t *task.Task, batch BatchProgress) {
	statusText := "COMPLETED"
	variant := "success"
	switch t.Status {
	case task.StatusError:
		statusText = "FAILED"
		variant = "error"
	case task.StatusCancelled:
		statusText = "CANCELLED"
		variant = "error"
	}

	duration := t.Duration()

	n.toast(ctx, session.Toast{
		Title:   fmt.Sprintf("Task %s", strings.ToLower(statusText)),
		Message: fmt.Sprintf("Task %q finished in %s. Batch: %d/%d complete, %d still running.", t.Description, duration, batch.Finished, batch.Total, batch.Running),
		Variant: variant,
	})

	go func() {
		select {
		case <-time.After(n.delay):
		case <-ctx.Done():
			return
		}

		msg := terminalMessage(t, statusText, duration, batch)
		if err := n.svc.Prompt(ctx, t.ParentSessionID, t.ParentAgent, msg); err != nil {
			slog.Debug("parent notification failed", "task", task.ShortID(t.SessionID), "error", err)
		}
	}()
}

// NotifyResumeComplete reports a finished resume episode to the tool context
// that initiated it.
func (n *Notifier) NotifyResumeComplete(ctx context.Context, t *task.Task, tc ToolContext, answer string) {
	var b strings.Builder
	if t.ResumeCount > 1 {
		fmt.Fprintf(&b, "✓ **Resume #%d complete**\n\n", t.ResumeCount)
	} else {
		b.WriteString("✓ **Resume complete**\n\n")
	}
	fmt.Fprintf(&b, "Task %q (`%s`) answered the follow-up.\n", t.Description, task.ShortID(t.SessionID))
	if answer != "" {
		b.WriteString("\n---\n\n")
		b.WriteString(answer)
	} else {
		b.WriteString("\n(No text response)")
	}

	if err := n.svc.Prompt(ctx, tc.SessionID, tc.Agent, b.String()); err != nil {
		slog.Debug("resume notification failed", "task", task.ShortID(t.SessionID), "error", err)
	}
}

// NotifyResumeError reports a failed resume episode.
func (n *Notifier) NotifyResumeError(ctx context.Context, t *task.Task, reason string, tc ToolContext) {
	var b strings.Builder
	if t.ResumeCount > 1 {
		fmt.Fprintf(&b, "✗ **Resume #%d failed**\n\n", t.ResumeCount)
	} else {
		b.WriteString("✗ **Resume failed**\n\n")
	}
	fmt.Fprintf(&b, "Task %q (`%s`): %s\n", t.Description, task.ShortID(t.SessionID), reason)

	if err := n.svc.Prompt(ctx, tc.SessionID, tc.Agent, b.String()); err != nil {
		slog.Debug("resume error notification failed", "task", task.ShortID(t.SessionID), "error", err)
	}
}

// ShowProgress emits the live batch toast the poller drives on every tick.
func (n *Notifier) ShowProgress(ctx context.Context, tasks []*task.Task, frame int) {
	if len(tasks) == 0 {
		return
	}

	var active []*task.Task
	for _, t := range tasks {
		if t.Status == task.StatusRunning || t.Status == task.StatusResumed {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		// Recently finished only: show the batch wrap-up.
		active = tasks
	}

	batchID := active[0].BatchID
	var batch []*task.Task
	for _, t := range tasks {
		if t.BatchID == batchID {
			batch = append(batch, t)
		}
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].StartedAt.Before(batch[j].StartedAt) })

	spinner := spinnerFrames[frame%len(spinnerFrames)]
	agg := BatchProgress{BatchID: batchID}
	var lines []string
	hasRunning := false

	for _, t := range batch {
		agg.Total++
		if t.Progress != nil {
			agg.ToolCalls += t.Progress.ToolCalls
		}

		switch {
		case t.Status == task.StatusRunning || t.Status == task.StatusResumed:
			hasRunning = true
			agg.Running++
			tools := ""
			if t.Progress != nil && len(t.Progress.LastTools) > 0 {
				tools = " - " + strings.Join(t.Progress.LastTools, " > ")
			}
			lines = append(lines, fmt.Sprintf("%s [%s] %s: %s (%s)%s", spinner, task.ShortID(t.SessionID), t.Agent, t.Description, t.Duration(), tools))
		default:
			agg.Finished++
			lines = append(lines, fmt.Sprintf("%s [%s] %s: %s (%s)", statusIcon(t.Status), task.ShortID(t.SessionID), t.Agent, t.Description, t.Duration()))
		}
	}

	title := "Background tasks complete"
	variant := "success"
	if hasRunning {
		title = spinner + " Background tasks running"
		variant = "info"
	}

	n.toast(ctx, session.Toast{
		Title:    title,
		Message:  strings.Join(lines, "\n") + "\n\n" + agg.Summary(),
		Variant:  variant,
		Duration: 150 * time.Millisecond,
	})
}

func (n *Notifier) toast(ctx context.Context, t session.Toast) {
	if n.toaster == nil {
		return
	}
	if err := n.toaster.ShowToast(ctx, t); err != nil {
		slog.Debug("toast failed", "error", err)
	}
}

func statusIcon(s task.Status) string {
	switch s {
	case task.StatusRunning:
		return "⏳"
	case task.StatusCompleted:
		return "✓"
	case task.StatusError:
		return "✗"
	case task.StatusCancelled:
		return "⊘"
	case task.StatusResumed:
		return "↻"
	}
	return "?"
}

// terminalMessage builds the parent-session notification body.
func terminalMessage(t *task.Task, statusText, duration string, batch BatchProgress) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Background task %s: %q\n\n", statusText, t.Description)
	fmt.Fprintf(&b, "- Task ID: `%s`\n", task.ShortID(t.SessionID))
	fmt.Fprintf(&b, "- Duration: %s\n", duration)
	if t.Error != "" {
		fmt.Fprintf(&b, "- Error: %s\n", t.Error)
	}
	fmt.Fprintf(&b, "- Batch: %d/%d complete, %d still running\n\n", batch.Finished, batch.Total, batch.Running)
	fmt.Fprintf(&b, "Use `background_output` with task_id=`%s` to retrieve the result.", task.ShortID(t.SessionID))
	if batch.Running > 0 {
		b.WriteString("\n\nNote: other tasks in this batch are still running. Do not assume the whole batch is done.")
	}
	return b.String()
}
