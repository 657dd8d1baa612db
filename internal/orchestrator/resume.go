package orchestrator

import (
	"context"
	"log/slog"

	"github.com/overseer-dev/overseer/internal/session"
	"github.com/overseer-dev/overseer/internal/task"
)

// Resume re-opens a completed task with a follow-up prompt on the same
// session. It validates the transition, enters the resumed state (persisting
// immediately so duplicate attempts observe it), verifies the session still
// exists, then hands off to an asynchronous continuation that owns detecting
// the resume's completion. The returned snapshot reflects the resumed state.
func (o *Orchestrator) Resume(ctx context.Context, idOrPrefix, prompt string, tc ToolContext) (*task.Task, error) {
	if _, ok := o.ResolveWithFallback(idOrPrefix); !ok {
		return nil, &task.NotFoundError{ID: idOrPrefix}
	}

	o.mu.Lock()
	t, ok := o.resolveLocked(idOrPrefix)
	if !ok {
		o.mu.Unlock()
		return nil, &task.NotFoundError{ID: idOrPrefix}
	}
	if t.Status != task.StatusCompleted {
		status := t.Status
		o.mu.Unlock()
		return nil, &task.InvalidTransitionError{Op: "resume", Status: status}
	}
	t.Status = task.StatusResumed
	t.ResumeCount++
	snapshot := t.Clone()
	o.mu.Unlock()

	o.persist(snapshot)

	exists, err := o.svc.Exists(ctx, snapshot.SessionID)
	if err != nil || !exists {
		// Revert the attempted transition; the counter stays, keeping it
		// monotonic across attempts.
		o.mu.Lock()
		if t.Status == task.StatusResumed {
			t.Status = task.StatusCompleted
		}
		snapshot = t.Clone()
		o.mu.Unlock()
		o.persist(snapshot)
		return nil, task.ErrSessionExpired
	}

	// Baseline assistant count: the continuation detects completion by a new
	// assistant message beyond this.
	baseline := 0
	if msgs, err := o.svc.Messages(ctx, snapshot.SessionID); err == nil {
		baseline = countAssistant(msgs)
	}

	o.startPoller() // keep progress display alive during the resume
	go o.runResume(context.WithoutCancel(ctx), snapshot.SessionID, prompt, tc, baseline)

	slog.Info("task resumed", "task", task.ShortID(snapshot.SessionID), "count", snapshot.ResumeCount)
	return snapshot, nil
}

// runResume dispatches the follow-up prompt and polls for its answer. It
// always lands the task back in completed: on a detected answer, on explicit
// idleness, on exhaustion, and on dispatch failure alike.
func (o *Orchestrator) runResume(ctx context.Context, sessionID, prompt string, tc ToolContext, baseline int) {
	t, agent := o.liveTask(sessionID)
	if t == nil {
		return
	}

	if err := o.svc.PromptAsync(ctx, sessionID, agent, prompt, nil); err != nil {
		snapshot := o.finishResume(sessionID)
		if snapshot != nil {
			o.notifier.NotifyResumeError(ctx, snapshot, err.Error(), tc)
		}
		return
	}

	for attempt := 1; attempt <= o.cfg.ResumeMaxAttempts; attempt++ {
		if !sleepCtx(ctx, o.cfg.ResumePollInterval) {
			return
		}

		statuses, err := o.svc.Status(ctx)
		if err != nil {
			continue
		}
		st, reported := statuses[sessionID]
		idle := reported && st.Type == session.StatusIdle
		if !idle && reported {
			continue // still busy
		}

		msgs, err := o.svc.Messages(ctx, sessionID)
		if err != nil {
			continue
		}

		if countAssistant(msgs) > baseline {
			snapshot := o.finishResume(sessionID)
			if snapshot != nil {
				o.notifier.NotifyResumeComplete(ctx, snapshot, tc, lastAssistantText(msgs))
			}
			return
		}

		// Explicitly idle with no new message: give it a few more ticks, the
		// history may lag the status report.
		if idle && attempt > 5 {
			snapshot := o.finishResume(sessionID)
			if snapshot != nil {
				o.notifier.NotifyResumeComplete(ctx, snapshot, tc, "")
			}
			return
		}
	}

	snapshot := o.finishResume(sessionID)
	if snapshot != nil {
		o.notifier.NotifyResumeError(ctx, snapshot, "timed out waiting for a response", tc)
	}
}

// finishResume moves resumed→completed, stamping a fresh completion time, and
// persists. It returns nil when the task is no longer in the resumed state.
func (o *Orchestrator) finishResume(sessionID string) *task.Task {
	o.mu.Lock()
	t, ok := o.tasks[sessionID]
	if !ok || !o.transitionLocked(t, task.StatusCompleted, "") {
		o.mu.Unlock()
		return nil
	}
	snapshot := t.Clone()
	o.mu.Unlock()

	o.persist(snapshot)
	return snapshot
}

func (o *Orchestrator) liveTask(sessionID string) (*task.Task, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[sessionID]
	if !ok {
		return nil, ""
	}
	return t, t.Agent
}

func countAssistant(msgs []session.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Role == "assistant" {
			n++
		}
	}
	return n
}

// lastAssistantText returns the text content of the newest assistant message.
func lastAssistantText(msgs []session.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" {
			return msgs[i].TextContent()
		}
	}
	return ""
}
