package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/overseer-dev/overseer/internal/session"
	"github.com/overseer-dev/overseer/internal/task"
)

// startPoller launches the poll loop if it is not already running. Start and
// stop are idempotent; the handle is a singleton guarded by the registry lock.
func (o *Orchestrator) startPoller() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pollCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(o.baseCtx)
	o.pollCancel = cancel
	o.pollDone = make(chan struct{})

	go o.pollLoop(ctx, o.pollDone)
}

// stopPollerLocked cancels the poll loop. Callers hold o.mu.
func (o *Orchestrator) stopPollerLocked() {
	if o.pollCancel == nil {
		return
	}
	o.pollCancel()
	o.pollCancel = nil
	o.pollDone = nil
}

func (o *Orchestrator) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.pollOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// pollOnce runs one detector tick: parent liveness, per-task status with the
// message-scan fallback, progress refresh, retention sweep, and the live
// progress toast. All session I/O happens outside the registry lock.
func (o *Orchestrator) pollOnce(ctx context.Context) {
	statuses, err := o.svc.Status(ctx)
	if err != nil {
		slog.Debug("status poll failed", "error", err)
		return
	}

	now := time.Now()

	// Snapshot the active set under the lock.
	o.mu.Lock()
	parent := o.originalParent
	oldestStart := now
	var active []string // running or resumed session IDs
	running := make(map[string]bool)
	for id, t := range o.tasks {
		switch t.Status {
		case task.StatusRunning:
			active = append(active, id)
			running[id] = true
			if t.StartedAt.Before(oldestStart) {
				oldestStart = t.StartedAt
			}
		case task.StatusResumed:
			active = append(active, id)
		}
	}
	o.mu.Unlock()

	// After a grace period, verify the supervising session still exists. A
	// vanished parent orphans every task.
	if parent != "" && now.Sub(oldestStart) > o.cfg.ParentGrace {
		exists, err := o.svc.Exists(ctx, parent)
		if err != nil || !exists {
			slog.Info("parent session gone, clearing tasks", "parent", task.ShortID(parent))
			o.ClearAll()
			return
		}
	}

	for _, id := range active {
		if !running[id] {
			// Resumed tasks: completion is owned by the resume controller,
			// only the progress display is refreshed here.
			o.refreshProgress(ctx, id)
			continue
		}

		st, reported := statuses[id]
		switch {
		case reported && st.Type == session.StatusIdle:
			o.complete(id, false)

		case !reported:
			// Ambiguous: the session may have finished and dropped out of the
			// report. An assistant response with text means it completed;
			// otherwise keep polling.
			msgs, err := o.svc.Messages(ctx, id)
			if err != nil {
				slog.Debug("fallback message scan failed", "task", task.ShortID(id), "error", err)
				continue
			}
			if hasAssistantText(msgs) {
				o.complete(id, false)
			} else {
				o.applyProgress(id, msgs)
			}

		default: // busy
			o.refreshProgress(ctx, id)
		}
	}

	o.sweepAndDisplay(ctx, now)
}

// sweepAndDisplay removes retained-out tasks, stops the poller when nothing is
// active or recently finished, and emits the live progress toast.
func (o *Orchestrator) sweepAndDisplay(ctx context.Context, now time.Time) {
	o.mu.Lock()

	hasRunning := false
	for _, t := range o.tasks {
		if t.Status == task.StatusRunning || t.Status == task.StatusResumed {
			hasRunning = true
			break
		}
	}

	// Finished tasks leave the registry only after their result was retrieved
	// and the display window elapsed; an unretrieved result is kept for late
	// supervisors.
	if !hasRunning {
		for id, t := range o.tasks {
			if !t.Status.Terminal() || t.ResultRetrievedAt == nil {
				continue
			}
			if now.Sub(*t.ResultRetrievedAt) > o.cfg.RetentionWindow {
				delete(o.tasks, id)
			}
		}
	}

	activeOrRecent := false
	for _, t := range o.tasks {
		if t.Status == task.StatusRunning || t.Status == task.StatusResumed {
			activeOrRecent = true
			break
		}
		if t.CompletedAt != nil && now.Sub(*t.CompletedAt) <= o.cfg.RetentionWindow {
			activeOrRecent = true
			break
		}
	}

	if !activeOrRecent {
		o.stopPollerLocked()
		o.mu.Unlock()
		return
	}

	snapshot := make([]*task.Task, 0, len(o.tasks))
	for _, t := range o.tasks {
		snapshot = append(snapshot, t.Clone())
	}
	frame := o.spinFrame
	o.spinFrame++
	o.mu.Unlock()

	o.notifier.ShowProgress(ctx, snapshot, frame)
}

// refreshProgress re-derives the progress snapshot from the latest message
// history. Progress is advisory and never drives transition decisions.
func (o *Orchestrator) refreshProgress(ctx context.Context, sessionID string) {
	msgs, err := o.svc.Messages(ctx, sessionID)
	if err != nil {
		slog.Debug("progress refresh failed", "task", task.ShortID(sessionID), "error", err)
		return
	}
	o.applyProgress(sessionID, msgs)
}

func (o *Orchestrator) applyProgress(sessionID string, msgs []session.Message) {
	toolCalls, lastTools := countToolCalls(msgs)

	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[sessionID]
	if !ok {
		return
	}
	if t.Progress == nil {
		t.Progress = &task.Progress{}
	}
	// Tool calls never decrease while a task is active.
	if toolCalls < t.Progress.ToolCalls {
		return
	}
	t.Progress.ToolCalls = toolCalls
	t.Progress.LastTools = lastTools
	t.Progress.LastUpdate = time.Now()
}

// countToolCalls tallies tool invocations across assistant messages and keeps
// the last three tool names.
func countToolCalls(msgs []session.Message) (int, []string) {
	var count int
	var tools []string
	for _, m := range msgs {
		if m.Role != "assistant" {
			continue
		}
		for _, p := range m.Parts {
			if p.Type == "tool" && p.Tool != "" {
				count++
				tools = append(tools, p.Tool)
			}
		}
	}
	if len(tools) > 3 {
		tools = tools[len(tools)-3:]
	}
	return count, tools
}

// hasAssistantText reports whether any assistant message carries non-empty
// text, the fallback completion signal.
func hasAssistantText(msgs []session.Message) bool {
	for _, m := range msgs {
		if m.Role != "assistant" {
			continue
		}
		for _, p := range m.Parts {
			if p.Type == "text" && p.Text != "" {
				return true
			}
		}
	}
	return false
}
