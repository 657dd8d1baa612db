package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/overseer-dev/overseer/internal/session"
	"github.com/overseer-dev/overseer/internal/task"
)

// runEventLoop consumes the push event stream for the orchestrator's lifetime:
// subscribe, drain, then reconnect after a fixed backoff, indefinitely. The
// stream goroutine only parses and forwards; all mutation happens here through
// the guarded registry methods, preserving the single-writer discipline.
func (o *Orchestrator) runEventLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		ch, err := o.events.Subscribe(ctx)
		if err != nil {
			slog.Debug("event subscribe failed, retrying", "error", err)
			if !sleepCtx(ctx, o.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		for ev := range ch {
			o.handleEvent(ev)
		}

		slog.Debug("event stream ended, reconnecting")
		if !sleepCtx(ctx, o.cfg.ReconnectDelay) {
			return
		}
	}
}

// handleEvent applies one push event to the registry.
func (o *Orchestrator) handleEvent(ev session.Event) {
	switch ev.Type {
	case session.EventCommand:
		switch ev.Command {
		case session.CommandSessionNew, session.CommandPromptClear, session.CommandSessionInterrupt:
			o.ClearAll()
		}

	case session.EventSessionDeleted:
		o.handleSessionDeleted(ev.SessionID)

	case session.EventSessionIdle:
		// Primary completion signal. Tasks mid-resume are ignored: resume
		// completion is owned by the resume controller's continuation.
		o.complete(ev.SessionID, false)

	case session.EventSessionCreated:
		// Recognized but carries no registry consequence.
	}
}

// handleSessionDeleted clears everything when a parent session dies, or
// cancels the single task whose own session was deleted.
func (o *Orchestrator) handleSessionDeleted(sessionID string) {
	o.mu.Lock()
	for _, t := range o.tasks {
		if t.ParentSessionID == sessionID {
			o.mu.Unlock()
			o.ClearAll()
			return
		}
	}

	t, ok := o.tasks[sessionID]
	var batch BatchProgress
	var snapshot *task.Task
	applied := false
	if ok && t.Status == task.StatusRunning {
		applied = o.transitionLocked(t, task.StatusCancelled, "session deleted")
		if applied {
			batch = o.batchProgressLocked(t.BatchID)
			snapshot = t.Clone()
		}
	}
	o.mu.Unlock()

	if !applied {
		return
	}
	o.persist(snapshot)
	o.notifier.NotifyTerminal(o.baseCtx, snapshot, batch)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
