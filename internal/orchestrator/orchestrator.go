// Package orchestrator owns the background task registry: launch, completion
// detection, batch aggregation, notifications, resumption, and the durable
// metadata shadow.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/overseer-dev/overseer/internal/session"
	"github.com/overseer-dev/overseer/internal/task"
)

// Config holds the orchestrator's timing knobs. Tests shrink these.
type Config struct {
	PollInterval       time.Duration // status poll tick
	RetentionWindow    time.Duration // how long finished tasks stay visible after retrieval
	ParentGrace        time.Duration // delay before the parent-exists check kicks in
	NotifyDelay        time.Duration // delay before injecting the parent notification
	ReconnectDelay     time.Duration // event stream reconnect backoff
	ResumePollInterval time.Duration // resume continuation poll tick
	ResumeMaxAttempts  int           // resume continuation attempt cap
	WaitInterval       time.Duration // WaitForTask re-check interval
}

// DefaultConfig returns production timings.
func DefaultConfig() Config {
	return Config{
		PollInterval:       100 * time.Millisecond,
		RetentionWindow:    10 * time.Second,
		ParentGrace:        3 * time.Second,
		NotifyDelay:        200 * time.Millisecond,
		ReconnectDelay:     time.Second,
		ResumePollInterval: time.Second,
		ResumeMaxAttempts:  600,
		WaitInterval:       500 * time.Millisecond,
	}
}

// LaunchInput describes a task launch request.
type LaunchInput struct {
	Description     string
	Prompt          string
	Agent           string
	ParentSessionID string
	ParentMessageID string
	ParentAgent     string
	Fork            bool
}

// ToolContext identifies the tool invocation a resume notification should
// address.
type ToolContext struct {
	SessionID string
	MessageID string
	Agent     string
}

// backgroundToolGate disables the background tools inside child sessions so a
// subordinate agent cannot recursively spawn tasks.
var backgroundToolGate = map[string]bool{
	"background_task":   false,
	"background_output": false,
	"background_cancel": false,
	"background_list":   false,
	"background_clear":  false,
	"background_resume": false,
}

// Orchestrator is the task registry plus its completion detector, notifier,
// resume controller, and persistence shadow. All registry mutation is guarded
// by one mutex; session I/O happens outside the lock and state is re-checked
// after every return.
type Orchestrator struct {
	cfg      Config
	svc      session.Service
	events   session.EventSource
	shadow   *task.ShadowStore
	notifier *Notifier

	mu             sync.Mutex
	tasks          map[string]*task.Task
	originalParent string
	pollCancel     context.CancelFunc
	pollDone       chan struct{}
	spinFrame      int

	baseCtx context.Context
	stop    context.CancelFunc
}

// New creates an orchestrator with injected collaborators.
func New(svc session.Service, events session.EventSource, toaster session.Toaster, shadow *task.ShadowStore, cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		svc:      svc,
		events:   events,
		shadow:   shadow,
		notifier: NewNotifier(svc, toaster, cfg.NotifyDelay),
		tasks:    make(map[string]*task.Task),
		baseCtx:  context.Background(),
	}
}

// Start begins consuming the push event stream. It returns immediately.
func (o *Orchestrator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.baseCtx = runCtx
	o.stop = cancel
	if o.events != nil {
		go o.runEventLoop(runCtx)
	}
}

// Stop halts the event consumer and the poller. In-memory tasks are left
// untouched.
func (o *Orchestrator) Stop() {
	if o.stop != nil {
		o.stop()
	}
	o.mu.Lock()
	o.stopPollerLocked()
	o.mu.Unlock()
}

// Launch creates a child session, registers a running task, and dispatches the
// initial prompt asynchronously. A dispatch failure transitions the task to
// error and notifies; it is never returned to the caller.
func (o *Orchestrator) Launch(ctx context.Context, in LaunchInput) (*task.Task, error) {
	if strings.TrimSpace(in.Agent) == "" {
		return nil, task.ErrAgentRequired
	}
	in.Agent = strings.TrimSpace(in.Agent)

	var (
		sessionID string
		err       error
	)
	if in.Fork {
		sessionID, err = o.svc.Fork(ctx, in.ParentSessionID)
	} else {
		sessionID, err = o.svc.Create(ctx, in.ParentSessionID, "Background: "+in.Description)
	}
	if err != nil {
		return nil, fmt.Errorf("create background session: %w", err)
	}

	now := time.Now()
	t := &task.Task{
		SessionID:       sessionID,
		ParentSessionID: in.ParentSessionID,
		ParentMessageID: in.ParentMessageID,
		ParentAgent:     in.ParentAgent,
		Description:     in.Description,
		Prompt:          in.Prompt,
		Agent:           in.Agent,
		Status:          task.StatusRunning,
		StartedAt:       now,
		Progress:        &task.Progress{LastUpdate: now},
		Forked:          in.Fork,
	}

	o.mu.Lock()
	t.BatchID = o.batchIDLocked()
	o.originalParent = in.ParentSessionID
	o.tasks[sessionID] = t
	o.mu.Unlock()

	o.persist(t)
	o.startPoller()

	go o.dispatchPrompt(context.WithoutCancel(ctx), sessionID, in)

	slog.Info("task launched", "task", task.ShortID(sessionID), "agent", in.Agent, "batch", t.BatchID)
	return t.Clone(), nil
}

// dispatchPrompt fires the initial prompt. The launch already returned, so a
// failure lands on the task record instead of the caller.
func (o *Orchestrator) dispatchPrompt(ctx context.Context, sessionID string, in LaunchInput) {
	err := o.svc.PromptAsync(ctx, sessionID, in.Agent, in.Prompt, backgroundToolGate)
	if err == nil {
		return
	}

	msg := err.Error()
	if strings.Contains(msg, "agent.name") || strings.Contains(msg, "undefined") {
		msg = fmt.Sprintf("agent %q not found, make sure the agent is registered", in.Agent)
	}

	o.mu.Lock()
	t, ok := o.tasks[sessionID]
	var batch BatchProgress
	applied := ok && o.transitionLocked(t, task.StatusError, msg)
	var snapshot *task.Task
	if applied {
		batch = o.batchProgressLocked(t.BatchID)
		snapshot = t.Clone()
	}
	o.mu.Unlock()

	if !applied {
		return
	}
	o.persist(snapshot)
	o.notifier.NotifyTerminal(o.baseCtx, snapshot, batch)
}

// Get returns a snapshot of the task with the exact session ID.
func (o *Orchestrator) Get(id string) (*task.Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// List returns snapshots of all tasks, newest first, optionally filtered by
// status.
func (o *Orchestrator) List(status task.Status) []*task.Task {
	o.mu.Lock()
	out := make([]*task.Task, 0, len(o.tasks))
	for _, t := range o.tasks {
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t.Clone())
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Cancel aborts a running task. Any other status is an invalid transition.
// The caller reports the outcome directly, so no notification is dispatched.
func (o *Orchestrator) Cancel(idOrPrefix string) (*task.Task, error) {
	o.mu.Lock()
	t, ok := o.resolveLocked(idOrPrefix)
	if !ok {
		o.mu.Unlock()
		return nil, &task.NotFoundError{ID: idOrPrefix}
	}
	if t.Status != task.StatusRunning {
		status := t.Status
		o.mu.Unlock()
		return nil, &task.InvalidTransitionError{Op: "cancel", Status: status}
	}
	o.transitionLocked(t, task.StatusCancelled, "")
	snapshot := t.Clone()
	o.mu.Unlock()

	go func() {
		if err := o.svc.Abort(o.baseCtx, snapshot.SessionID); err != nil {
			slog.Debug("abort failed", "task", task.ShortID(snapshot.SessionID), "error", err)
		}
	}()

	o.persist(snapshot)
	return snapshot, nil
}

// ClearAll aborts every running session best-effort and empties the registry.
// The persistence shadow is untouched: a cleared task must stay resumable.
func (o *Orchestrator) ClearAll() {
	o.mu.Lock()
	var running []string
	for _, t := range o.tasks {
		if t.Status == task.StatusRunning {
			running = append(running, t.SessionID)
		}
	}
	o.tasks = make(map[string]*task.Task)
	o.originalParent = ""
	o.stopPollerLocked()
	o.mu.Unlock()

	for _, id := range running {
		if err := o.svc.Abort(o.baseCtx, id); err != nil {
			slog.Debug("abort on clear failed", "session", task.ShortID(id), "error", err)
		}
	}

	if len(running) > 0 {
		slog.Info("cleared tasks", "aborted", len(running))
	}
}

// DeletePersisted removes a task's durable shadow entry.
func (o *Orchestrator) DeletePersisted(id string) error {
	return o.shadow.Delete(id)
}

// MarkResultRetrieved stamps the retrieval time once per episode. It gates
// retention, not lifecycle.
func (o *Orchestrator) MarkResultRetrieved(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if t, ok := o.tasks[id]; ok && t.ResultRetrievedAt == nil {
		now := time.Now()
		t.ResultRetrievedAt = &now
	}
}

// CheckTask re-derives a running task's status on demand, applying the same
// ambiguity policy as the poller: an idle report completes the task, an absent
// one falls back to scanning the message history, and an inconclusive scan
// leaves it running. skipNotification suppresses the generic terminal
// notification when the caller reports the result directly as a return value.
func (o *Orchestrator) CheckTask(ctx context.Context, id string, skipNotification bool) (*task.Task, bool) {
	t, ok := o.Get(id)
	if !ok {
		return nil, false
	}
	if t.Status != task.StatusRunning {
		return t, true
	}

	statuses, err := o.svc.Status(ctx)
	if err != nil {
		return t, true
	}

	st, reported := statuses[id]
	switch {
	case reported && st.Type == session.StatusIdle:
		o.complete(id, skipNotification)
	case !reported:
		msgs, err := o.svc.Messages(ctx, id)
		if err == nil && hasAssistantText(msgs) {
			o.complete(id, skipNotification)
		}
	}

	return o.Get(id)
}

// Messages returns the message history of a task's session.
func (o *Orchestrator) Messages(ctx context.Context, sessionID string) ([]session.Message, error) {
	return o.svc.Messages(ctx, sessionID)
}

// Resolve maps an exact ID or unique prefix to an in-memory task snapshot.
// Prefix matches are tie-broken by recency. Not-found is not an error.
func (o *Orchestrator) Resolve(idOrPrefix string) (*task.Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.resolveLocked(idOrPrefix)
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// ResolveWithFallback resolves against memory first, then the persistence
// shadow. A shadow hit is rehydrated into the registry so resume can proceed
// on it.
func (o *Orchestrator) ResolveWithFallback(idOrPrefix string) (*task.Task, bool) {
	if t, ok := o.Resolve(idOrPrefix); ok {
		return t, true
	}

	persisted, err := o.shadow.Load()
	if err != nil {
		slog.Warn("shadow load failed", "error", err)
		return nil, false
	}

	id, ok := task.MatchPersisted(persisted, idOrPrefix)
	if !ok {
		return nil, false
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// A concurrent caller may have rehydrated it already.
	if t, ok := o.tasks[id]; ok {
		return t.Clone(), true
	}
	t := task.Rehydrate(id, persisted[id])
	o.tasks[id] = t
	return t.Clone(), true
}

// LookupPersisted resolves an ID or prefix against the shadow alone and
// returns a reconstructed snapshot. Unlike ResolveWithFallback it never
// inserts the result into the registry, so reads stay side-effect free.
func (o *Orchestrator) LookupPersisted(idOrPrefix string) (*task.Task, bool) {
	persisted, err := o.shadow.Load()
	if err != nil {
		slog.Warn("shadow load failed", "error", err)
		return nil, false
	}
	id, ok := task.MatchPersisted(persisted, idOrPrefix)
	if !ok {
		return nil, false
	}
	return task.Rehydrate(id, persisted[id]), true
}

// WaitForTask observes the registry until the task reaches a terminal status
// or the timeout elapses, returning whatever state was last seen. It never
// drives detection itself.
func (o *Orchestrator) WaitForTask(ctx context.Context, id string, timeout time.Duration) (*task.Task, bool) {
	results := o.WaitForTasks(ctx, []string{id}, timeout)
	t, ok := results[id]
	return t, ok && t != nil
}

// WaitForTasks waits on several tasks at once. Unknown IDs map to nil.
func (o *Orchestrator) WaitForTasks(ctx context.Context, ids []string, timeout time.Duration) map[string]*task.Task {
	deadline := time.Now().Add(timeout)
	results := make(map[string]*task.Task, len(ids))

	for {
		allDone := true
		for _, id := range ids {
			t, ok := o.Get(id)
			if !ok {
				results[id] = nil
				continue
			}
			if t.Status.Terminal() {
				results[id] = t
			} else {
				allDone = false
			}
		}

		if allDone || time.Now().After(deadline) {
			break
		}

		select {
		case <-time.After(o.cfg.WaitInterval):
		case <-ctx.Done():
			allDone = false
		}
		if ctx.Err() != nil {
			break
		}
	}

	for _, id := range ids {
		if _, ok := results[id]; !ok {
			t, found := o.Get(id)
			if !found {
				results[id] = nil
			} else {
				results[id] = t
			}
		}
	}
	return results
}

// resolveLocked finds the live record for an exact ID, else the most recently
// started task whose ID has the given prefix.
func (o *Orchestrator) resolveLocked(idOrPrefix string) (*task.Task, bool) {
	if t, ok := o.tasks[idOrPrefix]; ok {
		return t, true
	}

	var best *task.Task
	for id, t := range o.tasks {
		if !strings.HasPrefix(id, idOrPrefix) {
			continue
		}
		if best == nil || t.StartedAt.After(best.StartedAt) {
			best = t
		}
	}
	return best, best != nil
}

// batchIDLocked joins the batch of the earliest running task, or mints a new
// batch when nothing is running.
func (o *Orchestrator) batchIDLocked() string {
	var earliest *task.Task
	for _, t := range o.tasks {
		if t.Status != task.StatusRunning {
			continue
		}
		if earliest == nil || t.StartedAt.Before(earliest.StartedAt) {
			earliest = t
		}
	}
	if earliest != nil && earliest.BatchID != "" {
		return earliest.BatchID
	}
	return task.NewBatchID()
}

// transitionLocked applies a terminal transition if the current status permits
// it, returning whether this caller won. Running may go to any terminal
// status; resumed may only go to completed or error (the resume controller's
// continuations).
func (o *Orchestrator) transitionLocked(t *task.Task, to task.Status, errMsg string) bool {
	if !to.Terminal() {
		return false
	}
	switch t.Status {
	case task.StatusRunning:
	case task.StatusResumed:
		if to == task.StatusCancelled {
			return false
		}
	default:
		return false
	}

	t.SetStatus(to)
	if errMsg != "" {
		t.Error = errMsg
	}
	return true
}

// complete applies running→completed and, if this caller won the transition,
// persists and notifies. At-most-once notification falls out of the single
// winner.
func (o *Orchestrator) complete(sessionID string, skipNotification bool) bool {
	o.mu.Lock()
	t, ok := o.tasks[sessionID]
	if !ok || t.Status != task.StatusRunning {
		o.mu.Unlock()
		return false
	}
	o.transitionLocked(t, task.StatusCompleted, "")
	batch := o.batchProgressLocked(t.BatchID)
	snapshot := t.Clone()
	o.mu.Unlock()

	o.persist(snapshot)
	if !skipNotification {
		o.notifier.NotifyTerminal(o.baseCtx, snapshot, batch)
	}
	slog.Info("task completed", "task", task.ShortID(sessionID), "duration", snapshot.Duration())
	return true
}

// persist mirrors the task to the durable shadow. Durability failures must not
// abort an in-memory operation; they are logged and swallowed.
func (o *Orchestrator) persist(t *task.Task) {
	if err := o.shadow.SaveOne(t.SessionID, t.Persisted()); err != nil {
		slog.Warn("persist task failed", "task", task.ShortID(t.SessionID), "error", err)
	}
}
