package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/overseer-dev/overseer/internal/session"
	"github.com/overseer-dev/overseer/internal/task"
)

func completeTask(t *testing.T, o *Orchestrator, svc *session.MemoryService, id string) {
	t.Helper()
	svc.SetIdle(id)
	waitFor(t, "completion", func() bool {
		got, _ := o.Get(id)
		return got != nil && got.Status == task.StatusCompleted
	})
}

func TestResumeDeliversAnswer(t *testing.T) {
	o, svc := newTestOrchestrator(t, testConfig())

	tk := launch(t, o)
	completeTask(t, o, svc, tk.SessionID)

	tc := ToolContext{SessionID: "ses_tool", Agent: "build"}
	resumed, err := o.Resume(context.Background(), tk.SessionID, "and the edge cases?", tc)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != task.StatusResumed || resumed.ResumeCount != 1 {
		t.Errorf("unexpected resumed snapshot %+v", resumed)
	}

	// The follow-up goes out on the same session.
	waitFor(t, "follow-up dispatch", func() bool {
		for _, p := range svc.PromptLog() {
			if p.Async && p.Text == "and the edge cases?" && p.SessionID == tk.SessionID {
				return true
			}
		}
		return false
	})

	// The child answers and goes idle.
	svc.AddAssistantText(tk.SessionID, "covered in section 3")
	svc.SetIdle(tk.SessionID)

	waitFor(t, "resume completion", func() bool {
		got, _ := o.Get(tk.SessionID)
		return got != nil && got.Status == task.StatusCompleted && got.ResumeCount == 1
	})

	// The answer lands on the tool context, not the original parent.
	waitFor(t, "resume notification", func() bool {
		for _, p := range svc.PromptLog() {
			if p.SessionID == "ses_tool" && strings.Contains(p.Text, "covered in section 3") {
				return true
			}
		}
		return false
	})
}

func TestResumeGuards(t *testing.T) {
	o, svc := newTestOrchestrator(t, testConfig())

	var nf *task.NotFoundError
	if _, err := o.Resume(context.Background(), "ses_missing", "hi", ToolContext{}); !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}

	tk := launch(t, o)

	// Still running: not resumable.
	var it *task.InvalidTransitionError
	if _, err := o.Resume(context.Background(), tk.SessionID, "hi", ToolContext{}); !errors.As(err, &it) {
		t.Errorf("expected InvalidTransitionError for running task, got %v", err)
	}

	completeTask(t, o, svc, tk.SessionID)

	// A resume in flight blocks a second one.
	if _, err := o.Resume(context.Background(), tk.SessionID, "first", ToolContext{}); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, err := o.Resume(context.Background(), tk.SessionID, "second", ToolContext{}); !errors.As(err, &it) {
		t.Errorf("expected InvalidTransitionError for concurrent resume, got %v", err)
	}
}

func TestResumeExpiredSession(t *testing.T) {
	o, svc := newTestOrchestrator(t, testConfig())

	tk := launch(t, o)
	completeTask(t, o, svc, tk.SessionID)

	// The underlying session is gone by the time the resume is attempted.
	svc.Delete(tk.SessionID)

	_, err := o.Resume(context.Background(), tk.SessionID, "hi", ToolContext{})
	if !errors.Is(err, task.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}

	// The transition is reverted but the attempt counter stays monotonic.
	got, ok := o.Get(tk.SessionID)
	if !ok {
		t.Fatal("expected task still registered")
	}
	if got.Status != task.StatusCompleted {
		t.Errorf("expected reverted to completed, got %s", got.Status)
	}
	if got.ResumeCount != 1 {
		t.Errorf("expected resume count kept at 1, got %d", got.ResumeCount)
	}
}

func TestResumeDispatchFailure(t *testing.T) {
	o, svc := newTestOrchestrator(t, testConfig())

	tk := launch(t, o)
	completeTask(t, o, svc, tk.SessionID)

	svc.SetFailPrompt(errors.New("session backend unavailable"))

	tc := ToolContext{SessionID: "ses_tool", Agent: "build"}
	if _, err := o.Resume(context.Background(), tk.SessionID, "hi", tc); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	// The failure lands the task back in completed and reports the reason.
	waitFor(t, "resume error notification", func() bool {
		for _, p := range svc.PromptLog() {
			if p.SessionID == "ses_tool" && strings.Contains(p.Text, "session backend unavailable") {
				return true
			}
		}
		return false
	})

	got, _ := o.Get(tk.SessionID)
	if got.Status != task.StatusCompleted {
		t.Errorf("expected completed after failed resume, got %s", got.Status)
	}
}

func TestResumeIdleWithoutAnswer(t *testing.T) {
	cfg := testConfig()
	cfg.ResumePollInterval = 2 * time.Millisecond
	o, svc := newTestOrchestrator(t, cfg)

	tk := launch(t, o)
	completeTask(t, o, svc, tk.SessionID)

	tc := ToolContext{SessionID: "ses_tool", Agent: "build"}
	if _, err := o.Resume(context.Background(), tk.SessionID, "hi", tc); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	// Idle with no new assistant message: accepted after the early attempts.
	svc.SetIdle(tk.SessionID)

	waitFor(t, "idle acceptance", func() bool {
		got, _ := o.Get(tk.SessionID)
		return got != nil && got.Status == task.StatusCompleted
	})

	waitFor(t, "empty-answer notification", func() bool {
		for _, p := range svc.PromptLog() {
			if p.SessionID == "ses_tool" && strings.Contains(p.Text, "No text response") {
				return true
			}
		}
		return false
	})
}
