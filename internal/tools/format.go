// Package tools exposes the background-task operations as descriptive string
// returns for embedding hosts (MCP, HTTP, CLI). Nothing here exits the
// process; every failure is a readable message.
package tools

import (
	"fmt"
	"strings"

	"github.com/overseer-dev/overseer/internal/session"
	"github.com/overseer-dev/overseer/internal/task"
)

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

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// FormatTaskStatus renders a status card for a task that has no retrievable
// result yet (running, errored, or cancelled).
func FormatTaskStatus(t *task.Task) string {
	icon := statusIcon(t.Status)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s Task Status\n\n", icon)
	b.WriteString("| Field | Value |\n|-------|-------|\n")
	fmt.Fprintf(&b, "| Task ID | `%s` |\n", task.ShortID(t.SessionID))
	fmt.Fprintf(&b, "| Description | %s |\n", t.Description)
	fmt.Fprintf(&b, "| Agent | %s |\n", t.Agent)
	fmt.Fprintf(&b, "| Status | %s **%s** |\n", icon, t.Status)
	fmt.Fprintf(&b, "| Duration | %s |\n", t.Duration())
	if t.Progress != nil && len(t.Progress.LastTools) > 0 {
		fmt.Fprintf(&b, "| Last tools | %s |\n", strings.Join(t.Progress.LastTools, " → "))
	}

	switch t.Status {
	case task.StatusRunning:
		b.WriteString("\n> ⏳ **Running**: task is still in progress, check back later for results.")
	case task.StatusError:
		errMsg := t.Error
		if errMsg == "" {
			errMsg = "unknown error"
		}
		fmt.Fprintf(&b, "\n> ✗ **Failed**: %s", errMsg)
	case task.StatusCancelled:
		b.WriteString("\n> ⊘ **Cancelled**: task was cancelled before completion.")
	}

	if t.Prompt != "" {
		fmt.Fprintf(&b, "\n\n## Original Prompt\n\n```\n%s\n```", truncate(t.Prompt, 500))
	}
	return b.String()
}

// FormatTaskResult renders the completed card with the assistant's final
// answer extracted from the session history.
func FormatTaskResult(t *task.Task, msgs []session.Message) string {
	var b strings.Builder
	b.WriteString("✓ **Task Completed**\n\n")
	b.WriteString("| Field | Value |\n|-------|-------|\n")
	fmt.Fprintf(&b, "| Task ID | `%s` |\n", task.ShortID(t.SessionID))
	fmt.Fprintf(&b, "| Description | %s |\n", t.Description)
	fmt.Fprintf(&b, "| Duration | %s |\n", t.Duration())
	b.WriteString("\n---\n\n")

	text := ""
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" {
			text = msgs[i].TextContent()
			break
		}
	}

	switch {
	case len(msgs) == 0:
		b.WriteString("(No messages found)")
	case text == "":
		b.WriteString("(No text output)")
	default:
		b.WriteString(text)
	}
	return b.String()
}

// BlockEntry pairs a requested task ID with its final observed state. Task is
// nil when the ID resolved to nothing.
type BlockEntry struct {
	Requested string
	Task      *task.Task
}

// FormatBlockResult renders the outcome of waiting on a set of tasks: a status
// table for every requested ID plus detail cards for the finished ones.
func FormatBlockResult(entries []BlockEntry, timedOut bool) string {
	var b strings.Builder
	if timedOut {
		b.WriteString("# ⏱ Block Timeout\n\nSome tasks did not complete within the timeout period.\n\n")
	} else {
		b.WriteString("# ✓ All Tasks Completed\n\n")
	}

	b.WriteString("| Task ID | Status | Description |\n|---------|--------|-------------|\n")
	for _, e := range entries {
		if e.Task == nil {
			fmt.Fprintf(&b, "| `%s` | ? not found | - |\n", e.Requested)
			continue
		}
		status := fmt.Sprintf("%s %s", statusIcon(e.Task.Status), e.Task.Status)
		if e.Task.Status == task.StatusRunning || e.Task.Status == task.StatusResumed {
			status += " (still running)"
		}
		fmt.Fprintf(&b, "| `%s` | %s | %s |\n", task.ShortID(e.Task.SessionID), status, e.Task.Description)
	}

	var finished []*task.Task
	for _, e := range entries {
		if e.Task != nil && (e.Task.Status == task.StatusCompleted || e.Task.Status == task.StatusError) {
			finished = append(finished, e.Task)
		}
	}
	if len(finished) > 0 {
		b.WriteString("\n## Task Details\n")
		for _, t := range finished {
			fmt.Fprintf(&b, "\n### %s\n\n%s\n", task.ShortID(t.SessionID), FormatTaskStatus(t))
		}
	}
	return b.String()
}

// FormatTaskList renders the full registry as a markdown table with a status
// tally.
func FormatTaskList(tasks []*task.Task, statusFilter string) string {
	if len(tasks) == 0 {
		if statusFilter != "" {
			return fmt.Sprintf("No background tasks found with status %q.", statusFilter)
		}
		return "No background tasks found."
	}

	var b strings.Builder
	b.WriteString("# Background Tasks\n\n")
	b.WriteString("| Task ID | Description | Agent | Status | Duration |\n")
	b.WriteString("|---------|-------------|-------|--------|----------|\n")

	counts := map[task.Status]int{}
	for _, t := range tasks {
		counts[t.Status]++
		id := task.ShortID(t.SessionID)
		if t.ResumeCount > 0 {
			id += " (resumed)"
		}
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s %s | %s |\n",
			id, truncate(t.Description, 30), t.Agent, statusIcon(t.Status), t.Status, t.Duration())
	}

	fmt.Fprintf(&b, "\n---\n**Total: %d** | ⏳ %d running | ✓ %d completed | ✗ %d error | ⊘ %d cancelled",
		len(tasks), counts[task.StatusRunning]+counts[task.StatusResumed], counts[task.StatusCompleted],
		counts[task.StatusError], counts[task.StatusCancelled])
	return b.String()
}
