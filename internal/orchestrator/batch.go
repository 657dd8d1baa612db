package orchestrator

import (
	"fmt"
	"strings"

	"github.com/overseer-dev/overseer/internal/task"
)

// BatchProgress aggregates the tasks sharing one batch ID. A batch is an
// emergent grouping computed by scanning the registry, not a stored entity.
type BatchProgress struct {
	BatchID   string `json:"batch_id"`
	Total     int    `json:"total"`
	Finished  int    `json:"finished"`
	Running   int    `json:"running"`
	ToolCalls int    `json:"tool_calls"`
}

// Percent returns the rounded completion percentage.
func (b BatchProgress) Percent() int {
	if b.Total == 0 {
		return 0
	}
	return int(float64(b.Finished)/float64(b.Total)*100 + 0.5)
}

// progressBarCells is the width of the textual progress bar.
const progressBarCells = 10

// Bar renders a textual progress bar like "███░░░░░░░".
func (b BatchProgress) Bar() string {
	total := b.Total
	if total == 0 {
		total = 1
	}
	filled := int(float64(b.Finished)/float64(total)*progressBarCells + 0.5)
	if filled > progressBarCells {
		filled = progressBarCells
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", progressBarCells-filled)
}

// Summary renders the one-line batch summary used by the live toast.
func (b BatchProgress) Summary() string {
	return fmt.Sprintf("[%s] %d/%d agents (%d%%) | %d tool calls",
		b.Bar(), b.Finished, b.Total, b.Percent(), b.ToolCalls)
}

// batchProgressLocked scans the registry for the batch's members.
func (o *Orchestrator) batchProgressLocked(batchID string) BatchProgress {
	b := BatchProgress{BatchID: batchID}
	for _, t := range o.tasks {
		if t.BatchID != batchID {
			continue
		}
		b.Total++
		if t.Status.Terminal() {
			b.Finished++
		}
		if t.Status == task.StatusRunning {
			b.Running++
		}
		if t.Progress != nil {
			b.ToolCalls += t.Progress.ToolCalls
		}
	}
	return b
}

// BatchProgressFor returns the aggregated progress of a task's batch.
func (o *Orchestrator) BatchProgressFor(batchID string) BatchProgress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.batchProgressLocked(batchID)
}
