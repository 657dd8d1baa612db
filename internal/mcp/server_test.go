package mcp

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/overseer-dev/overseer/internal/orchestrator"
	"github.com/overseer-dev/overseer/internal/session"
	"github.com/overseer-dev/overseer/internal/task"
	"github.com/overseer-dev/overseer/internal/tools"
)

func TestObjectSchema(t *testing.T) {
	schema := objectSchema(map[string]any{
		"task_id": stringProp("Task ID"),
		"block":   map[string]any{"type": "boolean"},
	}, "task_id")

	// Must round-trip as a proper JSON Schema object
	data, err := json.Marshal(schema)
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}

	if back["type"] != "object" {
		t.Errorf("schema type = %v, want object", back["type"])
	}
	props, ok := back["properties"].(map[string]any)
	if !ok || len(props) != 2 {
		t.Fatalf("unexpected properties %v", back["properties"])
	}
	req, ok := back["required"].([]any)
	if !ok || len(req) != 1 || req[0] != "task_id" {
		t.Errorf("unexpected required %v", back["required"])
	}
}

func TestObjectSchemaNoRequired(t *testing.T) {
	schema := objectSchema(map[string]any{})
	if _, ok := schema["required"]; ok {
		t.Error("schema should not have required field when nothing is required")
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{
		"name":  "general",
		"block": true,
		"ms":    float64(2500),
	}
	if str(args, "name") != "general" {
		t.Error("str lookup failed")
	}
	if str(args, "missing") != "" {
		t.Error("str should default to empty")
	}
	if !boolean(args, "block") || boolean(args, "missing") {
		t.Error("boolean lookup failed")
	}
	if num(args, "ms") != 2500 || num(args, "missing") != 0 {
		t.Error("num lookup failed")
	}
}

func TestNewServer(t *testing.T) {
	svc := session.NewMemoryService()
	shadow := task.NewShadowStore(filepath.Join(t.TempDir(), "tasks.json"))
	orc := orchestrator.New(svc, svc, svc, shadow, orchestrator.DefaultConfig())
	defer orc.Stop()

	server := NewServer(tools.New(orc), "test")
	if server == nil {
		t.Fatal("NewServer returned nil")
	}
}
