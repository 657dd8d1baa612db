// Package mcp exposes the background-task tools over the Model Context
// Protocol so any MCP-capable supervisor can drive the orchestrator.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/overseer-dev/overseer/internal/orchestrator"
	"github.com/overseer-dev/overseer/internal/tools"
)

// NewServer creates an MCP server exposing the background-task tool surface.
func NewServer(tl *tools.Tools, version string) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "overseer",
		Version: version,
	}, nil)

	addTool(server, "background_task",
		"Launch a background agent task that runs asynchronously in its own session. Returns immediately with a task ID; you are notified when it completes.",
		objectSchema(map[string]any{
			"description":       stringProp("Short task description (shown in status)"),
			"prompt":            stringProp("Full detailed prompt for the agent"),
			"agent":             stringProp("Agent type to use (any registered agent)"),
			"fork":              map[string]any{"type": "boolean", "description": "Fork the parent session's context into the child"},
			"parent_session_id": stringProp("Supervising session ID"),
			"parent_message_id": stringProp("Supervising message ID"),
			"parent_agent":      stringProp("Supervising agent name"),
		}, "description", "prompt", "agent", "parent_session_id"),
		func(ctx context.Context, args map[string]any) string {
			return tl.Launch(ctx, orchestrator.LaunchInput{
				Description:     str(args, "description"),
				Prompt:          str(args, "prompt"),
				Agent:           str(args, "agent"),
				Fork:            boolean(args, "fork"),
				ParentSessionID: str(args, "parent_session_id"),
				ParentMessageID: str(args, "parent_message_id"),
				ParentAgent:     str(args, "parent_agent"),
			})
		})

	addTool(server, "background_output",
		"Get output from a background task. With block=true, waits for completion up to timeout_ms before returning the full result.",
		objectSchema(map[string]any{
			"task_id":    stringProp("Task ID or unique prefix"),
			"block":      map[string]any{"type": "boolean", "description": "Wait for completion instead of returning the current status"},
			"timeout_ms": map[string]any{"type": "number", "description": "Max wait in milliseconds when blocking (default 60000, max 600000)"},
		}, "task_id"),
		func(ctx context.Context, args map[string]any) string {
			timeout := time.Duration(num(args, "timeout_ms")) * time.Millisecond
			return tl.Output(ctx, str(args, "task_id"), boolean(args, "block"), timeout)
		})

	addTool(server, "background_block",
		"Wait for specific background tasks to complete. Blocks until all of them finish or the timeout elapses, then returns a status summary; completes immediately when they are already done.",
		objectSchema(map[string]any{
			"task_ids": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Task IDs or unique prefixes to wait for",
			},
			"timeout_ms": map[string]any{"type": "number", "description": "Max wait in milliseconds (default 60000, max 600000)"},
		}, "task_ids"),
		func(ctx context.Context, args map[string]any) string {
			timeout := time.Duration(num(args, "timeout_ms")) * time.Millisecond
			return tl.Block(ctx, strSlice(args, "task_ids"), timeout)
		})

	addTool(server, "background_cancel",
		"Cancel a running background task.",
		objectSchema(map[string]any{
			"task_id": stringProp("Task ID or unique prefix"),
		}, "task_id"),
		func(ctx context.Context, args map[string]any) string {
			return tl.Cancel(ctx, str(args, "task_id"))
		})

	addTool(server, "background_list",
		"List all background tasks with their status.",
		objectSchema(map[string]any{
			"status": stringProp("Optional status filter: running, completed, error, cancelled, resumed"),
		}),
		func(ctx context.Context, args map[string]any) string {
			return tl.List(ctx, str(args, "status"))
		})

	addTool(server, "background_clear",
		"Abort and clear all background tasks. Persisted metadata is kept.",
		objectSchema(map[string]any{}),
		func(ctx context.Context, _ map[string]any) string {
			return tl.Clear(ctx)
		})

	addTool(server, "background_resume",
		"Send a follow-up prompt to a completed background task, reusing its session.",
		objectSchema(map[string]any{
			"task_id":           stringProp("Task ID or unique prefix (persisted tasks resolve too)"),
			"prompt":            stringProp("Follow-up prompt"),
			"parent_session_id": stringProp("Session to notify when the response is ready"),
			"parent_agent":      stringProp("Agent name of the notifying context"),
		}, "task_id", "prompt"),
		func(ctx context.Context, args map[string]any) string {
			return tl.Resume(ctx, str(args, "task_id"), str(args, "prompt"), orchestrator.ToolContext{
				SessionID: str(args, "parent_session_id"),
				Agent:     str(args, "parent_agent"),
			})
		})

	return server
}

func addTool(server *mcpsdk.Server, name, description string, schema map[string]any, run func(context.Context, map[string]any) string) {
	tool := &mcpsdk.Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}

	server.AddTool(tool, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		args := map[string]any{}
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return &mcpsdk.CallToolResult{
					IsError: true,
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "invalid arguments: " + err.Error()}},
				}, nil
			}
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: run(ctx, args)}},
		}, nil
	})

	slog.Debug("mcp tool registered", "tool", name)
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func str(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func boolean(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func num(args map[string]any, key string) float64 {
	v, _ := args[key].(float64)
	return v
}

func strSlice(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
