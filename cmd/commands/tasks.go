package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/overseer-dev/overseer/internal/config"
	"github.com/overseer-dev/overseer/internal/task"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Manage background tasks",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List persisted tasks",
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a running task (requires a running server)",
				ArgsUsage: "<task_id>",
				Action:    runTasksCancel,
			},
			{
				Name:      "resume",
				Usage:     "Send a follow-up prompt to a completed task (requires a running server)",
				ArgsUsage: "<task_id> <prompt>",
				Action:    runTasksResume,
			},
			{
				Name:   "clear",
				Usage:  "Cancel all tracked tasks (requires a running server)",
				Action: runTasksClear,
			},
		},
		DefaultCommand: "list",
	}
}

func runTasksList(_ context.Context, _ *cli.Command) error {
	store := task.NewShadowStore(config.TasksPath())
	persisted, err := store.Load()
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	if len(persisted) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	ids := make([]string, 0, len(persisted))
	for id := range persisted {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return persisted[ids[i]].CreatedAt.After(persisted[ids[j]].CreatedAt)
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tAGENT\tCREATED\tDESCRIPTION")
	for _, id := range ids {
		p := persisted[id]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			task.ShortID(id),
			p.Status,
			p.Agent,
			p.CreatedAt.Format("2006-01-02 15:04:05"),
			p.Description,
		)
	}
	return w.Flush()
}

func runTasksShow(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: overseer tasks show <task_id>")
	}

	store := task.NewShadowStore(config.TasksPath())
	persisted, err := store.Load()
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	id, ok := task.MatchPersisted(persisted, taskID)
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}
	p := persisted[id]

	fmt.Printf("ID:          %s\n", id)
	fmt.Printf("Description: %s\n", p.Description)
	fmt.Printf("Agent:       %s\n", p.Agent)
	fmt.Printf("Status:      %s\n", p.Status)
	fmt.Printf("Created:     %s\n", p.CreatedAt.Format("2006-01-02 15:04:05"))
	if p.ParentSessionID != "" {
		fmt.Printf("Parent:      %s\n", p.ParentSessionID)
	}
	if p.ResumeCount > 0 {
		fmt.Printf("Resumes:     %d\n", p.ResumeCount)
	}
	if p.Forked {
		fmt.Println("Forked:      yes")
	}
	return nil
}

func runTasksCancel(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: overseer tasks cancel <task_id>")
	}

	var t task.Task
	if err := gatewayRequest(ctx, cmd, http.MethodPost, "/api/tasks/"+taskID+"/cancel", nil, &t); err != nil {
		return err
	}
	fmt.Printf("Task %s cancelled.\n", task.ShortID(t.SessionID))
	return nil
}

func runTasksResume(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	prompt := cmd.Args().Get(1)
	if taskID == "" || prompt == "" {
		return fmt.Errorf("usage: overseer tasks resume <task_id> <prompt>")
	}

	body := map[string]string{"prompt": prompt}
	var t task.Task
	if err := gatewayRequest(ctx, cmd, http.MethodPost, "/api/tasks/"+taskID+"/resume", body, &t); err != nil {
		return err
	}
	fmt.Printf("Task %s resumed (resume #%d).\n", task.ShortID(t.SessionID), t.ResumeCount)
	return nil
}

func runTasksClear(ctx context.Context, cmd *cli.Command) error {
	var out map[string]int
	if err := gatewayRequest(ctx, cmd, http.MethodDelete, "/api/tasks", nil, &out); err != nil {
		return err
	}
	fmt.Printf("Cancelled %d running task(s).\n", out["cancelled"])
	return nil
}

// gatewayRequest performs one JSON request against the local gateway.
func gatewayRequest(ctx context.Context, cmd *cli.Command, method, path string, body, out any) error {
	cfg, err := config.LoadOrDefault(cmd.String("config"))
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	url := fmt.Sprintf("http://%s:%d%s", cfg.Gateway.Host, cfg.Gateway.Port, path)
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("is the Overseer server running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s", e.Error)
		}
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
