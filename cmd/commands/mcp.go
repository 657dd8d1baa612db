package commands

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/overseer-dev/overseer/internal/config"
	overseermcp "github.com/overseer-dev/overseer/internal/mcp"
	"github.com/overseer-dev/overseer/internal/tools"
)

// Version is stamped at build time.
var Version = "dev"

// NewMCPCommand returns the mcp subcommand.
func NewMCPCommand() *cli.Command {
	return &cli.Command{
		Name:   "mcp",
		Usage:  "Expose the background task tools as an MCP server (stdio)",
		Action: runMCP,
	}
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	// Logging goes to stderr; stdout carries the MCP stdio transport.
	cfg, err := config.LoadOrDefault(cmd.String("config"))
	if err != nil {
		return err
	}
	if !cmd.Bool("debug") && cfg.Log.Level == "info" {
		cfg.Log.Level = "warn"
	}
	setupLogging(cmd, cfg)

	orc := buildOrchestrator(cfg, false)
	orc.Start(ctx)
	defer orc.Stop()

	slog.Debug("starting MCP server", "session", cfg.Session.BaseURL, "pid", os.Getpid())

	server := overseermcp.NewServer(tools.New(orc), Version)
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}
