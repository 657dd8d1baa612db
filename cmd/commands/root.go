package commands

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/overseer-dev/overseer/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "overseer",
		Usage: "Background task orchestration for agent sessions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewMCPCommand(),
			NewTasksCommand(),
			NewStatusCommand(),
		},
	}
}

// setupLogging configures the default slog handler from the debug flag and
// the configured level. Logs go to stderr; stdout stays clean for command
// output and MCP stdio framing.
func setupLogging(cmd *cli.Command, cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
