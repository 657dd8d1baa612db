package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/overseer-dev/overseer/internal/config"
	"github.com/overseer-dev/overseer/internal/gateway"
	"github.com/overseer-dev/overseer/internal/heartbeat"
	"github.com/overseer-dev/overseer/internal/orchestrator"
	"github.com/overseer-dev/overseer/internal/session"
	"github.com/overseer-dev/overseer/internal/task"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the Overseer gateway server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
			&cli.BoolFlag{
				Name:  "dev",
				Usage: "Run against an in-memory session service",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.LoadOrDefault(cmd.String("config"))
	if err != nil {
		return err
	}
	setupLogging(cmd, cfg)

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	reloader := config.NewReloader(cmd.String("config"), config.DotenvPath(), cfg)
	reloader.OnReload(func(next *config.Config) {
		setupLogging(cmd, next)
	})
	go watchReload(ctx, reloader)

	orc := buildOrchestrator(cfg, cmd.Bool("dev"))
	orc.Start(ctx)
	defer orc.Stop()

	hb := heartbeat.NewWriter(filepath.Join(config.OverseerPath(), "heartbeat.json"), func() int {
		return len(orc.List(task.StatusRunning))
	})
	hb.Start()
	defer hb.Stop()

	server := gateway.NewServer(orc, cfg.Gateway.Host, cfg.Gateway.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// watchReload triggers a config reload on SIGHUP until ctx ends.
func watchReload(ctx context.Context, reloader *config.Reloader) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)
	defer signal.Stop(sig)

	for {
		select {
		case <-sig:
			if err := reloader.Reload(); err != nil {
				slog.Error("config reload failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// buildOrchestrator wires the session substrate, the persistence shadow, and
// the orchestrator from config.
func buildOrchestrator(cfg *config.Config, dev bool) *orchestrator.Orchestrator {
	var (
		svc     session.Service
		events  session.EventSource
		toaster session.Toaster
	)
	if dev {
		mem := session.NewMemoryService()
		svc, events, toaster = mem, mem, mem
	} else {
		client := session.NewClient(cfg.Session.BaseURL)
		svc, toaster = client, client
		events = session.NewStream(cfg.Session.EventsURL)
	}

	shadow := task.NewShadowStore(config.TasksPath())
	return orchestrator.New(svc, events, toaster, shadow, orchestratorConfig(cfg.Tasks))
}

// orchestratorConfig applies config overrides on top of the defaults.
func orchestratorConfig(tc config.TasksConfig) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	if d := tc.PollInterval.Duration(); d > 0 {
		oc.PollInterval = d
	}
	if d := tc.RetentionWindow.Duration(); d > 0 {
		oc.RetentionWindow = d
	}
	if d := tc.ParentGrace.Duration(); d > 0 {
		oc.ParentGrace = d
	}
	if d := tc.NotifyDelay.Duration(); d > 0 {
		oc.NotifyDelay = d
	}
	if d := tc.ReconnectDelay.Duration(); d > 0 {
		oc.ReconnectDelay = d
	}
	return oc
}
