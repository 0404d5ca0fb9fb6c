package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grovetools/multiworld/cli"
	"github.com/grovetools/multiworld/command"
	"github.com/grovetools/multiworld/config"
	"github.com/grovetools/multiworld/internal/bridge"
	"github.com/grovetools/multiworld/internal/daemon/collector"
	"github.com/grovetools/multiworld/internal/daemon/engine"
	"github.com/grovetools/multiworld/internal/daemon/pidfile"
	"github.com/grovetools/multiworld/internal/daemon/server"
	"github.com/grovetools/multiworld/internal/daemon/store"
	"github.com/grovetools/multiworld/internal/orchestrator"
	"github.com/grovetools/multiworld/internal/session"
	"github.com/grovetools/multiworld/logging"
	"github.com/grovetools/multiworld/pkg/models"
	"github.com/grovetools/multiworld/pkg/paths"
	"github.com/grovetools/multiworld/state"
	"github.com/grovetools/multiworld/version"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewDaemonCmd returns the daemon command with its subcommands.
func NewDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run and inspect the multiworld daemon",
		Long:  "The daemon owns the session and serves the API on a unix socket.",
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("failed to create directories: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfg, cfgPath)
		},
	}
}

// runDaemon wires the store, engine, session manager and API server and
// serves until ctx is cancelled. Any running session is stopped on the way
// out.
func runDaemon(ctx context.Context, cfg *config.Config, configFile string) error {
	logger := logging.NewLogger("daemon")

	if err := pidfile.Acquire(cfg.Daemon.PidFile); err != nil {
		return err
	}
	defer func() {
		if err := pidfile.Release(cfg.Daemon.PidFile); err != nil {
			logger.WithError(err).Error("Failed to release pidfile")
		}
	}()

	sessionLog, err := bridge.NewFileSink(cfg.Paths.SessionLog, logger)
	if err != nil {
		return fmt.Errorf("failed to open session log: %w", err)
	}
	defer sessionLog.Close()

	wl, err := state.LoadWhitelist(cfg.Paths.Whitelist)
	if err != nil {
		return err
	}

	st := store.New(cfg.Daemon.EventBuffer)
	eng := engine.New(st, logging.NewLogger("engine"))

	orch := orchestrator.New(orchestrator.Options{
		GeneratorPath:     cfg.Toolchain.GeneratorPath(),
		ServerPath:        cfg.Toolchain.ServerPath(),
		GenerationTimeout: cfg.Toolchain.GenerationTimeout.Std(),
		Logger:            logging.NewLogger("orchestrator"),
	}, &command.RealExecutor{Dir: cfg.Toolchain.Path})

	// Every event also nudges the session collector so snapshots follow
	// lifecycle changes without waiting for the next tick.
	var sessions *collector.SessionCollector
	mgr, err := session.NewManager(session.Options{
		Config: cfg,
		Runner: orch,
		Sink: bridge.MultiSink{
			st,
			sessionLog,
			bridge.LogSink{Logger: logging.NewLogger("bridge")},
			bridge.SinkFunc(func(models.Event) { sessions.Trigger() }),
		},
		Logger: logging.NewLogger("session"),
	})
	if err != nil {
		return err
	}
	sessions = collector.NewSessionCollector(mgr, cfg.Daemon.SnapshotInterval.Std())

	eng.Register(sessions)
	eng.Register(collector.NewWhitelistCollector(wl, cfg.Daemon.WhitelistDebounce.Std(), logging.NewLogger("whitelist")))

	srv := server.New(logger)
	srv.SetEngine(eng)
	srv.SetManager(mgr)
	srv.SetAccess(wl, cfg.Access)
	srv.SetMaxUpload(cfg.Uploads.MaxSize)
	srv.SetRunningConfig(&models.RunningConfig{
		Version:          version.Version,
		PID:              os.Getpid(),
		StartedAt:        time.Now(),
		ConfigFile:       configFile,
		ServerHost:       cfg.Server.Host,
		ServerPort:       cfg.Server.Port,
		PublicAddress:    cfg.Server.PublicAddress,
		Passthrough:      cfg.Bridge.Passthrough,
		SessionLog:       cfg.Paths.SessionLog,
		SnapshotInterval: cfg.Daemon.SnapshotInterval.Std(),
	})
	srv.OnChange(sessions.Trigger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		eng.Start(gctx)
		return nil
	})
	g.Go(func() error {
		logger.WithField("pid", os.Getpid()).Info("Starting daemon")
		return srv.ListenAndServe(cfg.Daemon.Socket)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Received stop signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 4*cfg.Server.ShutdownTimeout.Std())
		defer cancel()

		var errs []error
		if err := mgr.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("session stop: %w", err))
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		return stderrors.Join(errs...)
	})

	return g.Wait()
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}

			running, pid, err := pidfile.IsRunning(cfg.Daemon.PidFile)
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}
			if !running {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
				return nil
			}

			process, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("failed to find process %d: %w", pid, err)
			}
			if err := process.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to send stop signal: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Sent SIGTERM to process %d\n", pid)
			return nil
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := requestContext(cmd)
			defer cancel()
			health, err := client.Health(ctx)
			if err != nil {
				return err
			}

			if cli.GetOptions(cmd).JSONOutput {
				return printJSON(cmd, health)
			}
			pretty := logging.NewPrettyLogger().WithWriter(cmd.OutOrStdout())
			pretty.Success(fmt.Sprintf("Running (PID: %d)", health.PID))
			pretty.Field("Version", health.Version)
			pretty.Field("Uptime", health.Uptime.Round(time.Second))
			pretty.Field("Session", health.State)
			pretty.Path("Socket", cfg.Daemon.Socket)
			return nil
		},
	}
}
