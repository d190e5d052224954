package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/loykin/gamectl"
	"github.com/loykin/gamectl/internal/logger"
	"github.com/spf13/cobra"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the control service",
		Long: `Run the HTTP control service. Configuration comes from the TOML file
(--config or first argument), GAMECTL_* environment variables and defaults.

Examples:
  gamectl serve
  gamectl serve gamectl.toml
  GAMECTL_RCON_PASSWORD=secret gamectl serve --daemonize --pidfile=/run/gamectl.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			return runServe(cmd.Context(), configPath, serveFlags)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon stdout/stderr to file")
	return cmd
}

func runServe(ctx context.Context, configPath string, flags *ServeFlags) error {
	cfg, err := gamectl.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}

	log, closer, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := gamectl.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := svc.Run(ctx, nil); err != nil {
		log.Error("control service stopped", "error", err)
		return err
	}
	log.Info("control service stopped")
	return nil
}
