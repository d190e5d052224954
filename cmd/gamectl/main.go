package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
}

func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}
	root := createRootCommand(flags)
	root.AddCommand(
		createServeCommand(flags),
		createStartCommand(flags),
		createStopCommand(flags),
		createRestartCommand(flags),
		createStatsCommand(flags),
		createStatusCommand(flags),
		createLogsCommand(flags),
		createTodosCommand(flags),
		createPingCommand(flags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "gamectl",
		Short: "Game server control plane",
		Long: `gamectl supervises a single game server process, exposes its lifecycle
and telemetry over HTTP and keeps a shared todo list in sync over websocket.

Examples:
  gamectl serve --config=gamectl.toml   # run the control service
  gamectl start                         # start the game server via the API
  gamectl stop                          # graceful RCON stop, forced on failure
  gamectl stats --api-url=http://host:8000`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "http://localhost:8000", "control service URL including base path")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 90*time.Second, "request timeout")
	return root
}
