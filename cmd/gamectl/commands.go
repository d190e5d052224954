package main

import (
	"fmt"
	"strings"

	"github.com/loykin/gamectl/pkg/client"
	"github.com/spf13/cobra"
)

func newClient(flags *GlobalFlags) *client.Client {
	return client.New(client.Config{BaseURL: flags.APIUrl, Timeout: flags.APITimeout})
}

func createStartCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the game server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := newClient(flags).Start(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Status)
			return err
		},
	}
}

func createStopCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the game server (RCON stop, forced kill on failure or timeout)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := newClient(flags).Stop(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s [%s]\n", resp.Status, resp.Mode)
			return err
		},
	}
}

func createRestartCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the game server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := newClient(flags).Restart(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Status)
			return err
		},
	}
}

func createStatsCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show server liveness and memory usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newClient(flags).Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "status:     %s\n", s.Status)
			if s.PID > 0 {
				_, _ = fmt.Fprintf(out, "pid:        %d\n", s.PID)
			}
			_, _ = fmt.Fprintf(out, "server ram: %s\n", s.ProcessRAM)
			_, err = fmt.Fprintf(out, "system ram: %s\n", s.SystemRAM)
			return err
		},
	}
}

func createStatusCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the supervisor state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newClient(flags).State(cmd.Context())
			if err != nil {
				return err
			}
			if s.PID > 0 {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (pid %d)\n", s.State, s.PID)
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), s.State)
			return err
		},
	}
}

func createLogsCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "Print the last lines of the game server log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lines, err := newClient(flags).Logs(cmd.Context())
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				return nil
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.Join(lines, "\n"))
			return err
		},
	}
}

func createTodosCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "todos",
		Short: "List the shared todo items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			todos, err := newClient(flags).Todos(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range todos {
				mark := " "
				if t.Completed {
					mark = "x"
				}
				_, _ = fmt.Fprintf(out, "[%s] %s %s", mark, string(t.ID), t.Title)
				if t.Date != nil {
					_, _ = fmt.Fprintf(out, " (%s)", *t.Date)
				}
				_, _ = fmt.Fprintln(out)
			}
			return nil
		},
	}
}

func createPingCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the control service is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !newClient(flags).IsReachable(cmd.Context()) {
				return fmt.Errorf("control service at %s is not reachable", flags.APIUrl)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return err
		},
	}
}
