package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	goruntime "runtime"
	"syscall"

	"github.com/spf13/cobra"

	"termdock/internal/api"
	"termdock/internal/cli"
	"termdock/internal/config"
	"termdock/internal/daemon"
	"termdock/internal/logging"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

var (
	// Global flags.
	flagPort  int
	flagJSON  bool
	flagQuiet bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "termdock",
		Short: "Terminal sessions for AI agents, local or remote",
		Long: `Termdock runs terminal sessions that wrap CLI AI agents and exposes
them over a single protocol, so the same commands work against the
local daemon or one on another machine.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().IntVar(&flagPort, "port", 0, "Daemon port (default: port file, then settings)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON output for scripting")
	rootCmd.PersistentFlags().BoolVar(&flagQuiet, "quiet", false, "Suppress non-essential output")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("termdock v{{.Version}} (build: " + Build + ", " + goruntime.Version() + ")\n")

	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(spawnCmd())
	rootCmd.AddCommand(attachCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(killCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(hotkeyCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(mcpCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// signalContext returns a context canceled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the termdock daemon",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.DaemonStart(cli.TermdockDir(), flagPort); err != nil {
				return err
			}
			if !flagQuiet {
				fmt.Println("daemon started")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon gracefully",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.DaemonStop(cli.TermdockDir()); err != nil {
				return err
			}
			if !flagQuiet {
				fmt.Println("daemon stopped")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := cli.DaemonStatus(cli.TermdockDir())
			if err != nil {
				return err
			}
			if flagJSON {
				output, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(output))
			} else {
				fmt.Print(cli.FormatDaemonStatus(result))
			}
			// Like systemctl status: non-zero when not running.
			if !result.Running {
				os.Exit(1)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restart",
		Short: "Restart the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := cli.TermdockDir()
			if err := cli.DaemonStop(dir); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
			if err := cli.DaemonStart(dir, flagPort); err != nil {
				return err
			}
			if !flagQuiet {
				fmt.Println("daemon restarted")
			}
			return nil
		},
	})

	cmd.AddCommand(daemonRunCmd())
	return cmd
}

func daemonRunCmd() *cobra.Command {
	var wsPort int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := cli.TermdockDir()

			settings, _, err := config.Load(config.Path(dir))
			if err != nil {
				return err
			}
			if err := logging.Init(logging.Config{
				Dir:   dir,
				Level: settings.Logging.Level,
			}); err != nil {
				return err
			}
			defer logging.Sync()

			d, err := daemon.New(daemon.Options{
				Dir:           dir,
				Port:          flagPort,
				WebSocketPort: wsPort,
			})
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			return d.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&wsPort, "ws-port", 0, "WebSocket bridge port (0 picks one, -1 disables)")
	return cmd
}

func spawnCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "spawn [command [args...]]",
		Short: "Start a terminal session; no command uses the configured agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			conn, err := cli.Connect(ctx, cli.TermdockDir(), flagPort)
			if err != nil {
				return err
			}
			defer conn.Close()

			params := api.SpawnParams{Dir: dir}
			if len(args) > 0 {
				params.Command = args[0]
				params.Args = args[1:]
			}
			var result api.SpawnResult
			if err := conn.Invoke(ctx, api.OpSessionSpawn, params, &result); err != nil {
				return err
			}
			if flagJSON {
				output, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(output))
			} else {
				fmt.Printf("session %s (pid %d)\n", result.SessionID, result.PID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Working directory for the session")
	return cmd
}

func attachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <session-id>",
		Short: "Attach the local terminal to a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			conn, err := cli.Connect(ctx, cli.TermdockDir(), flagPort)
			if err != nil {
				return err
			}
			defer conn.Close()
			return cli.Attach(ctx, conn, args[0])
		},
	}
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List terminal sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			conn, err := cli.Connect(ctx, cli.TermdockDir(), flagPort)
			if err != nil {
				return err
			}
			defer conn.Close()

			var result api.SessionListResult
			if err := conn.Invoke(ctx, api.OpSessionList, nil, &result); err != nil {
				return err
			}
			if flagJSON {
				output, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(output))
				return nil
			}
			if len(result.Sessions) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			for _, s := range result.Sessions {
				state := "running"
				if !s.Running {
					state = "exited"
				}
				fmt.Printf("%s  %-8s  pid %-6d  %s\n", s.ID, state, s.PID, s.Command)
			}
			return nil
		},
	}
}

func killCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <session-id>",
		Short: "Terminate a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			conn, err := cli.Connect(ctx, cli.TermdockDir(), flagPort)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.Invoke(ctx, api.OpSessionKill, api.KillParams{SessionID: args[0]}, nil); err != nil {
				return err
			}
			if !flagQuiet {
				fmt.Println("session killed")
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or replace the settings document",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the settings document",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			conn, err := cli.Connect(ctx, cli.TermdockDir(), flagPort)
			if err != nil {
				return err
			}
			defer conn.Close()

			var doc api.ConfigDocument
			if err := conn.Invoke(ctx, api.OpConfigGet, nil, &doc); err != nil {
				return err
			}
			var pretty map[string]any
			if json.Unmarshal(doc, &pretty) == nil {
				output, _ := json.MarshalIndent(pretty, "", "  ")
				fmt.Println(string(output))
			} else {
				fmt.Println(string(doc))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <file|->",
		Short: "Replace the settings document from a file or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(os.Stdin)
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			if !json.Valid(data) {
				return fmt.Errorf("settings document must be valid JSON")
			}

			ctx, cancel := signalContext()
			defer cancel()

			conn, err := cli.Connect(ctx, cli.TermdockDir(), flagPort)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.Invoke(ctx, api.OpConfigSet, api.ConfigDocument(data), nil); err != nil {
				return err
			}
			if !flagQuiet {
				fmt.Println("settings updated")
			}
			return nil
		},
	})

	return cmd
}
