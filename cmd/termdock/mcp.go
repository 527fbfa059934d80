package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"termdock/internal/api"
	"termdock/internal/cli"
	termdockmcp "termdock/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "MCP server integration",
	}

	cmd.AddCommand(mcpServeCmd())
	cmd.AddCommand(mcpListCmd())
	cmd.AddCommand(mcpRegisterCmd())
	cmd.AddCommand(mcpUnregisterCmd())
	return cmd
}

func mcpServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start an MCP stdio server exposing the daemon's capabilities",
		Long: `Starts an MCP server on stdin/stdout so AI agents can drive terminal
sessions through tools instead of shell-outs.

Requires the termdock daemon to be running. Configure in the agent's MCP
settings:
  {
    "mcpServers": {
      "termdock": {
        "type": "stdio",
        "command": "termdock",
        "args": ["mcp", "serve"]
      }
    }
  }`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			conn, err := cli.Connect(ctx, cli.TermdockDir(), flagPort)
			if err != nil {
				return err
			}
			defer conn.Close()

			server := termdockmcp.NewServer(conn, termdockmcp.WithVersion(Version))
			return server.Run(ctx)
		},
	}
}

func mcpListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered MCP servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			conn, err := cli.Connect(ctx, cli.TermdockDir(), flagPort)
			if err != nil {
				return err
			}
			defer conn.Close()

			var result api.MCPListResult
			if err := conn.Invoke(ctx, api.OpMCPList, nil, &result); err != nil {
				return err
			}
			if flagJSON {
				output, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(output))
				return nil
			}
			if len(result.Servers) == 0 {
				fmt.Println("no mcp servers registered")
				return nil
			}
			for _, s := range result.Servers {
				target := s.Command
				if s.Transport == "http" {
					target = s.URL
				}
				fmt.Printf("%s  %-16s  %-6s  %s\n", s.ID, s.Name, s.Transport, target)
			}
			return nil
		},
	}
}

func mcpRegisterCmd() *cobra.Command {
	var transport, url string

	cmd := &cobra.Command{
		Use:   "register <name> [command [args...]]",
		Short: "Register an MCP server definition",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := api.MCPServerSpec{
				Name:      args[0],
				Transport: transport,
				URL:       url,
			}
			if len(args) > 1 {
				spec.Command = args[1]
				spec.Args = args[2:]
			}

			ctx, cancel := signalContext()
			defer cancel()

			conn, err := cli.Connect(ctx, cli.TermdockDir(), flagPort)
			if err != nil {
				return err
			}
			defer conn.Close()

			var result api.MCPServerSpec
			if err := conn.Invoke(ctx, api.OpMCPRegister, spec, &result); err != nil {
				return err
			}
			if !flagQuiet {
				fmt.Printf("mcp server %s registered (%s)\n", result.Name, result.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport: stdio or http")
	cmd.Flags().StringVar(&url, "url", "", "Server URL (http transport)")
	return cmd
}

func mcpUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <server-id>",
		Short: "Remove an MCP server definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			conn, err := cli.Connect(ctx, cli.TermdockDir(), flagPort)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.Invoke(ctx, api.OpMCPUnregister, api.UnregisterParams{ID: args[0]}, nil); err != nil {
				return err
			}
			if !flagQuiet {
				fmt.Println("mcp server unregistered")
			}
			return nil
		},
	}
}
