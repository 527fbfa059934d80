package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"termdock/internal/api"
	"termdock/internal/cli"
)

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage configured agent commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			conn, err := cli.Connect(ctx, cli.TermdockDir(), flagPort)
			if err != nil {
				return err
			}
			defer conn.Close()

			var result api.AgentListResult
			if err := conn.Invoke(ctx, api.OpAgentList, nil, &result); err != nil {
				return err
			}
			if flagJSON {
				output, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(output))
				return nil
			}
			if len(result.Agents) == 0 {
				fmt.Println("no agents configured")
				return nil
			}
			for _, a := range result.Agents {
				line := a.Command
				if len(a.Args) > 0 {
					line += " " + strings.Join(a.Args, " ")
				}
				fmt.Printf("%s  %-16s  %s\n", a.ID, a.Name, line)
			}
			return nil
		},
	})

	var description string
	createCmd := &cobra.Command{
		Use:   "create <name> <command> [args...]",
		Short: "Register an agent command",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			conn, err := cli.Connect(ctx, cli.TermdockDir(), flagPort)
			if err != nil {
				return err
			}
			defer conn.Close()

			var result api.AgentSpec
			err = conn.Invoke(ctx, api.OpAgentCreate, api.AgentSpec{
				Name:        args[0],
				Command:     args[1],
				Args:        args[2:],
				Description: description,
			}, &result)
			if err != nil {
				return err
			}
			if !flagQuiet {
				fmt.Printf("agent %s created (%s)\n", result.Name, result.ID)
			}
			return nil
		},
	}
	createCmd.Flags().StringVar(&description, "description", "", "Human-readable description")
	cmd.AddCommand(createCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <agent-id>",
		Short: "Remove an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			conn, err := cli.Connect(ctx, cli.TermdockDir(), flagPort)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.Invoke(ctx, api.OpAgentDelete, api.UnbindParams{ID: args[0]}, nil); err != nil {
				return err
			}
			if !flagQuiet {
				fmt.Println("agent deleted")
			}
			return nil
		},
	})

	return cmd
}

func hotkeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hotkey",
		Short: "Manage hotkey bindings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List hotkey bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			conn, err := cli.Connect(ctx, cli.TermdockDir(), flagPort)
			if err != nil {
				return err
			}
			defer conn.Close()

			var result api.HotkeyListResult
			if err := conn.Invoke(ctx, api.OpHotkeyList, nil, &result); err != nil {
				return err
			}
			if flagJSON {
				output, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(output))
				return nil
			}
			if len(result.Bindings) == 0 {
				fmt.Println("no hotkeys bound")
				return nil
			}
			for _, b := range result.Bindings {
				fmt.Printf("%s  %-20s  %s\n", b.ID, b.Chord, b.Op)
			}
			return nil
		},
	})

	var params string
	bindCmd := &cobra.Command{
		Use:   "bind <chord> <operation>",
		Short: "Bind a key chord to an operation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			binding := api.HotkeyBinding{
				Chord: args[0],
				Op:    api.Op(args[1]),
			}
			if params != "" {
				if !json.Valid([]byte(params)) {
					return fmt.Errorf("--params must be valid JSON")
				}
				binding.Params = json.RawMessage(params)
			}

			ctx, cancel := signalContext()
			defer cancel()

			conn, err := cli.Connect(ctx, cli.TermdockDir(), flagPort)
			if err != nil {
				return err
			}
			defer conn.Close()

			var result api.HotkeyBinding
			if err := conn.Invoke(ctx, api.OpHotkeyBind, binding, &result); err != nil {
				return err
			}
			if !flagQuiet {
				fmt.Printf("bound %s (%s)\n", result.Chord, result.ID)
			}
			return nil
		},
	}
	bindCmd.Flags().StringVar(&params, "params", "", "Operation parameters as JSON")
	cmd.AddCommand(bindCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "unbind <hotkey-id>",
		Short: "Remove a binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			conn, err := cli.Connect(ctx, cli.TermdockDir(), flagPort)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.Invoke(ctx, api.OpHotkeyUnbind, api.UnbindParams{ID: args[0]}, nil); err != nil {
				return err
			}
			if !flagQuiet {
				fmt.Println("hotkey unbound")
			}
			return nil
		},
	})

	return cmd
}

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List known projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			conn, err := cli.Connect(ctx, cli.TermdockDir(), flagPort)
			if err != nil {
				return err
			}
			defer conn.Close()

			var result api.ProjectListResult
			if err := conn.Invoke(ctx, api.OpProjectList, nil, &result); err != nil {
				return err
			}
			if flagJSON {
				output, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(output))
				return nil
			}
			if len(result.Projects) == 0 {
				fmt.Println("no projects")
				return nil
			}
			for _, p := range result.Projects {
				fmt.Printf("%s  %-16s  %s\n", p.ID, p.Name, p.Path)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "open <project-id>",
		Short: "Switch the active project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			conn, err := cli.Connect(ctx, cli.TermdockDir(), flagPort)
			if err != nil {
				return err
			}
			defer conn.Close()

			var info api.ProjectInfo
			if err := conn.Invoke(ctx, api.OpProjectOpen, api.OpenParams{ID: args[0]}, &info); err != nil {
				return err
			}
			if !flagQuiet {
				fmt.Printf("opened %s (%s)\n", info.Name, info.Path)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "current",
		Short: "Show the active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			conn, err := cli.Connect(ctx, cli.TermdockDir(), flagPort)
			if err != nil {
				return err
			}
			defer conn.Close()

			var info api.ProjectInfo
			if err := conn.Invoke(ctx, api.OpProjectCurrent, nil, &info); err != nil {
				return err
			}
			if flagJSON {
				output, _ := json.MarshalIndent(info, "", "  ")
				fmt.Println(string(output))
			} else {
				fmt.Printf("%s  %s  %s\n", info.ID, info.Name, info.Path)
			}
			return nil
		},
	})

	return cmd
}
