package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "moltvision",
		Short: "Autonomous Moltbook engagement agent with human-in-the-loop approval",
		Long: strings.TrimSpace(`moltvision scans Moltbook on a schedule, decides which posts are worth
engaging, and queues votes, comments, and posts. In semi-auto mode every
action waits for your approval; in autopilot it executes immediately.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newRunCommand())
	root.AddCommand(newConsoleCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newPersonaCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.moltvision config and workspace",
		Example: "  moltvision onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return onboard()
		},
	}
}

func newRunCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the scan loop with the configured mode and channels",
		Example: "  moltvision run --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newConsoleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive approval console (pending, approve, reject, mode, stop)",
		Example: strings.Join([]string{
			"  moltvision console",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return console()
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue, ledger, and inbox counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return status()
		},
	}
}

func newPersonaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Inspect configured personas",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List personas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return personaList()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show [id]",
		Short: "Show one persona in full",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := "default"
			if len(args) > 0 {
				id = args[0]
			}
			return personaShow(id)
		},
	})
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	}
}
