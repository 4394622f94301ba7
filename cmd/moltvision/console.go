package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/marcho78/moltvision/pkg/orchestrator"
)

// console is the local approval surface: the orchestrator runs in this
// process while the operator approves or rejects from a prompt.
func console() error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	mode := orchestrator.Mode(rt.cfg.Scan.Mode)
	if mode == "" || mode == orchestrator.ModeOff {
		mode = orchestrator.ModeSemiAuto
	}
	if err := rt.orch.SetMode(mode); err != nil {
		return err
	}
	defer func() { _ = rt.orch.SetMode(orchestrator.ModeOff) }()

	fmt.Printf("%s console, mode %s. Commands: pending, approve <id> [edited], reject <id>, mode <m>, stop, reset, exit\n", appName, mode)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          appName + "> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".moltvision_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	ctx := context.Background()
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("Goodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		if out := runConsoleCommand(ctx, rt.orch, input); out != "" {
			fmt.Println(out)
		}
	}
}

func runConsoleCommand(ctx context.Context, orch *orchestrator.Orchestrator, input string) string {
	fields := strings.Fields(input)
	switch fields[0] {
	case "pending":
		actions, err := orch.PendingActions(ctx)
		if err != nil {
			return "Error: " + err.Error()
		}
		if len(actions) == 0 {
			return "No actions pending."
		}
		var b strings.Builder
		for _, a := range actions {
			fmt.Fprintf(&b, "%s  %-14s p%d  %s\n", a.ID, a.Payload.Type, a.Priority, a.Reasoning)
			if a.Payload.Content != "" {
				fmt.Fprintf(&b, "    content: %s\n", a.Payload.Content)
			}
		}
		return strings.TrimRight(b.String(), "\n")
	case "approve":
		if len(fields) < 2 {
			return "Usage: approve <id> [edited content]"
		}
		edited := ""
		if len(fields) > 2 {
			edited = strings.Join(fields[2:], " ")
		}
		if err := orch.ApproveAction(ctx, fields[1], edited); err != nil {
			return "Approve failed: " + err.Error()
		}
		return "Approved " + fields[1]
	case "reject":
		if len(fields) < 2 {
			return "Usage: reject <id>"
		}
		if err := orch.RejectAction(ctx, fields[1]); err != nil {
			return "Reject failed: " + err.Error()
		}
		return "Rejected " + fields[1]
	case "mode":
		if len(fields) < 2 {
			return "Current mode: " + string(orch.Mode())
		}
		if err := orch.SetMode(orchestrator.Mode(fields[1])); err != nil {
			return "Mode change failed: " + err.Error()
		}
		return "Mode set to " + fields[1]
	case "stop":
		if err := orch.EmergencyStop(ctx); err != nil {
			return "Stop failed: " + err.Error()
		}
		return "Emergency stop engaged. Pending actions rejected."
	case "reset":
		orch.Reset()
		return "Emergency stop cleared. Mode is off."
	default:
		return "Unknown command: " + fields[0]
	}
}
