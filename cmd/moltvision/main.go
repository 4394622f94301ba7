// MoltVision - autonomous Moltbook engagement agent
//
// Copyright (c) 2026 MoltVision contributors

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"time"

	"github.com/marcho78/moltvision/pkg/bus"
	"github.com/marcho78/moltvision/pkg/channels"
	"github.com/marcho78/moltvision/pkg/config"
	"github.com/marcho78/moltvision/pkg/logger"
	"github.com/marcho78/moltvision/pkg/moltbook"
	"github.com/marcho78/moltvision/pkg/orchestrator"
	"github.com/marcho78/moltvision/pkg/persona"
	"github.com/marcho78/moltvision/pkg/providers"
	"github.com/marcho78/moltvision/pkg/store"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "moltvision"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	fmt.Printf("  Go: %s\n", goVer)
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".moltvision", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func onboard() error {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		return nil
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.MkdirAll(cfg.WorkspacePath(), 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println("Next steps:")
	fmt.Println("  1. Add your Moltbook API key (moltbook.api_key) and agent username")
	fmt.Println("  2. Add a provider API key (providers.openrouter.api_key)")
	fmt.Println("  3. Optionally configure channels.discord for remote approval")
	fmt.Printf("  4. Run: %s run\n", appName)
	return nil
}

// runtimeParts is everything `run`, `console`, and `status` share.
type runtimeParts struct {
	cfg      *config.Config
	store    *store.Store
	personas *persona.Store
	events   *bus.EventBus
	orch     *orchestrator.Orchestrator
}

func (r *runtimeParts) close() {
	if r.events != nil {
		r.events.Close()
	}
	if r.personas != nil {
		_ = r.personas.Close()
	}
	if r.store != nil {
		_ = r.store.Close()
	}
}

func buildRuntime() (*runtimeParts, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Moltbook.APIKey == "" {
		return nil, fmt.Errorf("moltbook.api_key is not configured, run '%s onboard' and edit %s", appName, getConfigPath())
	}

	stateDir := filepath.Join(cfg.WorkspacePath(), "state")
	st, err := store.New(filepath.Join(stateDir, "agent.db"))
	if err != nil {
		return nil, err
	}
	ps, err := persona.NewStore(filepath.Join(stateDir, "personas.db"))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	llm, err := providers.CreateProvider(cfg)
	if err != nil {
		_ = ps.Close()
		_ = st.Close()
		return nil, err
	}

	platform := moltbook.NewClient(
		cfg.Moltbook.APIBase,
		cfg.Moltbook.APIKey,
		cfg.Moltbook.AgentUsername,
		time.Duration(cfg.Moltbook.RequestDelayMS)*time.Millisecond,
	)

	events := bus.NewEventBus()
	orch := orchestrator.New(st, ps, platform, llm, events, orchestrator.Options{
		ScanInterval:     time.Duration(cfg.ScanInterval()) * time.Minute,
		ActiveCron:       cfg.Scan.ActiveCron,
		MaxActionsPerDay: cfg.Limits.MaxActionsPerDay,
	})

	return &runtimeParts{cfg: cfg, store: st, personas: ps, events: events, orch: orch}, nil
}

func runAgent(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
	}

	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	var discord *channels.DiscordChannel
	if rt.cfg.Channels.Discord.Token != "" {
		discord, err = channels.NewDiscordChannel(rt.cfg.Channels.Discord, rt.orch, rt.events)
		if err != nil {
			return err
		}
		if err := discord.Start(context.Background()); err != nil {
			return err
		}
		defer func() { _ = discord.Stop(context.Background()) }()
	}

	mode := orchestrator.Mode(rt.cfg.Scan.Mode)
	if mode == "" {
		mode = orchestrator.ModeOff
	}
	if err := rt.orch.SetMode(mode); err != nil {
		return err
	}
	logger.InfoCF("main", "agent started", map[string]interface{}{
		"mode":     string(mode),
		"interval": rt.cfg.ScanInterval(),
	})
	fmt.Printf("%s running in %s mode (Ctrl+C to exit)\n", appName, mode)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	return rt.orch.SetMode(orchestrator.ModeOff)
}

func status() error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := context.Background()
	fmt.Printf("%s %s\n\n", appName, formatVersion())
	fmt.Printf("Config: %s\n", getConfigPath())
	fmt.Printf("Mode (configured): %s\n", rt.cfg.Scan.Mode)
	fmt.Printf("Scan interval: %d minutes\n", rt.cfg.ScanInterval())

	for _, s := range []store.ActionStatus{store.StatusPending, store.StatusApproved, store.StatusCompleted, store.StatusFailed} {
		actions, err := rt.store.ListActionsByStatus(ctx, s, 100)
		if err != nil {
			return err
		}
		fmt.Printf("Actions %-10s %d\n", s+":", len(actions))
	}

	today, err := rt.store.CountActionsToday(ctx, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Actions today: %d / %d\n", today, rt.cfg.Limits.MaxActionsPerDay)

	unresponded, err := rt.store.ListUnrespondedInbox(ctx, 100)
	if err != nil {
		return err
	}
	fmt.Printf("Inbox unresponded: %d\n", len(unresponded))
	return nil
}

func personaList() error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	all, err := rt.personas.List(context.Background())
	if err != nil {
		return err
	}
	for _, p := range all {
		fmt.Printf("%-12s %s (rate %.2f, %d submolts)\n", p.ID, p.Name, p.Rules.EngagementRate, len(p.SubmoltPriorities))
	}
	return nil
}

func personaShow(id string) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	p, err := rt.personas.Load(context.Background(), id)
	if err != nil {
		return err
	}
	fmt.Printf("ID:          %s\n", p.ID)
	fmt.Printf("Name:        %s\n", p.Name)
	fmt.Printf("Description: %s\n", p.Description)
	fmt.Printf("Tone:        %s (temp %.1f, max %d)\n", p.Tone.Style, p.Tone.Temperature, p.Tone.MaxLength)
	fmt.Printf("Interests:   %v\n", p.Interests)
	fmt.Printf("Rules:       rate=%.2f karma>=%d posts/h=%d comments/h=%d depth<=%d thread<=%d\n",
		p.Rules.EngagementRate, p.Rules.MinKarmaThreshold, p.Rules.MaxPostsPerHour,
		p.Rules.MaxCommentsPerHour, p.Rules.MaxReplyDepth, p.Rules.MaxRepliesPerThread)
	fmt.Printf("Submolts:    %v\n", p.SubmoltPriorities)
	return nil
}
