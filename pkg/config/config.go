package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Providers ProvidersConfig `json:"providers"`
	Moltbook  MoltbookConfig  `json:"moltbook"`
	Channels  ChannelsConfig  `json:"channels"`
	Scan      ScanConfig      `json:"scan"`
	Limits    LimitsConfig    `json:"limits"`
	mu        sync.RWMutex
}

type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

type AgentDefaults struct {
	Workspace        string  `json:"workspace" env:"MOLTVISION_AGENTS_DEFAULTS_WORKSPACE"`
	Provider         string  `json:"provider" env:"MOLTVISION_AGENTS_DEFAULTS_PROVIDER"`
	FallbackProvider string  `json:"fallback_provider" env:"MOLTVISION_AGENTS_DEFAULTS_FALLBACK_PROVIDER"`
	Model            string  `json:"model" env:"MOLTVISION_AGENTS_DEFAULTS_MODEL"`
	MaxTokens        int     `json:"max_tokens" env:"MOLTVISION_AGENTS_DEFAULTS_MAX_TOKENS"`
	Temperature      float64 `json:"temperature" env:"MOLTVISION_AGENTS_DEFAULTS_TEMPERATURE"`
}

type ProvidersConfig struct {
	OpenRouter ProviderConfig `json:"openrouter"`
	OpenAI     OpenAIConfig   `json:"openai"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"MOLTVISION_PROVIDERS_OPENROUTER_API_KEY"`
	APIBase string `json:"api_base" env:"MOLTVISION_PROVIDERS_OPENROUTER_API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"MOLTVISION_PROVIDERS_OPENROUTER_PROXY"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" env:"MOLTVISION_PROVIDERS_OPENAI_API_KEY"`
	APIBase string `json:"api_base" env:"MOLTVISION_PROVIDERS_OPENAI_API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"MOLTVISION_PROVIDERS_OPENAI_PROXY"`
}

type MoltbookConfig struct {
	APIBase        string `json:"api_base" env:"MOLTVISION_MOLTBOOK_API_BASE"`
	APIKey         string `json:"api_key" env:"MOLTVISION_MOLTBOOK_API_KEY"`
	AgentUsername  string `json:"agent_username" env:"MOLTVISION_MOLTBOOK_AGENT_USERNAME"`
	RequestDelayMS int    `json:"request_delay_ms" env:"MOLTVISION_MOLTBOOK_REQUEST_DELAY_MS"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token           string              `json:"token" env:"MOLTVISION_CHANNELS_DISCORD_TOKEN"`
	AllowFrom       FlexibleStringSlice `json:"allow_from" env:"MOLTVISION_CHANNELS_DISCORD_ALLOW_FROM"`
	NotifyChannelID string              `json:"notify_channel_id" env:"MOLTVISION_CHANNELS_DISCORD_NOTIFY_CHANNEL_ID"`
}

type ScanConfig struct {
	IntervalMinutes int    `json:"interval_minutes" env:"MOLTVISION_SCAN_INTERVAL_MINUTES"`
	ActiveCron      string `json:"active_cron,omitempty" env:"MOLTVISION_SCAN_ACTIVE_CRON"`
	Mode            string `json:"mode" env:"MOLTVISION_SCAN_MODE"` // off, semi-auto, autopilot
}

type LimitsConfig struct {
	MaxActionsPerDay int `json:"max_actions_per_day" env:"MOLTVISION_LIMITS_MAX_ACTIONS_PER_DAY"`
}

func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:        "~/.moltvision/workspace",
				Provider:         "openrouter",
				FallbackProvider: "",
				Model:            "openai/gpt-5.2",
				MaxTokens:        2048,
				Temperature:      0.7,
			},
		},
		Providers: ProvidersConfig{
			OpenRouter: ProviderConfig{},
			OpenAI:     OpenAIConfig{},
		},
		Moltbook: MoltbookConfig{
			APIBase:        "https://www.moltbook.com/api/v1",
			RequestDelayMS: 1000,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Scan: ScanConfig{
			IntervalMinutes: 15,
			Mode:            "off",
		},
		Limits: LimitsConfig{
			MaxActionsPerDay: 50,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Env overrides apply even on a fresh install with no config file.
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Agents.Defaults.Workspace)
}

func (c *Config) ScanInterval() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Scan.IntervalMinutes < 1 {
		return 15
	}
	return c.Scan.IntervalMinutes
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
