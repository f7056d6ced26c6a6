// Package config handles Pierre configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/pierre/config.yaml, /etc/pierre/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "pierre", "config.yaml"))
	}

	paths = append(paths, "/etc/pierre/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Pierre configuration.
type Config struct {
	Anthropic AnthropicConfig `yaml:"anthropic"`
	AgentSDK  AgentSDKConfig  `yaml:"agent_sdk"`
	Search    SearchConfig    `yaml:"search"`
	Slack     SlackConfig     `yaml:"slack"`
	Gmail     GmailConfig     `yaml:"gmail"`
	Briefing  BriefingConfig  `yaml:"briefing"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// AnthropicConfig defines direct Anthropic API settings. When APIKey is
// set, turns are driven through the direct chat-completion strategy.
type AnthropicConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
}

// AgentSDKConfig defines the managed agent runtime subprocess. The
// command is expected to emit newline-delimited JSON events on stdout.
type AgentSDKConfig struct {
	// Command is the agent CLI executable (default "claude").
	Command string `yaml:"command"`
	// Args are extra command-line arguments prepended to the generated ones.
	Args []string `yaml:"args"`
	// MaxTurns caps the runtime's internal tool-calling turns (default 10).
	MaxTurns int `yaml:"max_turns"`
}

// SearchConfig defines web search provider settings.
type SearchConfig struct {
	Provider string `yaml:"provider"` // default "brave"
	Brave    struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"brave"`
}

// SlackConfig defines read-only Slack access.
type SlackConfig struct {
	Token string `yaml:"token"`
}

// Configured reports whether Slack credentials are present.
func (c SlackConfig) Configured() bool { return c.Token != "" }

// GmailConfig defines read-only Gmail access via an OAuth2 refresh token.
type GmailConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
}

// Configured reports whether Gmail credentials are present.
func (c GmailConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// BriefingConfig defines the proactive morning-briefing schedule.
type BriefingConfig struct {
	// HourUTC is the UTC hour at which the daily briefing job fires (default 13).
	HourUTC int `yaml:"hour_utc"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			DefaultModel: "claude-sonnet-4-20250514",
		},
		AgentSDK: AgentSDKConfig{
			Command:  "claude",
			MaxTurns: 10,
		},
		Search: SearchConfig{
			Provider: "brave",
		},
		Briefing: BriefingConfig{
			HourUTC: 13,
		},
		DataDir: "data",
	}
}
