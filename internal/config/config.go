// Package config loads perfdash settings from .perfdash.kdl and .env files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	kdl "github.com/sblinch/kdl-go"
)

// ConfigFileName is the name of the perfdash configuration file.
const ConfigFileName = ".perfdash.kdl"

// Environment variables consulted after the config file.
const (
	EnvRelayAddr    = "PERFDASH_ADDR"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
)

// Config represents the perfdash configuration.
type Config struct {
	Relay *RelayConfig `kdl:"relay"`

	Dashboard *DashboardConfig `kdl:"dashboard"`

	// PanelDefaults applies to every panel without its own entry.
	PanelDefaults *PanelConfig `kdl:"panel-defaults"`

	// Panels overrides liveness policy per panel name.
	Panels map[string]*PanelConfig `kdl:"panels"`

	Assistant *AssistantConfig `kdl:"assistant"`

	// AnthropicKey is read from the environment only, never from the file.
	AnthropicKey string
}

// RelayConfig configures `perfdash serve`.
type RelayConfig struct {
	Listen string `kdl:"listen"`
	// SendQueue is the outbound buffer per WebSocket channel.
	SendQueue int `kdl:"send-queue"`
	// WriteTimeout in milliseconds.
	WriteTimeout int `kdl:"write-timeout"`
	// PingInterval in milliseconds.
	PingInterval int `kdl:"ping-interval"`
}

// DashboardConfig configures the UI side (`watch`, `mcp`, `export`).
type DashboardConfig struct {
	RelayURL string `kdl:"relay-url"`
	// HistoryPoints is the rolling window kept per series.
	HistoryPoints int `kdl:"history-points"`
	// ReconnectDelay in milliseconds.
	ReconnectDelay int `kdl:"reconnect-delay"`
	// StatusInterval in milliseconds.
	StatusInterval int `kdl:"status-interval"`
	// RefreshOnConnect asks the relay to reload the tab on the first handshake.
	RefreshOnConnect bool `kdl:"refresh-on-connect"`
}

// PanelConfig is a liveness policy. Durations are in milliseconds.
type PanelConfig struct {
	Timeout       int  `kdl:"timeout"`
	CheckInterval int  `kdl:"check-interval"`
	CheckDisabled bool `kdl:"check-disabled"`
}

// AssistantConfig configures the optional LLM fallback.
type AssistantConfig struct {
	Model     string `kdl:"model"`
	MaxTokens int    `kdl:"max-tokens"`
	// Fallback enables the LLM for questions no pattern matches.
	Fallback bool `kdl:"fallback"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Relay: &RelayConfig{
			Listen:       "127.0.0.1:9229",
			SendQueue:    64,
			WriteTimeout: 10000,
			PingInterval: 20000,
		},
		Dashboard: &DashboardConfig{
			RelayURL:         "ws://127.0.0.1:9229",
			HistoryPoints:    60,
			ReconnectDelay:   1000,
			StatusInterval:   5000,
			RefreshOnConnect: true,
		},
		PanelDefaults: &PanelConfig{
			Timeout:       15000,
			CheckInterval: 2000,
		},
		Panels: make(map[string]*PanelConfig),
		Assistant: &AssistantConfig{
			Model:     "claude-sonnet-4-5",
			MaxTokens: 512,
			Fallback:  true,
		},
	}
}

// Load loads configuration for dir: the KDL file found by walking up from
// dir, then a .env file next to it (or in dir), then environment overrides.
func Load(dir string) (*Config, error) {
	var cfg *Config
	configPath := FindConfigFile(dir)
	if configPath == "" {
		cfg = DefaultConfig()
	} else {
		var err error
		cfg, err = LoadConfigFile(configPath)
		if err != nil {
			return nil, err
		}
	}

	envDir := dir
	if configPath != "" {
		envDir = filepath.Dir(configPath)
	}
	loadDotEnv(filepath.Join(envDir, ".env"))

	cfg.applyEnv()
	return cfg, nil
}

// LoadPath loads an explicit config file, then the .env next to it and
// environment overrides.
func LoadPath(path string) (*Config, error) {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"))
	cfg.applyEnv()
	return cfg, nil
}

// loadDotEnv loads variables without overriding ones already set.
// A missing file is not an error.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

func (c *Config) applyEnv() {
	if addr := os.Getenv(EnvRelayAddr); addr != "" {
		c.Relay.Listen = addr
		c.Dashboard.RelayURL = "ws://" + addr
	}
	c.AnthropicKey = os.Getenv(EnvAnthropicKey)
}

// FindConfigFile searches for .perfdash.kdl starting from dir and walking up.
func FindConfigFile(dir string) string {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(absDir, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			break
		}
		absDir = parent
	}

	return ""
}

// LoadConfigFile loads configuration from a specific file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(string(data))
}

// ParseConfig parses KDL configuration data on top of the defaults.
func ParseConfig(data string) (*Config, error) {
	cfg := DefaultConfig()

	if err := kdl.Unmarshal([]byte(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.fillDefaults()

	return cfg, nil
}

// fillDefaults restores defaults for blocks a file declared partially or
// left out entirely.
func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.Relay == nil {
		c.Relay = def.Relay
	}
	if c.Relay.Listen == "" {
		c.Relay.Listen = def.Relay.Listen
	}
	if c.Relay.SendQueue <= 0 {
		c.Relay.SendQueue = def.Relay.SendQueue
	}
	if c.Relay.WriteTimeout <= 0 {
		c.Relay.WriteTimeout = def.Relay.WriteTimeout
	}
	if c.Relay.PingInterval <= 0 {
		c.Relay.PingInterval = def.Relay.PingInterval
	}
	if c.Dashboard == nil {
		c.Dashboard = def.Dashboard
	}
	if c.Dashboard.RelayURL == "" {
		c.Dashboard.RelayURL = def.Dashboard.RelayURL
	}
	if c.Dashboard.HistoryPoints <= 0 {
		c.Dashboard.HistoryPoints = def.Dashboard.HistoryPoints
	}
	if c.Dashboard.ReconnectDelay <= 0 {
		c.Dashboard.ReconnectDelay = def.Dashboard.ReconnectDelay
	}
	if c.Dashboard.StatusInterval <= 0 {
		c.Dashboard.StatusInterval = def.Dashboard.StatusInterval
	}
	if c.PanelDefaults == nil {
		c.PanelDefaults = def.PanelDefaults
	}
	if c.PanelDefaults.Timeout <= 0 {
		c.PanelDefaults.Timeout = def.PanelDefaults.Timeout
	}
	if c.PanelDefaults.CheckInterval <= 0 {
		c.PanelDefaults.CheckInterval = def.PanelDefaults.CheckInterval
	}
	if c.Panels == nil {
		c.Panels = make(map[string]*PanelConfig)
	}
	if c.Assistant == nil {
		c.Assistant = def.Assistant
	}
	if c.Assistant.Model == "" {
		c.Assistant.Model = def.Assistant.Model
	}
	if c.Assistant.MaxTokens <= 0 {
		c.Assistant.MaxTokens = def.Assistant.MaxTokens
	}
}

// Millis converts a millisecond config value to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// WriteDefaultConfig writes a default configuration file with documentation.
func WriteDefaultConfig(path string) error {
	defaultKDL := `// perfdash configuration

// Background relay (perfdash serve)
relay {
    listen "127.0.0.1:9229"
    send-queue 64          // Outbound messages buffered per connection
    write-timeout 10000    // ms
    ping-interval 20000    // ms
}

// Dashboard side (perfdash watch / mcp / export)
dashboard {
    relay-url "ws://127.0.0.1:9229"
    history-points 60      // Rolling window per metric
    reconnect-delay 1000   // ms, fixed, retried forever
    status-interval 5000   // ms between relay status polls
    refresh-on-connect true
}

// Liveness policy applied to every panel
panel-defaults {
    timeout 15000          // ms without data before a panel shows "no data"
    check-interval 2000    // ms between checks
}

// Per-panel overrides for bursty metrics
panels {
    websocket {
        timeout 60000
    }
    pageErrors {
        check-disabled true
    }
}

// Chat assistant fallback (needs ANTHROPIC_API_KEY in the environment or .env)
assistant {
    model "claude-sonnet-4-5"
    max-tokens 512
    fallback true
}
`
	return os.WriteFile(path, []byte(defaultKDL), 0644)
}
