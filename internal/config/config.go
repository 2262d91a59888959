package config

import (
	"path/filepath"
	"time"
)

// Config represents the main Patina configuration
type Config struct {
	// Agent loop settings
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Model provider profiles
	Providers []ProviderProfile `json:"providers" mapstructure:"providers"`

	// Chat surfaces
	Channels ChannelsConfig `json:"channels" mapstructure:"channels"`

	// Tool execution settings
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Scheduled prompt injection
	Cron CronConfig `json:"cron" mapstructure:"cron"`

	// Periodic heartbeat checks
	Heartbeat HeartbeatConfig `json:"heartbeat" mapstructure:"heartbeat"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Bus sizing
	Bus BusConfig `json:"bus" mapstructure:"bus"`

	// Data directory (sessions, memory, usage database)
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Workspace path the agent operates in
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`
}

// AgentConfig holds agent loop settings
type AgentConfig struct {
	Model          string  `json:"model" mapstructure:"model"`
	MaxIterations  int     `json:"max_iterations" mapstructure:"max_iterations"`
	MemoryWindow   int     `json:"memory_window" mapstructure:"memory_window"`
	Temperature    float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens      int     `json:"max_tokens" mapstructure:"max_tokens"`
	RequestTimeout int     `json:"request_timeout" mapstructure:"request_timeout"` // seconds
	Persona        string  `json:"persona" mapstructure:"persona"`
}

// ProviderProfile represents a model provider profile
type ProviderProfile struct {
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url" mapstructure:"base_url"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// ChannelsConfig holds channel configuration
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`
	Slack    SlackConfig    `json:"slack" mapstructure:"slack"`
	Gateway  GatewayConfig  `json:"gateway" mapstructure:"gateway"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	Enabled   bool    `json:"enabled" mapstructure:"enabled"`
	BotToken  string  `json:"bot_token" mapstructure:"bot_token"`
	Allowlist []int64 `json:"allowlist" mapstructure:"allowlist"`
}

// SlackConfig holds Slack Socket Mode configuration
type SlackConfig struct {
	Enabled   bool     `json:"enabled" mapstructure:"enabled"`
	BotToken  string   `json:"bot_token" mapstructure:"bot_token"`
	AppToken  string   `json:"app_token" mapstructure:"app_token"`
	Allowlist []string `json:"allowlist" mapstructure:"allowlist"`
}

// GatewayConfig holds the web gateway configuration
type GatewayConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	Password string `json:"password" mapstructure:"password"`
}

// ToolsConfig holds tool execution configuration
type ToolsConfig struct {
	Timeout     int      `json:"timeout" mapstructure:"timeout"` // seconds
	ExecEnabled bool     `json:"exec_enabled" mapstructure:"exec_enabled"`
	ExecDenied  []string `json:"exec_denied" mapstructure:"exec_denied"`
}

// CronConfig holds cron job configuration
type CronConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	JobsFile string `json:"jobs_file" mapstructure:"jobs_file"`
}

// HeartbeatConfig holds heartbeat configuration
type HeartbeatConfig struct {
	Enabled  bool `json:"enabled" mapstructure:"enabled"`
	Interval int  `json:"interval" mapstructure:"interval"` // minutes
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// BusConfig holds message bus sizing
type BusConfig struct {
	InboundBuffer    int `json:"inbound_buffer" mapstructure:"inbound_buffer"`
	SubscriberBuffer int `json:"subscriber_buffer" mapstructure:"subscriber_buffer"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:          "claude-sonnet-4-20250514",
			MaxIterations:  20,
			MemoryWindow:   50,
			Temperature:    0.7,
			MaxTokens:      4096,
			RequestTimeout: 120,
		},
		Channels: ChannelsConfig{
			Gateway: GatewayConfig{
				Host: "127.0.0.1",
				Port: 8787,
			},
		},
		Tools: ToolsConfig{
			Timeout:     60,
			ExecEnabled: true,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 30,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
		Bus: BusConfig{
			InboundBuffer:    128,
			SubscriberBuffer: 64,
		},
	}
}

// SessionsDir returns the directory session files are stored in.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataDir, "sessions")
}

// MemoryDir returns the directory long-term memory files are stored in.
func (c *Config) MemoryDir() string {
	return filepath.Join(c.DataDir, "memory")
}

// UsageDBPath returns the path of the usage tracking database.
func (c *Config) UsageDBPath() string {
	return filepath.Join(c.DataDir, "usage.db")
}

// RequestTimeoutDuration returns the model request timeout as a duration.
func (a AgentConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(a.RequestTimeout) * time.Second
}

// TimeoutDuration returns the tool timeout as a duration.
func (t ToolsConfig) TimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// IntervalDuration returns the heartbeat interval as a duration.
func (h HeartbeatConfig) IntervalDuration() time.Duration {
	return time.Duration(h.Interval) * time.Minute
}
