package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format for the given provider
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("API key is required")
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("anthropic API keys start with sk-ant-")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("openai API keys start with sk-")
		}
	default:
		return fmt.Errorf("unknown provider: %s", provider)
	}

	return nil
}

var telegramTokenRe = regexp.MustCompile(`^\d{8,10}:[a-zA-Z0-9_-]{30,}$`)

// ValidateTelegramToken validates a Telegram bot token format
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token is required")
	}
	if !telegramTokenRe.MatchString(token) {
		return fmt.Errorf("invalid telegram bot token format")
	}
	return nil
}

// ValidateSlackTokens validates Slack bot and app token formats
func (v *Validator) ValidateSlackTokens(botToken, appToken string) error {
	if !strings.HasPrefix(botToken, "xoxb-") {
		return fmt.Errorf("slack bot tokens start with xoxb-")
	}
	if !strings.HasPrefix(appToken, "xapp-") {
		return fmt.Errorf("slack app tokens start with xapp-")
	}
	return nil
}

// ValidateTemperature validates a sampling temperature
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", temp)
	}
	return nil
}

// ValidateMaxTokens validates a max token count
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens < 1 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large: %d", tokens)
	}
	return nil
}

// ValidateMaxIterations validates the agent loop iteration cap
func (v *Validator) ValidateMaxIterations(n int) error {
	if n < 1 {
		return fmt.Errorf("max iterations must be positive, got %d", n)
	}
	return nil
}

// ValidateLogLevel validates a log level string
func (v *Validator) ValidateLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("invalid log level: %s", level)
}

// Validate checks the whole config for consistency
func (v *Validator) Validate(cfg *Config) error {
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		return err
	}
	if err := v.ValidateTemperature(cfg.Agent.Temperature); err != nil {
		return err
	}
	if err := v.ValidateMaxTokens(cfg.Agent.MaxTokens); err != nil {
		return err
	}
	if err := v.ValidateMaxIterations(cfg.Agent.MaxIterations); err != nil {
		return err
	}

	for _, p := range cfg.Providers {
		if err := v.ValidateAPIKey(p.APIKey, p.Provider); err != nil {
			return fmt.Errorf("provider %s: %w", p.Provider, err)
		}
	}

	if cfg.Channels.Telegram.Enabled {
		if err := v.ValidateTelegramToken(cfg.Channels.Telegram.BotToken); err != nil {
			return err
		}
	}

	if cfg.Channels.Slack.Enabled {
		if err := v.ValidateSlackTokens(cfg.Channels.Slack.BotToken, cfg.Channels.Slack.AppToken); err != nil {
			return err
		}
	}

	if cfg.Channels.Gateway.Enabled {
		if cfg.Channels.Gateway.Port < 1 || cfg.Channels.Gateway.Port > 65535 {
			return fmt.Errorf("invalid gateway port: %d", cfg.Channels.Gateway.Port)
		}
	}

	return nil
}
