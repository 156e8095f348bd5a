// File: internal/config/config.go

package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. Fields are exported so
// viper can unmarshal the config file, environment variables and bound flags
// into them with the usual precedence.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Planner LLMConfig     `mapstructure:"planner" yaml:"planner"`
	VLM     VLMConfig     `mapstructure:"vlm" yaml:"vlm"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Trace   TraceConfig   `mapstructure:"trace" yaml:"trace"`
	Vault   VaultConfig   `mapstructure:"vault" yaml:"vault"`
}

// LoggerConfig configures the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// AgentConfig bounds the step-execution loop.
type AgentConfig struct {
	// MaxRetries is the attempt budget per step.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// CallTimeout bounds each blocking VLM or browser call.
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	// HistoryWindow is how many recent executed actions are serialized into
	// the vision prompt.
	HistoryWindow int `mapstructure:"history_window" yaml:"history_window"`
}

// LLMConfig configures a chat-completions endpoint (the planner service).
type LLMConfig struct {
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
}

// VLMConfig configures the vision model endpoint.
type VLMConfig struct {
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint"`
	Model      string        `mapstructure:"model" yaml:"model"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	APITimeout time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	// RequestsPerMinute rate-limits proposal calls; zero disables the limit.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// BrowserConfig holds settings for the Chrome session.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ScreenshotDir     string        `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// TraceConfig selects and configures the attempt-trace backend.
type TraceConfig struct {
	// Backend is one of "memory", "file" or "postgres".
	Backend     string `mapstructure:"backend" yaml:"backend"`
	FilePath    string `mapstructure:"file_path" yaml:"file_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

// VaultConfig locates the encrypted credential vault.
type VaultConfig struct {
	// File overrides the default vault location; empty means the platform
	// data directory.
	File string `mapstructure:"file" yaml:"file"`
}

// SetDefaults registers every default value with viper. Called before
// ReadInConfig so file/env/flag values override them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "pilot-cli")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("agent.max_retries", 3)
	v.SetDefault("agent.call_timeout", 30*time.Second)
	v.SetDefault("agent.history_window", 5)

	v.SetDefault("planner.endpoint", "https://generativelanguage.googleapis.com/v1beta/openai/chat/completions")
	v.SetDefault("planner.model", "gemini-2.5-flash")
	v.SetDefault("planner.api_timeout", 60*time.Second)
	v.SetDefault("planner.temperature", 0.0)

	v.SetDefault("vlm.endpoint", "https://dashscope-intl.aliyuncs.com/compatible-mode/v1/chat/completions")
	v.SetDefault("vlm.model", "qwen-vl-max")
	v.SetDefault("vlm.api_timeout", 60*time.Second)
	v.SetDefault("vlm.requests_per_minute", 30)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.navigation_timeout", 45*time.Second)
	v.SetDefault("browser.screenshot_dir", "screenshots")

	v.SetDefault("trace.backend", "file")
	v.SetDefault("trace.file_path", "logs/trace.jsonl")
}

// Validate rejects configurations the agent cannot run with.
func (c *Config) Validate() error {
	if c.Agent.MaxRetries < 1 {
		return fmt.Errorf("agent.max_retries must be at least 1, got %d", c.Agent.MaxRetries)
	}
	if c.Agent.CallTimeout <= 0 {
		return fmt.Errorf("agent.call_timeout must be positive, got %s", c.Agent.CallTimeout)
	}
	if c.Browser.ViewportWidth < 1 || c.Browser.ViewportHeight < 1 {
		return fmt.Errorf("browser viewport must be positive, got %dx%d", c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	}
	switch c.Trace.Backend {
	case "memory":
	case "file":
		if c.Trace.FilePath == "" {
			return fmt.Errorf("trace.file_path is required for the file backend")
		}
	case "postgres":
		if c.Trace.PostgresDSN == "" {
			return fmt.Errorf("trace.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown trace backend %q", c.Trace.Backend)
	}
	return nil
}
