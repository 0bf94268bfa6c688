package config

import (
	"os"
	"regexp"
	"time"

	"github.com/hidrolabs/aquarelay/internal/common/errorx"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// Config is the root configuration for the aquarelay gateway.
	Config struct {
		Server   ServerConfig   `yaml:"server"`
		Logger   LoggerConfig   `yaml:"logger"`
		Session  SessionConfig  `yaml:"session"`
		OpenAI   OpenAIConfig   `yaml:"openai"`
		Platform PlatformConfig `yaml:"platform"`
		Tools    ToolsConfig    `yaml:"tools"`
		Ingress  IngressConfig  `yaml:"ingress"`
		Notify   NotifyConfig   `yaml:"notify"`
		Auth     AuthConfig     `yaml:"auth"`
		Metrics  MetricsConfig  `yaml:"metrics"`
		I18n     I18nConfig     `yaml:"i18n"`
	}

	// ServerConfig represents the HTTP server configuration
	ServerConfig struct {
		Port int    `yaml:"port"`
		Mode string `yaml:"mode"` // gin mode: debug, release, test
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone"`   // time zone for log timestamps, default is local
		TimeFormat string `yaml:"time_format"` // time format for log timestamps
	}

	// SessionConfig represents the conversation store configuration
	SessionConfig struct {
		Type          string             `yaml:"type"`           // "memory" or "redis"
		HistoryLimit  int                `yaml:"history_limit"`  // retained messages per conversation
		MaxAge        time.Duration      `yaml:"max_age"`        // idle age before a sweep removes a session
		SweepInterval time.Duration      `yaml:"sweep_interval"` // how often the sweeper runs; 0 disables it
		Redis         SessionRedisConfig `yaml:"redis"`
	}

	// SessionRedisConfig represents the Redis configuration for the
	// conversation store
	SessionRedisConfig struct {
		Addr     string        `yaml:"addr"`
		Username string        `yaml:"username"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix"`
		TTL      time.Duration `yaml:"ttl"` // TTL for session data in Redis
	}

	// OpenAIConfig represents the completion API configuration
	OpenAIConfig struct {
		APIKey          string        `yaml:"api_key"`
		BaseURL         string        `yaml:"base_url"`
		Model           string        `yaml:"model"`
		Temperature     float64       `yaml:"temperature"`
		MaxTokens       int64         `yaml:"max_tokens"`
		AssistantID     string        `yaml:"assistant_id"`
		SystemPrompt    string        `yaml:"system_prompt"`
		ToolMaxRounds   int           `yaml:"tool_max_rounds"`   // cap on tool-call loop iterations
		RunPollInterval time.Duration `yaml:"run_poll_interval"` // assistant run status poll interval
		RunDeadline     time.Duration `yaml:"run_deadline"`      // assistant run polling deadline
	}

	// PlatformConfig represents the chat-platform client configuration
	PlatformConfig struct {
		BaseURL   string        `yaml:"base_url"`
		AccountID string        `yaml:"account_id"`
		APIToken  string        `yaml:"api_token"`
		Timeout   time.Duration `yaml:"timeout"`
	}

	// ToolsConfig represents the utility-backend used by relay tools
	ToolsConfig struct {
		BackendURL string        `yaml:"backend_url"` // empty disables tool calling
		Timeout    time.Duration `yaml:"timeout"`
	}

	// IngressConfig represents the webhook task queue configuration
	IngressConfig struct {
		QueueSize int `yaml:"queue_size"`
		Workers   int `yaml:"workers"`
	}

	// NotifyConfig represents the notification stream configuration
	NotifyConfig struct {
		KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
		QueueSize         int           `yaml:"queue_size"` // per-connection outbound buffer
	}

	// AuthConfig represents the stream subscription auth configuration
	AuthConfig struct {
		JWT JWTConfig `yaml:"jwt"`
	}

	// JWTConfig represents the JWT configuration
	JWTConfig struct {
		SecretKey string        `yaml:"secret_key"`
		Duration  time.Duration `yaml:"duration"`
	}

	// MetricsConfig represents the Prometheus metrics configuration
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
	}

	// I18nConfig represents the translations configuration
	I18nConfig struct {
		Path        string `yaml:"path"`
		DefaultLang string `yaml:"default_lang"`
	}
)

// LoadConfig loads configuration from a YAML file with environment variable
// support
func LoadConfig(filename string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	// Resolve environment variables
	data = resolveEnv(data)
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	return &cfg, nil
}

// setDefaults fills in values the file may omit
func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Session.Type == "" {
		c.Session.Type = "memory"
	}
	if c.Session.HistoryLimit <= 0 {
		c.Session.HistoryLimit = 20
	}
	if c.Session.MaxAge <= 0 {
		c.Session.MaxAge = 30 * time.Minute
	}
	if c.Session.Redis.TTL <= 0 {
		c.Session.Redis.TTL = c.Session.MaxAge
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.OpenAI.MaxTokens <= 0 {
		c.OpenAI.MaxTokens = 1024
	}
	if c.OpenAI.ToolMaxRounds <= 0 {
		c.OpenAI.ToolMaxRounds = 5
	}
	if c.OpenAI.RunPollInterval <= 0 {
		c.OpenAI.RunPollInterval = time.Second
	}
	if c.OpenAI.RunDeadline <= 0 {
		c.OpenAI.RunDeadline = 120 * time.Second
	}
	if c.Platform.Timeout <= 0 {
		c.Platform.Timeout = 15 * time.Second
	}
	if c.Tools.Timeout <= 0 {
		c.Tools.Timeout = 10 * time.Second
	}
	if c.Ingress.QueueSize <= 0 {
		c.Ingress.QueueSize = 256
	}
	if c.Ingress.Workers <= 0 {
		c.Ingress.Workers = 4
	}
	if c.Notify.KeepaliveInterval <= 0 {
		c.Notify.KeepaliveInterval = 30 * time.Second
	}
	if c.Notify.QueueSize <= 0 {
		c.Notify.QueueSize = 16
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "aquarelay"
	}
	if c.I18n.Path == "" {
		c.I18n.Path = "configs/i18n"
	}
	if c.I18n.DefaultLang == "" {
		c.I18n.DefaultLang = "es"
	}
}

// Validate checks that required external credentials are present. Missing
// credentials abort startup.
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return errorx.ErrMissingConfig("openai.api_key")
	}
	if c.Platform.BaseURL == "" {
		return errorx.ErrMissingConfig("platform.base_url")
	}
	if c.Platform.APIToken == "" {
		return errorx.ErrMissingConfig("platform.api_token")
	}
	if c.Session.Type == "redis" && c.Session.Redis.Addr == "" {
		return errorx.ErrMissingConfig("session.redis.addr")
	}
	return nil
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
