package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"smartflow/internal/logging"
)

type Config struct {
	HTTPAddr string `mapstructure:"http_addr" validate:"required"`
	APIKey   string `mapstructure:"api_key"`

	LogLevel  string `mapstructure:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json console"`
	LogCaller bool   `mapstructure:"log_caller"`

	ToolEndpoint     string        `mapstructure:"tool_endpoint" validate:"omitempty,url"`
	ToolAPIKey       string        `mapstructure:"tool_api_key"`
	ToolAPIKeyHeader string        `mapstructure:"tool_api_key_header" validate:"required"`
	ToolTimeout      time.Duration `mapstructure:"tool_timeout" validate:"gt=0"`

	RateLimitPreset      string        `mapstructure:"rate_limit_preset" validate:"oneof=conservative standard aggressive burst"`
	CacheTTL             time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`
	CacheJanitorInterval time.Duration `mapstructure:"cache_janitor_interval" validate:"gt=0"`

	SignalLogPath      string        `mapstructure:"signal_log_path"`
	SignalLogAutosave  bool          `mapstructure:"signal_log_autosave"`
	SignalRecentWindow time.Duration `mapstructure:"signal_recent_window" validate:"gte=0"`
	ArchiveInterval    time.Duration `mapstructure:"archive_interval" validate:"gt=0"`

	RedisURL    string `mapstructure:"redis_url"`
	RedisPrefix string `mapstructure:"redis_prefix"`
	DatabaseURL string `mapstructure:"database_url"`

	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	TelegramChatID   int64  `mapstructure:"telegram_chat_id"`

	CoinGeckoBaseURL string `mapstructure:"coingecko_base_url" validate:"required,url"`

	MCPTransport          string `mapstructure:"mcp_transport" validate:"oneof=stdio http"`
	MCPHTTPBind           string `mapstructure:"mcp_http_bind" validate:"required"`
	MCPHTTPPort           int    `mapstructure:"mcp_http_port" validate:"min=1,max=65535"`
	MCPAuthToken          string `mapstructure:"mcp_auth_token"`
	MCPRequestTimeoutSecs int    `mapstructure:"mcp_request_timeout_secs" validate:"gt=0"`

	OpenAIAPIKey      string `mapstructure:"openai_api_key"`
	OpenAIModel       string `mapstructure:"openai_model" validate:"required"`
	AdvisorMaxSignals int    `mapstructure:"advisor_max_signals" validate:"gt=0"`
}

var defaults = map[string]any{
	"http_addr":                ":8080",
	"log_level":                "info",
	"log_format":               "json",
	"log_caller":               false,
	"tool_endpoint":            "",
	"tool_api_key":             "",
	"tool_api_key_header":      "X-API-Key",
	"tool_timeout":             "30s",
	"rate_limit_preset":        "standard",
	"cache_ttl":                "5m",
	"cache_janitor_interval":   "1m",
	"signal_log_path":          "data/signals.json",
	"signal_log_autosave":      true,
	"signal_recent_window":     "6h",
	"archive_interval":         "10m",
	"redis_url":                "",
	"redis_prefix":             "smartflow:",
	"database_url":             "",
	"api_key":                  "",
	"telegram_bot_token":       "",
	"telegram_chat_id":         0,
	"coingecko_base_url":       "https://api.coingecko.com/api/v3",
	"mcp_transport":            "stdio",
	"mcp_http_bind":            "127.0.0.1",
	"mcp_http_port":            8090,
	"mcp_auth_token":           "",
	"mcp_request_timeout_secs": 5,
	"openai_api_key":           "",
	"openai_model":             "gpt-4o-mini",
	"advisor_max_signals":      25,
}

var validate = validator.New()

// Load reads configuration from the environment, falling back to defaults.
// Invalid values are reported, not silently replaced.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := validate.Struct(&cfg); err != nil {
		return nil, formatValidation(err)
	}
	return &cfg, nil
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.RateLimitPreset = strings.ToLower(strings.TrimSpace(c.RateLimitPreset))
	c.MCPTransport = strings.ToLower(strings.TrimSpace(c.MCPTransport))
	c.ToolEndpoint = strings.TrimSpace(c.ToolEndpoint)
	c.SignalLogPath = strings.TrimSpace(c.SignalLogPath)
	c.OpenAIModel = strings.TrimSpace(c.OpenAIModel)
}

func formatValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Logging returns the logger settings.
func (c *Config) Logging() logging.Config {
	return logging.Config{Level: c.LogLevel, Format: c.LogFormat, Caller: c.LogCaller}
}

// Warnings lists optional integrations that are switched off.
func (c *Config) Warnings() []string {
	var out []string
	if c.ToolEndpoint == "" {
		out = append(out, "TOOL_ENDPOINT not set, tool calls are disabled")
	}
	if c.SignalLogPath == "" {
		out = append(out, "SIGNAL_LOG_PATH empty, signal log is memory only")
	}
	if c.RedisURL == "" {
		out = append(out, "REDIS_URL not set, shared cache disabled")
	}
	if c.DatabaseURL == "" {
		out = append(out, "DATABASE_URL not set, signal archive disabled")
	}
	if c.TelegramBotToken == "" {
		out = append(out, "TELEGRAM_BOT_TOKEN not set, telegram bot disabled")
	}
	if c.OpenAIAPIKey == "" {
		out = append(out, "OPENAI_API_KEY not set, advisor will be disabled")
	}
	return out
}
