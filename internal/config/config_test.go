package config

import (
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every known variable; viper treats empty values as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for key := range defaults {
		t.Setenv(strings.ToUpper(key), "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RateLimitPreset != "standard" || cfg.CacheTTL != 5*time.Minute || cfg.ToolTimeout != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.SignalLogAutosave || cfg.SignalRecentWindow != 6*time.Hour {
		t.Fatalf("unexpected signal log defaults: %+v", cfg)
	}
	if len(cfg.Warnings()) == 0 {
		t.Fatal("expected warnings for missing integrations")
	}
}

func TestLoadWithEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOOL_ENDPOINT", "https://mcp.example.com/v1")
	t.Setenv("TOOL_API_KEY", "k")
	t.Setenv("RATE_LIMIT_PRESET", " Aggressive ")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("SIGNAL_RECENT_WINDOW", "0s")
	t.Setenv("TELEGRAM_CHAT_ID", "-1001234")
	t.Setenv("MCP_TRANSPORT", "HTTP")
	t.Setenv("LOG_FORMAT", "console")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ToolEndpoint != "https://mcp.example.com/v1" || cfg.ToolAPIKey != "k" {
		t.Fatalf("unexpected tool config: %+v", cfg)
	}
	if cfg.RateLimitPreset != "aggressive" || cfg.CacheTTL != 90*time.Second {
		t.Fatalf("unexpected limiter/cache config: %+v", cfg)
	}
	if cfg.SignalRecentWindow != 0 || cfg.TelegramChatID != -1001234 || cfg.MCPTransport != "http" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if got := cfg.Logging(); got.Format != "console" {
		t.Fatalf("unexpected logging config: %+v", got)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"RATE_LIMIT_PRESET": "reckless",
		"MCP_TRANSPORT":     "grpc",
		"CACHE_TTL":         "-1s",
		"TOOL_ENDPOINT":     "not a url",
		"MCP_HTTP_PORT":     "70000",
	}
	for env, value := range cases {
		t.Run(env, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(env, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%q to be rejected", env, value)
			}
		})
	}
}
