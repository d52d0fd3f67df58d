package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartflow/internal/config"
	"smartflow/internal/domain"
)

func testConfig(path string) func() (*config.Config, error) {
	return func() (*config.Config, error) {
		return &config.Config{
			LogLevel:          "disabled",
			LogFormat:         "json",
			ToolAPIKeyHeader:  "X-API-Key",
			ToolTimeout:       time.Second,
			RateLimitPreset:   "standard",
			CacheTTL:          time.Minute,
			SignalLogPath:     path,
			SignalLogAutosave: true,
			CoinGeckoBaseURL:  "https://api.coingecko.com/api/v3",
		}, nil
	}
}

func seedLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signals.json")
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []domain.LoggedSignal{
		{
			OpportunitySignal: domain.OpportunitySignal{Type: domain.SignalAccumulation, Token: "0xaaa", Symbol: "PEPE", Chain: "ethereum", Score: 8},
			ID:                "sig_a",
			LoggedAt:          now,
		},
		{
			OpportunitySignal: domain.OpportunitySignal{Type: domain.SignalDistribution, Token: "0xbbb", Chain: "base", Score: 4},
			ID:                "sig_b",
			LoggedAt:          now.Add(time.Minute),
		},
	}
	data, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func execute(t *testing.T, path string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(testConfig(path), nil)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatsTable(t *testing.T) {
	out, err := execute(t, seedLog(t), "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Signal log")
	assert.Contains(t, out, "total")
	assert.Contains(t, out, "ethereum")
	assert.Contains(t, out, "ACCUMULATION")
}

func TestStatsJSON(t *testing.T) {
	out, err := execute(t, seedLog(t), "stats", "--json")
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, float64(2), got["totalSignals"])
}

func TestFindFilters(t *testing.T) {
	path := seedLog(t)

	out, err := execute(t, path, "find", "--chain", "BASE", "--json")
	require.NoError(t, err)
	var records []domain.LoggedSignal
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "sig_b", records[0].ID)

	out, err = execute(t, path, "find", "--min-score", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "sig_a")
	assert.NotContains(t, out, "sig_b")

	out, err = execute(t, path, "find", "--acted", "true")
	require.NoError(t, err)
	assert.Contains(t, out, "No matching signals.")

	_, err = execute(t, path, "find", "--acted", "maybe")
	assert.Error(t, err)
}

func TestActThenOutcome(t *testing.T) {
	path := seedLog(t)

	out, err := execute(t, path, "act", "sig_a", "BUY", "--notes", "sized small")
	require.NoError(t, err)
	assert.Contains(t, out, "sig_a marked buy")

	out, err = execute(t, path, "outcome", "sig_a", "--entry", "2", "--exit", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "+1.00")
	assert.Contains(t, out, "+50.0%")

	_, err = execute(t, path, "act", "sig_a", "hodl")
	assert.Error(t, err)
	_, err = execute(t, path, "act", "sig_missing", "buy")
	assert.Error(t, err)
}

func TestOutcomeRequiresSomething(t *testing.T) {
	_, err := execute(t, seedLog(t), "outcome", "sig_a")
	assert.ErrorContains(t, err, "nothing to record")
}

func TestExportToFile(t *testing.T) {
	path := seedLog(t)
	dest := filepath.Join(t.TempDir(), "export.json")

	_, err := execute(t, path, "export", "-o", dest, "--chain", "ethereum")
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	var records []domain.LoggedSignal
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "sig_a", records[0].ID)
}

func TestToolsDisabledWithoutEndpoint(t *testing.T) {
	out, err := execute(t, seedLog(t), "tools")
	require.NoError(t, err)
	assert.Contains(t, out, "Tools disabled")

	_, err = execute(t, seedLog(t), "call", "smart_money_netflow", "--args", "{}")
	assert.Error(t, err)

	_, err = execute(t, seedLog(t), "call", "smart_money_netflow", "--args", "[1]")
	assert.ErrorContains(t, err, "JSON object")
}

func TestPresetsNeedNoApp(t *testing.T) {
	root := NewRootCommand(func() (*config.Config, error) {
		return nil, errors.New("config must not be loaded")
	}, nil)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"presets"})
	require.NoError(t, root.Execute())
	for _, name := range []string{"conservative", "standard", "aggressive", "burst"} {
		assert.Contains(t, out.String(), name)
	}
	assert.Contains(t, out.String(), "500ms")
}

func TestGovernanceJSON(t *testing.T) {
	out, err := execute(t, seedLog(t), "--preset", "burst", "governance")
	require.NoError(t, err)
	var got struct {
		RateLimitConfig struct {
			MaxTokens float64 `json:"maxTokens"`
		} `json:"rateLimitConfig"`
		ToolsEnabled bool `json:"toolsEnabled"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, float64(30), got.RateLimitConfig.MaxTokens)
	assert.False(t, got.ToolsEnabled)
}

func TestTokenLabel(t *testing.T) {
	assert.Equal(t, "PEPE", tokenLabel(domain.OpportunitySignal{Symbol: "PEPE", Token: "0x1"}))
	assert.Equal(t, "0x1234…cdef", tokenLabel(domain.OpportunitySignal{Token: "0x1234567890abcdef"}))
	assert.Equal(t, "short", tokenLabel(domain.OpportunitySignal{Token: "short"}))
}
