package signallog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartflow/internal/domain"
)

func sig(chain, token string, typ domain.SignalType, score float64) domain.OpportunitySignal {
	return domain.OpportunitySignal{
		Type:      typ,
		Token:     token,
		Symbol:    "TKN",
		Chain:     chain,
		Score:     score,
		Reason:    "smart money inflow",
		Metrics:   map[string]any{"netflow": 1200.0},
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func f64(v float64) *float64 { return &v }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newMemLog(t *testing.T) (*Log, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	l, err := Open("", true, WithClock(clk.now))
	require.NoError(t, err)
	return l, clk
}

func TestLogIsIdempotentByDedupKey(t *testing.T) {
	l, clk := newMemLog(t)

	first, err := l.Log(sig("ethereum", "0xabc", domain.SignalAccumulation, 5))
	require.NoError(t, err)
	assert.False(t, first.Acted)
	assert.Nil(t, first.Outcome)
	assert.Equal(t, clk.t, first.LoggedAt)

	clk.t = clk.t.Add(time.Hour)
	again := sig("ethereum", "0xabc", domain.SignalAccumulation, 9)
	second, err := l.Log(again)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 5.0, second.Score, "existing record is returned unchanged")
	assert.Equal(t, first.LoggedAt, second.LoggedAt)
	assert.Equal(t, 1, l.Len())

	other, err := l.Log(sig("ethereum", "0xdef", domain.SignalAccumulation, 5))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestLogBatchPreservesOrderAndDedup(t *testing.T) {
	l, _ := newMemLog(t)

	out, err := l.LogBatch([]domain.OpportunitySignal{
		sig("ethereum", "0x1", domain.SignalAccumulation, 1),
		sig("base", "0x2", domain.SignalDistribution, 2),
		sig("ethereum", "0x1", domain.SignalAccumulation, 3),
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, out[0].ID, out[2].ID)
	assert.Equal(t, 1.0, out[2].Score)
	assert.Equal(t, 2, l.Len())
}

func TestReturnedRecordsDoNotAliasState(t *testing.T) {
	l, _ := newMemLog(t)
	rec, err := l.Log(sig("ethereum", "0x1", domain.SignalAccumulation, 1))
	require.NoError(t, err)

	rec.Metrics["netflow"] = -1.0
	rec.Acted = true

	stored, ok := l.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, 1200.0, stored.Metrics["netflow"])
	assert.False(t, stored.Acted)
}

func TestGetUnknown(t *testing.T) {
	l, _ := newMemLog(t)
	_, ok := l.Get("sig_missing")
	assert.False(t, ok)
}

func TestMarkActed(t *testing.T) {
	l, clk := newMemLog(t)
	rec, err := l.Log(sig("ethereum", "0x1", domain.SignalSmartMoneyBuy, 8))
	require.NoError(t, err)

	clk.t = clk.t.Add(10 * time.Minute)
	acted, ok, err := l.MarkActed(rec.ID, domain.ActionBuy, "entered half size")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, acted.Acted)
	require.NotNil(t, acted.Outcome)
	assert.Equal(t, domain.ActionBuy, acted.Outcome.Action)
	assert.Equal(t, clk.t, *acted.Outcome.ExecutedAt)
	assert.Equal(t, "entered half size", acted.Outcome.Notes)

	acted, _, err = l.MarkActed(rec.ID, domain.ActionSell, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSell, acted.Outcome.Action)
	assert.Equal(t, "entered half size", acted.Outcome.Notes, "empty notes keep previous")

	_, ok, err = l.MarkActed("sig_missing", domain.ActionBuy, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordOutcomeDerivesPnL(t *testing.T) {
	l, _ := newMemLog(t)
	rec, err := l.Log(sig("ethereum", "0x1", domain.SignalAccumulation, 5))
	require.NoError(t, err)

	got, ok, err := l.RecordOutcome(rec.ID, OutcomeUpdate{EntryPrice: f64(100)})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, got.Outcome.PnL)

	got, _, err = l.RecordOutcome(rec.ID, OutcomeUpdate{ExitPrice: f64(80)})
	require.NoError(t, err)
	require.NotNil(t, got.Outcome.PnL)
	assert.Equal(t, -20.0, *got.Outcome.PnL)
	assert.Equal(t, -20.0, *got.Outcome.PnLPercent)
}

func TestRecordOutcomeAvoidsFloatDrift(t *testing.T) {
	l, _ := newMemLog(t)
	rec, err := l.Log(sig("ethereum", "0x1", domain.SignalAccumulation, 5))
	require.NoError(t, err)

	got, _, err := l.RecordOutcome(rec.ID, OutcomeUpdate{EntryPrice: f64(0.1), ExitPrice: f64(0.3)})
	require.NoError(t, err)
	assert.Equal(t, 0.2, *got.Outcome.PnL)
	assert.Equal(t, 200.0, *got.Outcome.PnLPercent)
}

func TestRecordOutcomeExplicitPnL(t *testing.T) {
	l, _ := newMemLog(t)
	rec, err := l.Log(sig("ethereum", "0x1", domain.SignalAccumulation, 5))
	require.NoError(t, err)

	notes := "fees included"
	got, _, err := l.RecordOutcome(rec.ID, OutcomeUpdate{
		EntryPrice: f64(50),
		ExitPrice:  f64(60),
		PnL:        f64(7.5),
		Notes:      &notes,
	})
	require.NoError(t, err)
	assert.Equal(t, 7.5, *got.Outcome.PnL)
	assert.Equal(t, 15.0, *got.Outcome.PnLPercent)
	assert.Equal(t, notes, got.Outcome.Notes)
}

func TestRecordOutcomeZeroEntryDoesNotDivide(t *testing.T) {
	l, _ := newMemLog(t)
	rec, err := l.Log(sig("ethereum", "0x1", domain.SignalAccumulation, 5))
	require.NoError(t, err)

	got, _, err := l.RecordOutcome(rec.ID, OutcomeUpdate{EntryPrice: f64(0), ExitPrice: f64(3)})
	require.NoError(t, err)
	assert.Equal(t, 3.0, *got.Outcome.PnL)
	assert.Nil(t, got.Outcome.PnLPercent)

	_, ok, err := l.RecordOutcome("sig_missing", OutcomeUpdate{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFind(t *testing.T) {
	l, _ := newMemLog(t)
	_, err := l.LogBatch([]domain.OpportunitySignal{
		sig("ethereum", "0x1", domain.SignalAccumulation, 5),
		sig("base", "0x2", domain.SignalAccumulation, 3),
		sig("ethereum", "0x3", domain.SignalDistribution, 7),
	})
	require.NoError(t, err)

	got := l.Find(Filter{Chains: []string{"ethereum"}, MinScore: f64(6)})
	require.Len(t, got, 1)
	assert.Equal(t, "0x3", got[0].Token)

	assert.Len(t, l.Find(Filter{}), 3)
	limited := l.Find(Filter{Limit: 2})
	require.Len(t, limited, 2)
	assert.Equal(t, "0x1", limited[0].Token, "limit keeps the first matches in insertion order")
	assert.Equal(t, "0x2", limited[1].Token)
	assert.Len(t, l.Find(Filter{Modes: []string{"accumulation"}, MaxScore: f64(5)}), 2)

	acted := true
	assert.Empty(t, l.Find(Filter{Acted: &acted}))
	assert.NotNil(t, l.Find(Filter{Acted: &acted}), "empty result is a non-nil slice")
}

func TestStats(t *testing.T) {
	l, _ := newMemLog(t)
	empty := l.Stats()
	assert.Zero(t, empty.WinRate)
	assert.Zero(t, empty.AvgScore)

	out, err := l.LogBatch([]domain.OpportunitySignal{
		sig("ethereum", "0x1", domain.SignalAccumulation, 4),
		sig("base", "0x2", domain.SignalAccumulation, 6),
		sig("ethereum", "0x3", domain.SignalDistribution, 8),
	})
	require.NoError(t, err)

	_, _, err = l.MarkActed(out[0].ID, domain.ActionBuy, "")
	require.NoError(t, err)
	_, _, err = l.MarkActed(out[1].ID, domain.ActionBuy, "")
	require.NoError(t, err)
	_, _, err = l.RecordOutcome(out[0].ID, OutcomeUpdate{EntryPrice: f64(1), ExitPrice: f64(2)})
	require.NoError(t, err)
	_, _, err = l.RecordOutcome(out[1].ID, OutcomeUpdate{PnL: f64(-3)})
	require.NoError(t, err)

	s := l.Stats()
	assert.Equal(t, 3, s.TotalSignals)
	assert.Equal(t, 2, s.ActedOn)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 2, s.WithOutcome)
	assert.Equal(t, 1, s.ProfitableCount)
	assert.Equal(t, 0.5, s.WinRate)
	assert.Equal(t, 6.0, s.AvgScore)
	assert.Equal(t, map[string]int{"ethereum": 2, "base": 1}, s.ByChain)
	assert.Equal(t, map[string]int{"accumulation": 2, "distribution": 1}, s.ByMode)
}

func TestTokenHistory(t *testing.T) {
	l, _ := newMemLog(t)
	_, err := l.LogBatch([]domain.OpportunitySignal{
		sig("ethereum", "0x1", domain.SignalAccumulation, 4),
		sig("ethereum", "0x1", domain.SignalDistribution, 4),
		sig("base", "0x1", domain.SignalAccumulation, 4),
		sig("base", "0x2", domain.SignalAccumulation, 4),
	})
	require.NoError(t, err)

	assert.Len(t, l.TokenHistory("0x1", ""), 3)
	assert.Len(t, l.TokenHistory("0x1", "base"), 1)
	assert.Empty(t, l.TokenHistory("0x9", ""))
}

func TestHasRecentSignal(t *testing.T) {
	l, clk := newMemLog(t)
	s := sig("ethereum", "0x1", domain.SignalAccumulation, 4)
	_, err := l.Log(s)
	require.NoError(t, err)

	assert.False(t, l.HasRecentSignal(s, 0))
	assert.True(t, l.HasRecentSignal(s, time.Minute))

	clk.t = clk.t.Add(time.Minute)
	assert.False(t, l.HasRecentSignal(s, time.Minute), "window is strict")
	assert.False(t, l.HasRecentSignal(sig("base", "0x1", domain.SignalAccumulation, 4), time.Hour))
}

func TestClear(t *testing.T) {
	l, _ := newMemLog(t)
	_, err := l.Log(sig("ethereum", "0x1", domain.SignalAccumulation, 4))
	require.NoError(t, err)

	require.NoError(t, l.Clear())
	assert.Zero(t, l.Len())
	assert.Empty(t, l.Find(Filter{}))
}

func TestExport(t *testing.T) {
	l, _ := newMemLog(t)
	data, err := l.Export(Filter{})
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))

	_, err = l.LogBatch([]domain.OpportunitySignal{
		sig("ethereum", "0x1", domain.SignalAccumulation, 4),
		sig("base", "0x2", domain.SignalAccumulation, 4),
	})
	require.NoError(t, err)

	data, err = l.Export(Filter{Chains: []string{"base"}})
	require.NoError(t, err)
	var out []domain.LoggedSignal
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out, 1)
	assert.Equal(t, "0x2", out[0].Token)
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "signals.json")

	l, err := Open(path, true)
	require.NoError(t, err)
	rec, err := l.Log(sig("ethereum", "0x1", domain.SignalAccumulation, 4))
	require.NoError(t, err)
	_, err = l.Log(sig("solana", "So1anaMint", domain.SignalNetflowSpike, 9))
	require.NoError(t, err)
	_, _, err = l.RecordOutcome(rec.ID, OutcomeUpdate{EntryPrice: f64(100), ExitPrice: f64(80)})
	require.NoError(t, err)

	reopened, err := Open(path, false)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())

	got, ok := reopened.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, -20.0, *got.Outcome.PnL)

	all := reopened.Find(Filter{})
	assert.Equal(t, "0x1", all[0].Token, "insertion order survives reload")
	assert.Equal(t, "So1anaMint", all[1].Token)

	_, err = reopened.Log(sig("base", "0x9", domain.SignalAccumulation, 1))
	require.NoError(t, err)
	again, err := Open(path, false)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Len(), "autosave=false never writes")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "signals.json")

	require.NoError(t, writeFileAtomic(path, []byte(`[1]`)))
	require.NoError(t, writeFileAtomic(path, []byte(`[2]`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `[2]`, string(data))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	dirAsTarget := filepath.Join(t.TempDir(), "taken")
	require.NoError(t, os.Mkdir(dirAsTarget, 0o755))
	assert.ErrorContains(t, writeFileAtomic(dirAsTarget, []byte(`[]`)), "replace signal log")
}

func TestClearPersistsEmptyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.json")
	l, err := Open(path, true)
	require.NoError(t, err)
	_, err = l.Log(sig("ethereum", "0x1", domain.SignalAccumulation, 4))
	require.NoError(t, err)
	require.NoError(t, l.Clear())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.json")
	require.NoError(t, os.WriteFile(path, []byte("{oops"), 0o644))

	_, err := Open(path, true)
	assert.Error(t, err)
}

func TestConcurrentLoggingPersistsConsistently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.json")
	l, err := Open(path, true)
	require.NoError(t, err)

	tokens := []string{"0x1", "0x2", "0x3", "0x4", "0x5", "0x6", "0x7", "0x8"}
	var wg sync.WaitGroup
	for _, tok := range tokens {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			_, err := l.Log(sig("ethereum", tok, domain.SignalAccumulation, 1))
			assert.NoError(t, err)
		}(tok)
	}
	wg.Wait()

	reopened, err := Open(path, false)
	require.NoError(t, err)
	assert.Equal(t, len(tokens), reopened.Len())
}
