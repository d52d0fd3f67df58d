package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestSignalIDDeterministic(t *testing.T) {
	a := SignalID("ethereum", "0xabc", SignalAccumulation)
	b := SignalID("Ethereum", "0xabc", "ACCUMULATION")
	if a != b {
		t.Fatalf("expected case-folded chain/type to match, got %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "sig_") || len(a) != len("sig_")+16 {
		t.Fatalf("unexpected id format: %s", a)
	}
	if SignalID("ethereum", "0xABC", SignalAccumulation) == a {
		t.Fatal("token must be case-sensitive")
	}
	if SignalID("base", "0xabc", SignalAccumulation) == a {
		t.Fatal("chain must be part of the id")
	}
}

func TestLoggedSignalCloneDoesNotAlias(t *testing.T) {
	entry := 10.0
	now := time.Now()
	orig := LoggedSignal{
		OpportunitySignal: OpportunitySignal{Metrics: map[string]any{"netflow": 1.0}},
		Outcome:           &Outcome{EntryPrice: &entry, ExecutedAt: &now},
	}

	c := orig.Clone()
	*c.Outcome.EntryPrice = 99
	c.Metrics["netflow"] = 2.0

	if *orig.Outcome.EntryPrice != 10 {
		t.Fatalf("clone aliased entry price: %v", *orig.Outcome.EntryPrice)
	}
	if orig.Metrics["netflow"] != 1.0 {
		t.Fatalf("clone aliased metrics: %v", orig.Metrics)
	}
}

func TestLoggedSignalJSONIsFlat(t *testing.T) {
	rec := LoggedSignal{
		OpportunitySignal: OpportunitySignal{Type: SignalDistribution, Token: "0x1", Chain: "base", Score: 7},
		ID:                "sig_1",
	}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"id", "type", "token", "chain", "score", "loggedAt", "acted"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("expected top-level key %q in %s", key, data)
		}
	}
	if _, ok := raw["outcome"]; ok {
		t.Fatalf("outcome should be omitted when nil: %s", data)
	}
}

func TestParseAction(t *testing.T) {
	for in, want := range map[string]Action{"buy": ActionBuy, " SELL ": ActionSell, "Skip": ActionSkip, "watch": ActionWatch} {
		got, err := ParseAction(in)
		if err != nil || got != want {
			t.Fatalf("ParseAction(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseAction("hodl"); err == nil {
		t.Fatal("expected error for unknown action")
	}
}
