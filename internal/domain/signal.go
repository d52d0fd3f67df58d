package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// SignalType is the scanner mode that produced a signal.
type SignalType string

const (
	SignalAccumulation   SignalType = "accumulation"
	SignalDistribution   SignalType = "distribution"
	SignalSmartMoneyBuy  SignalType = "smart_money_buy"
	SignalSmartMoneySell SignalType = "smart_money_sell"
	SignalNetflowSpike   SignalType = "netflow_spike"
	SignalHolderSurge    SignalType = "new_holder_surge"
)

// Action is what the agent did about a signal.
type Action string

const (
	ActionBuy   Action = "buy"
	ActionSell  Action = "sell"
	ActionSkip  Action = "skip"
	ActionWatch Action = "watch"
)

// ParseAction validates an operator action, case-insensitively.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionBuy, ActionSell, ActionSkip, ActionWatch:
		return a, nil
	default:
		return "", fmt.Errorf("invalid action %q: want buy, sell, skip or watch", s)
	}
}

// OpportunitySignal is a scanner result handed to the signal log.
type OpportunitySignal struct {
	Type      SignalType     `json:"type" binding:"required"`
	Token     string         `json:"token" binding:"required"`
	Symbol    string         `json:"symbol"`
	Chain     string         `json:"chain" binding:"required"`
	Score     float64        `json:"score"`
	Reason    string         `json:"reason,omitempty"`
	Metrics   map[string]any `json:"metrics,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Outcome tracks the agent's action and the realised result.
type Outcome struct {
	Action     Action     `json:"action,omitempty"`
	ExecutedAt *time.Time `json:"executedAt,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	EntryPrice *float64   `json:"entryPrice,omitempty"`
	ExitPrice  *float64   `json:"exitPrice,omitempty"`
	PnL        *float64   `json:"pnl,omitempty"`
	PnLPercent *float64   `json:"pnlPercent,omitempty"`
}

// LoggedSignal is an OpportunitySignal persisted by the signal log.
type LoggedSignal struct {
	OpportunitySignal
	ID       string    `json:"id"`
	LoggedAt time.Time `json:"loggedAt"`
	Acted    bool      `json:"acted"`
	Outcome  *Outcome  `json:"outcome,omitempty"`
}

// DedupKey is the identity of a signal: chain, token and type.
// Chain and type are case-folded; token addresses are kept verbatim because
// some chains (Solana) use case-sensitive encodings.
func DedupKey(chain, token string, typ SignalType) string {
	return strings.ToLower(strings.TrimSpace(chain)) + "|" +
		strings.TrimSpace(token) + "|" +
		strings.ToLower(strings.TrimSpace(string(typ)))
}

// SignalID derives the stable record id for a dedup key.
func SignalID(chain, token string, typ SignalType) string {
	sum := sha256.Sum256([]byte(DedupKey(chain, token, typ)))
	return "sig_" + hex.EncodeToString(sum[:8])
}

// Key returns the dedup key of the signal.
func (s OpportunitySignal) Key() string {
	return DedupKey(s.Chain, s.Token, s.Type)
}

// Clone returns a copy that shares no mutable state with s.
func (s LoggedSignal) Clone() LoggedSignal {
	out := s
	if s.Metrics != nil {
		out.Metrics = make(map[string]any, len(s.Metrics))
		for k, v := range s.Metrics {
			out.Metrics[k] = v
		}
	}
	if s.Outcome != nil {
		o := *s.Outcome
		o.ExecutedAt = cloneTime(s.Outcome.ExecutedAt)
		o.EntryPrice = cloneFloat(s.Outcome.EntryPrice)
		o.ExitPrice = cloneFloat(s.Outcome.ExitPrice)
		o.PnL = cloneFloat(s.Outcome.PnL)
		o.PnLPercent = cloneFloat(s.Outcome.PnLPercent)
		out.Outcome = &o
	}
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
