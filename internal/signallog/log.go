// Package signallog is the durable record of every signal surfaced to the
// operator, with idempotent ingestion, queries and outcome accounting.
package signallog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"smartflow/internal/domain"
)

// Filter selects records. Zero-valued fields do not constrain.
type Filter struct {
	Chains   []string `json:"chains,omitempty"`
	Modes    []string `json:"modes,omitempty"`
	MinScore *float64 `json:"minScore,omitempty"`
	MaxScore *float64 `json:"maxScore,omitempty"`
	Acted    *bool    `json:"acted,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// OutcomeUpdate carries the fields RecordOutcome merges into a record.
type OutcomeUpdate struct {
	EntryPrice *float64 `json:"entryPrice,omitempty"`
	ExitPrice  *float64 `json:"exitPrice,omitempty"`
	PnL        *float64 `json:"pnl,omitempty"`
	Notes      *string  `json:"notes,omitempty"`
}

// Stats aggregates the log.
type Stats struct {
	TotalSignals    int            `json:"totalSignals"`
	ActedOn         int            `json:"actedOn"`
	Skipped         int            `json:"skipped"`
	WithOutcome     int            `json:"withOutcome"`
	ProfitableCount int            `json:"profitableCount"`
	WinRate         float64        `json:"winRate"`
	AvgScore        float64        `json:"avgScore"`
	ByChain         map[string]int `json:"byChain"`
	ByMode          map[string]int `json:"byMode"`
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithLogger sets the logger used for persistence events.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// Log stores LoggedSignals in insertion order, indexed by id. All methods are
// safe for concurrent use and return copies of stored records.
type Log struct {
	mu       sync.RWMutex
	path     string
	autosave bool
	records  []*domain.LoggedSignal
	byID     map[string]*domain.LoggedSignal

	now    func() time.Time
	logger zerolog.Logger
}

// Open builds a log backed by path. Records already at path are loaded
// whatever autosave says; a missing file starts empty. An empty path keeps
// the log in memory only.
func Open(path string, autosave bool, opts ...Option) (*Log, error) {
	l := &Log{
		path:     strings.TrimSpace(path),
		autosave: autosave,
		byID:     make(map[string]*domain.LoggedSignal),
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the backing file path, empty for memory-only logs.
func (l *Log) Path() string {
	return l.path
}

// Len returns the number of records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Log records sig unless a record with the same chain, token and type exists,
// in which case the existing record is returned unchanged. The error reports
// a persistence failure only; the record is kept in memory regardless.
func (l *Log) Log(sig domain.OpportunitySignal) (domain.LoggedSignal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, created := l.insertLocked(sig)
	if !created {
		return rec.Clone(), nil
	}
	return rec.Clone(), l.persistLocked()
}

// LogBatch logs each signal in order with the same dedup rules as Log and
// persists once.
func (l *Log) LogBatch(sigs []domain.OpportunitySignal) ([]domain.LoggedSignal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.LoggedSignal, 0, len(sigs))
	dirty := false
	for _, sig := range sigs {
		rec, created := l.insertLocked(sig)
		dirty = dirty || created
		out = append(out, rec.Clone())
	}
	if !dirty {
		return out, nil
	}
	return out, l.persistLocked()
}

// Get returns the record with id.
func (l *Log) Get(id string) (domain.LoggedSignal, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.byID[id]
	if !ok {
		return domain.LoggedSignal{}, false
	}
	return rec.Clone(), true
}

// MarkActed flags the record as acted on with action, stamping the execution
// time. Non-empty notes replace any previous notes.
func (l *Log) MarkActed(id string, action domain.Action, notes string) (domain.LoggedSignal, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byID[id]
	if !ok {
		return domain.LoggedSignal{}, false, nil
	}
	now := l.now()
	if rec.Outcome == nil {
		rec.Outcome = &domain.Outcome{}
	}
	rec.Acted = true
	rec.Outcome.Action = action
	rec.Outcome.ExecutedAt = &now
	if notes != "" {
		rec.Outcome.Notes = notes
	}
	return rec.Clone(), true, l.persistLocked()
}

// RecordOutcome merges upd into the record's outcome. Without an explicit
// PnL, pnl and pnlPercent are derived once both prices are known.
func (l *Log) RecordOutcome(id string, upd OutcomeUpdate) (domain.LoggedSignal, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byID[id]
	if !ok {
		return domain.LoggedSignal{}, false, nil
	}
	if rec.Outcome == nil {
		rec.Outcome = &domain.Outcome{}
	}
	applyOutcome(rec.Outcome, upd)
	return rec.Clone(), true, l.persistLocked()
}

func applyOutcome(o *domain.Outcome, upd OutcomeUpdate) {
	if upd.EntryPrice != nil {
		o.EntryPrice = floatPtr(*upd.EntryPrice)
	}
	if upd.ExitPrice != nil {
		o.ExitPrice = floatPtr(*upd.ExitPrice)
	}
	if upd.Notes != nil {
		o.Notes = *upd.Notes
	}

	switch {
	case upd.PnL != nil:
		pnl := decimal.NewFromFloat(*upd.PnL)
		o.PnL = floatPtr(*upd.PnL)
		if pct, ok := pnlPercent(pnl, o.EntryPrice); ok {
			o.PnLPercent = &pct
		}
	case o.EntryPrice != nil && o.ExitPrice != nil:
		pnl := decimal.NewFromFloat(*o.ExitPrice).Sub(decimal.NewFromFloat(*o.EntryPrice))
		v, _ := pnl.Float64()
		o.PnL = &v
		o.PnLPercent = nil
		if pct, ok := pnlPercent(pnl, o.EntryPrice); ok {
			o.PnLPercent = &pct
		}
	}
}

// pnlPercent is 100*pnl/entry; a missing or zero entry has no percentage.
func pnlPercent(pnl decimal.Decimal, entry *float64) (float64, bool) {
	if entry == nil || *entry == 0 {
		return 0, false
	}
	pct, _ := pnl.Mul(decimal.NewFromInt(100)).Div(decimal.NewFromFloat(*entry)).Float64()
	return pct, true
}

// Find returns the records matching every set field of f, in insertion
// order, truncated to f.Limit when positive.
func (l *Log) Find(f Filter) []domain.LoggedSignal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.LoggedSignal, 0)
	for _, rec := range l.records {
		if !f.matches(rec) {
			continue
		}
		out = append(out, rec.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

func (f Filter) matches(rec *domain.LoggedSignal) bool {
	if len(f.Chains) > 0 && !containsFold(f.Chains, rec.Chain) {
		return false
	}
	if len(f.Modes) > 0 && !containsFold(f.Modes, string(rec.Type)) {
		return false
	}
	if f.MinScore != nil && rec.Score < *f.MinScore {
		return false
	}
	if f.MaxScore != nil && rec.Score > *f.MaxScore {
		return false
	}
	if f.Acted != nil && rec.Acted != *f.Acted {
		return false
	}
	return true
}

// Stats summarises acted-on ratio, realised outcomes and score distribution.
func (l *Log) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Stats{
		TotalSignals: len(l.records),
		ByChain:      make(map[string]int),
		ByMode:       make(map[string]int),
	}
	var scoreSum float64
	for _, rec := range l.records {
		scoreSum += rec.Score
		s.ByChain[rec.Chain]++
		s.ByMode[string(rec.Type)]++
		if rec.Acted {
			s.ActedOn++
		}
		if rec.Outcome != nil && rec.Outcome.PnL != nil {
			s.WithOutcome++
			if *rec.Outcome.PnL > 0 {
				s.ProfitableCount++
			}
		}
	}
	s.Skipped = s.TotalSignals - s.ActedOn
	if s.WithOutcome > 0 {
		s.WinRate = float64(s.ProfitableCount) / float64(s.WithOutcome)
	}
	if s.TotalSignals > 0 {
		s.AvgScore = scoreSum / float64(s.TotalSignals)
	}
	return s
}

// TokenHistory returns every record for token, restricted to chain when set.
func (l *Log) TokenHistory(token, chain string) []domain.LoggedSignal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.LoggedSignal, 0)
	for _, rec := range l.records {
		if rec.Token != token {
			continue
		}
		if chain != "" && !strings.EqualFold(rec.Chain, chain) {
			continue
		}
		out = append(out, rec.Clone())
	}
	return out
}

// HasRecentSignal reports whether sig was logged less than window ago.
func (l *Log) HasRecentSignal(sig domain.OpportunitySignal, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	id := domain.SignalID(sig.Chain, sig.Token, sig.Type)

	l.mu.RLock()
	rec, ok := l.byID[id]
	var loggedAt time.Time
	if ok {
		loggedAt = rec.LoggedAt
	}
	l.mu.RUnlock()

	return ok && l.now().Sub(loggedAt) < window
}

// Clear removes every record.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
	l.byID = make(map[string]*domain.LoggedSignal)
	return l.persistLocked()
}

// Export serialises the records matching f as an indented JSON array.
func (l *Log) Export(f Filter) ([]byte, error) {
	data, err := json.MarshalIndent(l.Find(f), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export signals: %w", err)
	}
	return data, nil
}

func (l *Log) insertLocked(sig domain.OpportunitySignal) (*domain.LoggedSignal, bool) {
	id := domain.SignalID(sig.Chain, sig.Token, sig.Type)
	if rec, ok := l.byID[id]; ok {
		return rec, false
	}
	rec := &domain.LoggedSignal{
		OpportunitySignal: sig,
		ID:                id,
		LoggedAt:          l.now(),
	}
	if sig.Metrics != nil {
		rec.Metrics = make(map[string]any, len(sig.Metrics))
		for k, v := range sig.Metrics {
			rec.Metrics[k] = v
		}
	}
	l.records = append(l.records, rec)
	l.byID[id] = rec
	return rec, true
}

func (l *Log) load() error {
	if l.path == "" {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read signal log %s: %w", l.path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}

	var stored []domain.LoggedSignal
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("decode signal log %s: %w", l.path, err)
	}
	for i := range stored {
		rec := stored[i]
		if rec.ID == "" {
			rec.ID = domain.SignalID(rec.Chain, rec.Token, rec.Type)
		}
		if existing, ok := l.byID[rec.ID]; ok {
			*existing = rec
			continue
		}
		l.records = append(l.records, &rec)
		l.byID[rec.ID] = &rec
	}
	l.logger.Debug().Str("path", l.path).Int("records", len(l.records)).Msg("signal log loaded")
	return nil
}

// persistLocked rewrites the whole file. Caller holds the write lock.
func (l *Log) persistLocked() error {
	if !l.autosave || l.path == "" {
		return nil
	}
	snapshot := make([]domain.LoggedSignal, len(l.records))
	for i, rec := range l.records {
		snapshot[i] = *rec
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode signal log: %w", err)
	}
	if err := writeFileAtomic(l.path, data); err != nil {
		l.logger.Error().Err(err).Str("path", l.path).Msg("signal log save failed")
		return err
	}
	return nil
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}

func floatPtr(v float64) *float64 {
	return &v
}
