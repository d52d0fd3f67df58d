package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"smartflow/internal/domain"
)

const createLoggedSignalsTable = `
CREATE TABLE IF NOT EXISTS logged_signals (
    id           TEXT        PRIMARY KEY,
    signal_type  TEXT        NOT NULL,
    token        TEXT        NOT NULL,
    symbol       TEXT        NOT NULL DEFAULT '',
    chain        TEXT        NOT NULL,
    score        DOUBLE PRECISION NOT NULL DEFAULT 0,
    reason       TEXT        NOT NULL DEFAULT '',
    metrics      JSONB,
    signal_time  TIMESTAMPTZ,
    logged_at    TIMESTAMPTZ NOT NULL,
    acted        BOOLEAN     NOT NULL DEFAULT FALSE,
    action       TEXT,
    executed_at  TIMESTAMPTZ,
    notes        TEXT,
    entry_price  DOUBLE PRECISION,
    exit_price   DOUBLE PRECISION,
    pnl          DOUBLE PRECISION,
    pnl_percent  DOUBLE PRECISION,
    archived_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_logged_signals_chain_type
    ON logged_signals (chain, signal_type);
`

const upsertLoggedSignal = `
INSERT INTO logged_signals (
    id, signal_type, token, symbol, chain, score, reason, metrics, signal_time,
    logged_at, acted, action, executed_at, notes, entry_price, exit_price, pnl, pnl_percent, archived_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW())
ON CONFLICT (id) DO UPDATE SET
    score       = EXCLUDED.score,
    reason      = EXCLUDED.reason,
    metrics     = EXCLUDED.metrics,
    acted       = EXCLUDED.acted,
    action      = EXCLUDED.action,
    executed_at = EXCLUDED.executed_at,
    notes       = EXCLUDED.notes,
    entry_price = EXCLUDED.entry_price,
    exit_price  = EXCLUDED.exit_price,
    pnl         = EXCLUDED.pnl,
    pnl_percent = EXCLUDED.pnl_percent,
    archived_at = NOW()`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ModePerformance is the realised performance of one signal type on one chain.
type ModePerformance struct {
	Chain       string  `json:"chain"`
	Mode        string  `json:"mode"`
	Signals     int64   `json:"signals"`
	ActedOn     int64   `json:"actedOn"`
	WithOutcome int64   `json:"withOutcome"`
	Profitable  int64   `json:"profitable"`
	TotalPnL    float64 `json:"totalPnl"`
	AvgScore    float64 `json:"avgScore"`
}

// SignalRepository archives logged signals in Postgres.
type SignalRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewSignalRepository(pool PgxPool, tracer trace.Tracer) *SignalRepository {
	return &SignalRepository{pool: pool, tracer: tracer}
}

func (r *SignalRepository) RunMigrations(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "signal-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createLoggedSignalsTable)
	return err
}

// UpsertSignals writes signals in one batch; existing rows take the latest
// outcome.
func (r *SignalRepository) UpsertSignals(ctx context.Context, signals []domain.LoggedSignal) error {
	if len(signals) == 0 {
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "signal-repo.upsert-signals")
	defer span.End()
	span.SetAttributes(attribute.Int("signals", len(signals)))

	batch := &pgx.Batch{}
	for _, s := range signals {
		var metrics []byte
		if len(s.Metrics) > 0 {
			data, err := json.Marshal(s.Metrics)
			if err != nil {
				return fmt.Errorf("encode metrics for %s: %w", s.ID, err)
			}
			metrics = data
		}

		var (
			action                       *string
			executedAt                   *time.Time
			notes                        *string
			entry, exit, pnl, pnlPercent *float64
		)
		if o := s.Outcome; o != nil {
			if o.Action != "" {
				a := string(o.Action)
				action = &a
			}
			if o.Notes != "" {
				n := o.Notes
				notes = &n
			}
			executedAt = o.ExecutedAt
			entry, exit, pnl, pnlPercent = o.EntryPrice, o.ExitPrice, o.PnL, o.PnLPercent
		}

		batch.Queue(upsertLoggedSignal,
			s.ID, string(s.Type), s.Token, s.Symbol, s.Chain, s.Score, s.Reason, metrics, nullTime(s.Timestamp),
			s.LoggedAt, s.Acted, action, executedAt, notes, entry, exit, pnl, pnlPercent,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for _, s := range signals {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert signal %s: %w", s.ID, err)
		}
	}
	return nil
}

// ModePerformance aggregates archived signals per chain and type.
func (r *SignalRepository) ModePerformance(ctx context.Context) ([]ModePerformance, error) {
	ctx, span := r.tracer.Start(ctx, "signal-repo.mode-performance")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT chain, signal_type,
		        COUNT(*),
		        COUNT(*) FILTER (WHERE acted),
		        COUNT(pnl),
		        COUNT(*) FILTER (WHERE pnl > 0),
		        COALESCE(SUM(pnl), 0),
		        COALESCE(AVG(score), 0)
		 FROM logged_signals
		 GROUP BY chain, signal_type
		 ORDER BY chain, signal_type`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModePerformance
	for rows.Next() {
		var p ModePerformance
		if err := rows.Scan(&p.Chain, &p.Mode, &p.Signals, &p.ActedOn, &p.WithOutcome, &p.Profitable, &p.TotalPnL, &p.AvgScore); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
