package job

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"smartflow/internal/domain"
	"smartflow/internal/signallog"
)

// SignalSource yields the records to archive.
type SignalSource interface {
	Find(f signallog.Filter) []domain.LoggedSignal
}

// SignalArchiver persists records to long-term storage.
type SignalArchiver interface {
	UpsertSignals(ctx context.Context, signals []domain.LoggedSignal) error
}

// SignalArchiveJob mirrors the file-backed signal log into Postgres so
// outcomes can be analysed with SQL. Upserts are idempotent, so every run
// ships the full log.
type SignalArchiveJob struct {
	tracer       trace.Tracer
	logger       zerolog.Logger
	source       SignalSource
	archiver     SignalArchiver
	pollInterval time.Duration
}

func NewSignalArchiveJob(tracer trace.Tracer, logger zerolog.Logger, source SignalSource, archiver SignalArchiver, pollInterval time.Duration) *SignalArchiveJob {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Minute
	}
	return &SignalArchiveJob{
		tracer:       tracer,
		logger:       logger,
		source:       source,
		archiver:     archiver,
		pollInterval: pollInterval,
	}
}

func (j *SignalArchiveJob) Start(ctx context.Context) {
	if j.archiver == nil || j.source == nil {
		j.logger.Info().Msg("signal archive job disabled: no database")
		<-ctx.Done()
		return
	}
	pollLoop(ctx, j.logger, "signal-archive", j.pollInterval, func(ctx context.Context) error {
		_, err := j.runOnce(ctx)
		return err
	})
}

func (j *SignalArchiveJob) runOnce(ctx context.Context) (int, error) {
	ctx, span := j.tracer.Start(ctx, "signal-archive-job.run-once")
	defer span.End()

	records := j.source.Find(signallog.Filter{})
	span.SetAttributes(attribute.Int("signals", len(records)))
	if len(records) == 0 {
		return 0, nil
	}
	if err := j.archiver.UpsertSignals(ctx, records); err != nil {
		span.RecordError(err)
		return 0, err
	}
	j.logger.Info().Int("signals", len(records)).Msg("signal log archived")
	return len(records), nil
}
