// Package cli implements the signals command-line tool.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace/noop"

	"smartflow/internal/app"
	"smartflow/internal/config"
	"smartflow/internal/logging"
)

// Builder constructs the application for a command run.
type Builder func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app.App, error)

func defaultBuilder(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app.App, error) {
	return app.Build(ctx, cfg, logger, noop.NewTracerProvider().Tracer("smartflow-cli"))
}

type options struct {
	logLevel   string
	signalLog  string
	preset     string
	loadConfig func() (*config.Config, error)
	build      Builder
	app        *app.App
}

// NewRootCommand assembles the signals command tree. A nil build uses
// app.Build with a no-op tracer.
func NewRootCommand(loadConfig func() (*config.Config, error), build Builder) *cobra.Command {
	if build == nil {
		build = defaultBuilder
	}
	o := &options{loadConfig: loadConfig, build: build}

	root := &cobra.Command{
		Use:           "signals",
		Short:         "Inspect and annotate the smart-money signal log",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if o.app != nil {
				o.app.Close()
				o.app = nil
			}
		},
	}
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "Override LOG_LEVEL")
	root.PersistentFlags().StringVar(&o.signalLog, "signal-log", "", "Override SIGNAL_LOG_PATH")
	root.PersistentFlags().StringVar(&o.preset, "preset", "", "Override RATE_LIMIT_PRESET")

	root.AddCommand(
		newStatsCmd(o),
		newFindCmd(o),
		newExportCmd(o),
		newToolsCmd(o),
		newCallCmd(o),
		newActCmd(o),
		newOutcomeCmd(o),
		newPresetsCmd(),
		newGovernanceCmd(o),
	)
	return root
}

// getApp builds the app on first use so commands that need no state
// (presets) never touch the signal log.
func (o *options) getApp(cmd *cobra.Command) (*app.App, error) {
	if o.app != nil {
		return o.app, nil
	}
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.signalLog != "" {
		cfg.SignalLogPath = o.signalLog
	}
	if o.preset != "" {
		cfg.RateLimitPreset = o.preset
	}
	// Diagnostics go to stderr so stdout stays machine readable.
	logger := logging.NewLoggerTo(cfg.Logging(), cmd.ErrOrStderr())
	a, err := o.build(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}
	o.app = a
	return a, nil
}

// Execute runs the CLI and exits non-zero on error.
func Execute(loadConfig func() (*config.Config, error)) {
	root := NewRootCommand(loadConfig, nil)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "signals:", err)
		os.Exit(1)
	}
}

func writeln(w io.Writer, s string) {
	fmt.Fprintln(w, s)
}
