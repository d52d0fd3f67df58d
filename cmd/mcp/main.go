package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartflow/internal/app"
	"smartflow/internal/config"
	"smartflow/internal/logging"
	"smartflow/internal/mcpserver"
	"smartflow/pkg/tracing"

	"github.com/joho/godotenv"
)

const serviceName = "smartflow-mcp"

var version = "dev"

var (
	loadEnvFunc    = godotenv.Load
	loadConfigFunc = config.Load
	initTracerFunc = tracing.InitTracer
	buildAppFunc   = app.Build
	serveFunc      = func(s *mcpserver.Server, ctx context.Context, cfg mcpserver.TransportConfig) error {
		return s.Serve(ctx, cfg)
	}
	notifyContextFunc = signal.NotifyContext
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "smartflow-mcp:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = loadEnvFunc()

	cfg, err := loadConfigFunc()
	if err != nil {
		return err
	}
	// stdout carries the stdio transport.
	logger := logging.NewLoggerTo(cfg.Logging(), os.Stderr)

	ctx, stop := notifyContextFunc(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, tracer, err := initTracerFunc(ctx, tracing.Options{ServiceName: serviceName, Version: version})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("error shutting down tracer provider")
		}
	}()

	a, err := buildAppFunc(ctx, cfg, logger, tracer)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := mcpserver.New(a.Intel, logger, version, time.Duration(cfg.MCPRequestTimeoutSecs)*time.Second)
	err = serveFunc(srv, ctx, mcpserver.TransportConfig{
		Transport: cfg.MCPTransport,
		Bind:      cfg.MCPHTTPBind,
		Port:      cfg.MCPHTTPPort,
		AuthToken: cfg.MCPAuthToken,
	})
	if err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info().Msg("mcp server stopped")
	return nil
}
