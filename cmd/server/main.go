package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartflow/internal/advisor"
	"smartflow/internal/app"
	"smartflow/internal/bot"
	"smartflow/internal/config"
	"smartflow/internal/handler"
	"smartflow/internal/job"
	"smartflow/internal/logging"
	"smartflow/internal/service"
	"smartflow/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "smartflow/docs"
)

const serviceName = "smartflow"

var (
	loadEnvFunc          = godotenv.Load
	loadConfigFunc       = config.Load
	initTracerFunc       = tracing.InitTracer
	buildAppFunc         = app.Build
	newLLMClientFunc     = advisor.NewOpenAIClient
	startTelegramBotFunc = func(ctx context.Context, cfg bot.Config, logger zerolog.Logger, signals bot.SignalReader, adv bot.Advisor) (service.Notifier, error) {
		b, err := bot.StartTelegramBot(ctx, cfg, logger, signals, adv)
		if b == nil {
			return nil, err
		}
		return b, err
	}
	startJobFunc           = func(start func(context.Context), ctx context.Context) { go start(ctx) }
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           smartflow API
// @version         1.0
// @description     Smart-money signal desk: rate-limited tool access, signal log and outcome tracking.

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
func main() {
	_ = loadEnvFunc()

	cfg, err := loadConfigFunc()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.NewLogger(cfg.Logging())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx, tracing.Options{ServiceName: serviceName})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracer")
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("error shutting down tracer provider")
		}
	}()

	a, err := buildAppFunc(ctx, cfg, logger, tracer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build app")
	}
	defer a.Close()

	h := handler.New(tracer, a.Intel)
	h.SetMetricsHandler(a.Metrics.Handler())
	if a.SignalRepo != nil {
		h.SetPerformanceReader(a.SignalRepo)
	}

	var adv *advisor.AdvisorService
	if cfg.OpenAIAPIKey != "" {
		var store advisor.ConversationStore
		if a.Conversations != nil {
			store = a.Conversations
		}
		adv = advisor.NewAdvisorService(tracer, logger, newLLMClientFunc(cfg.OpenAIAPIKey), a.Intel, store, cfg.OpenAIModel, 0, cfg.AdvisorMaxSignals)
		h.SetAdvisor(adv)
	} else {
		logger.Info().Msg("OPENAI_API_KEY not set, advisor disabled")
	}

	var botAdvisor bot.Advisor
	if adv != nil {
		botAdvisor = adv
	}
	n, err := startTelegramBotFunc(ctx, bot.Config{Token: cfg.TelegramBotToken, ChatID: cfg.TelegramChatID}, logger, a.Intel, botAdvisor)
	if err != nil {
		logger.Error().Err(err).Msg("telegram bot failed to start")
	} else if n != nil {
		a.Intel.SetNotifier(n)
	}

	janitor := job.NewCacheJanitor(tracer, logger, a.Cache, cfg.CacheJanitorInterval)
	startJobFunc(janitor.Start, ctx)
	var archiver job.SignalArchiver
	if a.SignalRepo != nil {
		archiver = a.SignalRepo
	}
	archive := job.NewSignalArchiveJob(tracer, logger, a.Signals, archiver, cfg.ArchiveInterval)
	startJobFunc(archive.Start, ctx)

	r := newRouterFunc()
	r.Use(otelgin.Middleware(serviceName))
	h.RegisterRoutes(r, cfg.APIKey)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	logger.Info().Msg("shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server exiting")
}
