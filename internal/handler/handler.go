package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"smartflow/internal/repository"
	"smartflow/internal/service"
)

// Briefer writes the advisor's operator briefing.
type Briefer interface {
	Brief(ctx context.Context) (string, error)
}

// PerformanceReader aggregates archived outcomes.
type PerformanceReader interface {
	ModePerformance(ctx context.Context) ([]repository.ModePerformance, error)
}

type Handler struct {
	tracer      trace.Tracer
	intel       *service.IntelService
	advisor     Briefer
	performance PerformanceReader
	metrics     http.Handler
}

func New(tracer trace.Tracer, intel *service.IntelService) *Handler {
	return &Handler{
		tracer: tracer,
		intel:  intel,
	}
}

func (h *Handler) SetAdvisor(advisor Briefer) {
	h.advisor = advisor
}

func (h *Handler) SetPerformanceReader(performance PerformanceReader) {
	h.performance = performance
}

func (h *Handler) SetMetricsHandler(metrics http.Handler) {
	h.metrics = metrics
}

// RegisterRoutes mounts the API. Routes under /api require apiKey when it
// is non-empty.
func (h *Handler) RegisterRoutes(r *gin.Engine, apiKey string) {
	r.GET("/health", h.Health)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := r.Group("/api", APIKeyAuth(apiKey))
	api.GET("/signals", h.ListSignals)
	api.POST("/signals", h.LogSignals)
	api.GET("/signals/stats", h.SignalStats)
	api.GET("/signals/export", h.ExportSignals)
	api.GET("/signals/performance", h.SignalPerformance)
	api.GET("/signals/:id", h.GetSignal)
	api.POST("/signals/:id/acted", h.MarkActed)
	api.POST("/signals/:id/outcome", h.RecordOutcome)
	api.GET("/tokens/:token/signals", h.TokenHistory)
	api.GET("/tools", h.ListTools)
	api.POST("/tools/:name/call", h.CallTool)
	api.GET("/governance", h.Governance)
	api.POST("/advisor/brief", h.AdvisorBrief)
}
