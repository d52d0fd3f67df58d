package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"smartflow/internal/domain"
	"smartflow/internal/service"
	"smartflow/internal/signallog"
)

type logSignalsRequest struct {
	Signals []domain.OpportunitySignal `json:"signals" binding:"required,min=1,dive"`
}

type markActedRequest struct {
	Action domain.Action `json:"action" binding:"required,oneof=buy sell skip watch"`
	Notes  string        `json:"notes"`
}

type recordOutcomeRequest struct {
	EntryPrice *float64 `json:"entryPrice"`
	ExitPrice  *float64 `json:"exitPrice"`
	PnL        *float64 `json:"pnl"`
	Notes      *string  `json:"notes"`
	// AtMarket quotes the token now and records it as the "entry" or "exit" leg.
	AtMarket string `json:"atMarket"`
}

// ListSignals godoc
// @Summary      Query the signal log
// @Description  Returns logged signals in insertion order. Chain and mode accept comma-separated lists.
// @Tags         signals
// @Produce      json
// @Param        chain      query  string  false  "Chains (comma-separated)"
// @Param        mode       query  string  false  "Signal types (comma-separated)"
// @Param        min_score  query  number  false  "Minimum score"
// @Param        max_score  query  number  false  "Maximum score"
// @Param        acted      query  bool    false  "Acted-on filter"
// @Param        limit      query  int     false  "Maximum records"
// @Success      200  {array}   domain.LoggedSignal
// @Failure      400  {object}  map[string]string
// @Router       /api/signals [get]
func (h *Handler) ListSignals(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.list-signals")
	defer span.End()

	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	records := h.intel.FindSignals(filter)
	span.SetAttributes(attribute.Int("signals", len(records)))
	c.JSON(http.StatusOK, records)
}

// LogSignals godoc
// @Summary      Log scanner signals
// @Description  Idempotently logs a batch of opportunity signals. Signals seen within the recent window are skipped.
// @Tags         signals
// @Accept       json
// @Produce      json
// @Param        body  body      logSignalsRequest  true  "Signals to log"
// @Success      200   {object}  service.IngestResult
// @Failure      400   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/signals [post]
func (h *Handler) LogSignals(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.log-signals")
	defer span.End()

	var req logSignalsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.intel.RecordSignals(ctx, req.Signals)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// SignalStats godoc
// @Summary      Signal log statistics
// @Tags         signals
// @Produce      json
// @Success      200  {object}  signallog.Stats
// @Router       /api/signals/stats [get]
func (h *Handler) SignalStats(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.signal-stats")
	defer span.End()

	c.JSON(http.StatusOK, h.intel.SignalStats())
}

// ExportSignals godoc
// @Summary      Export the signal log as JSON
// @Description  Accepts the same filters as GET /api/signals.
// @Tags         signals
// @Produce      json
// @Success      200  {array}   domain.LoggedSignal
// @Failure      400  {object}  map[string]string
// @Router       /api/signals/export [get]
func (h *Handler) ExportSignals(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.export-signals")
	defer span.End()

	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	data, err := h.intel.ExportSignals(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="signals.json"`)
	c.Data(http.StatusOK, "application/json", data)
}

// GetSignal godoc
// @Summary      Get one logged signal
// @Tags         signals
// @Produce      json
// @Param        id   path      string  true  "Signal id"
// @Success      200  {object}  domain.LoggedSignal
// @Failure      404  {object}  map[string]string
// @Router       /api/signals/{id} [get]
func (h *Handler) GetSignal(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-signal")
	defer span.End()

	id := c.Param("id")
	span.SetAttributes(attribute.String("signal.id", id))
	rec, err := h.intel.GetSignal(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// MarkActed godoc
// @Summary      Record the action taken on a signal
// @Tags         signals
// @Accept       json
// @Produce      json
// @Param        id    path      string            true  "Signal id"
// @Param        body  body      markActedRequest  true  "Action"
// @Success      200   {object}  domain.LoggedSignal
// @Failure      400   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Router       /api/signals/{id}/acted [post]
func (h *Handler) MarkActed(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.mark-acted")
	defer span.End()

	var req markActedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.intel.MarkActed(ctx, c.Param("id"), req.Action, req.Notes)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// RecordOutcome godoc
// @Summary      Record prices and pnl for a signal
// @Description  Explicit pnl wins over prices. Set atMarket to "entry" or "exit" to quote the token now.
// @Tags         signals
// @Accept       json
// @Produce      json
// @Param        id    path      string                true  "Signal id"
// @Param        body  body      recordOutcomeRequest  true  "Outcome"
// @Success      200   {object}  domain.LoggedSignal
// @Failure      400   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Failure      503   {object}  map[string]string
// @Router       /api/signals/{id}/outcome [post]
func (h *Handler) RecordOutcome(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.record-outcome")
	defer span.End()

	var req recordOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	var (
		rec domain.LoggedSignal
		err error
	)
	switch {
	case req.AtMarket != "":
		rec, err = h.intel.RecordOutcomeAtMarket(ctx, id, req.AtMarket)
	case req.EntryPrice == nil && req.ExitPrice == nil && req.PnL == nil && req.Notes == nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to record"})
		return
	default:
		rec, err = h.intel.RecordOutcome(ctx, id, signallog.OutcomeUpdate{
			EntryPrice: req.EntryPrice,
			ExitPrice:  req.ExitPrice,
			PnL:        req.PnL,
			Notes:      req.Notes,
		})
	}
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// TokenHistory godoc
// @Summary      Every signal logged for a token
// @Tags         signals
// @Produce      json
// @Param        token  path      string  true   "Token address"
// @Param        chain  query     string  false  "Restrict to one chain"
// @Success      200    {array}   domain.LoggedSignal
// @Router       /api/tokens/{token}/signals [get]
func (h *Handler) TokenHistory(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.token-history")
	defer span.End()

	token := c.Param("token")
	span.SetAttributes(attribute.String("token", token))
	c.JSON(http.StatusOK, h.intel.TokenHistory(token, c.Query("chain")))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrSignalNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidLeg):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNoPriceSource), errors.Is(err, service.ErrToolsDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseFilter(c *gin.Context) (signallog.Filter, error) {
	f := signallog.Filter{
		Chains: splitList(c.QueryArray("chain")),
		Modes:  splitList(c.QueryArray("mode")),
	}
	var err error
	if f.MinScore, err = parseFloatParam(c, "min_score"); err != nil {
		return f, err
	}
	if f.MaxScore, err = parseFloatParam(c, "max_score"); err != nil {
		return f, err
	}
	if v := c.Query("acted"); v != "" {
		acted, perr := strconv.ParseBool(v)
		if perr != nil {
			return f, fmt.Errorf("invalid acted: %q", v)
		}
		f.Acted = &acted
	}
	if v := c.Query("limit"); v != "" {
		limit, perr := strconv.Atoi(v)
		if perr != nil || limit < 0 {
			return f, fmt.Errorf("invalid limit: %q", v)
		}
		f.Limit = limit
	}
	return f, nil
}

func parseFloatParam(c *gin.Context, name string) (*float64, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q", name, v)
	}
	return &f, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
