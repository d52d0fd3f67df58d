package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Governance godoc
// @Summary      Rate limiter, cache and signal log statistics
// @Tags         governance
// @Produce      json
// @Success      200  {object}  service.Governance
// @Router       /api/governance [get]
func (h *Handler) Governance(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.governance")
	defer span.End()

	c.JSON(http.StatusOK, h.intel.GovernanceStats())
}

// SignalPerformance godoc
// @Summary      Realised performance per chain and mode
// @Description  Aggregated from the Postgres archive.
// @Tags         signals
// @Produce      json
// @Success      200  {array}   repository.ModePerformance
// @Failure      503  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/signals/performance [get]
func (h *Handler) SignalPerformance(c *gin.Context) {
	if h.performance == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signal archive unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.signal-performance")
	defer span.End()

	rows, err := h.performance.ModePerformance(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

// AdvisorBrief godoc
// @Summary      Generate an operator briefing from the signal log
// @Tags         advisor
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/advisor/brief [post]
func (h *Handler) AdvisorBrief(c *gin.Context) {
	if h.advisor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "advisor unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.advisor-brief")
	defer span.End()

	brief, err := h.advisor.Brief(ctx)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"brief": brief})
}
