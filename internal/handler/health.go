package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthResponse reports liveness plus the state of the governance core.
type HealthResponse struct {
	Status        string  `json:"status"`
	Signals       int     `json:"signals"`
	SignalLogPath string  `json:"signalLogPath,omitempty"`
	TokensLeft    float64 `json:"tokensLeft"`
	CacheEntries  int     `json:"cacheEntries"`
	ToolsEnabled  bool    `json:"toolsEnabled"`
}

// Health godoc
// @Summary      Health check
// @Description  Returns liveness, signal log size and rate limiter headroom
// @Tags         health
// @Produce      json
// @Success      200  {object}  HealthResponse
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	resp := HealthResponse{Status: "healthy"}
	if h.intel != nil {
		gov := h.intel.GovernanceStats()
		resp.Signals = gov.Signals.TotalSignals
		resp.SignalLogPath = h.intel.Signals().Path()
		resp.TokensLeft = gov.RateLimit.CurrentTokens
		resp.CacheEntries = gov.CacheEntries
		resp.ToolsEnabled = gov.ToolsEnabled
	}
	c.JSON(http.StatusOK, resp)
}
