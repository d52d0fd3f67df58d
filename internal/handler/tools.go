package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"smartflow/internal/service"
	"smartflow/internal/toolclient"
)

// ListTools godoc
// @Summary      List remote tools and their credit cost
// @Tags         tools
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/tools [get]
func (h *Handler) ListTools(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.list-tools")
	defer span.End()

	tools := h.intel.ListTools()
	if tools == nil {
		tools = []toolclient.ToolInfo{}
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled": h.intel.GovernanceStats().ToolsEnabled,
		"tools":   tools,
	})
}

// CallTool godoc
// @Summary      Call a remote tool through the rate limiter and cache
// @Description  The body is the tool's argument object and may be empty.
// @Tags         tools
// @Accept       json
// @Produce      json
// @Param        name  path      string                  true   "Tool name"
// @Param        body  body      map[string]interface{}  false  "Tool arguments"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Failure      503   {object}  map[string]string
// @Failure      504   {object}  map[string]string
// @Router       /api/tools/{name}/call [post]
func (h *Handler) CallTool(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.call-tool")
	defer span.End()

	name := c.Param("name")
	span.SetAttributes(attribute.String("tool.name", name))

	var args map[string]any
	if err := c.ShouldBindJSON(&args); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	raw, err := h.intel.CallTool(ctx, name, args)
	if err != nil {
		span.RecordError(err)
		c.JSON(toolStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func toolStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrToolsDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, toolclient.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, toolclient.ErrHTTP), errors.Is(err, toolclient.ErrRPC),
		errors.Is(err, toolclient.ErrProtocol), errors.Is(err, toolclient.ErrTool),
		errors.Is(err, toolclient.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
