package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/file-converter/internal/service/conversion"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// ToolHandler serves the tool catalog.
type ToolHandler struct {
	service conversion.Converter
	logger  logger.Logger
}

func NewToolHandler(service conversion.Converter, log logger.Logger) *ToolHandler {
	return &ToolHandler{service: service, logger: log.Named("http")}
}

func (h *ToolHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": h.service.Tools()})
}

func (h *ToolHandler) Get(c *gin.Context) {
	def, err := h.service.Tool(c.Param("toolId"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, def)
}
