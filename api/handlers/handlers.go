package handlers

import (
	"github.com/feichai0017/file-converter/internal/service/conversion"
	"github.com/feichai0017/file-converter/pkg/logger"
)

type Handlers struct {
	Conversion *ConversionHandler
	Tools      *ToolHandler
	Health     *HealthHandler
}

func NewHandlers(
	conversionService conversion.Converter,
	health *HealthHandler,
	maxUploadBytes int64,
	log logger.Logger,
) *Handlers {
	return &Handlers{
		Conversion: NewConversionHandler(conversionService, maxUploadBytes, log),
		Tools:      NewToolHandler(conversionService, log),
		Health:     health,
	}
}
