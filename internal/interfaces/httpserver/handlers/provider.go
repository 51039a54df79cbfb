package handlers

import (
	"github.com/rs/zerolog"

	"jan-server/services/upload-api/internal/config"
	domain "jan-server/services/upload-api/internal/domain/media"
)

// Provider wires HTTP handlers.
type Provider struct {
	Upload   *UploadHandler
	Analysis *AnalysisHandler
}

func NewProvider(cfg *config.Config, service *domain.Service, log zerolog.Logger) *Provider {
	return &Provider{
		Upload:   NewUploadHandler(cfg, service, log),
		Analysis: NewAnalysisHandler(service, log),
	}
}
