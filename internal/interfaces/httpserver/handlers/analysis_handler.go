package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"jan-server/services/upload-api/internal/domain/media"
	"jan-server/services/upload-api/internal/interfaces/httpserver/requests"
	"jan-server/services/upload-api/internal/interfaces/httpserver/responses"
	"jan-server/services/upload-api/utils/platformerrors"
)

// AnalysisHandler receives processing outcomes reported back by the
// analysis pipeline once a dispatched media item has been examined.
type AnalysisHandler struct {
	service *media.Service
	log     zerolog.Logger
}

func NewAnalysisHandler(service *media.Service, log zerolog.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		service: service,
		log:     log.With().Str("component", "analysis-handler").Logger(),
	}
}

// Result godoc
// @Summary Report an analysis result
// @Description Records the outcome of downstream analysis for a media item and settles its terminal status.
// @Tags analysis
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Media ID"
// @Param request body requests.AnalysisResultRequest true "Analysis outcome"
// @Success 200 {object} responses.AnalysisResultResponse
// @Failure 400 {object} responses.ErrorResponse
// @Failure 404 {object} responses.ErrorResponse
// @Failure 409 {object} responses.ErrorResponse
// @Router /v1/media/{id}/analysis [post]
func (h *AnalysisHandler) Result(c *gin.Context) {
	mediaID := c.Param("id")

	var req requests.AnalysisResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, err.Error(), "5b1d8e42-7c3f-4a96-b2e8-d4f61a0c7e35")
		return
	}

	status, err := h.service.RecordAnalysisResult(c.Request.Context(), *req.ToDomain(mediaID))
	if err != nil {
		responses.HandleError(c, err, "failed to record analysis result")
		return
	}

	h.log.Info().
		Str("media_id", mediaID).
		Str("correlation_id", req.CorrelationID).
		Str("status", string(status)).
		Msg("analysis result recorded")
	c.JSON(http.StatusOK, responses.AnalysisResultResponse{
		MediaID: mediaID,
		Status:  string(status),
	})
}
