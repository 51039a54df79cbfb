package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"jan-server/services/upload-api/internal/config"
	domain "jan-server/services/upload-api/internal/domain/media"
	"jan-server/services/upload-api/internal/infrastructure/auth"
	"jan-server/services/upload-api/internal/infrastructure/metrics"
	"jan-server/services/upload-api/internal/interfaces/httpserver/requests"
	"jan-server/services/upload-api/internal/interfaces/httpserver/responses"
	"jan-server/services/upload-api/utils/platformerrors"
)

// UploadHandler exposes the upload coordination endpoints.
type UploadHandler struct {
	cfg     *config.Config
	service *domain.Service
	log     zerolog.Logger
}

func NewUploadHandler(cfg *config.Config, service *domain.Service, log zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		cfg:     cfg,
		service: service,
		log:     log.With().Str("component", "upload-handler").Logger(),
	}
}

// Initiate godoc
// @Summary      Initiate an upload
// @Description  Validates the file declaration and returns presigned write credentials. Replays with the same idempotency key return the original ticket.
// @Tags         media
// @Accept       json
// @Produce      json
// @Param        request  body      requests.InitiateUploadRequest  true  "File declaration"
// @Success      200      {object}  responses.InitiateUploadResponse
// @Failure      400      {object}  responses.ErrorResponse
// @Failure      409      {object}  responses.ErrorResponse
// @Security     BearerAuth
// @Router       /v1/media/initiate [post]
func (h *UploadHandler) Initiate(c *gin.Context) {
	var req requests.InitiateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, err.Error(), "c2a7e6a1-53d8-4f2e-9a41-8b3f6c2d9e07")
		return
	}

	result, err := h.service.Initiate(c.Request.Context(), *req.ToDomain(auth.OwnerID(c)))
	if err != nil {
		metrics.RecordInitiation("unknown", "rejected")
		responses.HandleError(c, err, "failed to initiate upload")
		return
	}

	mode := "simple"
	if result.Record.IsMultipart() {
		mode = "multipart"
	}
	metrics.RecordInitiation(mode, "accepted")
	c.JSON(http.StatusOK, responses.BuildInitiateUploadResponse(result))
}

// PartURL godoc
// @Summary      Re-issue a part upload URL
// @Description  Returns a fresh presigned URL for one part of an in-flight multipart upload.
// @Tags         media
// @Produce      json
// @Param        id          path      string  true  "Media ID"
// @Param        partNumber  path      int     true  "Part number (1-indexed)"
// @Success      200         {object}  responses.PartURLIssueResponse
// @Failure      400         {object}  responses.ErrorResponse
// @Failure      404         {object}  responses.ErrorResponse
// @Security     BearerAuth
// @Router       /v1/media/{id}/parts/{partNumber}/url [get]
func (h *UploadHandler) PartURL(c *gin.Context) {
	mediaID := c.Param("id")
	partNumber, err := strconv.Atoi(c.Param("partNumber"))
	if err != nil || partNumber < 1 {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "part number must be a positive integer", "7f4b9c3e-8a15-42d6-b7c9-e1a2d5f48390")
		return
	}

	part, err := h.service.PartUploadURL(c.Request.Context(), auth.OwnerID(c), mediaID, partNumber)
	if err != nil {
		responses.HandleError(c, err, "failed to issue part upload url")
		return
	}

	c.JSON(http.StatusOK, responses.BuildPartURLIssueResponse(mediaID, part))
}

// Finalize godoc
// @Summary      Finalize an upload
// @Description  Assembles the uploaded parts, verifies the stored object size, and hands the media off for analysis.
// @Tags         media
// @Accept       json
// @Produce      json
// @Param        id       path      string                          true  "Media ID"
// @Param        request  body      requests.FinalizeUploadRequest  true  "Uploaded parts"
// @Success      200      {object}  responses.FinalizeUploadResponse
// @Failure      400      {object}  responses.ErrorResponse
// @Failure      403      {object}  responses.ErrorResponse
// @Failure      410      {object}  responses.ErrorResponse
// @Security     BearerAuth
// @Router       /v1/media/{id}/finalize [put]
func (h *UploadHandler) Finalize(c *gin.Context) {
	mediaID := c.Param("id")

	var req requests.FinalizeUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, err.Error(), "3e8d2f71-9c4a-4b6e-8f25-a7d1c9e3b560")
		return
	}

	result, err := h.service.Finalize(c.Request.Context(), *req.ToDomain(auth.OwnerID(c), mediaID))
	if err != nil {
		metrics.RecordFinalize("failed", "", 0)
		responses.HandleError(c, err, "failed to finalize upload")
		return
	}

	metrics.RecordFinalize(string(result.Status), result.Record.ContentType, result.Record.FileSize)
	c.JSON(http.StatusOK, responses.BuildFinalizeUploadResponse(mediaID, result))
}

// Status godoc
// @Summary      Get upload status
// @Description  Read-only projection of the media record for client polling.
// @Tags         media
// @Produce      json
// @Param        id   path      string  true  "Media ID"
// @Success      200  {object}  responses.MediaStatusResponse
// @Failure      404  {object}  responses.ErrorResponse
// @Security     BearerAuth
// @Router       /v1/media/{id} [get]
func (h *UploadHandler) Status(c *gin.Context) {
	record, err := h.service.Get(c.Request.Context(), auth.OwnerID(c), c.Param("id"))
	if err != nil {
		responses.HandleError(c, err, "failed to get media status")
		return
	}

	c.JSON(http.StatusOK, responses.BuildMediaStatusResponse(record))
}

// Abort godoc
// @Summary      Abort an upload
// @Description  Best-effort cleanup of the remote multipart session; the record is marked failed.
// @Tags         media
// @Accept       json
// @Produce      json
// @Param        id       path      string                       true   "Media ID"
// @Param        request  body      requests.AbortUploadRequest  false  "Advisory session token"
// @Success      200      {object}  responses.AbortUploadResponse
// @Failure      404      {object}  responses.ErrorResponse
// @Security     BearerAuth
// @Router       /v1/media/{id}/abort [post]
func (h *UploadHandler) Abort(c *gin.Context) {
	mediaID := c.Param("id")

	var req requests.AbortUploadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			responses.HandleNewError(c, platformerrors.ErrorTypeValidation, err.Error(), "a94f7c28-1e6b-4d3a-b8e5-2c7f9a1d4e63")
			return
		}
	}

	status, err := h.service.Abort(c.Request.Context(), auth.OwnerID(c), mediaID)
	if err != nil {
		responses.HandleError(c, err, "failed to abort upload")
		return
	}

	c.JSON(http.StatusOK, responses.AbortUploadResponse{
		MediaID: mediaID,
		Status:  string(status),
	})
}

// Download godoc
// @Summary      Get a download URL
// @Description  Returns a short-lived presigned read URL once the object is verified.
// @Tags         media
// @Produce      json
// @Param        id   path      string  true  "Media ID"
// @Success      200  {object}  responses.DownloadURLResponse
// @Failure      404  {object}  responses.ErrorResponse
// @Failure      409  {object}  responses.ErrorResponse
// @Security     BearerAuth
// @Router       /v1/media/{id}/download [get]
func (h *UploadHandler) Download(c *gin.Context) {
	mediaID := c.Param("id")

	grant, err := h.service.PresignDownload(c.Request.Context(), auth.OwnerID(c), mediaID)
	if err != nil {
		responses.HandleError(c, err, "failed to presign download")
		return
	}

	c.JSON(http.StatusOK, responses.BuildDownloadURLResponse(mediaID, grant))
}
