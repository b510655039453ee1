package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-leave-api/internal/dto"
	appErrors "github.com/noah-isme/campus-leave-api/pkg/errors"
	"github.com/noah-isme/campus-leave-api/pkg/response"
	"github.com/noah-isme/campus-leave-api/pkg/tabular"
)

type ingestionService interface {
	Submit(ctx context.Context, req dto.SubmitIngestionRequest, actorID string) (*dto.SubmitIngestionResponse, error)
	SubmitDataset(ctx context.Context, target string, data tabular.Dataset, actorID string) (*dto.SubmitIngestionResponse, error)
	GetProgress(ctx context.Context, id string) (*dto.IngestionProgressResponse, error)
	FailuresCSV(ctx context.Context, id string) ([]byte, error)
}

// IngestionHandler exposes bulk CSV uploads and their progress.
type IngestionHandler struct {
	service        ingestionService
	maxUploadBytes int64
	maxRows        int
}

// NewIngestionHandler constructs the handler.
func NewIngestionHandler(svc ingestionService, maxUploadBytes int64, maxRows int) *IngestionHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	if maxRows <= 0 {
		maxRows = 5000
	}
	return &IngestionHandler{service: svc, maxUploadBytes: maxUploadBytes, maxRows: maxRows}
}

// Upload godoc
// @Summary Start a bulk ingestion job
// @Description Accepts multipart `file` (CSV with header row) plus `target`, or JSON {target, rows}.
// @Tags Ingestion
// @Accept multipart/form-data
// @Accept json
// @Produce json
// @Param target formData string false "Ingestion target (students, grades)"
// @Param file formData file false "CSV file"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /ingestion/uploads [post]
func (h *IngestionHandler) Upload(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	var (
		result *dto.SubmitIngestionResponse
		err    error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		result, err = h.uploadCSV(c, claims.UserID)
	} else {
		var req dto.SubmitIngestionRequest
		if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
			response.Error(c, uploadError(bindErr, "invalid ingestion payload"))
			return
		}
		result, err = h.service.Submit(c.Request.Context(), req, claims.UserID)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, result)
}

func (h *IngestionHandler) uploadCSV(c *gin.Context, actorID string) (*dto.SubmitIngestionResponse, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, uploadError(err, "file is required")
	}
	target := strings.TrimSpace(c.PostForm("target"))
	if target == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "target is required")
	}
	src, err := fileHeader.Open()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	defer src.Close()

	data, err := tabular.Decode(src, h.maxRows)
	if err != nil {
		if errors.Is(err, tabular.ErrTooManyRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "upload exceeds the row limit")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid csv: "+err.Error())
	}
	return h.service.SubmitDataset(c.Request.Context(), target, data, actorID)
}

func uploadError(err error, message string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
		return appErrors.ErrPayloadTooLarge
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

// Progress godoc
// @Summary Poll ingestion progress
// @Tags Ingestion
// @Produce json
// @Param processId path string true "Process ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /ingestion/uploads/{processId} [get]
func (h *IngestionHandler) Progress(c *gin.Context) {
	progress, err := h.service.GetProgress(c.Request.Context(), c.Param("processId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, progress)
}

// Failures godoc
// @Summary Download failed rows as CSV
// @Tags Ingestion
// @Produce text/csv
// @Param processId path string true "Process ID"
// @Success 200 {file} file
// @Router /ingestion/uploads/{processId}/failures.csv [get]
func (h *IngestionHandler) Failures(c *gin.Context) {
	id := c.Param("processId")
	body, err := h.service.FailuresCSV(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, "ingestion-"+id+"-failures.csv", "text/csv; charset=utf-8", body)
}
