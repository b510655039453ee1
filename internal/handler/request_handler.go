package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-leave-api/internal/dto"
	"github.com/noah-isme/campus-leave-api/internal/models"
	appErrors "github.com/noah-isme/campus-leave-api/pkg/errors"
	"github.com/noah-isme/campus-leave-api/pkg/response"
)

type leaveRequestService interface {
	Create(ctx context.Context, studentID string, req dto.CreateLeaveRequest) (*models.LeaveRequest, error)
	Decide(ctx context.Context, id string, actor *models.JWTClaims, req dto.DecideLeaveRequest) (*models.LeaveRequest, error)
	RecordReturn(ctx context.Context, id string, req dto.RecordReturnRequest) (*models.LeaveRequest, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.LeaveRequest, error)
	ListForStudent(ctx context.Context, query dto.LeaveRequestQuery, actor *models.JWTClaims) ([]models.LeaveRequest, error)
	Queue(ctx context.Context, actor *models.JWTClaims) ([]models.LeaveRequest, error)
	GatePass(ctx context.Context, id string, actor *models.JWTClaims) ([]byte, error)
}

// RequestHandler exposes the outing/outpass workflow.
type RequestHandler struct {
	service leaveRequestService
}

// NewRequestHandler constructs the handler.
func NewRequestHandler(svc leaveRequestService) *RequestHandler {
	return &RequestHandler{service: svc}
}

// Create godoc
// @Summary Submit an outing or outpass request
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.CreateLeaveRequest true "Leave request"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateLeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid leave request payload"))
		return
	}
	created, err := h.service.Create(c.Request.Context(), claims.StudentID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// Decide godoc
// @Summary Approve or reject a pending request at the caller's level
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecideLeaveRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/decision [post]
func (h *RequestHandler) Decide(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.DecideLeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}
	updated, err := h.service.Decide(c.Request.Context(), c.Param("id"), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated)
}

// RecordReturn godoc
// @Summary Record the actual return of an approved outpass
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.RecordReturnRequest false "Return time"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/return [post]
func (h *RequestHandler) RecordReturn(c *gin.Context) {
	var req dto.RecordReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid return payload"))
		return
	}
	updated, err := h.service.RecordReturn(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated)
}

// Get godoc
// @Summary Get a single request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	req, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req)
}

// List godoc
// @Summary List requests with derived expiry and timing
// @Tags Requests
// @Produce json
// @Param studentId query string false "Student ID"
// @Param kind query string false "outing or outpass"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.LeaveRequestQuery{StudentID: strings.TrimSpace(c.Query("studentId"))}
	if kind := strings.ToLower(strings.TrimSpace(c.Query("kind"))); kind != "" {
		query.Kind = models.LeaveKind(kind)
		if !query.Kind.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "kind must be outing or outpass"))
			return
		}
	}
	items, err := h.service.ListForStudent(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, map[string]interface{}{"count": len(items)})
}

// Queue godoc
// @Summary List pending requests awaiting the caller's approval level
// @Tags Requests
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /requests/queue [get]
func (h *RequestHandler) Queue(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	items, err := h.service.Queue(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, map[string]interface{}{"count": len(items), "level": claims.Role})
}

// GatePass godoc
// @Summary Download the PDF gate pass of an approved request
// @Tags Requests
// @Produce application/pdf
// @Param id path string true "Request ID"
// @Success 200 {file} file
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/pass [get]
func (h *RequestHandler) GatePass(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id := c.Param("id")
	body, err := h.service.GatePass(c.Request.Context(), id, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, "gate-pass-"+id+".pdf", "application/pdf", body)
}
