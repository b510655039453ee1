package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-leave-api/internal/dto"
	"github.com/noah-isme/campus-leave-api/internal/middleware"
	"github.com/noah-isme/campus-leave-api/internal/models"
	appErrors "github.com/noah-isme/campus-leave-api/pkg/errors"
)

type requestServiceMock struct {
	created   *models.LeaveRequest
	createErr error
	studentID string
	decided   *models.LeaveRequest
	decideErr error
	decision  dto.DecideLeaveRequest
	returnReq dto.RecordReturnRequest
	list      []models.LeaveRequest
	listQuery dto.LeaveRequestQuery
	pdf       []byte
	passErr   error
}

func (m *requestServiceMock) Create(ctx context.Context, studentID string, req dto.CreateLeaveRequest) (*models.LeaveRequest, error) {
	m.studentID = studentID
	return m.created, m.createErr
}

func (m *requestServiceMock) Decide(ctx context.Context, id string, actor *models.JWTClaims, req dto.DecideLeaveRequest) (*models.LeaveRequest, error) {
	m.decision = req
	return m.decided, m.decideErr
}

func (m *requestServiceMock) RecordReturn(ctx context.Context, id string, req dto.RecordReturnRequest) (*models.LeaveRequest, error) {
	m.returnReq = req
	return &models.LeaveRequest{ID: id, InTime: req.InTime}, nil
}

func (m *requestServiceMock) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.LeaveRequest, error) {
	return nil, appErrors.Clone(appErrors.ErrNotFound, "leave request not found")
}

func (m *requestServiceMock) ListForStudent(ctx context.Context, query dto.LeaveRequestQuery, actor *models.JWTClaims) ([]models.LeaveRequest, error) {
	m.listQuery = query
	return m.list, nil
}

func (m *requestServiceMock) Queue(ctx context.Context, actor *models.JWTClaims) ([]models.LeaveRequest, error) {
	return m.list, nil
}

func (m *requestServiceMock) GatePass(ctx context.Context, id string, actor *models.JWTClaims) ([]byte, error) {
	return m.pdf, m.passErr
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope
}

func TestRequestHandlerCreateUsesTokenStudent(t *testing.T) {
	level := models.RoleWarden
	svc := &requestServiceMock{created: &models.LeaveRequest{ID: "req-1", Status: models.LeaveStatusPending, CurrentLevel: &level}}
	handler := NewRequestHandler(svc)

	payload, _ := json.Marshal(dto.CreateLeaveRequest{Kind: models.LeaveKindOutpass, From: "2026-03-03", To: "2026-03-06", Reason: "visit"})
	c, w := newGinContext(http.MethodPost, "/requests", payload)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u-1", Role: models.RoleStudent, StudentID: "stu-1"})

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "stu-1", svc.studentID)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, "warden", data["currentLevel"])
}

func TestRequestHandlerCreateRequiresClaims(t *testing.T) {
	handler := NewRequestHandler(&requestServiceMock{})
	c, w := newGinContext(http.MethodPost, "/requests", []byte(`{}`))

	handler.Create(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestHandlerCreateConflict(t *testing.T) {
	svc := &requestServiceMock{createErr: appErrors.Clone(appErrors.ErrConflict, "a pending outpass request already exists")}
	handler := NewRequestHandler(svc)
	c, w := newGinContext(http.MethodPost, "/requests", []byte(`{"kind":"outpass","from":"2026-03-03","to":"2026-03-04","reason":"x"}`))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u-1", Role: models.RoleStudent, StudentID: "stu-1"})

	handler.Create(c)
	require.Equal(t, http.StatusConflict, w.Code)
	errBody := decodeEnvelope(t, w)["error"].(map[string]interface{})
	assert.Equal(t, "CONFLICT", errBody["code"])
}

func TestRequestHandlerDecideMapsAlreadyFinalized(t *testing.T) {
	svc := &requestServiceMock{decideErr: appErrors.ErrAlreadyFinalized}
	handler := NewRequestHandler(svc)
	c, w := newGinContext(http.MethodPost, "/requests/req-1/decision", []byte(`{"action":"approve"}`))
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u-2", Role: models.RoleWarden})

	handler.Decide(c)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "approve", svc.decision.Action)
	assert.Equal(t, "ALREADY_FINALIZED", decodeEnvelope(t, w)["error"].(map[string]interface{})["code"])
}

func TestRequestHandlerRecordReturnAcceptsEmptyBody(t *testing.T) {
	svc := &requestServiceMock{}
	handler := NewRequestHandler(svc)

	c, w := newGinContext(http.MethodPost, "/requests/req-1/return", nil)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	handler.RecordReturn(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, svc.returnReq.InTime)

	c, w = newGinContext(http.MethodPost, "/requests/req-1/return", []byte(`{"inTime":"2026-03-06T02:00:00Z"}`))
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	handler.RecordReturn(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.returnReq.InTime)
	assert.True(t, svc.returnReq.InTime.Equal(time.Date(2026, 3, 6, 2, 0, 0, 0, time.UTC)))
}

func TestRequestHandlerListFilters(t *testing.T) {
	svc := &requestServiceMock{list: []models.LeaveRequest{{ID: "req-1", Expired: true}}}
	handler := NewRequestHandler(svc)

	c, w := newGinContext(http.MethodGet, "/requests?studentId=stu-1&kind=Outing", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u-2", Role: models.RoleWarden})
	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, dto.LeaveRequestQuery{StudentID: "stu-1", Kind: models.LeaveKindOuting}, svc.listQuery)
	envelope := decodeEnvelope(t, w)
	assert.Equal(t, float64(1), envelope["meta"].(map[string]interface{})["count"])
	assert.Equal(t, true, envelope["data"].([]interface{})[0].(map[string]interface{})["expired"])

	c, w = newGinContext(http.MethodGet, "/requests?kind=holiday", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u-2", Role: models.RoleWarden})
	handler.List(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestHandlerGetNotFound(t *testing.T) {
	handler := NewRequestHandler(&requestServiceMock{})
	c, w := newGinContext(http.MethodGet, "/requests/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u-2", Role: models.RoleWarden})

	handler.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestHandlerGatePass(t *testing.T) {
	handler := NewRequestHandler(&requestServiceMock{pdf: []byte("%PDF-1.3")})
	c, w := newGinContext(http.MethodGet, "/requests/req-1/pass", nil)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u-1", Role: models.RoleStudent, StudentID: "stu-1"})

	handler.GatePass(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "gate-pass-req-1.pdf")
}
