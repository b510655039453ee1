package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-leave-api/internal/dto"
	"github.com/noah-isme/campus-leave-api/internal/models"
	"github.com/noah-isme/campus-leave-api/internal/repository"
	appErrors "github.com/noah-isme/campus-leave-api/pkg/errors"
)

type leaveRepoStub struct {
	mu       sync.Mutex
	requests map[string]*models.LeaveRequest
	filter   models.LeaveRequestFilter
	err      error
}

func newLeaveRepoStub() *leaveRepoStub {
	return &leaveRepoStub{requests: make(map[string]*models.LeaveRequest)}
}

func (r *leaveRepoStub) CreateIfNoPending(ctx context.Context, req *models.LeaveRequest, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	for _, existing := range r.requests {
		if existing.StudentID == req.StudentID && existing.Kind == req.Kind &&
			existing.Status == models.LeaveStatusPending {
			return repository.ErrPendingExists
		}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	stored := *req
	stored.ApprovalLog = append(models.ApprovalLog(nil), req.ApprovalLog...)
	r.requests[req.ID] = &stored
	return nil
}

func (r *leaveRepoStub) GetByID(ctx context.Context, id string) (*models.LeaveRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *req
	copied.ApprovalLog = append(models.ApprovalLog(nil), req.ApprovalLog...)
	return &copied, nil
}

func (r *leaveRepoStub) List(ctx context.Context, filter models.LeaveRequestFilter) ([]models.LeaveRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filter = filter
	result := make([]models.LeaveRequest, 0, len(r.requests))
	for _, req := range r.requests {
		if filter.StudentID != "" && req.StudentID != filter.StudentID {
			continue
		}
		if filter.Level != "" && (req.CurrentLevel == nil || *req.CurrentLevel != filter.Level) {
			continue
		}
		if filter.ActiveAt != nil && !req.To.After(*filter.ActiveAt) {
			continue
		}
		result = append(result, *req)
	}
	return result, nil
}

func (r *leaveRepoStub) ApplyDecision(ctx context.Context, params repository.DecisionParams) (*models.LeaveRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[params.ID]
	if !ok || req.Status != models.LeaveStatusPending || req.CurrentLevel == nil || *req.CurrentLevel != params.ExpectedLevel {
		return nil, sql.ErrNoRows
	}
	req.Status = params.Status
	req.CurrentLevel = params.NextLevel
	req.ApprovalLog = append(req.ApprovalLog, params.Entry)
	if params.IssuedBy != nil {
		req.IssuedBy = params.IssuedBy
		req.IssuedAt = params.IssuedAt
	}
	if params.RejectedBy != nil {
		req.RejectedBy = params.RejectedBy
		req.RejectedAt = params.RejectedAt
	}
	if params.Message != nil {
		req.Message = params.Message
	}
	req.UpdatedAt = params.UpdatedAt
	copied := *req
	return &copied, nil
}

func (r *leaveRepoStub) RecordReturn(ctx context.Context, id string, inTime time.Time) (*models.LeaveRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok || req.Status != models.LeaveStatusApproved || req.InTime != nil {
		return nil, sql.ErrNoRows
	}
	req.InTime = &inTime
	copied := *req
	return &copied, nil
}

type profileStub struct {
	profiles map[string]models.StudentProfile
}

func (p *profileStub) Get(ctx context.Context, studentID string) (*models.StudentProfile, error) {
	profile, ok := p.profiles[studentID]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	return &profile, nil
}

type sentNotification struct {
	recipient string
	template  NotificationTemplate
	data      NotificationData
}

type notifierStub struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *notifierStub) Send(ctx context.Context, recipient string, kind NotificationTemplate, data NotificationData) NotificationResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{recipient: recipient, template: kind, data: data})
	return NotificationResult{Success: true}
}

func (n *notifierStub) templates() []NotificationTemplate {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotificationTemplate, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.template
	}
	return out
}

var requestNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type requestFixture struct {
	svc      *RequestService
	repo     *leaveRepoStub
	notifier *notifierStub
	clock    *time.Time
}

func newRequestFixture(t *testing.T) *requestFixture {
	t.Helper()
	resolver, err := NewRoleResolver(nil)
	require.NoError(t, err)
	repo := newLeaveRepoStub()
	notes := &notifierStub{}
	profiles := &profileStub{profiles: map[string]models.StudentProfile{
		"stu-1": {ID: "stu-1", RollNumber: "R-001", FullName: "Asha Rao", Email: "asha@campus.test"},
		"stu-2": {ID: "stu-2", RollNumber: "R-002", FullName: "Dev Iyer", Email: "dev@campus.test"},
	}}
	clock := requestNow
	fx := &requestFixture{repo: repo, notifier: notes, clock: &clock}
	fx.svc = NewRequestService(repo, resolver, profiles, notes, nil, nil, RequestServiceConfig{
		OutpassMaxDays: 7,
		RoleRecipients: map[models.UserRole]string{
			models.RoleWarden: "warden@campus.test",
			models.RoleDean:   "dean@campus.test",
		},
	}, WithRequestClock(func() time.Time { return *fx.clock }))
	return fx
}

func studentClaims(studentID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-" + studentID, Role: models.RoleStudent, StudentID: studentID}
}

func approverClaims(role models.UserRole) *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-" + string(role), Role: role}
}

func outpassPayload() dto.CreateLeaveRequest {
	return dto.CreateLeaveRequest{Kind: models.LeaveKindOutpass, From: "2026-03-03", To: "2026-03-06", Reason: "family visit"}
}

func outingPayload() dto.CreateLeaveRequest {
	return dto.CreateLeaveRequest{Kind: models.LeaveKindOuting, Date: "2026-03-02", From: "10:00", To: "18:00", Reason: "market"}
}

func assertLevelMatchesStatus(t *testing.T, req *models.LeaveRequest) {
	t.Helper()
	if req.Status == models.LeaveStatusPending {
		require.NotNil(t, req.CurrentLevel)
	} else {
		require.Nil(t, req.CurrentLevel)
	}
}

func TestRequestServiceOutpassFullChain(t *testing.T) {
	fx := newRequestFixture(t)
	ctx := context.Background()

	created, err := fx.svc.Create(ctx, "stu-1", outpassPayload())
	require.NoError(t, err)
	require.Equal(t, models.LeaveStatusPending, created.Status)
	require.Equal(t, models.RoleWarden, *created.CurrentLevel)
	require.Len(t, created.ApprovalLog, 1)
	require.Equal(t, models.ApprovalActionCreate, created.ApprovalLog[0].Action)
	require.Equal(t, models.RoleSystem, created.ApprovalLog[0].Role)
	require.False(t, created.Expired)
	require.Equal(t, 3, created.Timing.Days)

	escalated, err := fx.svc.Decide(ctx, created.ID, approverClaims(models.RoleWarden), dto.DecideLeaveRequest{Action: "approve"})
	require.NoError(t, err)
	require.Equal(t, models.LeaveStatusPending, escalated.Status)
	require.Equal(t, models.RoleDean, *escalated.CurrentLevel)
	require.Len(t, escalated.ApprovalLog, 2)
	require.Equal(t, models.ApprovalActionEscalate, escalated.ApprovalLog[1].Action)
	assertLevelMatchesStatus(t, escalated)

	approved, err := fx.svc.Decide(ctx, created.ID, approverClaims(models.RoleDean), dto.DecideLeaveRequest{Action: "approve"})
	require.NoError(t, err)
	require.Equal(t, models.LeaveStatusApproved, approved.Status)
	require.Nil(t, approved.CurrentLevel)
	require.NotNil(t, approved.IssuedBy)
	require.Equal(t, models.RoleDean, *approved.IssuedBy)
	require.NotNil(t, approved.IssuedAt)
	require.Len(t, approved.ApprovalLog, 3)
	assert.Equal(t, models.ApprovalActionApprove, approved.ApprovalLog[2].Action)
	assert.Equal(t, "user-dean", approved.ApprovalLog[2].ActorID)

	assert.Equal(t, []NotificationTemplate{
		TemplateRequestCreated, TemplateApprovalNeeded,
		TemplateRequestEscalated, TemplateApprovalNeeded,
		TemplateRequestApproved,
	}, fx.notifier.templates())
	assert.Equal(t, "dean@campus.test", fx.notifier.sent[3].recipient)
	assert.Equal(t, "asha@campus.test", fx.notifier.sent[4].recipient)
}

func TestRequestServiceOutingReject(t *testing.T) {
	fx := newRequestFixture(t)
	ctx := context.Background()

	created, err := fx.svc.Create(ctx, "stu-1", outingPayload())
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), created.From)

	rejected, err := fx.svc.Decide(ctx, created.ID, approverClaims(models.RoleWarden), dto.DecideLeaveRequest{Action: "reject", Message: "exam week"})
	require.NoError(t, err)
	require.Equal(t, models.LeaveStatusRejected, rejected.Status)
	require.Nil(t, rejected.CurrentLevel)
	require.Len(t, rejected.ApprovalLog, 2)
	require.Equal(t, models.ApprovalActionReject, rejected.ApprovalLog[1].Action)
	require.NotNil(t, rejected.RejectedBy)
	require.Equal(t, models.RoleWarden, *rejected.RejectedBy)
	require.NotNil(t, rejected.Message)
	require.Equal(t, "exam week", *rejected.Message)
	require.Nil(t, rejected.IssuedBy)
}

func TestRequestServiceDecideWrongRoleLeavesStateUnchanged(t *testing.T) {
	fx := newRequestFixture(t)
	ctx := context.Background()
	created, err := fx.svc.Create(ctx, "stu-1", outpassPayload())
	require.NoError(t, err)

	_, err = fx.svc.Decide(ctx, created.ID, approverClaims(models.RoleDean), dto.DecideLeaveRequest{Action: "approve"})
	require.Error(t, err)
	require.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code))

	stored, err := fx.repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, models.LeaveStatusPending, stored.Status)
	require.Equal(t, models.RoleWarden, *stored.CurrentLevel)
	require.Len(t, stored.ApprovalLog, 1)
}

func TestRequestServiceDecideTwiceIsAlreadyFinalized(t *testing.T) {
	fx := newRequestFixture(t)
	ctx := context.Background()
	created, err := fx.svc.Create(ctx, "stu-1", outingPayload())
	require.NoError(t, err)

	_, err = fx.svc.Decide(ctx, created.ID, approverClaims(models.RoleWarden), dto.DecideLeaveRequest{Action: "approve"})
	require.NoError(t, err)
	_, err = fx.svc.Decide(ctx, created.ID, approverClaims(models.RoleWarden), dto.DecideLeaveRequest{Action: "reject"})
	require.True(t, appErrors.HasCode(err, appErrors.ErrAlreadyFinalized.Code))

	stored, _ := fx.repo.GetByID(ctx, created.ID)
	require.Equal(t, models.LeaveStatusApproved, stored.Status)
	require.Len(t, stored.ApprovalLog, 2)
}

func TestRequestServiceDecideValidation(t *testing.T) {
	fx := newRequestFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Decide(ctx, "missing", approverClaims(models.RoleWarden), dto.DecideLeaveRequest{Action: "maybe"})
	require.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	_, err = fx.svc.Decide(ctx, "missing", approverClaims(models.RoleWarden), dto.DecideLeaveRequest{Action: "approve"})
	require.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}

func TestRequestServiceDecideAfterWindowEnded(t *testing.T) {
	fx := newRequestFixture(t)
	ctx := context.Background()
	created, err := fx.svc.Create(ctx, "stu-1", outingPayload())
	require.NoError(t, err)

	*fx.clock = time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC)
	_, err = fx.svc.Decide(ctx, created.ID, approverClaims(models.RoleWarden), dto.DecideLeaveRequest{Action: "approve"})
	require.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))

	got, err := fx.svc.Get(ctx, created.ID, studentClaims("stu-1"))
	require.NoError(t, err)
	require.True(t, got.Expired)
	require.Equal(t, models.LeaveStatusPending, got.Status)

	rejected, err := fx.svc.Decide(ctx, created.ID, approverClaims(models.RoleWarden), dto.DecideLeaveRequest{Action: "reject", Message: "lapsed"})
	require.NoError(t, err)
	require.Equal(t, models.LeaveStatusRejected, rejected.Status)
	require.True(t, rejected.Expired)
	assertLevelMatchesStatus(t, rejected)
}

func TestRequestServiceLapsedPendingStillBlocksCreate(t *testing.T) {
	fx := newRequestFixture(t)
	ctx := context.Background()
	first, err := fx.svc.Create(ctx, "stu-1", outingPayload())
	require.NoError(t, err)

	*fx.clock = time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	next := dto.CreateLeaveRequest{Kind: models.LeaveKindOuting, Date: "2026-03-03", From: "10:00", To: "18:00", Reason: "library"}
	_, err = fx.svc.Create(ctx, "stu-1", next)
	require.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))

	pending, err := fx.repo.List(ctx, models.LeaveRequestFilter{StudentID: "stu-1"})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = fx.svc.Decide(ctx, first.ID, approverClaims(models.RoleWarden), dto.DecideLeaveRequest{Action: "reject"})
	require.NoError(t, err)

	second, err := fx.svc.Create(ctx, "stu-1", next)
	require.NoError(t, err)
	require.Equal(t, models.LeaveStatusPending, second.Status)
}

func TestRequestServiceConcurrentDecisionsApplyOnce(t *testing.T) {
	fx := newRequestFixture(t)
	ctx := context.Background()
	created, err := fx.svc.Create(ctx, "stu-1", outingPayload())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, action := range []string{"approve", "reject"} {
		wg.Add(1)
		go func(i int, action string) {
			defer wg.Done()
			_, errs[i] = fx.svc.Decide(ctx, created.ID, approverClaims(models.RoleWarden), dto.DecideLeaveRequest{Action: action})
		}(i, action)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		require.True(t, appErrors.HasCode(err, appErrors.ErrAlreadyFinalized.Code))
	}
	require.Equal(t, 1, successes)
	stored, _ := fx.repo.GetByID(ctx, created.ID)
	require.Len(t, stored.ApprovalLog, 2)
}

func TestRequestServiceCreateRejectsDuplicatePendingPerKind(t *testing.T) {
	fx := newRequestFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Create(ctx, "stu-1", outpassPayload())
	require.NoError(t, err)

	_, err = fx.svc.Create(ctx, "stu-1", outpassPayload())
	require.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))

	_, err = fx.svc.Create(ctx, "stu-1", outingPayload())
	require.NoError(t, err)

	_, err = fx.svc.Create(ctx, "stu-2", outpassPayload())
	require.NoError(t, err)
}

func TestRequestServiceCreateValidatesWindow(t *testing.T) {
	fx := newRequestFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		payload dto.CreateLeaveRequest
	}{
		{"missing reason", dto.CreateLeaveRequest{Kind: models.LeaveKindOutpass, From: "2026-03-03", To: "2026-03-04"}},
		{"unknown kind", dto.CreateLeaveRequest{Kind: "holiday", From: "2026-03-03", To: "2026-03-04", Reason: "x"}},
		{"reversed window", dto.CreateLeaveRequest{Kind: models.LeaveKindOutpass, From: "2026-03-05", To: "2026-03-04", Reason: "x"}},
		{"too long", dto.CreateLeaveRequest{Kind: models.LeaveKindOutpass, From: "2026-03-03", To: "2026-03-20", Reason: "x"}},
		{"already ended", dto.CreateLeaveRequest{Kind: models.LeaveKindOuting, Date: "2026-03-01", From: "10:00", To: "12:00", Reason: "x"}},
		{"bad clock", dto.CreateLeaveRequest{Kind: models.LeaveKindOuting, Date: "2026-03-02", From: "10am", To: "12:00", Reason: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fx.svc.Create(ctx, "stu-1", tc.payload)
			require.Error(t, err)
			require.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
		})
	}
	require.Empty(t, fx.repo.requests)
}

func TestRequestServiceCreateMapsStoreFailures(t *testing.T) {
	fx := newRequestFixture(t)

	fx.repo.err = errors.New("boom")
	_, err := fx.svc.Create(context.Background(), "stu-1", outpassPayload())
	require.True(t, appErrors.HasCode(err, appErrors.ErrInternal.Code))

	fx.repo.err = fmt.Errorf("begin tx: %w", driver.ErrBadConn)
	_, err = fx.svc.Create(context.Background(), "stu-1", outpassPayload())
	require.True(t, appErrors.HasCode(err, appErrors.ErrPersistenceUnavailable.Code))
}

func TestRequestServiceRecordReturn(t *testing.T) {
	fx := newRequestFixture(t)
	ctx := context.Background()
	created, err := fx.svc.Create(ctx, "stu-1", outpassPayload())
	require.NoError(t, err)

	pending, err := fx.svc.RecordReturn(ctx, created.ID, dto.RecordReturnRequest{})
	require.NoError(t, err)
	require.Nil(t, pending.InTime)

	for _, role := range []models.UserRole{models.RoleWarden, models.RoleDean} {
		_, err = fx.svc.Decide(ctx, created.ID, approverClaims(role), dto.DecideLeaveRequest{Action: "approve"})
		require.NoError(t, err)
	}

	back := time.Date(2026, 3, 6, 2, 0, 0, 0, time.UTC)
	returned, err := fx.svc.RecordReturn(ctx, created.ID, dto.RecordReturnRequest{InTime: &back})
	require.NoError(t, err)
	require.NotNil(t, returned.InTime)
	require.True(t, returned.InTime.Equal(back))

	later := back.Add(time.Hour)
	again, err := fx.svc.RecordReturn(ctx, created.ID, dto.RecordReturnRequest{InTime: &later})
	require.NoError(t, err)
	require.True(t, again.InTime.Equal(back))

	outing, err := fx.svc.Create(ctx, "stu-1", outingPayload())
	require.NoError(t, err)
	_, err = fx.svc.RecordReturn(ctx, outing.ID, dto.RecordReturnRequest{})
	require.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestRequestServiceListScopesStudents(t *testing.T) {
	fx := newRequestFixture(t)
	ctx := context.Background()
	_, err := fx.svc.Create(ctx, "stu-1", outpassPayload())
	require.NoError(t, err)
	_, err = fx.svc.Create(ctx, "stu-2", outpassPayload())
	require.NoError(t, err)

	own, err := fx.svc.ListForStudent(ctx, dto.LeaveRequestQuery{}, studentClaims("stu-1"))
	require.NoError(t, err)
	require.Len(t, own, 1)
	require.Equal(t, "stu-1", own[0].StudentID)

	_, err = fx.svc.ListForStudent(ctx, dto.LeaveRequestQuery{StudentID: "stu-2"}, studentClaims("stu-1"))
	require.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code))

	all, err := fx.svc.ListForStudent(ctx, dto.LeaveRequestQuery{}, approverClaims(models.RoleWarden))
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = fx.svc.Get(ctx, own[0].ID, studentClaims("stu-2"))
	require.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code))
}

func TestRequestServiceQueue(t *testing.T) {
	fx := newRequestFixture(t)
	ctx := context.Background()
	created, err := fx.svc.Create(ctx, "stu-1", outpassPayload())
	require.NoError(t, err)

	queue, err := fx.svc.Queue(ctx, approverClaims(models.RoleWarden))
	require.NoError(t, err)
	require.Len(t, queue, 1)
	require.Equal(t, created.ID, queue[0].ID)
	require.Equal(t, []models.LeaveStatus{models.LeaveStatusPending}, fx.repo.filter.Status)
	require.NotNil(t, fx.repo.filter.ActiveAt)

	deanQueue, err := fx.svc.Queue(ctx, approverClaims(models.RoleDean))
	require.NoError(t, err)
	require.Empty(t, deanQueue)

	_, err = fx.svc.Queue(ctx, studentClaims("stu-1"))
	require.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code))
}

func TestRequestServiceGatePass(t *testing.T) {
	fx := newRequestFixture(t)
	ctx := context.Background()
	created, err := fx.svc.Create(ctx, "stu-1", outingPayload())
	require.NoError(t, err)

	_, err = fx.svc.GatePass(ctx, created.ID, studentClaims("stu-1"))
	require.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))

	_, err = fx.svc.Decide(ctx, created.ID, approverClaims(models.RoleWarden), dto.DecideLeaveRequest{Action: "approve"})
	require.NoError(t, err)

	pdf, err := fx.svc.GatePass(ctx, created.ID, studentClaims("stu-1"))
	require.NoError(t, err)
	require.True(t, len(pdf) > 4 && string(pdf[:4]) == "%PDF")

	_, err = fx.svc.GatePass(ctx, created.ID, studentClaims("stu-2"))
	require.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code))
}
