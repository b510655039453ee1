package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-leave-api/internal/dto"
	"github.com/noah-isme/campus-leave-api/internal/models"
	"github.com/noah-isme/campus-leave-api/internal/repository"
	"github.com/noah-isme/campus-leave-api/pkg/database"
	appErrors "github.com/noah-isme/campus-leave-api/pkg/errors"
	"github.com/noah-isme/campus-leave-api/pkg/pass"
)

type leaveRequestStore interface {
	CreateIfNoPending(ctx context.Context, req *models.LeaveRequest, now time.Time) error
	GetByID(ctx context.Context, id string) (*models.LeaveRequest, error)
	List(ctx context.Context, filter models.LeaveRequestFilter) ([]models.LeaveRequest, error)
	ApplyDecision(ctx context.Context, params repository.DecisionParams) (*models.LeaveRequest, error)
	RecordReturn(ctx context.Context, id string, inTime time.Time) (*models.LeaveRequest, error)
}

type profileLookup interface {
	Get(ctx context.Context, studentID string) (*models.StudentProfile, error)
}

type notifier interface {
	Send(ctx context.Context, recipient string, kind NotificationTemplate, data NotificationData) NotificationResult
}

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"

	decisionApprove = "approve"
	decisionReject  = "reject"
)

// RequestServiceConfig governs window validation and notification routing.
type RequestServiceConfig struct {
	OutpassMaxDays int
	Location       *time.Location
	QueueLimit     int
	// RoleRecipients maps an approver role to the mailbox notified when requests reach its level.
	// Ignored when a RecipientDirectory is supplied.
	RoleRecipients map[models.UserRole]string
}

// RequestService drives the outing/outpass approval state machine.
type RequestService struct {
	repo       leaveRequestStore
	resolver   *RoleResolver
	profiles   profileLookup
	notifier   notifier
	recipients *RecipientDirectory
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        RequestServiceConfig
	now        func() time.Time
}

// RequestServiceOption configures the service.
type RequestServiceOption func(*RequestService)

// WithRequestClock overrides the time source.
func WithRequestClock(now func() time.Time) RequestServiceOption {
	return func(s *RequestService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRequestMetrics attaches workflow counters.
func WithRequestMetrics(metrics *MetricsService) RequestServiceOption {
	return func(s *RequestService) {
		s.metrics = metrics
	}
}

// WithRecipientDirectory resolves approver mailboxes through dir.
func WithRecipientDirectory(dir *RecipientDirectory) RequestServiceOption {
	return func(s *RequestService) {
		s.recipients = dir
	}
}

// NewRequestService constructs the lifecycle engine.
func NewRequestService(repo leaveRequestStore, resolver *RoleResolver, profiles profileLookup, notifier notifier, validate *validator.Validate, logger *zap.Logger, cfg RequestServiceConfig, opts ...RequestServiceOption) *RequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if notifier == nil {
		notifier = NewNotificationService(nil, nil, logger, 0)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.OutpassMaxDays <= 0 {
		cfg.OutpassMaxDays = 14
	}
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = 100
	}
	svc := &RequestService{
		repo:      repo,
		resolver:  resolver,
		profiles:  profiles,
		notifier:  notifier,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	if svc.recipients == nil {
		svc.recipients = NewRecipientDirectory(cfg.RoleRecipients, nil, nil, 0, logger)
	}
	return svc
}

// Create validates the window and opens a pending request at the first approval level.
func (s *RequestService) Create(ctx context.Context, studentID string, req dto.CreateLeaveRequest) (*models.LeaveRequest, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "account is not linked to a student")
	}
	req.Kind = models.LeaveKind(strings.ToLower(strings.TrimSpace(string(req.Kind))))
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid leave request payload")
	}
	from, to, err := s.parseWindow(req)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !to.After(now) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "leave window has already ended")
	}
	level, ok := s.resolver.FirstApprover(req.Kind)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported leave kind")
	}

	record := &models.LeaveRequest{
		StudentID:    studentID,
		Kind:         req.Kind,
		From:         from.UTC(),
		To:           to.UTC(),
		Reason:       req.Reason,
		Status:       models.LeaveStatusPending,
		CurrentLevel: &level,
		ApprovalLog: models.ApprovalLog{{
			Role:      models.RoleSystem,
			Action:    models.ApprovalActionCreate,
			Timestamp: now,
		}},
		RequestedAt: now,
	}
	if err := s.repo.CreateIfNoPending(ctx, record, now); err != nil {
		if errors.Is(err, repository.ErrPendingExists) {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("a pending %s request already exists", req.Kind))
		}
		return nil, persistenceError(err, "failed to create leave request")
	}
	s.metrics.RecordTransition(string(record.Kind), string(models.ApprovalActionCreate))
	s.logger.Info("leave request created",
		zap.String("request_id", record.ID),
		zap.String("student_id", studentID),
		zap.String("kind", string(record.Kind)),
	)

	data := s.notificationData(ctx, record, "")
	s.notifier.Send(ctx, data.recipient, TemplateRequestCreated, data.NotificationData)
	notifyRole(ctx, s.notifier, s.recipients, level, TemplateApprovalNeeded, data.NotificationData)

	decorate(record, now)
	return record, nil
}

// Decide applies an approver's approve or reject to a pending request.
func (s *RequestService) Decide(ctx context.Context, id string, actor *models.JWTClaims, req dto.DecideLeaveRequest) (*models.LeaveRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	action := strings.ToLower(strings.TrimSpace(req.Action))
	if action != decisionApprove && action != decisionReject {
		return nil, appErrors.Clone(appErrors.ErrValidation, "action must be approve or reject")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.checkDecidable(current, actor.Role, action, now); err != nil {
		return nil, err
	}
	level := *current.CurrentLevel

	params := repository.DecisionParams{
		ID:            current.ID,
		ExpectedLevel: level,
		UpdatedAt:     now,
		Entry:         models.ApprovalEntry{Role: level, ActorID: actor.UserID, Timestamp: now},
	}
	template := TemplateRequestApproved
	var nextLevel models.UserRole
	switch action {
	case decisionReject:
		params.Status = models.LeaveStatusRejected
		params.Entry.Action = models.ApprovalActionReject
		params.RejectedBy = &level
		params.RejectedAt = &now
		params.Message = optionalString(req.Message)
		template = TemplateRequestRejected
	default:
		next, hasNext := s.resolver.NextApprover(current.Kind, level)
		if hasNext {
			nextLevel = next
			params.Status = models.LeaveStatusPending
			params.NextLevel = &nextLevel
			params.Entry.Action = models.ApprovalActionEscalate
			template = TemplateRequestEscalated
		} else {
			params.Status = models.LeaveStatusApproved
			params.Entry.Action = models.ApprovalActionApprove
			params.IssuedBy = &level
			params.IssuedAt = &now
		}
	}

	updated, err := s.repo.ApplyDecision(ctx, params)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyLostRace(ctx, id, actor.Role, action, now)
		}
		return nil, persistenceError(err, "failed to record decision")
	}
	s.metrics.RecordTransition(string(updated.Kind), string(params.Entry.Action))
	s.logger.Info("leave request decided",
		zap.String("request_id", updated.ID),
		zap.String("role", string(level)),
		zap.String("action", string(params.Entry.Action)),
		zap.String("status", string(updated.Status)),
	)

	data := s.notificationData(ctx, updated, level)
	s.notifier.Send(ctx, data.recipient, template, data.NotificationData)
	if nextLevel != "" {
		notifyRole(ctx, s.notifier, s.recipients, nextLevel, TemplateApprovalNeeded, data.NotificationData)
	}

	decorate(updated, now)
	return updated, nil
}

// checkDecidable orders the guards so a stale or foreign decision never reaches persistence.
// A lapsed pending request can still be rejected, which frees the student's slot for that kind.
func (s *RequestService) checkDecidable(req *models.LeaveRequest, role models.UserRole, action string, now time.Time) error {
	if req.Status != models.LeaveStatusPending || req.CurrentLevel == nil {
		return appErrors.Clone(appErrors.ErrAlreadyFinalized, fmt.Sprintf("request is already %s", req.Status))
	}
	if role != *req.CurrentLevel {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("request is awaiting %s approval", *req.CurrentLevel))
	}
	if action == decisionApprove && CheckExpired(req.To, now) {
		return appErrors.Clone(appErrors.ErrConflict, "request window has ended, it can only be rejected")
	}
	return nil
}

func (s *RequestService) classifyLostRace(ctx context.Context, id string, role models.UserRole, action string, now time.Time) error {
	latest, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.checkDecidable(latest, role, action, now); err != nil {
		return err
	}
	return appErrors.Clone(appErrors.ErrConflict, "request changed concurrently, retry")
}

// RecordReturn stamps the actual return of an approved outpass. Requests that are not approved
// are returned unchanged.
func (s *RequestService) RecordReturn(ctx context.Context, id string, req dto.RecordReturnRequest) (*models.LeaveRequest, error) {
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if current.Kind != models.LeaveKindOutpass {
		return nil, appErrors.Clone(appErrors.ErrValidation, "returns are recorded for outpasses only")
	}
	if current.Status != models.LeaveStatusApproved || current.InTime != nil {
		decorate(current, now)
		return current, nil
	}
	inTime := now
	if req.InTime != nil {
		inTime = req.InTime.UTC()
	}
	updated, err := s.repo.RecordReturn(ctx, id, inTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.Get(ctx, id, nil)
		}
		return nil, persistenceError(err, "failed to record return")
	}
	s.logger.Info("outpass return recorded", zap.String("request_id", id), zap.Time("in_time", inTime))
	decorate(updated, now)
	return updated, nil
}

// Get returns a single request. Students may only read their own. A nil actor skips scoping.
func (s *RequestService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.LeaveRequest, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor != nil && actor.Role == models.RoleStudent && req.StudentID != actor.StudentID {
		return nil, appErrors.ErrForbidden
	}
	decorate(req, s.now())
	return req, nil
}

// ListForStudent returns a student's requests, newest first, with expiry computed at read time.
func (s *RequestService) ListForStudent(ctx context.Context, query dto.LeaveRequestQuery, actor *models.JWTClaims) ([]models.LeaveRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.LeaveRequestFilter{StudentID: strings.TrimSpace(query.StudentID), Kind: query.Kind}
	if actor.Role == models.RoleStudent {
		if filter.StudentID == "" {
			filter.StudentID = actor.StudentID
		}
		if filter.StudentID != actor.StudentID {
			return nil, appErrors.ErrForbidden
		}
	} else if !s.resolver.Can(actor.Role, ActionRequestViewAny) {
		return nil, appErrors.ErrForbidden
	}
	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, persistenceError(err, "failed to list leave requests")
	}
	now := s.now()
	for i := range requests {
		decorate(&requests[i], now)
	}
	return requests, nil
}

// Queue lists actionable requests awaiting the actor's level. Requests past their window are left out.
func (s *RequestService) Queue(ctx context.Context, actor *models.JWTClaims) ([]models.LeaveRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !s.resolver.IsApprover(actor.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role does not approve leave requests")
	}
	now := s.now()
	requests, err := s.repo.List(ctx, models.LeaveRequestFilter{
		Status:   []models.LeaveStatus{models.LeaveStatusPending},
		Level:    actor.Role,
		ActiveAt: &now,
		Limit:    s.cfg.QueueLimit,
	})
	if err != nil {
		return nil, persistenceError(err, "failed to load approval queue")
	}
	for i := range requests {
		decorate(&requests[i], now)
	}
	return requests, nil
}

// GatePass renders the printable pass for an approved request.
func (s *RequestService) GatePass(ctx context.Context, id string, actor *models.JWTClaims) ([]byte, error) {
	req, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if req.Status != models.LeaveStatusApproved || req.IssuedAt == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "gate passes are issued for approved requests only")
	}
	details := pass.Details{
		RequestID: req.ID,
		Kind:      string(req.Kind),
		From:      req.From,
		To:        req.To,
		Reason:    req.Reason,
		IssuedAt:  *req.IssuedAt,
		Location:  s.cfg.Location,
	}
	if req.IssuedBy != nil {
		details.IssuedBy = string(*req.IssuedBy)
	}
	if s.profiles != nil {
		profile, err := s.profiles.Get(ctx, req.StudentID)
		if err != nil {
			return nil, err
		}
		details.StudentName = profile.FullName
		details.RollNumber = profile.RollNumber
	}
	body, err := pass.Render(details)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render gate pass")
	}
	return body, nil
}

func (s *RequestService) load(ctx context.Context, id string) (*models.LeaveRequest, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "leave request not found")
		}
		return nil, persistenceError(err, "failed to load leave request")
	}
	return req, nil
}

func (s *RequestService) parseWindow(req dto.CreateLeaveRequest) (time.Time, time.Time, error) {
	loc := s.cfg.Location
	var from, to time.Time
	switch req.Kind {
	case models.LeaveKindOuting:
		day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(req.Date), loc)
		if err != nil {
			return from, to, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
		}
		if from, err = clockOn(day, req.From); err != nil {
			return from, to, appErrors.Clone(appErrors.ErrValidation, "from must be HH:MM")
		}
		if to, err = clockOn(day, req.To); err != nil {
			return from, to, appErrors.Clone(appErrors.ErrValidation, "to must be HH:MM")
		}
	case models.LeaveKindOutpass:
		var err error
		if from, err = parseDay(req.From, loc); err != nil {
			return from, to, appErrors.Clone(appErrors.ErrValidation, "from must be YYYY-MM-DD")
		}
		if to, err = parseDay(req.To, loc); err != nil {
			return from, to, appErrors.Clone(appErrors.ErrValidation, "to must be YYYY-MM-DD")
		}
	default:
		return from, to, appErrors.Clone(appErrors.ErrValidation, "unsupported leave kind")
	}
	if !to.After(from) {
		return from, to, appErrors.Clone(appErrors.ErrValidation, "to must be after from")
	}
	if req.Kind == models.LeaveKindOutpass {
		if days := OutpassDays(from, to); days > s.cfg.OutpassMaxDays {
			return from, to, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("outpass may span at most %d days", s.cfg.OutpassMaxDays))
		}
	}
	return from, to, nil
}

func clockOn(day time.Time, raw string) (time.Time, error) {
	clock, err := time.Parse(timeLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, day.Location()), nil
}

func parseDay(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation(dateLayout, raw, loc)
}

type addressedData struct {
	NotificationData
	recipient string
}

// notificationData resolves the student's profile for addressing. Lookup failures only cost the email.
func (s *RequestService) notificationData(ctx context.Context, req *models.LeaveRequest, decidedBy models.UserRole) addressedData {
	data := addressedData{NotificationData: NotificationData{
		RequestID: req.ID,
		Kind:      string(req.Kind),
		From:      req.From.In(s.cfg.Location),
		To:        req.To.In(s.cfg.Location),
		Reason:    req.Reason,
		DecidedBy: string(decidedBy),
	}}
	if req.CurrentLevel != nil {
		data.Level = string(*req.CurrentLevel)
	}
	if req.Message != nil {
		data.Message = *req.Message
	}
	if s.profiles == nil {
		return data
	}
	profile, err := s.profiles.Get(ctx, req.StudentID)
	if err != nil {
		s.logger.Warn("student profile unavailable for notification", zap.String("student_id", req.StudentID), zap.Error(err))
		return data
	}
	data.StudentName = profile.FullName
	data.RollNumber = profile.RollNumber
	data.recipient = profile.Email
	return data
}

func persistenceError(err error, message string) error {
	if database.IsUnavailable(err) {
		return appErrors.Wrap(err, appErrors.ErrPersistenceUnavailable.Code, appErrors.ErrPersistenceUnavailable.Status, appErrors.ErrPersistenceUnavailable.Message)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func optionalString(value string) *string {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	return &v
}
