package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-leave-api/internal/models"
)

type overdueStore interface {
	ListOverdueReturns(ctx context.Context, cutoff time.Time, limit int) ([]models.LeaveRequest, error)
	MarkOverdueNotified(ctx context.Context, id string, at time.Time) (bool, error)
	CountStalePending(ctx context.Context, now time.Time) (int, error)
}

// SweeperConfig controls the periodic expiry sweep.
type SweeperConfig struct {
	Schedule       string
	BatchSize      int
	Location       *time.Location
	Timeout        time.Duration
	RoleRecipients map[models.UserRole]string

	// Recipients takes precedence over RoleRecipients when set.
	Recipients *RecipientDirectory
}

// SweepResult summarises one pass.
type SweepResult struct {
	StalePending int
	Notified     int
}

// ExpirySweeper flags outpasses whose return is overdue and tracks pending requests whose
// window lapsed. Stored status is never changed; expiry stays a read-time property.
type ExpirySweeper struct {
	repo     overdueStore
	profiles profileLookup
	notifier notifier
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      SweeperConfig
	now      func() time.Time
	cron     *cron.Cron
}

// NewExpirySweeper constructs the sweeper.
func NewExpirySweeper(repo overdueStore, profiles profileLookup, notifier notifier, metrics *MetricsService, logger *zap.Logger, cfg SweeperConfig) *ExpirySweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NewNotificationService(nil, nil, logger, 0)
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "*/15 * * * *"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Recipients == nil {
		cfg.Recipients = NewRecipientDirectory(cfg.RoleRecipients, nil, nil, 0, logger)
	}
	return &ExpirySweeper{
		repo:     repo,
		profiles: profiles,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the sweep. Overlapping runs are skipped.
func (s *ExpirySweeper) Start(ctx context.Context) error {
	cronLog := cronLogger{s.logger.Sugar()}
	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
		if _, err := s.Sweep(runCtx); err != nil {
			s.logger.Warn("expiry sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule expiry sweep %q: %w", s.cfg.Schedule, err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("expiry sweeper started", zap.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *ExpirySweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("expiry sweeper stopped")
}

// Sweep runs one pass. Each overdue outpass is claimed before notifying so at most one
// notice goes out even with several replicas sweeping.
func (s *ExpirySweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := s.now()

	stale, err := s.repo.CountStalePending(ctx, now)
	if err != nil {
		return result, err
	}
	result.StalePending = stale
	s.metrics.SetStalePending(stale)

	overdue, err := s.repo.ListOverdueReturns(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return result, err
	}
	for i := range overdue {
		req := &overdue[i]
		claimed, err := s.repo.MarkOverdueNotified(ctx, req.ID, now)
		if err != nil {
			return result, err
		}
		if !claimed {
			continue
		}
		s.notifyOverdue(ctx, req)
		result.Notified++
	}
	if result.Notified > 0 || stale > 0 {
		s.logger.Info("expiry sweep finished", zap.Int("stale_pending", stale), zap.Int("overdue_notified", result.Notified))
	}
	return result, nil
}

func (s *ExpirySweeper) notifyOverdue(ctx context.Context, req *models.LeaveRequest) {
	data := NotificationData{
		RequestID: req.ID,
		Kind:      string(req.Kind),
		From:      req.From.In(s.cfg.Location),
		To:        req.To.In(s.cfg.Location),
		Reason:    req.Reason,
	}
	var studentEmail string
	if s.profiles != nil {
		if profile, err := s.profiles.Get(ctx, req.StudentID); err == nil {
			data.StudentName = profile.FullName
			data.RollNumber = profile.RollNumber
			studentEmail = profile.Email
		} else {
			s.logger.Warn("student profile unavailable for overdue notice", zap.String("student_id", req.StudentID), zap.Error(err))
		}
	}
	s.notifier.Send(ctx, studentEmail, TemplateReturnOverdue, data)

	role := models.RoleWarden
	if req.IssuedBy != nil {
		role = *req.IssuedBy
	}
	notifyRole(ctx, s.notifier, s.cfg.Recipients, role, TemplateReturnOverdue, data)
}

// cronLogger routes cron's internal logging through zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
