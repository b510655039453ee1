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
	"github.com/noah-isme/campus-leave-api/pkg/database"
	appErrors "github.com/noah-isme/campus-leave-api/pkg/errors"
	"github.com/noah-isme/campus-leave-api/pkg/jobs"
	"github.com/noah-isme/campus-leave-api/pkg/tabular"
)

// IngestionJobType tags queue jobs produced by the ingestion service.
const IngestionJobType = "ingestion"

type ingestionJobStore interface {
	Create(ctx context.Context, job *models.IngestionJob) error
	GetByID(ctx context.Context, id string) (*models.IngestionJob, error)
	GetProgress(ctx context.Context, id string) (*models.IngestionJob, error)
	SaveProgress(ctx context.Context, id string, processed int, failures models.FailedRecords) error
	Finish(ctx context.Context, id string, status models.IngestionStatus, errorMessage *string, finishedAt time.Time) error
	ListRunning(ctx context.Context, limit int) ([]models.IngestionJob, error)
}

type jobDispatcher interface {
	Enqueue(ctx context.Context, job jobs.Job) error
	TryEnqueue(job jobs.Job) error
}

// IngestionServiceConfig bounds accepted uploads.
type IngestionServiceConfig struct {
	MaxRows int
}

// IngestionService accepts bulk uploads and reports their progress.
type IngestionService struct {
	repo      ingestionJobStore
	targets   *TargetRegistry
	queue     jobDispatcher
	validator *validator.Validate
	logger    *zap.Logger
	cfg       IngestionServiceConfig
}

// NewIngestionService constructs the service.
func NewIngestionService(repo ingestionJobStore, targets *TargetRegistry, queue jobDispatcher, validate *validator.Validate, logger *zap.Logger, cfg IngestionServiceConfig) *IngestionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 5000
	}
	return &IngestionService{repo: repo, targets: targets, queue: queue, validator: validate, logger: logger, cfg: cfg}
}

// Submit persists the rows as a running job and hands it to the worker queue.
func (s *IngestionService) Submit(ctx context.Context, req dto.SubmitIngestionRequest, actorID string) (*dto.SubmitIngestionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid ingestion payload")
	}
	target, ok := s.targets.Lookup(req.Target)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown ingestion target %q (supported: %s)", req.Target, strings.Join(s.targets.Names(), ", ")))
	}
	if len(req.Rows) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "upload contains no rows")
	}
	if len(req.Rows) > s.cfg.MaxRows {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("upload exceeds %d rows", s.cfg.MaxRows))
	}

	job := &models.IngestionJob{
		Target:    target.Name,
		Rows:      models.IngestionRows(req.Rows),
		Total:     len(req.Rows),
		Status:    models.IngestionStatusRunning,
		CreatedBy: actorID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, persistenceError(err, "failed to create ingestion job")
	}
	if err := s.dispatch(job.ID); err != nil {
		msg := "failed to enqueue job"
		_ = s.repo.Finish(ctx, job.ID, models.IngestionStatusFailed, &msg, time.Now().UTC())
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue ingestion job")
	}
	s.logger.Info("ingestion job submitted",
		zap.String("process_id", job.ID),
		zap.String("target", job.Target),
		zap.Int("rows", job.Total),
		zap.String("actor_id", actorID),
	)
	return &dto.SubmitIngestionResponse{ProcessID: job.ID}, nil
}

// SubmitDataset converts a decoded CSV upload into a submission.
func (s *IngestionService) SubmitDataset(ctx context.Context, targetName string, data tabular.Dataset, actorID string) (*dto.SubmitIngestionResponse, error) {
	rows := make([]models.IngestionRow, len(data.Rows))
	for i, row := range data.Rows {
		rows[i] = models.IngestionRow(row)
	}
	return s.Submit(ctx, dto.SubmitIngestionRequest{Target: targetName, Rows: rows}, actorID)
}

// GetProgress reports a job's progress without side effects.
func (s *IngestionService) GetProgress(ctx context.Context, id string) (*dto.IngestionProgressResponse, error) {
	job, err := s.loadProgress(ctx, id)
	if err != nil {
		return nil, err
	}
	failures := []models.FailedRecord(job.FailedRecords)
	if failures == nil {
		failures = []models.FailedRecord{}
	}
	return &dto.IngestionProgressResponse{
		ProcessID:     job.ID,
		Target:        job.Target,
		Processed:     job.Processed,
		Total:         job.Total,
		FailedRecords: failures,
		Status:        job.Status,
		Percentage:    percentage(job.Processed, job.Total),
		Error:         job.ErrorMessage,
	}, nil
}

// FailuresCSV renders the failed rows of a job as CSV.
func (s *IngestionService) FailuresCSV(ctx context.Context, id string) ([]byte, error) {
	job, err := s.loadProgress(ctx, id)
	if err != nil {
		return nil, err
	}
	data := tabular.Dataset{Headers: []string{"row_identifier", "reason"}}
	for _, failure := range job.FailedRecords {
		data.Rows = append(data.Rows, map[string]string{
			"row_identifier": failure.RowIdentifier,
			"reason":         failure.Reason,
		})
	}
	body, err := tabular.Render(data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render failures")
	}
	return body, nil
}

// RecoverRunningJobs re-enqueues jobs left running by a previous process.
func (s *IngestionService) RecoverRunningJobs(ctx context.Context) {
	pending, err := s.repo.ListRunning(ctx, 100)
	if err != nil {
		s.logger.Warn("failed to list running ingestion jobs", zap.Error(err))
		return
	}
	for _, job := range pending {
		if err := s.dispatch(job.ID); err != nil {
			s.logger.Warn("failed to requeue ingestion job", zap.String("process_id", job.ID), zap.Error(err))
		}
	}
	if len(pending) > 0 {
		s.logger.Info("recovered ingestion jobs", zap.Int("count", len(pending)))
	}
}

// dispatch hands a persisted job to the queue without blocking the caller. When the buffer is
// full a background send waits for a slot; the row stays running, so a stop before that send
// lands is covered by RecoverRunningJobs.
func (s *IngestionService) dispatch(id string) error {
	job := jobs.Job{ID: id, Type: IngestionJobType}
	err := s.queue.TryEnqueue(job)
	if !errors.Is(err, jobs.ErrQueueFull) {
		return err
	}
	s.logger.Warn("ingestion queue saturated, deferring dispatch", zap.String("process_id", id))
	go func() {
		if err := s.queue.Enqueue(context.Background(), job); err != nil {
			s.logger.Warn("deferred ingestion dispatch dropped", zap.String("process_id", id), zap.Error(err))
		}
	}()
	return nil
}

func (s *IngestionService) loadProgress(ctx context.Context, id string) (*models.IngestionJob, error) {
	job, err := s.repo.GetProgress(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "ingestion job not found")
		}
		return nil, persistenceError(err, "failed to load ingestion job")
	}
	return job, nil
}

func percentage(processed, total int) float64 {
	if total <= 0 {
		return 100
	}
	pct := float64(processed) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return float64(int(pct*100)) / 100
}

// IngestionWorker drains queued ingestion jobs row by row.
type IngestionWorker struct {
	repo       ingestionJobStore
	targets    *TargetRegistry
	metrics    *MetricsService
	logger     *zap.Logger
	maxRetries int
	flushEvery int
	now        func() time.Time
}

// NewIngestionWorker constructs a worker. maxRetries is normalised like the queue's budget so
// both agree on the final attempt.
func NewIngestionWorker(repo ingestionJobStore, targets *TargetRegistry, metrics *MetricsService, maxRetries, flushEvery int, logger *zap.Logger) *IngestionWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxRetries = jobs.NormalizeRetries(maxRetries)
	if flushEvery <= 0 {
		flushEvery = 50
	}
	return &IngestionWorker{
		repo:       repo,
		targets:    targets,
		metrics:    metrics,
		logger:     logger,
		maxRetries: maxRetries,
		flushEvery: flushEvery,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes a queue job, resuming from the persisted offset. A returned error asks the
// queue to retry; on the final attempt the job is marked failed first.
func (w *IngestionWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			w.logger.Warn("ingestion job vanished", zap.String("process_id", job.ID))
			return nil
		}
		return w.fail(ctx, job, err)
	}
	if record.Status.Terminal() {
		return nil
	}
	target, ok := w.targets.Lookup(record.Target)
	if !ok {
		msg := fmt.Sprintf("unknown ingestion target %q", record.Target)
		if err := w.repo.Finish(ctx, record.ID, models.IngestionStatusFailed, &msg, w.now()); err != nil {
			w.logger.Warn("failed to mark ingestion job failed", zap.String("process_id", record.ID), zap.Error(err))
		}
		return nil
	}

	failures := append(models.FailedRecords{}, record.FailedRecords...)
	processed := record.Processed
	for i := processed; i < len(record.Rows); i++ {
		if err := ctx.Err(); err != nil {
			return w.fail(ctx, job, err)
		}
		if err := target.Process(ctx, record.Rows[i]); err != nil {
			if database.IsUnavailable(err) {
				return w.fail(ctx, job, err)
			}
			failures = append(failures, models.FailedRecord{
				RowIdentifier: target.Identify(record.Rows[i], i),
				Reason:        err.Error(),
			})
			w.metrics.RecordIngestionRow(record.Target, false)
		} else {
			w.metrics.RecordIngestionRow(record.Target, true)
		}
		processed = i + 1
		if processed%w.flushEvery == 0 && processed < len(record.Rows) {
			if err := w.repo.SaveProgress(ctx, record.ID, processed, failures); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					w.logger.Info("ingestion progress superseded", zap.String("process_id", record.ID), zap.Int("processed", processed))
					return nil
				}
				return w.fail(ctx, job, err)
			}
		}
	}

	if err := w.repo.SaveProgress(ctx, record.ID, processed, failures); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return w.fail(ctx, job, err)
	}
	if err := w.repo.Finish(ctx, record.ID, models.IngestionStatusCompleted, nil, w.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return w.fail(ctx, job, err)
	}
	w.logger.Info("ingestion job completed",
		zap.String("process_id", record.ID),
		zap.String("target", record.Target),
		zap.Int("processed", processed),
		zap.Int("failed", len(failures)),
	)
	return nil
}

// fail marks the job failed once the retry budget is spent and always returns err so the
// queue can decide whether to retry.
func (w *IngestionWorker) fail(ctx context.Context, job jobs.Job, err error) error {
	if job.Attempt < w.maxRetries {
		w.logger.Warn("ingestion pass aborted", zap.String("process_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
		return err
	}
	msg := err.Error()
	// The pass context may already be cancelled; the terminal write uses its own budget.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if updateErr := w.repo.Finish(finishCtx, job.ID, models.IngestionStatusFailed, &msg, w.now()); updateErr != nil {
		w.logger.Warn("failed to mark ingestion job failed", zap.String("process_id", job.ID), zap.Error(updateErr))
	}
	return err
}
