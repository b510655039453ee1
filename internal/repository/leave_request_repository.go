package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-leave-api/internal/models"
)

// ErrPendingExists signals that the student already has a pending request of the same kind.
var ErrPendingExists = errors.New("pending request exists")

const leaveRequestColumns = `id, student_id, kind, from_time, to_time, reason, status, current_level, approval_log,
       issued_by, issued_at, rejected_by, rejected_at, message, in_time, overdue_notified_at, requested_at, updated_at`

// LeaveRequestRepository persists outing and outpass requests.
type LeaveRequestRepository struct {
	db *sqlx.DB
}

// NewLeaveRequestRepository constructs the repository.
func NewLeaveRequestRepository(db *sqlx.DB) *LeaveRequestRepository {
	return &LeaveRequestRepository{db: db}
}

// CreateIfNoPending inserts req unless the student holds a pending request of the same kind,
// lapsed or not. A transaction-scoped advisory lock on (student, kind) serialises
// concurrent creates for the same pair.
func (r *LeaveRequestRepository) CreateIfNoPending(ctx context.Context, req *models.LeaveRequest, now time.Time) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = now.UTC()
	}
	req.UpdatedAt = req.RequestedAt

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create leave request tx: %w", err)
	}
	lockKey := req.StudentID + ":" + string(req.Kind)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("lock student requests: %w", err)
	}
	var exists bool
	const existsQuery = `SELECT EXISTS (SELECT 1 FROM leave_requests
WHERE student_id = $1 AND kind = $2 AND status = 'pending')`
	if err := tx.GetContext(ctx, &exists, existsQuery, req.StudentID, req.Kind); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("check pending leave request: %w", err)
	}
	if exists {
		_ = tx.Rollback()
		return ErrPendingExists
	}
	const insert = `INSERT INTO leave_requests
	(id, student_id, kind, from_time, to_time, reason, status, current_level, approval_log, requested_at, updated_at)
	VALUES (:id, :student_id, :kind, :from_time, :to_time, :reason, :status, :current_level, :approval_log, :requested_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insert, req); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("create leave request: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit leave request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier. Missing rows surface as sql.ErrNoRows.
func (r *LeaveRequestRepository) GetByID(ctx context.Context, id string) (*models.LeaveRequest, error) {
	query := `SELECT ` + leaveRequestColumns + ` FROM leave_requests WHERE id = $1`
	var req models.LeaveRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get leave request: %w", err)
	}
	return &req, nil
}

// List returns requests matching the filter, newest first.
func (r *LeaveRequestRepository) List(ctx context.Context, filter models.LeaveRequestFilter) ([]models.LeaveRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(`SELECT ` + leaveRequestColumns + ` FROM leave_requests`)

	conditions := make([]string, 0, 5)
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Level != "" {
		args = append(args, filter.Level)
		conditions = append(conditions, fmt.Sprintf("current_level = $%d", len(args)))
	}
	if filter.ActiveAt != nil {
		args = append(args, *filter.ActiveAt)
		conditions = append(conditions, fmt.Sprintf("to_time > $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY requested_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.LeaveRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list leave requests: %w", err)
	}
	return requests, nil
}

// DecisionParams describes one compare-and-swap transition of a pending request.
type DecisionParams struct {
	ID            string
	ExpectedLevel models.UserRole
	Status        models.LeaveStatus
	NextLevel     *models.UserRole
	Entry         models.ApprovalEntry
	IssuedBy      *models.UserRole
	IssuedAt      *time.Time
	RejectedBy    *models.UserRole
	RejectedAt    *time.Time
	Message       *string
	UpdatedAt     time.Time
}

// ApplyDecision moves a request out of pending(ExpectedLevel) and appends one log entry.
// It returns sql.ErrNoRows when the row is no longer pending at that level.
func (r *LeaveRequestRepository) ApplyDecision(ctx context.Context, params DecisionParams) (*models.LeaveRequest, error) {
	entry, err := json.Marshal(models.ApprovalLog{params.Entry})
	if err != nil {
		return nil, fmt.Errorf("marshal approval entry: %w", err)
	}
	query := `UPDATE leave_requests SET
	status = $1,
	current_level = $2,
	approval_log = approval_log || $3::jsonb,
	issued_by = COALESCE($4, issued_by),
	issued_at = COALESCE($5, issued_at),
	rejected_by = COALESCE($6, rejected_by),
	rejected_at = COALESCE($7, rejected_at),
	message = COALESCE($8, message),
	updated_at = $9
WHERE id = $10 AND status = 'pending' AND current_level = $11
RETURNING ` + leaveRequestColumns
	var updated models.LeaveRequest
	err = r.db.GetContext(ctx, &updated, query,
		params.Status,
		params.NextLevel,
		string(entry),
		params.IssuedBy,
		params.IssuedAt,
		params.RejectedBy,
		params.RejectedAt,
		params.Message,
		params.UpdatedAt,
		params.ID,
		params.ExpectedLevel,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("apply leave decision: %w", err)
	}
	return &updated, nil
}

// RecordReturn stamps in_time on an approved outpass once. It returns sql.ErrNoRows when
// the request is not approved or the return was already recorded.
func (r *LeaveRequestRepository) RecordReturn(ctx context.Context, id string, inTime time.Time) (*models.LeaveRequest, error) {
	query := `UPDATE leave_requests SET in_time = $1, updated_at = $2
WHERE id = $3 AND kind = 'outpass' AND status = 'approved' AND in_time IS NULL
RETURNING ` + leaveRequestColumns
	var updated models.LeaveRequest
	if err := r.db.GetContext(ctx, &updated, query, inTime, time.Now().UTC(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("record leave return: %w", err)
	}
	return &updated, nil
}

// ListOverdueReturns returns approved outpasses whose window closed before cutoff with no
// recorded return and no overdue notice yet.
func (r *LeaveRequestRepository) ListOverdueReturns(ctx context.Context, cutoff time.Time, limit int) ([]models.LeaveRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + leaveRequestColumns + ` FROM leave_requests
WHERE kind = 'outpass' AND status = 'approved' AND in_time IS NULL AND overdue_notified_at IS NULL AND to_time < $1
ORDER BY to_time ASC LIMIT $2`
	var requests []models.LeaveRequest
	if err := r.db.SelectContext(ctx, &requests, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list overdue returns: %w", err)
	}
	return requests, nil
}

// MarkOverdueNotified flags a request so the sweep notifies at most once. It reports whether
// this call claimed the row.
func (r *LeaveRequestRepository) MarkOverdueNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `UPDATE leave_requests SET overdue_notified_at = $1 WHERE id = $2 AND overdue_notified_at IS NULL AND in_time IS NULL`
	result, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return false, fmt.Errorf("mark overdue notified: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check overdue notified rows: %w", err)
	}
	return rows > 0, nil
}

// CountStalePending counts pending requests whose window already ended.
func (r *LeaveRequestRepository) CountStalePending(ctx context.Context, now time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM leave_requests WHERE status = 'pending' AND to_time <= $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, now); err != nil {
		return 0, fmt.Errorf("count stale pending: %w", err)
	}
	return count, nil
}
