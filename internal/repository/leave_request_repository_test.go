package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-leave-api/internal/models"
)

var leaveRequestRowColumns = []string{"id", "student_id", "kind", "from_time", "to_time", "reason", "status", "current_level", "approval_log",
	"issued_by", "issued_at", "rejected_by", "rejected_at", "message", "in_time", "overdue_notified_at", "requested_at", "updated_at"}

func newLeaveRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestLeaveRequestRepositoryCreateIfNoPending(t *testing.T) {
	db, mock, cleanup := newLeaveRepoMock(t)
	defer cleanup()
	repo := NewLeaveRequestRepository(db)

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	level := models.RoleWarden
	req := &models.LeaveRequest{
		StudentID:    "stu-1",
		Kind:         models.LeaveKindOutpass,
		From:         now.Add(24 * time.Hour),
		To:           now.Add(72 * time.Hour),
		Reason:       "family visit",
		Status:       models.LeaveStatusPending,
		CurrentLevel: &level,
		ApprovalLog:  models.ApprovalLog{{Role: models.RoleSystem, Action: models.ApprovalActionCreate, Timestamp: now}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("stu-1:outpass").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM leave_requests")).
		WithArgs("stu-1", "outpass").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO leave_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CreateIfNoPending(context.Background(), req, now))
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, now, req.RequestedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaveRequestRepositoryCreateRejectsExistingPending(t *testing.T) {
	db, mock, cleanup := newLeaveRepoMock(t)
	defer cleanup()
	repo := NewLeaveRequestRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := repo.CreateIfNoPending(context.Background(), &models.LeaveRequest{StudentID: "stu-1", Kind: models.LeaveKindOuting}, now)
	require.ErrorIs(t, err, ErrPendingExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaveRequestRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newLeaveRepoMock(t)
	defer cleanup()
	repo := NewLeaveRequestRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(leaveRequestRowColumns).
		AddRow("req-1", "stu-1", "outpass", now, now.Add(48*time.Hour), "home", "pending", "dean",
			`[{"role":"system","action":"create","timestamp":"2024-03-01T09:00:00Z"},{"role":"warden","action":"escalate","timestamp":"2024-03-01T10:00:00Z"}]`,
			nil, nil, nil, nil, nil, nil, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, kind")).
		WithArgs("req-1").
		WillReturnRows(rows)

	req, err := repo.GetByID(context.Background(), "req-1")
	require.NoError(t, err)
	require.NotNil(t, req.CurrentLevel)
	assert.Equal(t, models.RoleDean, *req.CurrentLevel)
	require.Len(t, req.ApprovalLog, 2)
	assert.Equal(t, models.ApprovalActionEscalate, req.ApprovalLog[1].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaveRequestRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newLeaveRepoMock(t)
	defer cleanup()
	repo := NewLeaveRequestRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, kind")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestLeaveRequestRepositoryListQueue(t *testing.T) {
	db, mock, cleanup := newLeaveRepoMock(t)
	defer cleanup()
	repo := NewLeaveRequestRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(leaveRequestRowColumns).
		AddRow("req-1", "stu-1", "outing", now, now.Add(2*time.Hour), "market", "pending", "warden", `[]`,
			nil, nil, nil, nil, nil, nil, nil, now, now)
	mock.ExpectQuery(`(?s)SELECT .* FROM leave_requests WHERE status IN \(\$1\) AND current_level = \$2 AND to_time > \$3 ORDER BY requested_at DESC LIMIT 50 OFFSET 0`).
		WithArgs("pending", "warden", now).
		WillReturnRows(rows)

	list, err := repo.List(context.Background(), models.LeaveRequestFilter{
		Status:   []models.LeaveStatus{models.LeaveStatusPending},
		Level:    models.RoleWarden,
		ActiveAt: &now,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.LeaveKindOuting, list[0].Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaveRequestRepositoryApplyDecision(t *testing.T) {
	db, mock, cleanup := newLeaveRepoMock(t)
	defer cleanup()
	repo := NewLeaveRequestRepository(db)

	now := time.Now().UTC()
	dean := models.RoleDean
	rows := sqlmock.NewRows(leaveRequestRowColumns).
		AddRow("req-1", "stu-1", "outpass", now, now.Add(48*time.Hour), "home", "pending", "dean", `[]`,
			nil, nil, nil, nil, nil, nil, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE leave_requests SET")).
		WithArgs("pending", "dean", sqlmock.AnyArg(), nil, nil, nil, nil, nil, now, "req-1", "warden").
		WillReturnRows(rows)

	updated, err := repo.ApplyDecision(context.Background(), DecisionParams{
		ID:            "req-1",
		ExpectedLevel: models.RoleWarden,
		Status:        models.LeaveStatusPending,
		NextLevel:     &dean,
		Entry:         models.ApprovalEntry{Role: models.RoleWarden, Action: models.ApprovalActionEscalate, Timestamp: now},
		UpdatedAt:     now,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleDean, *updated.CurrentLevel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaveRequestRepositoryApplyDecisionLostRace(t *testing.T) {
	db, mock, cleanup := newLeaveRepoMock(t)
	defer cleanup()
	repo := NewLeaveRequestRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE leave_requests SET")).
		WillReturnRows(sqlmock.NewRows(leaveRequestRowColumns))

	_, err := repo.ApplyDecision(context.Background(), DecisionParams{
		ID:            "req-1",
		ExpectedLevel: models.RoleWarden,
		Status:        models.LeaveStatusRejected,
		UpdatedAt:     time.Now(),
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaveRequestRepositoryMarkOverdueNotified(t *testing.T) {
	db, mock, cleanup := newLeaveRepoMock(t)
	defer cleanup()
	repo := NewLeaveRequestRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE leave_requests SET overdue_notified_at = $1 WHERE id = $2 AND overdue_notified_at IS NULL")).
		WithArgs(now, "req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE leave_requests SET overdue_notified_at = $1")).
		WithArgs(now, "req-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := repo.MarkOverdueNotified(context.Background(), "req-1", now)
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = repo.MarkOverdueNotified(context.Background(), "req-1", now)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaveRequestRepositoryCountStalePending(t *testing.T) {
	db, mock, cleanup := newLeaveRepoMock(t)
	defer cleanup()
	repo := NewLeaveRequestRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM leave_requests WHERE status = 'pending' AND to_time <= $1")).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountStalePending(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
