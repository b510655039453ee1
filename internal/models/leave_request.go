package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// LeaveKind distinguishes same-day outings from multi-day outpasses.
type LeaveKind string

const (
	LeaveKindOuting  LeaveKind = "outing"
	LeaveKindOutpass LeaveKind = "outpass"
)

// Valid reports whether k is a known kind.
func (k LeaveKind) Valid() bool {
	return k == LeaveKindOuting || k == LeaveKindOutpass
}

// LeaveStatus is the single authoritative workflow state. Expiry is derived, never stored.
type LeaveStatus string

const (
	LeaveStatusPending  LeaveStatus = "pending"
	LeaveStatusApproved LeaveStatus = "approved"
	LeaveStatusRejected LeaveStatus = "rejected"
)

// ApprovalAction enumerates approval log entry types.
type ApprovalAction string

const (
	ApprovalActionCreate   ApprovalAction = "create"
	ApprovalActionApprove  ApprovalAction = "approve"
	ApprovalActionReject   ApprovalAction = "reject"
	ApprovalActionEscalate ApprovalAction = "escalate"
)

// ApprovalEntry is one append-only step in a request's history.
type ApprovalEntry struct {
	Role      UserRole       `json:"role"`
	Action    ApprovalAction `json:"action"`
	ActorID   string         `json:"actorId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ApprovalLog is persisted as a JSONB array.
type ApprovalLog []ApprovalEntry

// Value marshals the log for persistence.
func (l ApprovalLog) Value() (driver.Value, error) {
	if l == nil {
		l = ApprovalLog{}
	}
	data, err := json.Marshal([]ApprovalEntry(l))
	if err != nil {
		return nil, fmt.Errorf("marshal approval log: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSONB array.
func (l *ApprovalLog) Scan(value interface{}) error {
	*l = ApprovalLog{}
	return scanJSON(value, (*[]ApprovalEntry)(l), "approval log")
}

// LeaveRequest is an outing or outpass moving through the approval chain.
// CurrentLevel is non-nil iff Status is pending.
type LeaveRequest struct {
	ID                string      `db:"id" json:"id"`
	StudentID         string      `db:"student_id" json:"studentId"`
	Kind              LeaveKind   `db:"kind" json:"kind"`
	From              time.Time   `db:"from_time" json:"from"`
	To                time.Time   `db:"to_time" json:"to"`
	Reason            string      `db:"reason" json:"reason"`
	Status            LeaveStatus `db:"status" json:"status"`
	CurrentLevel      *UserRole   `db:"current_level" json:"currentLevel"`
	ApprovalLog       ApprovalLog `db:"approval_log" json:"approvalLog"`
	IssuedBy          *UserRole   `db:"issued_by" json:"issuedBy,omitempty"`
	IssuedAt          *time.Time  `db:"issued_at" json:"issuedAt,omitempty"`
	RejectedBy        *UserRole   `db:"rejected_by" json:"rejectedBy,omitempty"`
	RejectedAt        *time.Time  `db:"rejected_at" json:"rejectedAt,omitempty"`
	Message           *string     `db:"message" json:"message,omitempty"`
	InTime            *time.Time  `db:"in_time" json:"inTime,omitempty"`
	OverdueNotifiedAt *time.Time  `db:"overdue_notified_at" json:"-"`
	RequestedAt       time.Time   `db:"requested_at" json:"requestedAt"`
	UpdatedAt         time.Time   `db:"updated_at" json:"updatedAt"`

	Expired bool         `db:"-" json:"expired"`
	Timing  *LeaveTiming `db:"-" json:"timing,omitempty"`
}

// LeaveTiming is the read-time view of a request's window relative to now.
type LeaveTiming struct {
	ElapsedSeconds   int64 `json:"elapsedSeconds"`
	RemainingSeconds int64 `json:"remainingSeconds"`
	LateSeconds      int64 `json:"lateSeconds,omitempty"`
	Days             int   `json:"days,omitempty"`
}

// LeaveRequestFilter constrains listing queries.
type LeaveRequestFilter struct {
	StudentID string
	Kind      LeaveKind
	Status    []LeaveStatus
	Level     UserRole
	// ActiveAt excludes requests whose window ended before this instant when set.
	ActiveAt *time.Time
	Limit    int
	Offset   int
}
