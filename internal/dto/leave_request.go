package dto

import (
	"time"

	"github.com/noah-isme/campus-leave-api/internal/models"
)

// CreateLeaveRequest is the payload for submitting an outing or outpass.
// Outings send Date (YYYY-MM-DD) plus From/To as HH:MM. Outpasses send From/To as YYYY-MM-DD.
type CreateLeaveRequest struct {
	Kind   models.LeaveKind `json:"kind" validate:"required,oneof=outing outpass"`
	Date   string           `json:"date,omitempty"`
	From   string           `json:"from" validate:"required"`
	To     string           `json:"to" validate:"required"`
	Reason string           `json:"reason" validate:"required,max=500"`
}

// DecideLeaveRequest captures an approver's decision and optional message.
type DecideLeaveRequest struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty" validate:"max=500"`
}

// RecordReturnRequest stamps the actual return time. Now is used when InTime is nil.
type RecordReturnRequest struct {
	InTime *time.Time `json:"inTime,omitempty"`
}

// LeaveRequestQuery mirrors supported listing filters.
type LeaveRequestQuery struct {
	StudentID string
	Kind      models.LeaveKind
}
