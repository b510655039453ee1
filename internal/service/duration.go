package service

import (
	"time"

	"github.com/noah-isme/campus-leave-api/internal/models"
)

// CheckExpired reports whether a window ending at to has passed at now. Status plays no part.
func CheckExpired(to, now time.Time) bool {
	return now.After(to)
}

// Elapsed returns how long the window starting at from has been open.
func Elapsed(from, now time.Time) time.Duration {
	if now.Before(from) {
		return 0
	}
	return now.Sub(from)
}

// Remaining returns how much of the window ending at to is left.
func Remaining(to, now time.Time) time.Duration {
	if !now.Before(to) {
		return 0
	}
	return to.Sub(now)
}

// OutpassDays counts the calendar days spanned by [from, to), rounding partial days up.
func OutpassDays(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	span := to.Sub(from)
	days := int(span / (24 * time.Hour))
	if span%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// LateBy reports how far past the window a return happened.
func LateBy(to, inTime time.Time) time.Duration {
	if !inTime.After(to) {
		return 0
	}
	return inTime.Sub(to)
}

// Timing computes the read-time view of a request.
func Timing(req *models.LeaveRequest, now time.Time) *models.LeaveTiming {
	timing := &models.LeaveTiming{
		ElapsedSeconds:   int64(Elapsed(req.From, now) / time.Second),
		RemainingSeconds: int64(Remaining(req.To, now) / time.Second),
	}
	if req.Kind == models.LeaveKindOutpass {
		timing.Days = OutpassDays(req.From, req.To)
	}
	if req.InTime != nil {
		timing.LateSeconds = int64(LateBy(req.To, *req.InTime) / time.Second)
	}
	return timing
}

// decorate overlays the derived expiry fields without touching stored status.
func decorate(req *models.LeaveRequest, now time.Time) {
	if req == nil {
		return
	}
	req.Expired = CheckExpired(req.To, now)
	req.Timing = Timing(req, now)
}
