package models

import "time"

// Student represents a resident learner who may request leave.
type Student struct {
	ID         string    `db:"id" json:"id"`
	RollNumber string    `db:"roll_number" json:"roll_number"`
	FullName   string    `db:"full_name" json:"full_name"`
	Email      string    `db:"email" json:"email"`
	Program    string    `db:"program" json:"program"`
	Year       int       `db:"year" json:"year"`
	Hostel     string    `db:"hostel" json:"hostel"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// StudentProfile is the read-mostly subset cached for notification addressing and display.
type StudentProfile struct {
	ID         string `json:"id"`
	RollNumber string `json:"roll_number"`
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Hostel     string `json:"hostel"`
}

// Profile projects the cached subset.
func (s Student) Profile() StudentProfile {
	return StudentProfile{
		ID:         s.ID,
		RollNumber: s.RollNumber,
		FullName:   s.FullName,
		Email:      s.Email,
		Hostel:     s.Hostel,
	}
}

// Grade is a term result for one subject, keyed by (student, subject, term).
type Grade struct {
	ID          string    `db:"id" json:"id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	SubjectCode string    `db:"subject_code" json:"subject_code"`
	Term        string    `db:"term" json:"term"`
	Score       float64   `db:"score" json:"score"`
	Letter      string    `db:"letter" json:"letter"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
