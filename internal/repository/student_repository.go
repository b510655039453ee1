package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-leave-api/internal/models"
)

const studentColumns = `id, roll_number, full_name, email, program, year, hostel, active, created_at, updated_at`

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID fetches a student by ID. Missing rows surface as sql.ErrNoRows.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &student, nil
}

// FindIDByRoll resolves a roll number to the student identifier.
func (r *StudentRepository) FindIDByRoll(ctx context.Context, roll string) (string, error) {
	const query = `SELECT id FROM students WHERE roll_number = $1 LIMIT 1`
	var id string
	if err := r.db.GetContext(ctx, &id, query, roll); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("find student by roll: %w", err)
	}
	return id, nil
}

// UpsertByRoll inserts the student or updates the row sharing its roll number. The stored
// identifier is written back to student.ID.
func (r *StudentRepository) UpsertByRoll(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, roll_number, full_name, email, program, year, hostel, active, created_at, updated_at)
        VALUES (:id, :roll_number, :full_name, :email, :program, :year, :hostel, :active, :created_at, :updated_at)
        ON CONFLICT (roll_number)
        DO UPDATE SET full_name = EXCLUDED.full_name, email = EXCLUDED.email, program = EXCLUDED.program,
                      year = EXCLUDED.year, hostel = EXCLUDED.hostel, active = EXCLUDED.active, updated_at = EXCLUDED.updated_at
        RETURNING id`
	rows, err := r.db.NamedQueryContext(ctx, query, student)
	if err != nil {
		return fmt.Errorf("upsert student: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&student.ID); err != nil {
			return fmt.Errorf("scan upserted student: %w", err)
		}
	}
	return rows.Err()
}
