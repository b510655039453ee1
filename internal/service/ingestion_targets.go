package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strconv"
	"strings"

	"github.com/noah-isme/campus-leave-api/internal/models"
)

// RowSchema names the columns a target needs and the column that identifies a row in failure reports.
type RowSchema struct {
	Required   []string
	Identifier string
}

// RowMapper normalises a row before it reaches the sink. Returned errors fail only that row.
type RowMapper func(row models.IngestionRow) (models.IngestionRow, error)

// RowSink persists one row. Errors classified as unavailable by pkg/database abort the pass.
type RowSink interface {
	Store(ctx context.Context, row models.IngestionRow) error
}

// RowSinkFunc adapts a function to RowSink.
type RowSinkFunc func(ctx context.Context, row models.IngestionRow) error

// Store implements RowSink.
func (f RowSinkFunc) Store(ctx context.Context, row models.IngestionRow) error {
	return f(ctx, row)
}

// IngestionTarget binds a schema, an optional mapper and a sink under one name.
type IngestionTarget struct {
	Name   string
	Schema RowSchema
	Mapper RowMapper
	Sink   RowSink
}

// Identify returns the row's identifier column or its 1-based position.
func (t IngestionTarget) Identify(row models.IngestionRow, index int) string {
	if t.Schema.Identifier != "" {
		if id := strings.TrimSpace(row[t.Schema.Identifier]); id != "" {
			return id
		}
	}
	return fmt.Sprintf("row %d", index+1)
}

// Process runs the required-field check, the mapper and the sink for one row.
func (t IngestionTarget) Process(ctx context.Context, row models.IngestionRow) error {
	for _, field := range t.Schema.Required {
		if strings.TrimSpace(row[field]) == "" {
			return fmt.Errorf("missing required field %s", field)
		}
	}
	if t.Mapper != nil {
		mapped, err := t.Mapper(row)
		if err != nil {
			return err
		}
		row = mapped
	}
	return t.Sink.Store(ctx, row)
}

// TargetRegistry resolves ingestion targets by name.
type TargetRegistry struct {
	targets map[string]IngestionTarget
}

// NewTargetRegistry builds a registry. Later targets replace earlier ones with the same name.
func NewTargetRegistry(targets ...IngestionTarget) *TargetRegistry {
	registry := &TargetRegistry{targets: make(map[string]IngestionTarget, len(targets))}
	for _, target := range targets {
		registry.targets[strings.ToLower(target.Name)] = target
	}
	return registry
}

// Lookup returns the named target.
func (r *TargetRegistry) Lookup(name string) (IngestionTarget, bool) {
	target, ok := r.targets[strings.ToLower(strings.TrimSpace(name))]
	return target, ok
}

// Names lists registered targets alphabetically.
func (r *TargetRegistry) Names() []string {
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type studentUpserter interface {
	UpsertByRoll(ctx context.Context, student *models.Student) error
}

type profileInvalidator interface {
	Invalidate(ctx context.Context, studentIDs ...string)
}

// StudentsTarget upserts students by roll number and drops their cached profiles.
func StudentsTarget(students studentUpserter, profiles profileInvalidator) IngestionTarget {
	return IngestionTarget{
		Name:   "students",
		Schema: RowSchema{Required: []string{"roll_number", "full_name", "email"}, Identifier: "roll_number"},
		Mapper: mapStudentRow,
		Sink: RowSinkFunc(func(ctx context.Context, row models.IngestionRow) error {
			student := &models.Student{
				RollNumber: row["roll_number"],
				FullName:   row["full_name"],
				Email:      row["email"],
				Program:    row["program"],
				Hostel:     row["hostel"],
				Active:     row["active"] != "false",
			}
			if row["year"] != "" {
				student.Year, _ = strconv.Atoi(row["year"])
			}
			if err := students.UpsertByRoll(ctx, student); err != nil {
				return err
			}
			if profiles != nil {
				profiles.Invalidate(ctx, student.ID)
			}
			return nil
		}),
	}
}

func mapStudentRow(row models.IngestionRow) (models.IngestionRow, error) {
	out := trimRow(row)
	out["roll_number"] = strings.ToUpper(out["roll_number"])
	out["email"] = strings.ToLower(out["email"])
	if _, err := mail.ParseAddress(out["email"]); err != nil {
		return nil, fmt.Errorf("invalid email %q", out["email"])
	}
	if raw := out["year"]; raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil || year < 1 || year > 8 {
			return nil, fmt.Errorf("invalid year %q", raw)
		}
	}
	if raw := out["active"]; raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid active flag %q", raw)
		}
		out["active"] = strconv.FormatBool(active)
	}
	return out, nil
}

type studentRollLookup interface {
	FindIDByRoll(ctx context.Context, roll string) (string, error)
}

type gradeUpserter interface {
	Upsert(ctx context.Context, grade *models.Grade) error
}

// GradesTarget upserts term grades keyed by student roll number, subject and term.
func GradesTarget(students studentRollLookup, grades gradeUpserter) IngestionTarget {
	return IngestionTarget{
		Name:   "grades",
		Schema: RowSchema{Required: []string{"roll_number", "subject_code", "term", "score"}, Identifier: "roll_number"},
		Mapper: mapGradeRow,
		Sink: RowSinkFunc(func(ctx context.Context, row models.IngestionRow) error {
			studentID, err := students.FindIDByRoll(ctx, row["roll_number"])
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("unknown student %s", row["roll_number"])
				}
				return err
			}
			score, _ := strconv.ParseFloat(row["score"], 64)
			return grades.Upsert(ctx, &models.Grade{
				StudentID:   studentID,
				SubjectCode: row["subject_code"],
				Term:        row["term"],
				Score:       score,
				Letter:      row["letter"],
			})
		}),
	}
}

func mapGradeRow(row models.IngestionRow) (models.IngestionRow, error) {
	out := trimRow(row)
	out["roll_number"] = strings.ToUpper(out["roll_number"])
	out["subject_code"] = strings.ToUpper(out["subject_code"])
	score, err := strconv.ParseFloat(out["score"], 64)
	if err != nil || score < 0 || score > 100 {
		return nil, fmt.Errorf("invalid score %q", out["score"])
	}
	if out["letter"] == "" {
		out["letter"] = letterFor(score)
	} else {
		out["letter"] = strings.ToUpper(out["letter"])
	}
	return out, nil
}

func letterFor(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

func trimRow(row models.IngestionRow) models.IngestionRow {
	out := make(models.IngestionRow, len(row))
	for key, value := range row {
		out[key] = strings.TrimSpace(value)
	}
	return out
}
