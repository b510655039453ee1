package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// IngestionStatus captures bulk ingestion job lifecycle states.
type IngestionStatus string

const (
	IngestionStatusRunning   IngestionStatus = "running"
	IngestionStatusCompleted IngestionStatus = "completed"
	IngestionStatusFailed    IngestionStatus = "failed"
)

// Terminal reports whether the job will not change any further.
func (s IngestionStatus) Terminal() bool {
	return s == IngestionStatusCompleted || s == IngestionStatusFailed
}

// IngestionRow is one header-keyed CSV record.
type IngestionRow map[string]string

// IngestionRows is persisted as JSONB so an interrupted job can resume.
type IngestionRows []IngestionRow

// Value marshals rows for persistence.
func (r IngestionRows) Value() (driver.Value, error) {
	if r == nil {
		r = IngestionRows{}
	}
	data, err := json.Marshal([]IngestionRow(r))
	if err != nil {
		return nil, fmt.Errorf("marshal ingestion rows: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSONB rows.
func (r *IngestionRows) Scan(value interface{}) error {
	*r = IngestionRows{}
	return scanJSON(value, (*[]IngestionRow)(r), "ingestion rows")
}

// FailedRecord reports one row that could not be ingested.
type FailedRecord struct {
	RowIdentifier string `json:"rowIdentifier"`
	Reason        string `json:"reason"`
}

// FailedRecords is persisted as a JSONB array.
type FailedRecords []FailedRecord

// Value marshals failures for persistence.
func (f FailedRecords) Value() (driver.Value, error) {
	if f == nil {
		f = FailedRecords{}
	}
	data, err := json.Marshal([]FailedRecord(f))
	if err != nil {
		return nil, fmt.Errorf("marshal failed records: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSONB failures.
func (f *FailedRecords) Scan(value interface{}) error {
	*f = FailedRecords{}
	return scanJSON(value, (*[]FailedRecord)(f), "failed records")
}

// IngestionJob tracks one bulk upload. Processed never decreases.
type IngestionJob struct {
	ID            string          `db:"id" json:"id"`
	Target        string          `db:"target" json:"target"`
	Rows          IngestionRows   `db:"rows" json:"-"`
	Total         int             `db:"total" json:"total"`
	Processed     int             `db:"processed" json:"processed"`
	FailedRecords FailedRecords   `db:"failed_records" json:"failedRecords"`
	Status        IngestionStatus `db:"status" json:"status"`
	ErrorMessage  *string         `db:"error_message" json:"errorMessage,omitempty"`
	CreatedBy     string          `db:"created_by" json:"createdBy"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	FinishedAt    *time.Time      `db:"finished_at" json:"finishedAt,omitempty"`
}
