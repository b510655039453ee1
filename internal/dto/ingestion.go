package dto

import "github.com/noah-isme/campus-leave-api/internal/models"

// SubmitIngestionRequest carries already decoded rows for a bulk ingestion target.
type SubmitIngestionRequest struct {
	Target string                `json:"target" validate:"required"`
	Rows   []models.IngestionRow `json:"rows"`
}

// SubmitIngestionResponse identifies the background job.
type SubmitIngestionResponse struct {
	ProcessID string `json:"processId"`
}

// IngestionProgressResponse is the pollable view of a job.
type IngestionProgressResponse struct {
	ProcessID     string                 `json:"processId"`
	Target        string                 `json:"target"`
	Processed     int                    `json:"processed"`
	Total         int                    `json:"total"`
	FailedRecords []models.FailedRecord  `json:"failedRecords"`
	Status        models.IngestionStatus `json:"status"`
	Percentage    float64                `json:"percentage"`
	Error         *string                `json:"error,omitempty"`
}
