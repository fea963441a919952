package api

import (
	"github.com/starford/surveybox/internal/ingest"
	"github.com/starford/surveybox/internal/journal"
)

// WebhookResponse is returned for an accepted submission.
type WebhookResponse struct {
	Status     string            `json:"status" example:"success" validate:"required"`
	Succeeded  int               `json:"succeeded" example:"2" validate:"required"`
	FolderID   string            `json:"folder_id,omitempty" example:"0"`
	Individual ingest.StepResult `json:"individual"`
	Master     ingest.StepResult `json:"master"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status" example:"ok" validate:"required"`
	Timestamp string `json:"timestamp" example:"2024-03-05T12:00:00Z" validate:"required"`
}

// SubmissionListResponse wraps journal entries.
type SubmissionListResponse struct {
	Submissions []journal.Entry `json:"submissions" validate:"required"`
}
