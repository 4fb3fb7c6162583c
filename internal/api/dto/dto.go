package dto

import "github.com/cuongbtq/gallery-pipeline/internal/domain"

type QueryRecordsRequest struct {
	Since string `json:"since"`
}

type QueryRecordsResponse struct {
	Records []domain.Record `json:"records"`
	Count   int             `json:"count"`
	Since   string          `json:"since"`
}

type UpdatePromptRequest struct {
	RecordID string `json:"recordId" binding:"required"`
	Prompt   string `json:"prompt"`
}

type ListRunsRequest struct {
	Trigger  string `form:"trigger"`
	Outcome  string `form:"outcome"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListRunsResponse struct {
	Runs       []RunDTO `json:"runs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type RunDTO struct {
	RunID            string                `json:"run_id"`
	Trigger          string                `json:"trigger"`
	Outcome          string                `json:"outcome"`
	RecordsFound     int                   `json:"records_found"`
	RecordsProcessed int                   `json:"records_processed"`
	SuccessCount     int                   `json:"success_count"`
	ErrorCount       int                   `json:"error_count"`
	DurationMs       int64                 `json:"duration_ms"`
	Errors           []domain.ErrorEntry   `json:"errors"`
	Details          []domain.RecordDetail `json:"details"`
	CreatedAt        string                `json:"created_at"`
}
