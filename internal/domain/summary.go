package domain

import "time"

// Run triggers
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// Record outcomes reported in summary details
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// ProcessingSummary is the result of one pipeline run
type ProcessingSummary struct {
	RunID            string         `json:"runId"`
	Trigger          string         `json:"trigger"`
	Timestamp        time.Time      `json:"timestamp"`
	RecordsFound     int            `json:"recordsFound"`
	RecordsProcessed int            `json:"recordsProcessed"`
	SuccessCount     int            `json:"successCount"`
	ErrorCount       int            `json:"errorCount"`
	Errors           []ErrorEntry   `json:"errors"`
	Details          []RecordDetail `json:"details"`
	DurationMs       int64          `json:"durationMs"`
}

// ErrorEntry carries the context of a caught failure
type ErrorEntry struct {
	Type     string `json:"type,omitempty"`
	RecordID string `json:"recordId,omitempty"`
	Email    string `json:"email,omitempty"`
	Image    string `json:"image,omitempty"`
	Error    string `json:"error"`
}

// RecordDetail describes what happened to one record
type RecordDetail struct {
	RecordID            string `json:"recordId"`
	Email               string `json:"email,omitempty"`
	ImagesProcessed     int    `json:"imagesProcessed,omitempty"`
	VariationsGenerated int    `json:"variationsGenerated,omitempty"`
	DownloadPageURL     string `json:"downloadPageUrl,omitempty"`
	Status              string `json:"status"`
	Reason              string `json:"reason,omitempty"`
}

// NewProcessingSummary creates an empty summary with non-nil lists
func NewProcessingSummary(runID, trigger string, at time.Time) *ProcessingSummary {
	return &ProcessingSummary{
		RunID:     runID,
		Trigger:   trigger,
		Timestamp: at,
		Errors:    []ErrorEntry{},
		Details:   []RecordDetail{},
	}
}

// AddError appends an error entry
func (s *ProcessingSummary) AddError(entry ErrorEntry) {
	s.Errors = append(s.Errors, entry)
}

// AddFatal records a run-aborting failure
func (s *ProcessingSummary) AddFatal(err error) {
	s.ErrorCount++
	s.Errors = append(s.Errors, ErrorEntry{Type: "fatal", Error: err.Error()})
}
