package model

import "time"

// Run is one row of the pipeline run history
type Run struct {
	RunID            string    `db:"run_id"`
	Trigger          string    `db:"trigger"`
	Outcome          string    `db:"outcome"`
	RecordsFound     int       `db:"records_found"`
	RecordsProcessed int       `db:"records_processed"`
	SuccessCount     int       `db:"success_count"`
	ErrorCount       int       `db:"error_count"`
	DurationMs       int64     `db:"duration_ms"`
	Errors           string    `db:"errors"`
	Details          string    `db:"details"`
	CreatedAt        time.Time `db:"created_at"`
}
