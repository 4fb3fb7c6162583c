package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/gallery-pipeline/internal/api/model"
	"github.com/cuongbtq/gallery-pipeline/internal/domain"
	"github.com/cuongbtq/gallery-pipeline/shared/postgresql"
)

// ErrRunNotFound is returned when no run has the requested id
var ErrRunNotFound = errors.New("run not found")

// Run outcomes stored with each row
const (
	OutcomeSuccess = "success"
	OutcomeErrors  = "errors"
	OutcomeFatal   = "fatal"
)

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id            TEXT PRIMARY KEY,
	trigger           TEXT NOT NULL,
	outcome           TEXT NOT NULL,
	records_found     INTEGER NOT NULL DEFAULT 0,
	records_processed INTEGER NOT NULL DEFAULT 0,
	success_count     INTEGER NOT NULL DEFAULT 0,
	error_count       INTEGER NOT NULL DEFAULT 0,
	duration_ms       BIGINT NOT NULL DEFAULT 0,
	errors            JSONB NOT NULL DEFAULT '[]'::jsonb,
	details           JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_created_at ON pipeline_runs (created_at DESC, run_id DESC);
`

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// EnsureSchema creates the pipeline_runs table when missing
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create pipeline_runs schema: %w", err)
	}
	return nil
}

// RecordRun stores a finished pipeline summary
func (s *Storage) RecordRun(ctx context.Context, summary *domain.ProcessingSummary) error {
	run, err := NewRun(summary)
	if err != nil {
		return err
	}
	return s.CreateRun(ctx, run)
}

// NewRun converts a summary into a history row
func NewRun(summary *domain.ProcessingSummary) (*model.Run, error) {
	errs, err := json.Marshal(summary.Errors)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run errors: %w", err)
	}
	details, err := json.Marshal(summary.Details)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run details: %w", err)
	}

	createdAt := summary.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return &model.Run{
		RunID:            summary.RunID,
		Trigger:          summary.Trigger,
		Outcome:          Outcome(summary),
		RecordsFound:     summary.RecordsFound,
		RecordsProcessed: summary.RecordsProcessed,
		SuccessCount:     summary.SuccessCount,
		ErrorCount:       summary.ErrorCount,
		DurationMs:       summary.DurationMs,
		Errors:           string(errs),
		Details:          string(details),
		CreatedAt:        createdAt,
	}, nil
}

// Outcome classifies a summary as success, errors or fatal
func Outcome(summary *domain.ProcessingSummary) string {
	for _, e := range summary.Errors {
		if e.Type == "fatal" {
			return OutcomeFatal
		}
	}
	if summary.ErrorCount > 0 {
		return OutcomeErrors
	}
	return OutcomeSuccess
}

func (s *Storage) CreateRun(ctx context.Context, run *model.Run) error {
	query := `
		INSERT INTO pipeline_runs (
			run_id, trigger, outcome, records_found, records_processed,
			success_count, error_count, duration_ms, errors, details, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		run.RunID,
		run.Trigger,
		run.Outcome,
		run.RecordsFound,
		run.RecordsProcessed,
		run.SuccessCount,
		run.ErrorCount,
		run.DurationMs,
		run.Errors,
		run.Details,
		run.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

const runColumns = `
	run_id, trigger, outcome, records_found, records_processed,
	success_count, error_count, duration_ms, errors::text AS errors, details::text AS details, created_at
`

func (s *Storage) GetRunByID(ctx context.Context, runID string) (*model.Run, error) {
	var run model.Run
	query := `SELECT` + runColumns + `FROM pipeline_runs WHERE run_id = $1`

	err := s.db.GetContext(ctx, &run, query, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

type RunFilter struct {
	Trigger  string
	Outcome  string
	PageSize int
	Cursor   *RunCursor
}

type RunCursor struct {
	CreatedAt time.Time
	RunID     string
}

func (s *Storage) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT` + runColumns + `FROM pipeline_runs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Trigger != "" {
		query += fmt.Sprintf(" AND trigger = $%d", argIdx)
		args = append(args, filter.Trigger)
		argIdx++
	}

	if filter.Outcome != "" {
		query += fmt.Sprintf(" AND outcome = $%d", argIdx)
		args = append(args, filter.Outcome)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, run_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.RunID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, run_id DESC"

	// one extra row tells the caller whether another page exists
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var runs []model.Run
	err := s.db.SelectContext(ctx, &runs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}
