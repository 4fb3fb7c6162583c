package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/gallery-pipeline/internal/api/model"
	"github.com/cuongbtq/gallery-pipeline/internal/api/storage"
	"github.com/cuongbtq/gallery-pipeline/internal/domain"
	"github.com/cuongbtq/gallery-pipeline/internal/pipeline"
)

// Processor runs the record pipeline
type Processor interface {
	Run(ctx context.Context, trigger string) (*domain.ProcessingSummary, error)
	ProcessNext(ctx context.Context) (*pipeline.NextResult, error)
}

// RecordStore is the admin view of the record backend
type RecordStore interface {
	ListSince(ctx context.Context, since time.Time) ([]domain.Record, error)
	Get(ctx context.Context, id string) (*domain.Record, error)
	Update(ctx context.Context, id string, update domain.RecordUpdate) error
}

// RunStore reads the run history
type RunStore interface {
	GetRunByID(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter storage.RunFilter) ([]model.Run, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Pipeline Processor
	Records  RecordStore
	// Runs is nil when no database is configured
	Runs RunStore
}

// PipelineHandler triggers pipeline runs
type PipelineHandler struct {
	logger   *slog.Logger
	pipeline Processor
}

// NewPipelineHandler creates a new PipelineHandler instance
func NewPipelineHandler(deps *Dependencies) *PipelineHandler {
	return &PipelineHandler{
		logger:   deps.Logger,
		pipeline: deps.Pipeline,
	}
}

// RecordHandler serves the admin record endpoints
type RecordHandler struct {
	logger  *slog.Logger
	records RecordStore
	now     func() time.Time
}

// NewRecordHandler creates a new RecordHandler instance
func NewRecordHandler(deps *Dependencies) *RecordHandler {
	return &RecordHandler{
		logger:  deps.Logger,
		records: deps.Records,
		now:     time.Now,
	}
}

// RunHandler serves the run history
type RunHandler struct {
	logger *slog.Logger
	runs   RunStore
}

// NewRunHandler creates a new RunHandler instance
func NewRunHandler(deps *Dependencies) *RunHandler {
	return &RunHandler{
		logger: deps.Logger,
		runs:   deps.Runs,
	}
}
