// Package pipeline selects eligible records, generates image variations for
// every source image, persists backup and downloadable copies plus a gallery
// page, and patches the record with the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/gallery-pipeline/internal/artifact"
	"github.com/cuongbtq/gallery-pipeline/internal/domain"
	"github.com/cuongbtq/gallery-pipeline/internal/source"
)

// Stage names reported to the observer
const (
	StageFetchRecords = "fetch_records"
	StageFetchSource  = "fetch_source"
	StageGenerate     = "generate"
	StageStore        = "store"
	StageDownscale    = "downscale"
	StageGallery      = "gallery"
	StageUpdate       = "update"
)

// Run outcomes reported to the observer
const (
	OutcomeSuccess = "success"
	OutcomeErrors  = "errors"
	OutcomeFatal   = "fatal"
)

// RecordRepository reads eligible records and patches results back
type RecordRepository interface {
	FetchEligible(ctx context.Context, since time.Time) ([]domain.Record, error)
	Update(ctx context.Context, id string, update domain.RecordUpdate) error
	Claim(ctx context.Context, id, runID string) error
	Release(ctx context.Context, id, runID string) error
}

// ImageGenerator produces count variations of a source image
type ImageGenerator interface {
	Generate(ctx context.Context, source []byte, mimeType, prompt string, count int) ([]domain.Artifact, error)
}

// SourceFetcher downloads a source image
type SourceFetcher interface {
	Fetch(ctx context.Context, url string) (*source.Image, error)
}

// Resizer produces the downloadable copy of a generated image
type Resizer interface {
	Resize(data []byte) ([]byte, error)
	ContentType() string
}

// GalleryRenderer renders the download page for a list of image URLs
type GalleryRenderer interface {
	Render(urls []string) ([]byte, error)
	ContentType() string
}

// Notifier is told when a record's gallery is ready
type Notifier interface {
	Notify(ctx context.Context, event domain.GalleryReadyEvent) error
}

// RunRecorder stores finished run summaries
type RunRecorder interface {
	RecordRun(ctx context.Context, summary *domain.ProcessingSummary) error
}

// Observer receives run and stage measurements
type Observer interface {
	ObserveRun(trigger, outcome string, duration time.Duration)
	ObserveStage(stage string, duration time.Duration, err error)
	AddGeneratedImages(n int)
}

// Dependencies holds the pipeline collaborators. Notifier, Recorder and Observer are optional.
type Dependencies struct {
	Logger    *slog.Logger
	Records   RecordRepository
	Generator ImageGenerator
	Fetcher   SourceFetcher
	Store     artifact.Store
	Resizer   Resizer
	Gallery   GalleryRenderer
	Notifier  Notifier
	Recorder  RunRecorder
	Observer  Observer
}

// Pipeline is the record processing pipeline
type Pipeline struct {
	cfg       Config
	logger    *slog.Logger
	records   RecordRepository
	generator ImageGenerator
	fetcher   SourceFetcher
	store     artifact.Store
	resizer   Resizer
	gallery   GalleryRenderer
	notifier  Notifier
	recorder  RunRecorder
	observer  Observer

	now      func() time.Time
	newRunID func() string
}

// New validates cfg and creates a pipeline
func New(cfg Config, deps Dependencies) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch {
	case deps.Records == nil:
		return nil, errors.New("pipeline: record repository is required")
	case deps.Generator == nil:
		return nil, errors.New("pipeline: image generator is required")
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: source fetcher is required")
	case deps.Store == nil:
		return nil, errors.New("pipeline: artifact store is required")
	case deps.Resizer == nil:
		return nil, errors.New("pipeline: resizer is required")
	case deps.Gallery == nil:
		return nil, errors.New("pipeline: gallery renderer is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Pipeline{
		cfg:       cfg,
		logger:    logger,
		records:   deps.Records,
		generator: deps.Generator,
		fetcher:   deps.Fetcher,
		store:     deps.Store,
		resizer:   deps.Resizer,
		gallery:   deps.Gallery,
		notifier:  deps.Notifier,
		recorder:  deps.Recorder,
		observer:  observer,
		now:       time.Now,
		newRunID:  func() string { return uuid.New().String() },
	}, nil
}

// Config returns the validated settings
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Run processes every eligible record once. A non-nil error is always a
// *domain.FatalError and is returned together with the partial summary.
func (p *Pipeline) Run(ctx context.Context, trigger string) (*domain.ProcessingSummary, error) {
	started := time.Now()
	runID := p.newRunID()
	summary := domain.NewProcessingSummary(runID, trigger, p.now().UTC())
	logger := p.logger.With(
		slog.String("run_id", runID),
		slog.String("trigger", trigger),
	)

	logger.Info("Pipeline run started")

	records, err := p.fetchEligible(ctx)
	if err != nil {
		fatal := &domain.FatalError{Err: err}
		summary.AddFatal(fatal)
		logger.Error("Failed to fetch eligible records",
			slog.String("error", err.Error()),
		)
		p.finish(ctx, logger, summary, started, OutcomeFatal)
		return summary, fatal
	}

	summary.RecordsFound = len(records)
	logger.Info("Eligible records fetched", slog.Int("count", len(records)))

	for _, record := range records {
		recordLogger := logger.With(
			slog.String("record_id", record.ID),
			slog.String("email", record.Email),
		)

		if len(record.SourceImages) == 0 {
			recordLogger.Info("Skipping record without source images")
			continue
		}

		if err := p.claim(ctx, record.ID, runID); err != nil {
			if errors.Is(err, domain.ErrRecordAlreadyClaimed) {
				recordLogger.Info("Skipping record claimed by another run")
				summary.Details = append(summary.Details, domain.RecordDetail{
					RecordID: record.ID,
					Email:    record.Email,
					Status:   domain.StatusSkipped,
					Reason:   err.Error(),
				})
				continue
			}
			recordLogger.Error("Failed to claim record", slog.String("error", err.Error()))
			summary.ErrorCount++
			summary.AddError(domain.ErrorEntry{RecordID: record.ID, Email: record.Email, Error: err.Error()})
			continue
		}

		summary.RecordsProcessed++
		outcome := p.processRecord(ctx, recordLogger, runID, record)
		outcome.applyTo(summary, record)
	}

	result := OutcomeSuccess
	if summary.ErrorCount > 0 {
		result = OutcomeErrors
	}
	p.finish(ctx, logger, summary, started, result)
	return summary, nil
}

func (p *Pipeline) fetchEligible(ctx context.Context) ([]domain.Record, error) {
	since := p.now().Add(-p.cfg.EligibilityWindow)
	started := time.Now()
	records, err := p.records.FetchEligible(ctx, since)
	p.observer.ObserveStage(StageFetchRecords, time.Since(started), err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch eligible records: %w", err)
	}
	return records, nil
}

func (p *Pipeline) claim(ctx context.Context, id, runID string) error {
	if !p.cfg.ClaimRecords {
		return nil
	}
	return p.records.Claim(ctx, id, runID)
}

// release drops a claim so the next run can retry the record. It runs even
// when ctx is done.
func (p *Pipeline) release(ctx context.Context, logger *slog.Logger, id, runID string) {
	if !p.cfg.ClaimRecords {
		return
	}
	if err := p.records.Release(context.WithoutCancel(ctx), id, runID); err != nil {
		logger.Warn("Failed to release record claim", slog.String("error", err.Error()))
	}
}

func (p *Pipeline) finish(ctx context.Context, logger *slog.Logger, summary *domain.ProcessingSummary, started time.Time, outcome string) {
	elapsed := time.Since(started)
	summary.DurationMs = elapsed.Milliseconds()
	p.observer.ObserveRun(summary.Trigger, outcome, elapsed)

	logger.Info("Pipeline run finished",
		slog.String("outcome", outcome),
		slog.Int("records_found", summary.RecordsFound),
		slog.Int("records_processed", summary.RecordsProcessed),
		slog.Int("success_count", summary.SuccessCount),
		slog.Int("error_count", summary.ErrorCount),
		slog.Int64("duration_ms", summary.DurationMs),
	)

	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordRun(context.WithoutCancel(ctx), summary); err != nil {
		logger.Warn("Failed to record run history", slog.String("error", err.Error()))
	}
}

type nopObserver struct{}

func (nopObserver) ObserveRun(string, string, time.Duration) {}
func (nopObserver) ObserveStage(string, time.Duration, error) {}
func (nopObserver) AddGeneratedImages(int) {}
