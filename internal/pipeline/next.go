package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/gallery-pipeline/internal/domain"
	"github.com/cuongbtq/gallery-pipeline/internal/notify"
)

// ProcessNext statuses
const (
	NextStatusSuccess = "success"
	NextStatusNoWork  = "no_work"
	NextStatusError   = "error"
)

// NextResult is the outcome of processing a single pending record
type NextResult struct {
	Status       string              `json:"status"`
	Message      string              `json:"message,omitempty"`
	RecordID     string              `json:"recordId,omitempty"`
	Email        string              `json:"email,omitempty"`
	User         string              `json:"user,omitempty"`
	DownloadLink string              `json:"downloadLink,omitempty"`
	MailtoLink   string              `json:"mailtoLink,omitempty"`
	ImageCount   int                 `json:"imageCount,omitempty"`
	Errors       []domain.ErrorEntry `json:"errors,omitempty"`
}

// ProcessNext processes the first pending record and returns the data needed
// to email its download link. Fetch and patch failures are returned as errors.
func (p *Pipeline) ProcessNext(ctx context.Context) (*NextResult, error) {
	started := time.Now()
	runID := p.newRunID()
	logger := p.logger.With(slog.String("run_id", runID), slog.String("trigger", "next"))

	records, err := p.fetchEligible(ctx)
	if err != nil {
		logger.Error("Failed to fetch pending records", slog.String("error", err.Error()))
		p.observer.ObserveRun("next", OutcomeFatal, time.Since(started))
		return nil, &domain.FatalError{Err: err}
	}

	record, err := p.pickNext(ctx, logger, records, runID)
	if err != nil {
		p.observer.ObserveRun("next", OutcomeFatal, time.Since(started))
		return nil, err
	}
	if record == nil {
		p.observer.ObserveRun("next", NextStatusNoWork, time.Since(started))
		return &NextResult{Status: NextStatusNoWork, Message: "No pending records found."}, nil
	}

	recordLogger := logger.With(slog.String("record_id", record.ID), slog.String("email", record.Email))
	result := &NextResult{
		RecordID: record.ID,
		Email:    record.Email,
		User:     record.User,
	}
	if result.User == "" {
		result.User = "Client"
	}

	if len(record.SourceImages) == 0 {
		result.Status = NextStatusError
		result.Message = "Record has no input images."
		p.release(ctx, recordLogger, record.ID, runID)
		p.observer.ObserveRun("next", NextStatusError, time.Since(started))
		return result, nil
	}

	outcome := p.processRecord(ctx, recordLogger, runID, *record)
	result.Errors = outcome.imageErrors
	if !outcome.succeeded() {
		if errors.Is(outcome.err, domain.ErrNoImagesGenerated) {
			result.Status = NextStatusError
			result.Message = "Failed to generate images or download link."
			p.observer.ObserveRun("next", NextStatusError, time.Since(started))
			return result, nil
		}
		p.observer.ObserveRun("next", OutcomeFatal, time.Since(started))
		return nil, outcome.err
	}

	msg := notify.ComposeDownloadMessage(
		record.Email,
		notify.ClientName(record.User, record.Email),
		outcome.downloadPageURL,
		len(outcome.images),
		p.now().Year(),
	)

	result.Status = NextStatusSuccess
	result.DownloadLink = outcome.downloadPageURL
	result.MailtoLink = notify.MailtoLink(msg)
	result.ImageCount = len(outcome.images)

	p.observer.ObserveRun("next", NextStatusSuccess, time.Since(started))
	return result, nil
}

// pickNext returns the first record this run may work on, or nil
func (p *Pipeline) pickNext(ctx context.Context, logger *slog.Logger, records []domain.Record, runID string) (*domain.Record, error) {
	for i := range records {
		err := p.claim(ctx, records[i].ID, runID)
		if err == nil {
			return &records[i], nil
		}
		if !errors.Is(err, domain.ErrRecordAlreadyClaimed) {
			return nil, err
		}
		logger.Info("Skipping record claimed by another run", slog.String("record_id", records[i].ID))
	}
	return nil, nil
}
