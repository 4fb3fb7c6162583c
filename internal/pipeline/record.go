package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/gallery-pipeline/internal/artifact"
	"github.com/cuongbtq/gallery-pipeline/internal/domain"
)

// NoImagesReason is the detail reason for a record whose every source image failed
const NoImagesReason = "No images generated"

// recordOutcome is what happened to one processed record
type recordOutcome struct {
	images          []domain.GeneratedImage
	downloadPageURL string
	imageErrors     []domain.ErrorEntry
	err             error
}

func (o recordOutcome) succeeded() bool {
	return o.err == nil
}

// applyTo folds the outcome into a run summary
func (o recordOutcome) applyTo(summary *domain.ProcessingSummary, record domain.Record) {
	for _, entry := range o.imageErrors {
		summary.AddError(entry)
	}

	switch {
	case errors.Is(o.err, domain.ErrNoImagesGenerated):
		summary.ErrorCount++
		summary.Details = append(summary.Details, domain.RecordDetail{
			RecordID: record.ID,
			Email:    record.Email,
			Status:   domain.StatusFailed,
			Reason:   NoImagesReason,
		})
	case o.err != nil:
		summary.ErrorCount++
		summary.AddError(domain.ErrorEntry{
			RecordID: record.ID,
			Email:    record.Email,
			Error:    o.err.Error(),
		})
	default:
		summary.SuccessCount++
		summary.Details = append(summary.Details, domain.RecordDetail{
			RecordID:            record.ID,
			Email:               record.Email,
			ImagesProcessed:     len(record.SourceImages),
			VariationsGenerated: len(o.images),
			DownloadPageURL:     o.downloadPageURL,
			Status:              domain.StatusSuccess,
		})
	}
}

// processRecord generates, persists and patches one record. Source image
// failures are collected and never abort the record. A failed record has
// its claim released.
func (p *Pipeline) processRecord(ctx context.Context, logger *slog.Logger, runID string, record domain.Record) recordOutcome {
	outcome := p.generateAndPatch(ctx, logger, runID, record)
	if !outcome.succeeded() {
		p.release(ctx, logger, record.ID, runID)
	}
	return outcome
}

func (p *Pipeline) generateAndPatch(ctx context.Context, logger *slog.Logger, runID string, record domain.Record) recordOutcome {
	var outcome recordOutcome

	prompt := p.cfg.EffectivePrompt(record.Prompt)
	keys := artifact.NewKeyBuilder(record.Email)

	logger.Info("Processing record",
		slog.Int("source_images", len(record.SourceImages)),
		slog.String("prompt", prompt),
	)

	for i, src := range record.SourceImages {
		name := src.Filename
		if name == "" {
			name = fmt.Sprintf("image_%d.jpg", i+1)
		}

		images, err := p.processSourceImage(ctx, logger, keys, src, prompt)
		if err != nil {
			logger.Error("Failed to process source image",
				slog.String("image", name),
				slog.String("error", err.Error()),
			)
			outcome.imageErrors = append(outcome.imageErrors, domain.ErrorEntry{
				RecordID: record.ID,
				Email:    record.Email,
				Image:    name,
				Error:    err.Error(),
			})
			continue
		}

		outcome.images = append(outcome.images, images...)
		logger.Info("Source image processed",
			slog.String("image", name),
			slog.Int("variations", len(images)),
		)
	}

	if len(outcome.images) == 0 {
		logger.Warn("No images generated for record")
		outcome.err = domain.ErrNoImagesGenerated
		return outcome
	}

	pageURL, err := p.publishGallery(ctx, keys, outcome.images)
	if err != nil {
		logger.Error("Failed to publish gallery page", slog.String("error", err.Error()))
		outcome.err = err
		return outcome
	}

	started := time.Now()
	err = p.records.Update(ctx, record.ID, domain.RecordUpdate{
		GeneratedImages: outcome.images,
		DownloadPageURL: &pageURL,
	})
	p.observer.ObserveStage(StageUpdate, time.Since(started), err)
	if err != nil {
		logger.Error("Failed to update record", slog.String("error", err.Error()))
		outcome.err = fmt.Errorf("failed to update record: %w", err)
		return outcome
	}

	outcome.downloadPageURL = pageURL
	logger.Info("Record processed",
		slog.Int("generated_images", len(outcome.images)),
		slog.String("download_page_url", pageURL),
	)

	p.notify(ctx, logger, domain.GalleryReadyEvent{
		RecordID:    record.ID,
		Email:       record.Email,
		User:        record.User,
		DownloadURL: pageURL,
		ImageCount:  len(outcome.images),
		RunID:       runID,
		GeneratedAt: p.now().UTC(),
	})

	return outcome
}

// processSourceImage fetches one source image and persists all of its
// variations. Any failure discards the URLs of that source image.
func (p *Pipeline) processSourceImage(ctx context.Context, logger *slog.Logger, keys artifact.KeyBuilder, src domain.SourceImage, prompt string) ([]domain.GeneratedImage, error) {
	if src.URL == "" {
		return nil, domain.NewValidationError("url", "source image has no url")
	}

	started := time.Now()
	img, err := p.fetcher.Fetch(ctx, src.URL)
	p.observer.ObserveStage(StageFetchSource, time.Since(started), err)
	if err != nil {
		return nil, err
	}

	count := p.cfg.VariationCount
	started = time.Now()
	artifacts, err := p.generator.Generate(ctx, img.Data, img.MimeType, prompt, count)
	p.observer.ObserveStage(StageGenerate, time.Since(started), err)
	if err != nil {
		return nil, err
	}

	timestamp := p.now().UnixMilli()
	images := make([]domain.GeneratedImage, 0, len(artifacts))
	for i, generated := range artifacts {
		index := i + 1

		backupKey := keys.Backup(timestamp, index, count, artifact.ExtensionFor(generated.MimeType))
		if _, err := p.put(ctx, backupKey, generated.Data, generated.MimeType); err != nil {
			return nil, fmt.Errorf("failed to store backup %s: %w", backupKey, err)
		}

		data, contentType := p.downscale(logger, generated)
		downloadKey := keys.Download(timestamp, index, count, artifact.ExtensionFor(contentType))
		url, err := p.put(ctx, downloadKey, data, contentType)
		if err != nil {
			return nil, fmt.Errorf("failed to store download %s: %w", downloadKey, err)
		}

		images = append(images, domain.GeneratedImage{URL: url})
	}

	p.observer.AddGeneratedImages(len(images))
	return images, nil
}

// downscale returns the resized copy, or the original bytes when resizing fails
func (p *Pipeline) downscale(logger *slog.Logger, generated domain.Artifact) ([]byte, string) {
	started := time.Now()
	resized, err := p.resizer.Resize(generated.Data)
	p.observer.ObserveStage(StageDownscale, time.Since(started), err)
	if err != nil {
		logger.Warn("Resizing failed, falling back to original",
			slog.String("error", err.Error()),
		)
		return generated.Data, generated.MimeType
	}
	return resized, p.resizer.ContentType()
}

func (p *Pipeline) publishGallery(ctx context.Context, keys artifact.KeyBuilder, images []domain.GeneratedImage) (string, error) {
	urls := make([]string, len(images))
	for i, img := range images {
		urls[i] = img.URL
	}

	started := time.Now()
	page, err := p.gallery.Render(urls)
	if err != nil {
		p.observer.ObserveStage(StageGallery, time.Since(started), err)
		return "", fmt.Errorf("failed to render gallery page: %w", err)
	}

	url, err := p.put(ctx, keys.Gallery(p.now().UnixMilli()), page, p.gallery.ContentType())
	p.observer.ObserveStage(StageGallery, time.Since(started), err)
	if err != nil {
		return "", fmt.Errorf("failed to store gallery page: %w", err)
	}
	return url, nil
}

func (p *Pipeline) put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	started := time.Now()
	url, err := p.store.Put(ctx, key, data, contentType)
	p.observer.ObserveStage(StageStore, time.Since(started), err)
	return url, err
}

func (p *Pipeline) notify(ctx context.Context, logger *slog.Logger, event domain.GalleryReadyEvent) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, event); err != nil {
		logger.Warn("Failed to publish gallery ready event", slog.String("error", err.Error()))
	}
}
