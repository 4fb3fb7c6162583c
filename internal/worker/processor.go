package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	core "github.com/cuongbtq/gallery-pipeline/internal/domain"
	"github.com/cuongbtq/gallery-pipeline/internal/notify"
	"github.com/cuongbtq/gallery-pipeline/internal/worker/domain"
)

// processEvent emails the download link for one gallery-ready event.
// A nil return ACKs the delivery.
func (w *Worker) processEvent(ctx context.Context, msg *domain.EventMessage) error {
	event := msg.Event
	logger := w.logger.With(slog.String("record_id", event.RecordID))

	if w.store != nil {
		attempts, err := w.store.ClaimNotification(ctx, event, w.workerID)
		if errors.Is(err, domain.ErrAlreadySent) {
			logger.Info("Gallery email already sent, skipping")
			return nil
		}
		if err != nil {
			return domain.NewRetryableError(fmt.Errorf("failed to claim notification: %w", err))
		}
		logger = logger.With(slog.Int("attempt", attempts))
	}

	message := notify.ComposeDownloadMessage(
		event.Email,
		notify.ClientName(event.User, event.Email),
		event.DownloadURL,
		event.ImageCount,
		w.now().Year(),
	)

	sendCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	if err := w.mailer.Send(sendCtx, message); err != nil {
		w.updateStatus(ctx, logger, event, domain.NotificationStatusFailed, err.Error())
		return classify(err, msg.Redelivered)
	}

	w.updateStatus(ctx, logger, event, domain.NotificationStatusSent, "")
	logger.Info("Gallery email sent",
		slog.String("email", event.Email),
		slog.Int("image_count", event.ImageCount),
	)
	return nil
}

func (w *Worker) updateStatus(ctx context.Context, logger *slog.Logger, event core.GalleryReadyEvent, status, errorMsg string) {
	if w.store == nil {
		return
	}
	if err := w.store.UpdateStatus(context.WithoutCancel(ctx), event, status, errorMsg); err != nil {
		logger.Error("Failed to update notification status",
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
	}
}

// classify maps a send failure to the NACK decision. Transient failures are
// requeued once; a redelivered event that fails again is dropped.
func classify(err error, redelivered bool) error {
	var validation *core.ValidationError
	if errors.As(err, &validation) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	if !core.IsRetryable(err) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to send gallery email: %w", err)
	}

	if redelivered {
		return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, err)
	}
	return domain.NewRetryableError(fmt.Errorf("failed to send gallery email: %w", err))
}
