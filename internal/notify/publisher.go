package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/gallery-pipeline/internal/domain"
)

// EventPublisher is satisfied by the shared RabbitMQ client
type EventPublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// QueueNotifier publishes gallery-ready events for the worker service
type QueueNotifier struct {
	publisher EventPublisher
	logger    *slog.Logger
}

// NewQueueNotifier creates a notifier on top of a publisher
func NewQueueNotifier(publisher EventPublisher, logger *slog.Logger) *QueueNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueNotifier{publisher: publisher, logger: logger}
}

// Notify publishes the event as JSON
func (n *QueueNotifier) Notify(ctx context.Context, event domain.GalleryReadyEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal gallery event: %w", err)
	}

	if err := n.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish gallery event: %w", err)
	}

	n.logger.Info("Gallery ready event published",
		slog.String("record_id", event.RecordID),
		slog.String("run_id", event.RunID),
	)
	return nil
}

// DecodeEvent parses a gallery-ready event body
func DecodeEvent(body []byte) (domain.GalleryReadyEvent, error) {
	var event domain.GalleryReadyEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return event, fmt.Errorf("failed to unmarshal gallery event: %w", err)
	}
	if event.RecordID == "" || event.DownloadURL == "" {
		return event, domain.NewValidationError("event", "record_id and download_url are required")
	}
	return event, nil
}
