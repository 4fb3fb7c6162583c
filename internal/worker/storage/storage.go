package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	core "github.com/cuongbtq/gallery-pipeline/internal/domain"
	"github.com/cuongbtq/gallery-pipeline/internal/worker/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS gallery_notifications (
	record_id     TEXT NOT NULL,
	download_url  TEXT NOT NULL,
	email         TEXT NOT NULL,
	status        TEXT NOT NULL,
	worker_id     TEXT NOT NULL,
	attempts      INTEGER NOT NULL DEFAULT 1,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	sent_at       TIMESTAMPTZ,
	PRIMARY KEY (record_id, download_url)
);
`

// Notification is one row of the delivery ledger
type Notification struct {
	RecordID     string       `db:"record_id"`
	DownloadURL  string       `db:"download_url"`
	Email        string       `db:"email"`
	Status       string       `db:"status"`
	WorkerID     string       `db:"worker_id"`
	Attempts     int          `db:"attempts"`
	ErrorMessage string       `db:"error_message"`
	SentAt       sql.NullTime `db:"sent_at"`
}

// Storage records which gallery emails were delivered so redeliveries are not resent
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the gallery_notifications table when missing
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create gallery_notifications schema: %w", err)
	}
	return nil
}

// ClaimNotification marks the event as being sent by workerID.
// Returns ErrAlreadySent when a previous attempt already delivered it.
func (s *Storage) ClaimNotification(ctx context.Context, event core.GalleryReadyEvent, workerID string) (int, error) {
	query := `
		INSERT INTO gallery_notifications (record_id, download_url, email, status, worker_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (record_id, download_url) DO UPDATE
		SET status = EXCLUDED.status,
		    worker_id = EXCLUDED.worker_id,
		    attempts = gallery_notifications.attempts + 1,
		    updated_at = NOW()
		WHERE gallery_notifications.status <> $6
		RETURNING attempts
	`

	var attempts int
	err := s.db.QueryRowContext(ctx, query,
		event.RecordID,
		event.DownloadURL,
		event.Email,
		domain.NotificationStatusSending,
		workerID,
		domain.NotificationStatusSent,
	).Scan(&attempts)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Info("Notification already sent",
				slog.String("record_id", event.RecordID),
				slog.String("worker_id", workerID),
			)
			return 0, domain.ErrAlreadySent
		}
		return 0, fmt.Errorf("failed to claim notification: %w", err)
	}

	s.logger.Debug("Notification claimed",
		slog.String("record_id", event.RecordID),
		slog.String("worker_id", workerID),
		slog.Int("attempts", attempts),
	)

	return attempts, nil
}

// UpdateStatus sets the final status of an attempt
func (s *Storage) UpdateStatus(ctx context.Context, event core.GalleryReadyEvent, status, errorMsg string) error {
	query := `
		UPDATE gallery_notifications
		SET status = $1::text,
			error_message = $2,
			sent_at = CASE WHEN $1::text = $3::text THEN NOW() ELSE sent_at END,
			updated_at = NOW()
		WHERE record_id = $4 AND download_url = $5
	`

	_, err := s.db.ExecContext(ctx, query, status, errorMsg, domain.NotificationStatusSent, event.RecordID, event.DownloadURL)
	if err != nil {
		return fmt.Errorf("failed to update notification status: %w", err)
	}

	s.logger.Info("Notification status updated",
		slog.String("record_id", event.RecordID),
		slog.String("status", status),
	)

	return nil
}

// GetNotification loads a ledger row
func (s *Storage) GetNotification(ctx context.Context, recordID, downloadURL string) (*Notification, error) {
	query := `
		SELECT record_id, download_url, email, status, worker_id, attempts, error_message, sent_at
		FROM gallery_notifications
		WHERE record_id = $1 AND download_url = $2
	`

	var n Notification
	if err := s.db.GetContext(ctx, &n, query, recordID, downloadURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("notification %s: %w", recordID, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &n, nil
}
