package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/gallery-pipeline/internal/domain"
	"github.com/cuongbtq/gallery-pipeline/shared/postgresql"
)

// DefaultClaimTTL is how long a claim blocks other runs before it is considered abandoned
const DefaultClaimTTL = 30 * time.Minute

const schema = `
CREATE TABLE IF NOT EXISTS client_records (
	record_id         TEXT PRIMARY KEY,
	email             TEXT NOT NULL DEFAULT '',
	user_name         TEXT NOT NULL DEFAULT '',
	prompt            TEXT NOT NULL DEFAULT '',
	order_package     TEXT NOT NULL DEFAULT '',
	source_images     JSONB NOT NULL DEFAULT '[]'::jsonb,
	generated_images  JSONB NOT NULL DEFAULT '[]'::jsonb,
	download_page_url TEXT NOT NULL DEFAULT '',
	claimed_by        TEXT,
	claimed_at        TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_client_records_created_at ON client_records (created_at);
`

const recordColumns = `
	record_id, email, user_name, prompt, order_package,
	source_images, generated_images, download_page_url, created_at
`

// recordRow mirrors one client_records row
type recordRow struct {
	RecordID        string    `db:"record_id"`
	Email           string    `db:"email"`
	UserName        string    `db:"user_name"`
	Prompt          string    `db:"prompt"`
	OrderPackage    string    `db:"order_package"`
	SourceImages    []byte    `db:"source_images"`
	GeneratedImages []byte    `db:"generated_images"`
	DownloadPageURL string    `db:"download_page_url"`
	CreatedAt       time.Time `db:"created_at"`
}

// PostgresRepository stores client records in PostgreSQL
type PostgresRepository struct {
	db       *sqlx.DB
	claimTTL time.Duration
	logger   *slog.Logger
}

// NewPostgresRepository creates a repository on an existing client
func NewPostgresRepository(pg *postgresql.Client, claimTTL time.Duration, logger *slog.Logger) *PostgresRepository {
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{
		db:       pg.GetDB(),
		claimTTL: claimTTL,
		logger:   logger.With(slog.String("component", "records_postgres")),
	}
}

// EnsureSchema creates the client_records table when missing
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create client_records schema: %w", err)
	}
	return nil
}

// Create inserts a new record
func (r *PostgresRepository) Create(ctx context.Context, record *domain.Record) error {
	sources, err := json.Marshal(nonNilSources(record.SourceImages))
	if err != nil {
		return fmt.Errorf("failed to marshal source images: %w", err)
	}
	generated, err := json.Marshal(nonNilGenerated(record.GeneratedImages))
	if err != nil {
		return fmt.Errorf("failed to marshal generated images: %w", err)
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO client_records (
			record_id, email, user_name, prompt, order_package,
			source_images, generated_images, download_page_url, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, NOW()
		)
	`
	_, err = r.db.ExecContext(ctx, query,
		record.ID,
		record.Email,
		record.User,
		record.Prompt,
		record.OrderPackage,
		string(sources),
		string(generated),
		record.DownloadPageURL,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

// FetchEligible returns unprocessed records created after since, oldest first
func (r *PostgresRepository) FetchEligible(ctx context.Context, since time.Time) ([]domain.Record, error) {
	query := `SELECT` + recordColumns + `
		FROM client_records
		WHERE created_at > $1
		  AND order_package <> ''
		  AND jsonb_array_length(source_images) > 0
		  AND jsonb_array_length(generated_images) = 0
		  AND download_page_url = ''
		ORDER BY created_at ASC, record_id ASC
	`
	return r.selectRecords(ctx, query, since)
}

// ListSince returns every record created after since, newest first
func (r *PostgresRepository) ListSince(ctx context.Context, since time.Time) ([]domain.Record, error) {
	query := `SELECT` + recordColumns + `
		FROM client_records
		WHERE created_at > $1
		ORDER BY created_at DESC, record_id DESC
	`
	return r.selectRecords(ctx, query, since)
}

// Get returns one record by id
func (r *PostgresRepository) Get(ctx context.Context, id string) (*domain.Record, error) {
	var row recordRow
	query := `SELECT` + recordColumns + `FROM client_records WHERE record_id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	record, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Update patches the non-nil fields of the update
func (r *PostgresRepository) Update(ctx context.Context, id string, update domain.RecordUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	query := `UPDATE client_records SET updated_at = NOW()`
	args := []interface{}{}
	argIdx := 1

	if update.GeneratedImages != nil {
		generated, err := json.Marshal(update.GeneratedImages)
		if err != nil {
			return fmt.Errorf("failed to marshal generated images: %w", err)
		}
		query += fmt.Sprintf(", generated_images = $%d", argIdx)
		args = append(args, string(generated))
		argIdx++
	}
	if update.DownloadPageURL != nil {
		query += fmt.Sprintf(", download_page_url = $%d", argIdx)
		args = append(args, *update.DownloadPageURL)
		argIdx++
	}
	if update.Prompt != nil {
		query += fmt.Sprintf(", prompt = $%d", argIdx)
		args = append(args, *update.Prompt)
		argIdx++
	}

	query += fmt.Sprintf(" WHERE record_id = $%d", argIdx)
	args = append(args, id)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

// Claim atomically marks the record as being processed by runID.
// Claims older than the TTL are taken over.
func (r *PostgresRepository) Claim(ctx context.Context, id, runID string) error {
	query := `
		UPDATE client_records
		SET claimed_by = $1,
		    claimed_at = NOW(),
		    updated_at = NOW()
		WHERE record_id = $2
		  AND download_page_url = ''
		  AND (claimed_by IS NULL OR claimed_by = $1 OR claimed_at < $3)
		RETURNING record_id
	`

	var claimed string
	err := r.db.QueryRowContext(ctx, query, runID, id, time.Now().Add(-r.claimTTL)).Scan(&claimed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Warn("Failed to claim record - already claimed or not found",
				slog.String("record_id", id),
				slog.String("run_id", runID),
			)
			return domain.ErrRecordAlreadyClaimed
		}
		return fmt.Errorf("failed to claim record: %w", err)
	}

	r.logger.Debug("Record claimed", slog.String("record_id", id), slog.String("run_id", runID))
	return nil
}

// Release clears the claim if runID still holds it
func (r *PostgresRepository) Release(ctx context.Context, id, runID string) error {
	query := `
		UPDATE client_records
		SET claimed_by = NULL,
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE record_id = $1 AND claimed_by = $2
	`

	if _, err := r.db.ExecContext(ctx, query, id, runID); err != nil {
		return fmt.Errorf("failed to release record claim: %w", err)
	}

	r.logger.Debug("Record claim released", slog.String("record_id", id), slog.String("run_id", runID))
	return nil
}

func (r *PostgresRepository) selectRecords(ctx context.Context, query string, args ...interface{}) ([]domain.Record, error) {
	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	records := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		record, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (row recordRow) toDomain() (domain.Record, error) {
	record := domain.Record{
		ID:              row.RecordID,
		Email:           row.Email,
		User:            row.UserName,
		Prompt:          row.Prompt,
		OrderPackage:    row.OrderPackage,
		DownloadPageURL: row.DownloadPageURL,
		CreatedAt:       row.CreatedAt,
		SourceImages:    []domain.SourceImage{},
	}
	if len(row.SourceImages) > 0 {
		if err := json.Unmarshal(row.SourceImages, &record.SourceImages); err != nil {
			return domain.Record{}, fmt.Errorf("failed to decode source images of %s: %w", row.RecordID, err)
		}
	}
	if len(row.GeneratedImages) > 0 {
		var generated []domain.GeneratedImage
		if err := json.Unmarshal(row.GeneratedImages, &generated); err != nil {
			return domain.Record{}, fmt.Errorf("failed to decode generated images of %s: %w", row.RecordID, err)
		}
		if len(generated) > 0 {
			record.GeneratedImages = generated
		}
	}
	return record, nil
}

func nonNilSources(in []domain.SourceImage) []domain.SourceImage {
	if in == nil {
		return []domain.SourceImage{}
	}
	return in
}

func nonNilGenerated(in []domain.GeneratedImage) []domain.GeneratedImage {
	if in == nil {
		return []domain.GeneratedImage{}
	}
	return in
}
