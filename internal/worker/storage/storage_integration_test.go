//go:build integration

package storage

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	core "github.com/cuongbtq/gallery-pipeline/internal/domain"
	"github.com/cuongbtq/gallery-pipeline/internal/worker/domain"
	"github.com/cuongbtq/gallery-pipeline/shared/postgresql"
)

var testStorage *Storage

func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "gallery",
				"POSTGRES_PASSWORD": "gallery",
				"POSTGRES_DB":       "gallery",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pg, err := postgresql.NewClient(&postgresql.Config{
		Host:         host,
		Port:         port.Int(),
		User:         "gallery",
		Password:     "gallery",
		Database:     "gallery",
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}

	testStorage = NewStorage(pg.GetDB(), logger)
	if err := testStorage.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to create schema: %v", err)
	}

	code := m.Run()

	_ = pg.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func TestStorage_ClaimNotification(t *testing.T) {
	ctx := context.Background()
	event := core.GalleryReadyEvent{
		RecordID:    "rec-claim",
		Email:       "a@x.com",
		DownloadURL: "https://pub.example.com/a_x_com/download_1.html",
	}

	attempts, err := testStorage.ClaimNotification(ctx, event, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	require.NoError(t, testStorage.UpdateStatus(ctx, event, domain.NotificationStatusFailed, "mailersend 503"))

	attempts, err = testStorage.ClaimNotification(ctx, event, "worker-2")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	require.NoError(t, testStorage.UpdateStatus(ctx, event, domain.NotificationStatusSent, ""))

	_, err = testStorage.ClaimNotification(ctx, event, "worker-3")
	assert.ErrorIs(t, err, domain.ErrAlreadySent)

	n, err := testStorage.GetNotification(ctx, event.RecordID, event.DownloadURL)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusSent, n.Status)
	assert.Equal(t, "worker-2", n.WorkerID)
	assert.True(t, n.SentAt.Valid)
}

func TestStorage_NewDownloadURLIsANewNotification(t *testing.T) {
	ctx := context.Background()
	event := core.GalleryReadyEvent{RecordID: "rec-new", Email: "b@x.com", DownloadURL: "https://pub.example.com/1.html"}

	_, err := testStorage.ClaimNotification(ctx, event, "worker-1")
	require.NoError(t, err)
	require.NoError(t, testStorage.UpdateStatus(ctx, event, domain.NotificationStatusSent, ""))

	event.DownloadURL = "https://pub.example.com/2.html"
	attempts, err := testStorage.ClaimNotification(ctx, event, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}
