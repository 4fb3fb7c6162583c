// Package worker consumes gallery-ready events and emails the download link to the client.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	core "github.com/cuongbtq/gallery-pipeline/internal/domain"
	"github.com/cuongbtq/gallery-pipeline/internal/notify"
	"github.com/cuongbtq/gallery-pipeline/internal/worker/domain"
)

// MessageSource is satisfied by the shared RabbitMQ client
type MessageSource interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Ack(deliveryTag uint64) error
	Nack(deliveryTag uint64, requeue bool) error
}

// Mailer delivers a composed message
type Mailer interface {
	Send(ctx context.Context, msg notify.Message) error
}

// NotificationStore is the optional delivery ledger
type NotificationStore interface {
	ClaimNotification(ctx context.Context, event core.GalleryReadyEvent, workerID string) (int, error)
	UpdateStatus(ctx context.Context, event core.GalleryReadyEvent, status, errorMsg string) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Source        MessageSource
	Mailer        Mailer
	Store         NotificationStore
	Concurrency   int
	JobTimeout    time.Duration
	PrefetchCount int
	QueueName     string
}

// Worker represents the notification worker
type Worker struct {
	workerID          string
	logger            *slog.Logger
	source            MessageSource
	mailer            Mailer
	store             NotificationStore
	concurrency       int
	jobTimeout        time.Duration
	prefetchCount     int
	rabbitMQQueueName string

	jobsChan chan *domain.EventMessage
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once

	now func() time.Time
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	if cfg.Source == nil {
		return nil, errors.New("worker: message source is required")
	}
	if cfg.Mailer == nil {
		return nil, errors.New("worker: mailer is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Second
	}

	workerID := "worker-" + uuid.New().String()[:8]

	return &Worker{
		workerID:          workerID,
		logger:            logger.With(slog.String("worker_id", workerID)),
		source:            cfg.Source,
		mailer:            cfg.Mailer,
		store:             cfg.Store,
		concurrency:       concurrency,
		jobTimeout:        jobTimeout,
		prefetchCount:     prefetch,
		rabbitMQQueueName: cfg.QueueName,
		jobsChan:          make(chan *domain.EventMessage, concurrency),
		stopChan:          make(chan struct{}),
		now:               time.Now,
	}, nil
}

// ID returns the worker's consumer tag
func (w *Worker) ID() string {
	return w.workerID
}

// Start consumes events until ctx is canceled or the delivery channel closes
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	w.logger.Info("Worker dispatcher exited")
	return nil
}

// Stop gracefully stops the worker and waits for in-flight events
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
		w.wg.Wait()
		w.logger.Info("Worker stopped")
	})
}
