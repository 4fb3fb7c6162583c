// Package metrics exports pipeline, storage and HTTP telemetry to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "gallery_pipeline"

// Observer collects pipeline telemetry
type Observer struct {
	runs            *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	stageDuration   *prometheus.HistogramVec
	stageErrors     *prometheus.CounterVec
	generatedImages prometheus.Counter
	uploadDuration  prometheus.Histogram
	uploadErrors    prometheus.Counter
	uploadBytes     prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New registers the collectors on reg; a nil reg uses the default registerer
func New(namespace string, reg prometheus.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &Observer{}
	var err error

	if o.runs, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Pipeline runs by trigger and outcome.",
	}, []string{"trigger", "outcome"})); err != nil {
		return nil, err
	}
	if o.runDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of a pipeline run.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"trigger"})); err != nil {
		return nil, err
	}
	if o.stageDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Latency of individual pipeline stages.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})); err != nil {
		return nil, err
	}
	if o.stageErrors, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_errors_total",
		Help:      "Failures of individual pipeline stages.",
	}, []string{"stage"})); err != nil {
		return nil, err
	}
	if o.generatedImages, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generated_images_total",
		Help:      "Generated variations persisted as downloadable artifacts.",
	})); err != nil {
		return nil, err
	}
	if o.uploadDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upload_duration_seconds",
		Help:      "Latency of artifact uploads.",
		Buckets:   prometheus.DefBuckets,
	})); err != nil {
		return nil, err
	}
	if o.uploadErrors, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_errors_total",
		Help:      "Failed artifact uploads.",
	})); err != nil {
		return nil, err
	}
	if o.uploadBytes, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploaded_bytes_total",
		Help:      "Cumulative payload size successfully uploaded to object storage.",
	})); err != nil {
		return nil, err
	}
	if o.httpRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})); err != nil {
		return nil, err
	}
	if o.httpDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})); err != nil {
		return nil, err
	}

	return o, nil
}

// register returns the already registered collector when an identical one exists
func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, fmt.Errorf("register metric: %w", err)
	}
	return collector, nil
}

// ObserveRun records a finished run
func (o *Observer) ObserveRun(trigger, outcome string, duration time.Duration) {
	if o == nil {
		return
	}
	o.runs.WithLabelValues(trigger, outcome).Inc()
	o.runDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

// ObserveStage records one stage execution
func (o *Observer) ObserveStage(stage string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if err != nil {
		o.stageErrors.WithLabelValues(stage).Inc()
	}
}

// AddGeneratedImages counts persisted downloadable artifacts
func (o *Observer) AddGeneratedImages(n int) {
	if o == nil || n <= 0 {
		return
	}
	o.generatedImages.Add(float64(n))
}

// ObserveUpload tracks upload duration, size, and failures
func (o *Observer) ObserveUpload(duration time.Duration, sizeBytes int, err error) {
	if o == nil {
		return
	}
	o.uploadDuration.Observe(duration.Seconds())
	if err != nil {
		o.uploadErrors.Inc()
		return
	}
	o.uploadBytes.Add(float64(sizeBytes))
}

// ObserveRequest records one HTTP request
func (o *Observer) ObserveRequest(route, method string, status int, duration time.Duration) {
	if o == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	o.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	o.httpDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}
