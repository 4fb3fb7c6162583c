// Package artifact writes generated images and gallery pages to blob storage
// and hands back the public URL they are served from.
package artifact

import (
	"context"
	"strings"
	"time"
)

// Content types written by the pipeline
const (
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
	ContentTypeHTML = "text/html"
)

// Store persists bytes under a key and returns their public URL
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// UploadObserver receives telemetry for every Put
type UploadObserver interface {
	ObserveUpload(duration time.Duration, sizeBytes int, err error)
}

// PublicURL joins the public base URL of a bucket with an object key
func PublicURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(key, "/")
}

// ObservedStore reports upload latency and size for a delegate store
type ObservedStore struct {
	delegate Store
	observer UploadObserver
}

// NewObservedStore wraps a store with an upload observer
func NewObservedStore(delegate Store, observer UploadObserver) *ObservedStore {
	return &ObservedStore{delegate: delegate, observer: observer}
}

// Put forwards to the delegate and records the outcome
func (s *ObservedStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	start := time.Now()
	url, err := s.delegate.Put(ctx, key, data, contentType)
	if s.observer != nil {
		s.observer.ObserveUpload(time.Since(start), len(data), err)
	}
	return url, err
}

var _ Store = (*ObservedStore)(nil)
