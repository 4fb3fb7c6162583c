// Package source downloads the images a client uploaded with their record.
package source

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/gallery-pipeline/internal/domain"
)

// DefaultMaxBytes caps a single source image download
const DefaultMaxBytes int64 = 20 << 20

const defaultMimeType = "image/jpeg"

// Config controls the HTTP fetcher
type Config struct {
	Timeout  time.Duration
	MaxBytes int64
}

// Image is a downloaded source image
type Image struct {
	Data     []byte
	MimeType string
}

// Fetcher performs HTTP GETs for source images
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher creates a fetcher; a nil client uses a fresh one with the configured timeout
func NewFetcher(cfg Config, client *http.Client) *Fetcher {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{client: client, maxBytes: maxBytes}
}

// Fetch downloads url. Non-2xx responses and transport failures become *domain.UpstreamError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build source request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Service: "source", Message: "failed to fetch source image", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.UpstreamError{
			Service:    "source",
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Message:    "failed to fetch source image",
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &domain.UpstreamError{Service: "source", Message: "failed to read source image", Err: err}
	}
	if int64(len(data)) > f.maxBytes {
		return nil, domain.NewValidationError("sourceImage", fmt.Sprintf("exceeds %d bytes", f.maxBytes))
	}

	return &Image{Data: data, MimeType: detectMimeType(resp.Header.Get("Content-Type"), data)}, nil
}

func detectMimeType(header string, data []byte) string {
	if header != "" {
		if mediaType, _, err := mime.ParseMediaType(header); err == nil && strings.HasPrefix(mediaType, "image/") {
			return mediaType
		}
	}
	if len(data) > 0 {
		if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
			return sniffed
		}
	}
	return defaultMimeType
}
