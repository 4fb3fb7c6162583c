package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/gallery-pipeline/internal/domain"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func TestFetch(t *testing.T) {
	tests := []struct {
		name         string
		contentType  string
		body         []byte
		expectedMime string
	}{
		{name: "header wins", contentType: "image/webp", body: []byte("riff"), expectedMime: "image/webp"},
		{name: "header with params", contentType: "image/png; charset=binary", body: pngMagic, expectedMime: "image/png"},
		{name: "sniffed when header is generic", contentType: "application/octet-stream", body: pngMagic, expectedMime: "image/png"},
		{name: "fallback to jpeg", contentType: "application/octet-stream", body: []byte("??"), expectedMime: "image/jpeg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				_, _ = w.Write(tt.body)
			}))
			defer server.Close()

			img, err := NewFetcher(Config{}, server.Client()).Fetch(context.Background(), server.URL)
			require.NoError(t, err)
			assert.Equal(t, tt.body, img.Data)
			assert.Equal(t, tt.expectedMime, img.MimeType)
		})
	}
}

func TestFetch_NonSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewFetcher(Config{}, server.Client()).Fetch(context.Background(), server.URL)

	var upstream *domain.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusNotFound, upstream.StatusCode)
	assert.Equal(t, "source", upstream.Service)
}

func TestFetch_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewFetcher(Config{}, nil).Fetch(context.Background(), url)

	var upstream *domain.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.True(t, upstream.Retryable())
}

func TestFetch_TooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer server.Close()

	_, err := NewFetcher(Config{MaxBytes: 32}, server.Client()).Fetch(context.Background(), server.URL)

	var validation *domain.ValidationError
	assert.True(t, errors.As(err, &validation))
}
