package domain

import "time"

// Variation counts accepted by the image transform client
const (
	DefaultVariationCount = 2
)

// Record is a client submission owned by the tabular backend
type Record struct {
	ID              string           `json:"id"`
	Email           string           `json:"email"`
	User            string           `json:"user,omitempty"`
	Prompt          string           `json:"prompt,omitempty"`
	OrderPackage    string           `json:"orderPackage,omitempty"`
	SourceImages    []SourceImage    `json:"sourceImages"`
	GeneratedImages []GeneratedImage `json:"generatedImages,omitempty"`
	DownloadPageURL string           `json:"downloadPageUrl,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// SourceImage references an image previously uploaded by the client
type SourceImage struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}

// GeneratedImage is the public URL of a downloadable artifact
type GeneratedImage struct {
	URL string `json:"url"`
}

// Artifact is a generated image held in memory until it is written to the store
type Artifact struct {
	Data     []byte
	MimeType string
}

// RecordUpdate is a partial patch; nil fields are left untouched
type RecordUpdate struct {
	GeneratedImages []GeneratedImage
	DownloadPageURL *string
	Prompt          *string
}

// IsEmpty reports whether the update carries no fields
func (u RecordUpdate) IsEmpty() bool {
	return u.GeneratedImages == nil && u.DownloadPageURL == nil && u.Prompt == nil
}

// CoerceVariationCount restricts a requested count to 1, 2 or 4
func CoerceVariationCount(n int) int {
	switch n {
	case 1, 2, 4:
		return n
	default:
		return DefaultVariationCount
	}
}

// GalleryReadyEvent is emitted once a record has a download page
type GalleryReadyEvent struct {
	RecordID    string    `json:"record_id"`
	Email       string    `json:"email"`
	User        string    `json:"user,omitempty"`
	DownloadURL string    `json:"download_url"`
	ImageCount  int       `json:"image_count"`
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
}
