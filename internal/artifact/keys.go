package artifact

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	backupFolderSuffix   = "_gen"
	downloadFolderSuffix = "_down"
	anonymousFolder      = "anonymous"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// SanitizeEmail replaces every non-alphanumeric character with an underscore
func SanitizeEmail(email string) string {
	if email == "" {
		return anonymousFolder
	}
	return nonAlphanumeric.ReplaceAllString(email, "_")
}

// KeyBuilder derives deterministic object keys for one requester
type KeyBuilder struct {
	folder string
}

// NewKeyBuilder creates a key builder namespaced by the sanitized email
func NewKeyBuilder(email string) KeyBuilder {
	return KeyBuilder{folder: SanitizeEmail(email)}
}

// Folder returns the sanitized email prefix
func (b KeyBuilder) Folder() string {
	return b.folder
}

// Backup returns <folder>_gen/gemini_<ts>[_<index>].<ext>; index is 1-based
func (b KeyBuilder) Backup(timestamp int64, index, count int, ext string) string {
	return b.folder + backupFolderSuffix + "/" + variationName("gemini", timestamp, index, count, ext)
}

// Download returns <folder>_down/image_<ts>[_<index>].<ext>
func (b KeyBuilder) Download(timestamp int64, index, count int, ext string) string {
	return b.folder + downloadFolderSuffix + "/" + variationName("image", timestamp, index, count, ext)
}

// Gallery returns <folder>_gen/download_<ts>.html
func (b KeyBuilder) Gallery(timestamp int64) string {
	return fmt.Sprintf("%s%s/download_%d.html", b.folder, backupFolderSuffix, timestamp)
}

// The index suffix is omitted when only one variation is produced
func variationName(prefix string, timestamp int64, index, count int, ext string) string {
	if count == 1 {
		return fmt.Sprintf("%s_%d.%s", prefix, timestamp, ext)
	}
	return fmt.Sprintf("%s_%d_%d.%s", prefix, timestamp, index, ext)
}

// ExtensionFor maps an image content type to a file extension
func ExtensionFor(contentType string) string {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch mediaType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "jpg"
	}
}
