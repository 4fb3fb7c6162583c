// Package records reads client submissions from the tabular backend and patches results back.
package records

import (
	"fmt"
	"strings"
	"time"
)

// FieldNames maps record attributes to Airtable column names
type FieldNames struct {
	CreatedAt       string   `yaml:"created_at"`
	OrderPackage    string   `yaml:"order_package"`
	SourceImages    string   `yaml:"source_images"`
	GeneratedImages []string `yaml:"generated_images"`
	DownloadLink    string   `yaml:"download_link"`
	Prompt          string   `yaml:"prompt"`
	Email           string   `yaml:"email"`
	User            string   `yaml:"user"`
	Claim           string   `yaml:"claim"`
}

// DefaultFieldNames returns the column names used by the client intake base
func DefaultFieldNames() FieldNames {
	return FieldNames{
		CreatedAt:       "Timestamp",
		OrderPackage:    "Order_Package",
		SourceImages:    "Image_Upload",
		GeneratedImages: []string{"Image", "Image_Upload2"},
		DownloadLink:    "Download_Link",
		Prompt:          "Prompt",
		Email:           "Email",
		User:            "User",
		Claim:           "Processing_Claim",
	}
}

// WithDefaults fills empty names from DefaultFieldNames. A Claim of "-" disables claiming.
func (f FieldNames) WithDefaults() FieldNames {
	d := DefaultFieldNames()
	if f.CreatedAt == "" {
		f.CreatedAt = d.CreatedAt
	}
	if f.OrderPackage == "" {
		f.OrderPackage = d.OrderPackage
	}
	if f.SourceImages == "" {
		f.SourceImages = d.SourceImages
	}
	if len(f.GeneratedImages) == 0 {
		f.GeneratedImages = d.GeneratedImages
	}
	if f.DownloadLink == "" {
		f.DownloadLink = d.DownloadLink
	}
	if f.Prompt == "" {
		f.Prompt = d.Prompt
	}
	if f.Email == "" {
		f.Email = d.Email
	}
	if f.User == "" {
		f.User = d.User
	}
	switch f.Claim {
	case "":
		f.Claim = d.Claim
	case "-":
		f.Claim = ""
	}
	return f
}

// primaryGenerated is the column checked for "already has generated images"
func (f FieldNames) primaryGenerated() string {
	if len(f.GeneratedImages) > 1 {
		return f.GeneratedImages[1]
	}
	return f.GeneratedImages[0]
}

// EligibilityFormula selects records created after since that have an order package and
// source images but no generated images and no download page yet.
func EligibilityFormula(since time.Time, fields FieldNames) string {
	clauses := []string{
		fmt.Sprintf("IS_AFTER({%s}, '%s')", fields.CreatedAt, formatTime(since)),
		fmt.Sprintf("{%s} != ''", fields.OrderPackage),
		fmt.Sprintf("{%s} != ''", fields.SourceImages),
		blankClause(fields.primaryGenerated()),
		blankClause(fields.DownloadLink),
	}
	return "AND(" + strings.Join(clauses, ", ") + ")"
}

// SinceFormula selects every record created after since
func SinceFormula(since time.Time, fields FieldNames) string {
	return fmt.Sprintf("IS_AFTER({%s}, '%s')", fields.CreatedAt, formatTime(since))
}

func blankClause(field string) string {
	return fmt.Sprintf("OR({%s} = BLANK(), {%s} = '')", field, field)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
