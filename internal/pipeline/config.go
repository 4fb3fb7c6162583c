package pipeline

import (
	"time"

	"github.com/cuongbtq/gallery-pipeline/internal/domain"
)

// DefaultPrompt is prepended to every client prompt unless disabled
const DefaultPrompt = "Professional food photography, high quality, well-lit, appetizing presentation, restaurant quality"

// Config holds the explicit pipeline settings, validated once in New
type Config struct {
	DefaultPrompt     string
	UseDefaultPrompt  bool
	VariationCount    int
	EligibilityWindow time.Duration
	ClaimRecords      bool
	PromptSeparator   string
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		DefaultPrompt:     DefaultPrompt,
		UseDefaultPrompt:  true,
		VariationCount:    domain.DefaultVariationCount,
		EligibilityWindow: 24 * time.Hour,
		PromptSeparator:   ". ",
	}
}

// Validate checks the settings and coerces the variation count
func (c *Config) Validate() error {
	if c.EligibilityWindow <= 0 {
		return domain.NewValidationError("pipeline.eligibility_window", "must be positive")
	}
	if c.UseDefaultPrompt && c.DefaultPrompt == "" {
		c.DefaultPrompt = DefaultPrompt
	}
	if c.PromptSeparator == "" {
		c.PromptSeparator = ". "
	}
	c.VariationCount = domain.CoerceVariationCount(c.VariationCount)
	return nil
}

// EffectivePrompt combines the default prompt with a record's override
func (c Config) EffectivePrompt(override string) string {
	if !c.UseDefaultPrompt || c.DefaultPrompt == "" {
		return override
	}
	if override == "" {
		return c.DefaultPrompt
	}
	return c.DefaultPrompt + c.PromptSeparator + override
}
