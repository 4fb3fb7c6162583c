// Package imagegen turns a source image and a prompt into generated variations using Gemini.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"google.golang.org/genai"

	"github.com/cuongbtq/gallery-pipeline/internal/domain"
)

// Defaults used when the configuration leaves a field empty
const (
	DefaultModel               = "gemini-3-pro-image-preview"
	DefaultInstructionTemplate = "Generate a food photography image based on input. Output parameters: Resolution 1920x1080, High Quality, Efficient JPEG, Format JPEG. Description: {prompt}"
	PromptPlaceholder          = "{prompt}"

	defaultMimeType = "image/png"
	serviceName     = "gemini"
)

// Config for the Gemini client
type Config struct {
	APIKey              string
	Model               string
	ResponseModalities  []string
	InstructionTemplate string
	RelaxSafety         bool
	MaxRetries          int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
}

// contentGenerator is the part of genai.Models the client depends on
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client generates image variations, one upstream call per variation
type Client struct {
	models       contentGenerator
	model        string
	template     string
	genConfig    *genai.GenerateContentConfig
	maxRetries   int
	buildBackoff func() backoff.BackOff
	logger       *slog.Logger
}

// New creates a Gemini-backed client
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, domain.NewValidationError("gemini.api_key", "is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return newClient(client.Models, cfg, logger), nil
}

func newClient(models contentGenerator, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	tmpl := cfg.InstructionTemplate
	if tmpl == "" {
		tmpl = DefaultInstructionTemplate
	}
	modalities := cfg.ResponseModalities
	if len(modalities) == 0 {
		modalities = []string{"TEXT", "IMAGE"}
	}

	genConfig := &genai.GenerateContentConfig{ResponseModalities: modalities}
	if cfg.RelaxSafety {
		genConfig.SafetySettings = relaxedSafetySettings()
	}

	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = 2 * time.Second
	}
	maxInterval := cfg.MaxBackoff
	if maxInterval <= 0 {
		maxInterval = 30 * time.Second
	}

	return &Client{
		models:     models,
		model:      model,
		template:   tmpl,
		genConfig:  genConfig,
		maxRetries: cfg.MaxRetries,
		buildBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = maxInterval
			b.MaxElapsedTime = 0
			return b
		},
		logger: logger.With(slog.String("component", "imagegen")),
	}
}

func relaxedSafetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, &genai.SafetySetting{Category: c, Threshold: genai.HarmBlockThresholdBlockNone})
	}
	return settings
}

// Instruction wraps the effective prompt in the generation instruction
func (c *Client) Instruction(prompt string) string {
	if strings.Contains(c.template, PromptPlaceholder) {
		return strings.ReplaceAll(c.template, PromptPlaceholder, prompt)
	}
	return c.template + " " + prompt
}

// Generate returns exactly count artifacts or the first failure.
// Variations are requested sequentially with the same payload.
func (c *Client) Generate(ctx context.Context, source []byte, mimeType, prompt string, count int) ([]domain.Artifact, error) {
	if len(source) == 0 {
		return nil, domain.NewValidationError("source", "image bytes are empty")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(c.Instruction(prompt)),
			genai.NewPartFromBytes(source, mimeType),
		}, genai.RoleUser),
	}

	artifacts := make([]domain.Artifact, 0, count)
	for i := 1; i <= count; i++ {
		c.logger.Debug("generating variation", slog.Int("variation", i), slog.Int("count", count))

		artifact, err := c.generateWithRetry(ctx, contents)
		if err != nil {
			return nil, fmt.Errorf("variation %d/%d: %w", i, count, err)
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

func (c *Client) generateWithRetry(ctx context.Context, contents []*genai.Content) (domain.Artifact, error) {
	if c.maxRetries <= 0 {
		return c.generateOnce(ctx, contents)
	}

	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(c.buildBackoff(), uint64(c.maxRetries)), ctx)
	return backoff.RetryWithData(func() (domain.Artifact, error) {
		attempt++
		artifact, err := c.generateOnce(ctx, contents)
		if err == nil {
			return artifact, nil
		}
		if !domain.IsRetryable(err) {
			return domain.Artifact{}, backoff.Permanent(err)
		}
		c.logger.Warn("retryable generation failure",
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		return domain.Artifact{}, err
	}, b)
}

func (c *Client) generateOnce(ctx context.Context, contents []*genai.Content) (domain.Artifact, error) {
	resp, err := c.models.GenerateContent(ctx, c.model, contents, c.genConfig)
	if err != nil {
		return domain.Artifact{}, toUpstreamError(err)
	}
	return extractImage(resp)
}

func toUpstreamError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &domain.UpstreamError{
			Service:    serviceName,
			StatusCode: apiErr.Code,
			Status:     apiErr.Status,
			Message:    apiErr.Message,
		}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &domain.UpstreamError{
			Service:    serviceName,
			StatusCode: apiErrPtr.Code,
			Status:     apiErrPtr.Status,
			Message:    apiErrPtr.Message,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.UpstreamError{Service: serviceName, Message: "request failed", Err: err}
}

// The first part carrying inline data is the result; text parts are ignored
func extractImage(resp *genai.GenerateContentResponse) (domain.Artifact, error) {
	finishReason := "Unknown"
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		candidate := resp.Candidates[0]
		if candidate.FinishReason != "" {
			finishReason = string(candidate.FinishReason)
		}
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				mimeType := part.InlineData.MIMEType
				if mimeType == "" {
					mimeType = defaultMimeType
				}
				return domain.Artifact{Data: part.InlineData.Data, MimeType: mimeType}, nil
			}
		}
	} else if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		finishReason = string(resp.PromptFeedback.BlockReason)
	}

	return domain.Artifact{}, &domain.UpstreamError{
		Service:      serviceName,
		Message:      "response contained no image",
		FinishReason: finishReason,
	}
}
