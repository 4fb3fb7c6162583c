package imagegen

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/cuongbtq/gallery-pipeline/internal/domain"
)

type fakeModels struct {
	responses []fakeResponse
	calls     int
	contents  [][]*genai.Content
	configs   []*genai.GenerateContentConfig
	models    []string
}

type fakeResponse struct {
	resp *genai.GenerateContentResponse
	err  error
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.models = append(f.models, model)
	f.contents = append(f.contents, contents)
	f.configs = append(f.configs, config)
	r := f.responses[f.calls%len(f.responses)]
	f.calls++
	return r.resp, r.err
}

func imageResponse(data []byte, mimeType string) fakeResponse {
	return fakeResponse{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "here is your dish"},
				{InlineData: &genai.Blob{Data: data, MIMEType: mimeType}},
				{InlineData: &genai.Blob{Data: []byte("second"), MIMEType: "image/png"}},
			}},
			FinishReason: genai.FinishReasonStop,
		}},
	}}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGenerate_OneCallPerVariation(t *testing.T) {
	for _, count := range []int{1, 2, 4} {
		fake := &fakeModels{responses: []fakeResponse{imageResponse([]byte("img"), "image/jpeg")}}
		client := newClient(fake, Config{}, testLogger())

		artifacts, err := client.Generate(context.Background(), []byte("src"), "image/png", "a tasty burger", count)
		require.NoError(t, err)
		assert.Len(t, artifacts, count)
		assert.Equal(t, count, fake.calls)

		for _, a := range artifacts {
			assert.Equal(t, []byte("img"), a.Data)
			assert.Equal(t, "image/jpeg", a.MimeType)
		}
	}
}

func TestGenerate_RequestPayload(t *testing.T) {
	fake := &fakeModels{responses: []fakeResponse{imageResponse([]byte("img"), "image/jpeg")}}
	client := newClient(fake, Config{RelaxSafety: true, ResponseModalities: []string{"IMAGE"}}, testLogger())

	_, err := client.Generate(context.Background(), []byte("src"), "image/png", "sushi", 1)
	require.NoError(t, err)

	assert.Equal(t, DefaultModel, fake.models[0])
	require.Len(t, fake.contents[0], 1)
	parts := fake.contents[0][0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t,
		"Generate a food photography image based on input. Output parameters: Resolution 1920x1080, High Quality, Efficient JPEG, Format JPEG. Description: sushi",
		parts[0].Text)
	assert.Equal(t, []byte("src"), parts[1].InlineData.Data)
	assert.Equal(t, "image/png", parts[1].InlineData.MIMEType)

	cfg := fake.configs[0]
	assert.Equal(t, []string{"IMAGE"}, cfg.ResponseModalities)
	require.Len(t, cfg.SafetySettings, 4)
	for _, s := range cfg.SafetySettings {
		assert.Equal(t, genai.HarmBlockThresholdBlockNone, s.Threshold)
	}
}

func TestGenerate_DefaultsMimeType(t *testing.T) {
	fake := &fakeModels{responses: []fakeResponse{imageResponse([]byte("img"), "")}}
	client := newClient(fake, Config{}, testLogger())

	artifacts, err := client.Generate(context.Background(), []byte("src"), "", "p", 1)
	require.NoError(t, err)
	assert.Equal(t, "image/png", artifacts[0].MimeType)
	assert.Equal(t, "image/jpeg", fake.contents[0][0].Parts[1].InlineData.MIMEType)
	assert.Equal(t, []string{"TEXT", "IMAGE"}, fake.configs[0].ResponseModalities)
	assert.Empty(t, fake.configs[0].SafetySettings)
}

func TestGenerate_APIError(t *testing.T) {
	fake := &fakeModels{responses: []fakeResponse{{err: genai.APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "image too large"}}}}
	client := newClient(fake, Config{}, testLogger())

	_, err := client.Generate(context.Background(), []byte("src"), "image/png", "p", 2)

	var upstream *domain.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, 400, upstream.StatusCode)
	assert.Equal(t, "image too large", upstream.Message)
	assert.Equal(t, 1, fake.calls)
}

func TestGenerate_NoImagePart(t *testing.T) {
	fake := &fakeModels{responses: []fakeResponse{{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: "I cannot do that"}}},
			FinishReason: genai.FinishReasonSafety,
		}},
	}}}}
	client := newClient(fake, Config{}, testLogger())

	_, err := client.Generate(context.Background(), []byte("src"), "image/png", "p", 1)

	var upstream *domain.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, string(genai.FinishReasonSafety), upstream.FinishReason)
	assert.False(t, upstream.Retryable())
}

func TestGenerate_RetriesRetryableErrors(t *testing.T) {
	fake := &fakeModels{responses: []fakeResponse{
		{err: genai.APIError{Code: 503, Status: "UNAVAILABLE", Message: "overloaded"}},
		imageResponse([]byte("img"), "image/png"),
	}}
	client := newClient(fake, Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, testLogger())

	artifacts, err := client.Generate(context.Background(), []byte("src"), "image/png", "p", 1)
	require.NoError(t, err)
	assert.Len(t, artifacts, 1)
	assert.Equal(t, 2, fake.calls)
}

func TestGenerate_DoesNotRetryPermanentErrors(t *testing.T) {
	fake := &fakeModels{responses: []fakeResponse{{err: genai.APIError{Code: 403, Status: "PERMISSION_DENIED"}}}}
	client := newClient(fake, Config{MaxRetries: 3, InitialBackoff: time.Millisecond}, testLogger())

	_, err := client.Generate(context.Background(), []byte("src"), "image/png", "p", 1)
	require.Error(t, err)
	assert.Equal(t, 1, fake.calls)
}

func TestGenerate_EmptySource(t *testing.T) {
	client := newClient(&fakeModels{}, Config{}, testLogger())

	_, err := client.Generate(context.Background(), nil, "image/png", "p", 1)

	var validation *domain.ValidationError
	assert.True(t, errors.As(err, &validation))
}

func TestInstruction(t *testing.T) {
	client := newClient(&fakeModels{}, Config{InstructionTemplate: "Style: {prompt}!"}, testLogger())
	assert.Equal(t, "Style: ramen!", client.Instruction("ramen"))

	client = newClient(&fakeModels{}, Config{InstructionTemplate: "Make it pop."}, testLogger())
	assert.Equal(t, "Make it pop. ramen", client.Instruction("ramen"))
}
