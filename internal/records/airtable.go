package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuongbtq/gallery-pipeline/internal/domain"
)

const (
	DefaultAirtableURL       = "https://api.airtable.com/v0"
	defaultRequestsPerSecond = 5
	airtablePageSize         = 100
	airtableService          = "airtable"
)

// AirtableConfig configures the Airtable REST backend
type AirtableConfig struct {
	BaseURL           string
	APIKey            string
	BaseID            string
	Table             string
	RequestsPerSecond float64
	Timeout           time.Duration
	// ClaimTTL is how long a claim blocks other runs; zero means DefaultClaimTTL
	ClaimTTL time.Duration
	Fields   FieldNames
}

// AirtableRepository talks to one Airtable table
type AirtableRepository struct {
	client   *http.Client
	limiter  *rate.Limiter
	tableURL string
	apiKey   string
	fields   FieldNames
	claimTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

type airtableRecord struct {
	ID          string                     `json:"id"`
	CreatedTime time.Time                  `json:"createdTime"`
	Fields      map[string]json.RawMessage `json:"fields"`
}

type airtableListResponse struct {
	Records []airtableRecord `json:"records"`
	Offset  string           `json:"offset"`
}

type airtableAttachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}

type airtableErrorBody struct {
	Error json.RawMessage `json:"error"`
}

// NewAirtableRepository creates a rate-limited Airtable repository; a nil client uses a fresh one
func NewAirtableRepository(cfg AirtableConfig, client *http.Client, logger *slog.Logger) (*AirtableRepository, error) {
	if cfg.APIKey == "" {
		return nil, domain.NewValidationError("airtable.api_key", "is required")
	}
	if cfg.BaseID == "" {
		return nil, domain.NewValidationError("airtable.base_id", "is required")
	}
	if cfg.Table == "" {
		return nil, domain.NewValidationError("airtable.table", "is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultAirtableURL
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	claimTTL := cfg.ClaimTTL
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}

	return &AirtableRepository{
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		tableURL: strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(cfg.BaseID) + "/" + url.PathEscape(cfg.Table),
		apiKey:   cfg.APIKey,
		fields:   cfg.Fields.WithDefaults(),
		claimTTL: claimTTL,
		logger:   logger.With(slog.String("component", "airtable")),
		now:      time.Now,
	}, nil
}

// FetchEligible returns unprocessed records created after since, in backend order
func (r *AirtableRepository) FetchEligible(ctx context.Context, since time.Time) ([]domain.Record, error) {
	return r.list(ctx, EligibilityFormula(since, r.fields))
}

// ListSince returns every record created after since
func (r *AirtableRepository) ListSince(ctx context.Context, since time.Time) ([]domain.Record, error) {
	return r.list(ctx, SinceFormula(since, r.fields))
}

func (r *AirtableRepository) list(ctx context.Context, formula string) ([]domain.Record, error) {
	var records []domain.Record
	offset := ""

	for {
		query := url.Values{}
		query.Set("filterByFormula", formula)
		query.Set("pageSize", fmt.Sprintf("%d", airtablePageSize))
		if offset != "" {
			query.Set("offset", offset)
		}

		var page airtableListResponse
		if err := r.do(ctx, http.MethodGet, r.tableURL+"?"+query.Encode(), nil, &page); err != nil {
			return nil, err
		}

		for _, raw := range page.Records {
			records = append(records, r.toDomain(raw))
		}

		if page.Offset == "" {
			break
		}
		offset = page.Offset
	}

	r.logger.Debug("Fetched records", slog.Int("count", len(records)))
	return records, nil
}

// Get returns one record by id
func (r *AirtableRepository) Get(ctx context.Context, id string) (*domain.Record, error) {
	var raw airtableRecord
	if err := r.do(ctx, http.MethodGet, r.recordURL(id), nil, &raw); err != nil {
		return nil, err
	}
	record := r.toDomain(raw)
	return &record, nil
}

// Update patches the non-nil fields of the update
func (r *AirtableRepository) Update(ctx context.Context, id string, update domain.RecordUpdate) error {
	if update.IsEmpty() {
		return nil
	}
	return r.patch(ctx, id, r.toFields(update))
}

// Claim marks the record as being processed by runID. The claim field holds
// "<runID>|<RFC3339 time>" and claims older than the TTL are taken over.
// Airtable has no conditional writes, so the check and the write are two
// requests and a narrow race remains.
func (r *AirtableRepository) Claim(ctx context.Context, id, runID string) error {
	if r.fields.Claim == "" {
		return nil
	}

	var raw airtableRecord
	if err := r.do(ctx, http.MethodGet, r.recordURL(id), nil, &raw); err != nil {
		return err
	}
	if link := stringField(raw.Fields, r.fields.DownloadLink); link != "" {
		return domain.ErrRecordAlreadyClaimed
	}

	now := r.now()
	holder, claimedAt, ok := parseClaim(stringField(raw.Fields, r.fields.Claim))
	if ok && holder != runID && now.Sub(claimedAt) < r.claimTTL {
		return domain.ErrRecordAlreadyClaimed
	}
	if holder != "" && holder != runID {
		r.logger.Info("Taking over abandoned claim",
			slog.String("record_id", id),
			slog.String("previous_run_id", holder),
		)
	}

	return r.patch(ctx, id, map[string]any{r.fields.Claim: formatClaim(runID, now)})
}

// Release clears the claim if runID still holds it
func (r *AirtableRepository) Release(ctx context.Context, id, runID string) error {
	if r.fields.Claim == "" {
		return nil
	}

	var raw airtableRecord
	if err := r.do(ctx, http.MethodGet, r.recordURL(id), nil, &raw); err != nil {
		return err
	}
	if holder, _, _ := parseClaim(stringField(raw.Fields, r.fields.Claim)); holder != runID {
		return nil
	}

	return r.patch(ctx, id, map[string]any{r.fields.Claim: nil})
}

func formatClaim(runID string, at time.Time) string {
	return runID + "|" + at.UTC().Format(time.RFC3339)
}

// parseClaim splits a claim value. ok is false for an empty or undated value,
// which never blocks another run.
func parseClaim(value string) (holder string, at time.Time, ok bool) {
	holder, stamp, found := strings.Cut(value, "|")
	if !found {
		return holder, time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return holder, time.Time{}, false
	}
	return holder, at, true
}

func (r *AirtableRepository) patch(ctx context.Context, id string, fields map[string]any) error {
	body, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return fmt.Errorf("failed to marshal patch: %w", err)
	}
	return r.do(ctx, http.MethodPatch, r.recordURL(id), body, nil)
}

func (r *AirtableRepository) toFields(update domain.RecordUpdate) map[string]any {
	fields := map[string]any{}
	if update.GeneratedImages != nil {
		attachments := make([]airtableAttachment, 0, len(update.GeneratedImages))
		for _, img := range update.GeneratedImages {
			attachments = append(attachments, airtableAttachment{URL: img.URL})
		}
		for _, name := range r.fields.GeneratedImages {
			fields[name] = attachments
		}
	}
	if update.DownloadPageURL != nil {
		fields[r.fields.DownloadLink] = *update.DownloadPageURL
	}
	if update.Prompt != nil {
		fields[r.fields.Prompt] = *update.Prompt
	}
	return fields
}

func (r *AirtableRepository) recordURL(id string) string {
	return r.tableURL + "/" + url.PathEscape(id)
}

func (r *AirtableRepository) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("airtable rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build airtable request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return &domain.UpstreamError{Service: airtableService, Message: method + " failed", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.UpstreamError{Service: airtableService, StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		upstream := &domain.UpstreamError{
			Service:    airtableService,
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Message:    errorMessage(payload),
		}
		if resp.StatusCode == http.StatusNotFound {
			upstream.Err = domain.ErrRecordNotFound
		}
		return upstream
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &domain.UpstreamError{Service: airtableService, StatusCode: resp.StatusCode, Message: "malformed response", Err: err}
	}
	return nil
}

// Airtable errors are either {"error": "NOT_FOUND"} or {"error": {"type": ..., "message": ...}}
func errorMessage(payload []byte) string {
	var body airtableErrorBody
	if err := json.Unmarshal(payload, &body); err != nil || len(body.Error) == 0 {
		return strings.TrimSpace(string(payload))
	}

	var s string
	if json.Unmarshal(body.Error, &s) == nil {
		return s
	}
	var detailed struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body.Error, &detailed) == nil {
		if detailed.Message != "" {
			return detailed.Type + ": " + detailed.Message
		}
		return detailed.Type
	}
	return string(body.Error)
}

func (r *AirtableRepository) toDomain(raw airtableRecord) domain.Record {
	record := domain.Record{
		ID:              raw.ID,
		Email:           stringField(raw.Fields, r.fields.Email),
		User:            stringField(raw.Fields, r.fields.User),
		Prompt:          stringField(raw.Fields, r.fields.Prompt),
		OrderPackage:    stringField(raw.Fields, r.fields.OrderPackage),
		DownloadPageURL: stringField(raw.Fields, r.fields.DownloadLink),
		CreatedAt:       raw.CreatedTime,
		SourceImages:    []domain.SourceImage{},
	}

	if ts := stringField(raw.Fields, r.fields.CreatedAt); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			record.CreatedAt = parsed
		}
	}

	for _, a := range attachmentsField(raw.Fields, r.fields.SourceImages) {
		record.SourceImages = append(record.SourceImages, domain.SourceImage{URL: a.URL, Filename: a.Filename})
	}
	for _, a := range attachmentsField(raw.Fields, r.fields.primaryGenerated()) {
		record.GeneratedImages = append(record.GeneratedImages, domain.GeneratedImage{URL: a.URL})
	}
	return record
}

// stringField reads text columns; single-select and lookup arrays collapse to their first value
func stringField(fields map[string]json.RawMessage, name string) string {
	raw, ok := fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func attachmentsField(fields map[string]json.RawMessage, name string) []airtableAttachment {
	raw, ok := fields[name]
	if !ok {
		return nil
	}
	var attachments []airtableAttachment
	if err := json.Unmarshal(raw, &attachments); err != nil {
		return nil
	}
	out := attachments[:0]
	for _, a := range attachments {
		if a.URL != "" {
			out = append(out, a)
		}
	}
	return out
}

// IsNotFound reports whether err means the record does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrRecordNotFound)
}
