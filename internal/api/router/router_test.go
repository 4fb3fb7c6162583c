package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/gallery-pipeline/internal/api/dto"
	"github.com/cuongbtq/gallery-pipeline/internal/api/handler"
	"github.com/cuongbtq/gallery-pipeline/internal/api/model"
	"github.com/cuongbtq/gallery-pipeline/internal/api/storage"
	"github.com/cuongbtq/gallery-pipeline/internal/domain"
	"github.com/cuongbtq/gallery-pipeline/internal/pipeline"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeProcessor struct {
	summary *domain.ProcessingSummary
	runErr  error
	next    *pipeline.NextResult
	nextErr error
	trigger string
	// midRun runs between the first and the remaining records
	midRun  func()
	ctxErrs []error
}

// work mimics a run over three records, checking ctx before each one
func (f *fakeProcessor) work(ctx context.Context) {
	f.ctxErrs = nil
	for i := 0; i < 3; i++ {
		f.ctxErrs = append(f.ctxErrs, ctx.Err())
		if i == 0 && f.midRun != nil {
			f.midRun()
		}
	}
}

func (f *fakeProcessor) Run(ctx context.Context, trigger string) (*domain.ProcessingSummary, error) {
	f.trigger = trigger
	f.work(ctx)
	return f.summary, f.runErr
}

func (f *fakeProcessor) ProcessNext(ctx context.Context) (*pipeline.NextResult, error) {
	f.work(ctx)
	return f.next, f.nextErr
}

type fakeRecords struct {
	records   []domain.Record
	since     time.Time
	updated   map[string]string
	updateErr error
}

func (f *fakeRecords) ListSince(_ context.Context, since time.Time) ([]domain.Record, error) {
	f.since = since
	return f.records, nil
}

func (f *fakeRecords) Get(_ context.Context, id string) (*domain.Record, error) {
	return &domain.Record{ID: id, Prompt: f.updated[id]}, nil
}

func (f *fakeRecords) Update(_ context.Context, id string, update domain.RecordUpdate) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.updated == nil {
		f.updated = map[string]string{}
	}
	f.updated[id] = *update.Prompt
	return nil
}

type fakeRuns struct {
	runs   []model.Run
	filter storage.RunFilter
}

func (f *fakeRuns) GetRunByID(_ context.Context, runID string) (*model.Run, error) {
	for _, r := range f.runs {
		if r.RunID == runID {
			return &r, nil
		}
	}
	return nil, storage.ErrRunNotFound
}

func (f *fakeRuns) ListRuns(_ context.Context, filter storage.RunFilter) ([]model.Run, error) {
	f.filter = filter
	limit := filter.PageSize + 1
	if limit > len(f.runs) {
		limit = len(f.runs)
	}
	return f.runs[:limit], nil
}

type recordedRequest struct {
	route  string
	status int
}

type fakeObserver struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (f *fakeObserver) ObserveRequest(route, _ string, status int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{route: route, status: status})
}

type testServer struct {
	engine    *gin.Engine
	processor *fakeProcessor
	records   *fakeRecords
	runs      *fakeRuns
	observer  *fakeObserver
}

func newTestServer(withRuns bool) *testServer {
	s := &testServer{
		processor: &fakeProcessor{},
		records:   &fakeRecords{},
		runs:      &fakeRuns{},
		observer:  &fakeObserver{},
	}
	deps := &handler.Dependencies{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Pipeline: s.processor,
		Records:  s.records,
	}
	if withRuns {
		deps.Runs = s.runs
	}
	s.engine = SetupRouter(deps, Options{
		ServiceName: "test-service",
		Observer:    s.observer,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
	})
	return s
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(false)

	w := s.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"test-service"}`, w.Body.String())

	w = s.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# metrics", w.Body.String())

	s.do(http.MethodGet, "/nowhere", "")
	require.Len(t, s.observer.requests, 3)
	assert.Equal(t, recordedRequest{route: "/health", status: 200}, s.observer.requests[0])
	assert.Equal(t, recordedRequest{route: "unmatched", status: 404}, s.observer.requests[2])
}

func TestHealthChecks(t *testing.T) {
	deps := &handler.Dependencies{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Pipeline: &fakeProcessor{},
		Records:  &fakeRecords{},
	}

	tests := []struct {
		name     string
		checks   map[string]HealthCheck
		wantCode int
		wantBody string
	}{
		{
			name: "all dependencies reachable",
			checks: map[string]HealthCheck{
				"database": func(context.Context) error { return nil },
			},
			wantCode: http.StatusOK,
			wantBody: `{"status":"healthy","service":"gallery-api-service","checks":{"database":"ok"}}`,
		},
		{
			name: "one dependency down",
			checks: map[string]HealthCheck{
				"database": func(context.Context) error { return nil },
				"rabbitmq": func(context.Context) error { return errors.New("not connected") },
			},
			wantCode: http.StatusServiceUnavailable,
			wantBody: `{"status":"unhealthy","service":"gallery-api-service","checks":{"database":"ok","rabbitmq":"not connected"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := SetupRouter(deps, Options{HealthChecks: tt.checks})

			w := httptest.NewRecorder()
			engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(false)

	w := s.do(http.MethodOptions, "/api/v1/process", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestProcess(t *testing.T) {
	t.Run("usage hint", func(t *testing.T) {
		s := newTestServer(false)
		w := s.do(http.MethodGet, "/api/v1/process", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Use POST to manually trigger")
	})

	t.Run("success", func(t *testing.T) {
		s := newTestServer(false)
		s.processor.summary = domain.NewProcessingSummary("run-1", domain.TriggerManual, time.Now())

		w := s.do(http.MethodPost, "/api/v1/process", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, domain.TriggerManual, s.processor.trigger)

		var summary domain.ProcessingSummary
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
		assert.Equal(t, "run-1", summary.RunID)
		assert.Equal(t, 0, summary.RecordsFound)
	})

	t.Run("fatal", func(t *testing.T) {
		s := newTestServer(false)
		summary := domain.NewProcessingSummary("run-1", domain.TriggerManual, time.Now())
		fatal := &domain.FatalError{Err: errors.New("airtable: 500")}
		summary.AddFatal(fatal)
		s.processor.summary = summary
		s.processor.runErr = fatal

		w := s.do(http.MethodPost, "/api/v1/process", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)

		var body domain.ProcessingSummary
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, 0, body.RecordsFound)
		require.Len(t, body.Errors, 1)
		assert.Equal(t, "fatal", body.Errors[0].Type)
		assert.NotContains(t, w.Body.String(), "goroutine")
	})
}

func TestProcessNext(t *testing.T) {
	s := newTestServer(false)
	s.processor.next = &pipeline.NextResult{Status: pipeline.NextStatusNoWork, Message: "No pending records found."}

	w := s.do(http.MethodPost, "/api/v1/process-next", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"no_work","message":"No pending records found."}`, w.Body.String())

	s.processor.next = nil
	s.processor.nextErr = errors.New("patch rejected")
	w = s.do(http.MethodPost, "/api/v1/process-next", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"status":"error","error":"patch rejected"}`, w.Body.String())
}

func TestProcess_SurvivesClientDisconnect(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{name: "process", path: "/api/v1/process"},
		{name: "process next", path: "/api/v1/process-next"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(false)
			s.processor.summary = domain.NewProcessingSummary("run-1", domain.TriggerManual, time.Now())
			s.processor.next = &pipeline.NextResult{Status: pipeline.NextStatusSuccess}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			s.processor.midRun = cancel

			req := httptest.NewRequest(http.MethodPost, tt.path, nil).WithContext(ctx)
			w := httptest.NewRecorder()
			s.engine.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			require.Error(t, ctx.Err())
			assert.Equal(t, []error{nil, nil, nil}, s.processor.ctxErrs)
		})
	}
}

func TestQueryRecords(t *testing.T) {
	s := newTestServer(false)
	s.records.records = []domain.Record{{ID: "rec1", Email: "a@x.com"}}

	w := s.do(http.MethodPost, "/api/v1/records/query", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), s.records.since, time.Minute)

	var resp dto.QueryRecordsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "rec1", resp.Records[0].ID)

	w = s.do(http.MethodPost, "/api/v1/records/query", `{"since":"2025-01-02T03:04:05Z"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), s.records.since.UTC())

	w = s.do(http.MethodPost, "/api/v1/records/query", `{"since":"yesterday"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdatePrompt(t *testing.T) {
	s := newTestServer(false)

	w := s.do(http.MethodPost, "/api/v1/records/prompt", `{"prompt":"more basil"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"recordId is required"}`, w.Body.String())

	w = s.do(http.MethodPost, "/api/v1/records/prompt", `{"recordId":"rec1","prompt":"more basil"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "more basil", s.records.updated["rec1"])

	var body struct {
		Success bool          `json:"success"`
		Record  domain.Record `json:"record"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "more basil", body.Record.Prompt)

	s.records.updateErr = domain.ErrRecordNotFound
	w = s.do(http.MethodPost, "/api/v1/records/prompt", `{"recordId":"missing"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRuns(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("not registered without storage", func(t *testing.T) {
		s := newTestServer(false)
		w := s.do(http.MethodGet, "/api/v1/runs", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("paginates", func(t *testing.T) {
		s := newTestServer(true)
		for i := 0; i < 3; i++ {
			s.runs.runs = append(s.runs.runs, model.Run{
				RunID:     string(rune('c' - i)),
				Trigger:   domain.TriggerScheduled,
				Outcome:   storage.OutcomeSuccess,
				Errors:    "[]",
				Details:   `[{"recordId":"rec1","status":"success"}]`,
				CreatedAt: base.Add(-time.Duration(i) * time.Minute),
			})
		}

		w := s.do(http.MethodGet, "/api/v1/runs?page_size=2&trigger=scheduled", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 2, s.runs.filter.PageSize)
		assert.Equal(t, domain.TriggerScheduled, s.runs.filter.Trigger)

		var resp dto.ListRunsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Runs, 2)
		assert.Equal(t, "c", resp.Runs[0].RunID)
		assert.Equal(t, "rec1", resp.Runs[0].Details[0].RecordID)
		assert.Empty(t, resp.Runs[0].Errors)
		require.NotEmpty(t, resp.NextCursor)

		cursor, err := handler.DecodeRunCursor(resp.NextCursor)
		require.NoError(t, err)
		assert.Equal(t, "b", cursor.RunID)
		assert.True(t, base.Add(-time.Minute).Equal(cursor.CreatedAt))
	})

	t.Run("bad cursor", func(t *testing.T) {
		s := newTestServer(true)
		w := s.do(http.MethodGet, "/api/v1/runs?cursor=%25%25", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("get", func(t *testing.T) {
		s := newTestServer(true)
		s.runs.runs = []model.Run{{RunID: "run-1", Errors: "[]", Details: "[]", CreatedAt: base}}

		w := s.do(http.MethodGet, "/api/v1/runs/run-1", "")
		assert.Equal(t, http.StatusOK, w.Code)

		w = s.do(http.MethodGet, "/api/v1/runs/missing", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
