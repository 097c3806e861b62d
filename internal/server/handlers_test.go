package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/djh00t/klingon-transcribe/internal/engine"
	"github.com/djh00t/klingon-transcribe/internal/format"
	"github.com/djh00t/klingon-transcribe/internal/job"
	"github.com/djh00t/klingon-transcribe/internal/pipeline"
	"github.com/djh00t/klingon-transcribe/internal/preprocess"
	"github.com/djh00t/klingon-transcribe/internal/storage"
)

// mockRunner implements job.Runner for testing.
type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, cfg pipeline.RunConfig, data []byte, name string) (*pipeline.Result, error) {
	args := m.Called(ctx, cfg, data, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.Result), args.Error(1)
}

func (m *mockRunner) Validate(cfg pipeline.RunConfig) error {
	args := m.Called(cfg)
	return args.Error(0)
}

func srtResult(t *testing.T) *pipeline.Result {
	t.Helper()
	srt, err := format.ParseOutput("srt")
	require.NoError(t, err)
	plain, err := format.ParseOutput("plain_text")
	require.NoError(t, err)
	return &pipeline.Result{
		Documents: []pipeline.Document{
			{Output: srt, Content: "1\n00:00:00,000 --> 00:00:01,500\nhello\n\n"},
			{Output: plain, Content: "hello"},
		},
		Duration: 1.5,
	}
}

type testEnv struct {
	h      *Handlers
	svc    *job.Service
	runner *mockRunner
	dir    string
}

func newTestHandlers(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	local, err := storage.NewLocalStorage(filepath.Join(dir, "tmp"))
	require.NoError(t, err)

	runner := &mockRunner{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := job.NewService(job.NewMemoryRepository(), job.NewMemoryWorkflowStore(), runner, local, logger,
		job.WithTempStore(local),
	)
	t.Cleanup(svc.Wait)

	return &testEnv{
		h:      NewHandlers(svc, logger),
		svc:    svc,
		runner: runner,
		dir:    dir,
	}
}

func multipartBody(t *testing.T, fields map[string][]string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, vs := range fields {
		for _, v := range vs {
			require.NoError(t, mw.WriteField(k, v))
		}
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "call.wav")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeError(t *testing.T, body io.Reader) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	env.h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestTranscribe_Success(t *testing.T) {
	env := newTestHandlers(t)
	env.runner.On("Validate", mock.Anything).Return(nil)
	env.runner.On("Run", mock.Anything, mock.MatchedBy(func(cfg pipeline.RunConfig) bool {
		names := cfg.Preprocess.Names()
		return len(names) == 2 && names[0] == preprocess.StepNoiseRemoval && names[1] == "normalize" &&
			len(cfg.Outputs) == 2
	}), []byte("RIFF"), "call.wav").Return(srtResult(t), nil)

	body, ct := multipartBody(t, map[string][]string{
		"preprocess":     {"noise_removal,normalize"},
		"output_formats": {"srt", "plain_text"},
	}, []byte("RIFF"))
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()

	env.h.Transcribe(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp TranscribeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "hello", resp.Documents["plain_text"])
	assert.Contains(t, resp.Documents["srt"], "00:00:01,500")
	assert.InDelta(t, 1.5, resp.Duration, 1e-9)
	env.runner.AssertExpectations(t)
}

func TestTranscribe_MissingFile(t *testing.T) {
	env := newTestHandlers(t)

	body, ct := multipartBody(t, map[string][]string{"output_formats": {"srt"}}, nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()

	env.h.Transcribe(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_FILE", decodeError(t, rec.Body).Code)
}

func TestTranscribe_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"model unavailable", &engine.ModelUnavailableError{Backend: "modelserver", Model: "m", Err: errors.New("503")}, http.StatusBadGateway, "MODEL_UNAVAILABLE"},
		{"untimed output", pipeline.ErrUntimedOutput, http.StatusUnprocessableEntity, "UNPROCESSABLE_AUDIO"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestHandlers(t)
			env.runner.On("Validate", mock.Anything).Return(nil)
			env.runner.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			body, ct := multipartBody(t, nil, []byte("RIFF"))
			req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()

			env.h.Transcribe(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec.Body).Code)
		})
	}
}

func TestTranscribe_UnknownOutput(t *testing.T) {
	env := newTestHandlers(t)

	body, ct := multipartBody(t, map[string][]string{"output_formats": {"docx"}}, []byte("RIFF"))
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()

	env.h.Transcribe(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec.Body).Code)
}

func TestCreateJob_Success(t *testing.T) {
	env := newTestHandlers(t)
	input := filepath.Join(env.dir, "call.wav")
	require.NoError(t, os.WriteFile(input, []byte("RIFF"), 0o644))

	env.runner.On("Validate", mock.Anything).Return(nil)
	env.runner.On("Run", mock.Anything, mock.Anything, []byte("RIFF"), input).Return(srtResult(t), nil)

	bodyJSON, _ := json.Marshal(CreateJobRequest{
		InputURI:  input,
		OutputURI: filepath.Join(env.dir, "out", "call"),
	})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(bodyJSON))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	env.h.CreateJob(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp CreateJobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "IN_QUEUE", resp.Status)

	env.svc.Wait()

	got, err := env.svc.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)

	written, err := os.ReadFile(filepath.Join(env.dir, "out", "call.srt"))
	require.NoError(t, err)
	assert.Contains(t, string(written), "hello")
}

func TestCreateJob_Upload(t *testing.T) {
	env := newTestHandlers(t)
	env.runner.On("Validate", mock.Anything).Return(nil)
	env.runner.On("Run", mock.Anything, mock.Anything, []byte("RIFF"), mock.Anything).Return(srtResult(t), nil)

	body, ct := multipartBody(t, nil, []byte("RIFF"))
	req := httptest.NewRequest(http.MethodPost, "/jobs", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()

	env.h.CreateJob(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp CreateJobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	env.svc.Wait()

	got, err := env.svc.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Equal(t, "hello", got.Documents["plain_text"])
	_, err = os.Stat(got.InputURI)
	assert.True(t, os.IsNotExist(err), "expected staged upload to be removed")
}

func TestCreateJob_InvalidJSON(t *testing.T) {
	env := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader([]byte("invalid json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	env.h.CreateJob(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", decodeError(t, rec.Body).Code)
}

func TestCreateJob_ValidationError(t *testing.T) {
	tests := []struct {
		name string
		body CreateJobRequest
	}{
		{"missing input", CreateJobRequest{OutputURI: "s3://bucket/out"}},
		{"empty output format", CreateJobRequest{InputURI: "a.wav", OutputFormats: []string{""}}},
		{"step without name", CreateJobRequest{InputURI: "a.wav", Preprocess: []preprocess.StepSpec{{}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestHandlers(t)
			bodyJSON, _ := json.Marshal(tt.body)
			req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(bodyJSON))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			env.h.CreateJob(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec.Body).Code)
		})
	}
}

func TestCreateJob_UnknownWorkflow(t *testing.T) {
	env := newTestHandlers(t)

	bodyJSON, _ := json.Marshal(CreateJobRequest{InputURI: "a.wav", Workflow: "missing"})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(bodyJSON))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	env.h.CreateJob(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "WORKFLOW_NOT_FOUND", decodeError(t, rec.Body).Code)
}

func TestGetJob_NotFound(t *testing.T) {
	env := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/nonexistent", nil)
	req.SetPathValue("id", "nonexistent")
	rec := httptest.NewRecorder()

	env.h.GetJob(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeError(t, rec.Body).Code)
}

func TestGetJob_MissingID(t *testing.T) {
	env := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/", nil)
	rec := httptest.NewRecorder()

	env.h.GetJob(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_JOB_ID", decodeError(t, rec.Body).Code)
}

func TestCancelJob(t *testing.T) {
	env := newTestHandlers(t)
	input := filepath.Join(env.dir, "call.wav")
	require.NoError(t, os.WriteFile(input, []byte("RIFF"), 0o644))

	started := make(chan struct{})
	env.runner.On("Validate", mock.Anything).Return(nil)
	env.runner.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled)

	created, err := env.svc.Submit(context.Background(), job.Request{InputURI: input})
	require.NoError(t, err)
	<-started

	req := httptest.NewRequest(http.MethodDelete, "/jobs/"+created.ID, nil)
	req.SetPathValue("id", created.ID)
	rec := httptest.NewRecorder()

	env.h.CancelJob(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "CANCELLED", resp.Status)

	env.svc.Wait()

	// A finished job cannot be cancelled again.
	rec = httptest.NewRecorder()
	env.h.CancelJob(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", decodeError(t, rec.Body).Code)
}

func TestListJobs(t *testing.T) {
	env := newTestHandlers(t)
	input := filepath.Join(env.dir, "call.wav")
	require.NoError(t, os.WriteFile(input, []byte("RIFF"), 0o644))
	env.runner.On("Validate", mock.Anything).Return(nil)
	env.runner.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(srtResult(t), nil)

	for range 3 {
		_, err := env.svc.Submit(context.Background(), job.Request{InputURI: input})
		require.NoError(t, err)
	}
	env.svc.Wait()

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec := httptest.NewRecorder()

	env.h.ListJobs(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp JobListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Jobs, 3)
	for _, j := range resp.Jobs {
		assert.Equal(t, "COMPLETED", j.Status)
		assert.Empty(t, j.Documents, "listing should omit documents")
	}

	tests := []struct {
		query string
		want  int
	}{
		{"?status=failed", 0},
		{"?status=completed,running", 3},
		{"?status=FAILED&status=COMPLETED", 3},
		{"?workflow=calls", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.h.ListJobs(rec, httptest.NewRequest(http.MethodGet, "/jobs"+tt.query, nil))

			require.Equal(t, http.StatusOK, rec.Code)
			var resp JobListResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Len(t, resp.Jobs, tt.want)
		})
	}

	rec = httptest.NewRecorder()
	env.h.ListJobs(rec, httptest.NewRequest(http.MethodGet, "/jobs?status=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec.Body).Code)
}

func TestWorkflows(t *testing.T) {
	env := newTestHandlers(t)
	input := filepath.Join(env.dir, "call.wav")
	require.NoError(t, os.WriteFile(input, []byte("RIFF"), 0o644))
	env.runner.On("Validate", mock.Anything).Return(nil)
	env.runner.On("Run", mock.Anything, mock.MatchedBy(func(cfg pipeline.RunConfig) bool {
		return cfg.ASRModel == "workflow-asr"
	}), mock.Anything, input).Return(srtResult(t), nil)

	wf := job.Workflow{
		Name:          "calls",
		Steps:         []preprocess.StepSpec{{Name: preprocess.StepNoiseRemoval}},
		ASRModel:      "workflow-asr",
		OutputFormats: []string{"srt"},
	}
	bodyJSON, _ := json.Marshal(wf)
	req := httptest.NewRequest(http.MethodPost, "/workflows", bytes.NewReader(bodyJSON))
	rec := httptest.NewRecorder()
	env.h.CreateWorkflow(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/workflows/calls", nil)
	req.SetPathValue("name", "calls")
	rec = httptest.NewRecorder()
	env.h.GetWorkflow(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var got job.Workflow
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "workflow-asr", got.ASRModel)

	req = httptest.NewRequest(http.MethodGet, "/workflows", nil)
	rec = httptest.NewRecorder()
	env.h.ListWorkflows(rec, req)
	var list WorkflowListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Workflows, 1)

	bodyJSON, _ = json.Marshal(ProcessRequest{WorkflowName: "calls", FilePath: input})
	req = httptest.NewRequest(http.MethodPost, "/process", bytes.NewReader(bodyJSON))
	rec = httptest.NewRecorder()
	env.h.Process(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	env.svc.Wait()
	env.runner.AssertExpectations(t)
}

func TestCreateWorkflow_Invalid(t *testing.T) {
	env := newTestHandlers(t)

	bodyJSON, _ := json.Marshal(job.Workflow{Name: "a/b"})
	req := httptest.NewRequest(http.MethodPost, "/workflows", bytes.NewReader(bodyJSON))
	rec := httptest.NewRecorder()

	env.h.CreateWorkflow(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec.Body).Code)
}

func TestGetWorkflow_NotFound(t *testing.T) {
	env := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/workflows/missing", nil)
	req.SetPathValue("name", "missing")
	rec := httptest.NewRecorder()

	env.h.GetWorkflow(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "WORKFLOW_NOT_FOUND", decodeError(t, rec.Body).Code)
}

func TestRouter(t *testing.T) {
	env := newTestHandlers(t)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "# metrics")
	})
	cfg := DefaultConfig()
	cfg.MetricsHandler = metrics
	router := NewRouter(env.h, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/jobs/unknown", http.StatusNotFound},
		{http.MethodPut, "/jobs", http.StatusMethodNotAllowed},
		{http.MethodOptions, "/jobs", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Origin", "https://example.com")
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
