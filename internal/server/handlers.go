package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/djh00t/klingon-transcribe/internal/align"
	"github.com/djh00t/klingon-transcribe/internal/audio"
	"github.com/djh00t/klingon-transcribe/internal/engine"
	"github.com/djh00t/klingon-transcribe/internal/format"
	"github.com/djh00t/klingon-transcribe/internal/job"
	"github.com/djh00t/klingon-transcribe/internal/pipeline"
	"github.com/djh00t/klingon-transcribe/internal/preprocess"
	"github.com/djh00t/klingon-transcribe/internal/storage"
)

// defaultMaxUploadBytes bounds multipart uploads.
const defaultMaxUploadBytes = 512 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service        *job.Service
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxUploadBytes limits the size of uploaded audio.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:        service,
		validator:      validator.New(validator.WithRequiredStructEnabled()),
		logger:         logger,
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Transcribe handles POST /transcribe requests. It runs the pipeline on
// the uploaded file and returns the rendered documents.
func (h *Handlers) Transcribe(w http.ResponseWriter, r *http.Request) {
	upload, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	res, err := h.service.Transcribe(r.Context(), upload.data, upload.name, upload.req)
	if err != nil {
		h.writeServiceError(w, "transcription failed", err)
		return
	}

	docs := make(map[string]string, len(res.Documents))
	for _, d := range res.Documents {
		docs[d.Output.Name] = d.Content
	}
	writeJSON(w, http.StatusOK, TranscribeResponse{Documents: docs, Duration: res.Duration})
}

// CreateJob handles POST /jobs requests. JSON bodies name an input URI;
// multipart bodies upload the audio in a "file" part.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var (
		created *job.Job
		err     error
	)

	if isMultipart(r) {
		upload, ok := h.readUpload(w, r)
		if !ok {
			return
		}
		upload.req.OutputURI = r.FormValue("output_uri")
		created, err = h.service.SubmitUpload(r.Context(), upload.name, bytes.NewReader(upload.data), upload.req)
	} else {
		var req CreateJobRequest
		if !h.decode(w, r, &req) {
			return
		}
		created, err = h.service.Submit(r.Context(), req.toRequest())
	}
	if err != nil {
		h.writeServiceError(w, "failed to create job", err)
		return
	}

	h.logger.Info("job created",
		slog.String("job_id", created.ID),
		slog.String("input", created.InputURI),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// ListJobs handles GET /jobs requests. The status query parameter
// (repeated or comma separated) and the workflow parameter filter the list.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := job.Filter{Workflow: query.Get("workflow")}
	for _, name := range splitList(query["status"]) {
		st, err := job.ParseStatus(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		filter.Statuses = append(filter.Statuses, st)
	}

	jobs, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, "failed to list jobs", err)
		return
	}
	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, newJobResponse(j, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.service.Get(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, "failed to get job", err)
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(found, true))
}

// CancelJob handles DELETE /jobs/{id} requests.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	cancelled, err := h.service.Cancel(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, "failed to cancel job", err)
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(cancelled, false))
}

// CreateWorkflow handles POST /workflows requests.
func (h *Handlers) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf job.Workflow
	if !h.decode(w, r, &wf) {
		return
	}
	if err := h.service.SaveWorkflow(r.Context(), wf); err != nil {
		h.writeServiceError(w, "failed to save workflow", err)
		return
	}
	h.logger.Info("workflow saved", slog.String("workflow", wf.Name))
	writeJSON(w, http.StatusCreated, wf)
}

// ListWorkflows handles GET /workflows requests.
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListWorkflows(r.Context())
	if err != nil {
		h.writeServiceError(w, "failed to list workflows", err)
		return
	}
	writeJSON(w, http.StatusOK, WorkflowListResponse{Workflows: list})
}

// GetWorkflow handles GET /workflows/{name} requests.
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.service.GetWorkflow(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeServiceError(w, "failed to get workflow", err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// Process handles POST /process requests.
func (h *Handlers) Process(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if !h.decode(w, r, &req) {
		return
	}
	created, err := h.service.ProcessWorkflow(r.Context(), req.WorkflowName, req.FilePath)
	if err != nil {
		h.writeServiceError(w, "failed to start workflow", err)
		return
	}
	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// decode reads a JSON body into dst and validates it. It writes the error
// response and returns false on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

type upload struct {
	name string
	data []byte
	req  job.Request
}

// readUpload parses a multipart request with a "file" part and the
// optional "preprocess", "output_formats", "workflow", "asr_model" and
// "diarization_model" values. Repeated values and comma lists both work.
func (h *Handlers) readUpload(w http.ResponseWriter, r *http.Request) (upload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error(), "INVALID_MULTIPART")
		return upload{}, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required", "MISSING_FILE")
		return upload{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file", "INVALID_FILE")
		return upload{}, false
	}

	req := job.Request{
		Workflow:         r.FormValue("workflow"),
		ASRModel:         r.FormValue("asr_model"),
		DiarizationModel: r.FormValue("diarization_model"),
		OutputFormats:    formList(r.MultipartForm, "output_formats"),
	}
	if _, ok := r.MultipartForm.Value["preprocess"]; ok {
		req.Preprocess = make([]preprocess.StepSpec, 0)
		for _, name := range formList(r.MultipartForm, "preprocess") {
			req.Preprocess = append(req.Preprocess, preprocess.StepSpec{Name: name})
		}
	}
	return upload{name: header.Filename, data: data, req: req}, true
}

func formList(form *multipart.Form, key string) []string {
	return splitList(form.Value[key])
}

// splitList flattens repeated and comma separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// writeServiceError maps domain errors to HTTP status codes.
func (h *Handlers) writeServiceError(w http.ResponseWriter, msg string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.String("error", err.Error()))
	} else {
		h.logger.Warn(msg, slog.String("error", err.Error()))
	}
	writeError(w, status, err.Error(), code)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		return http.StatusNotFound, "JOB_NOT_FOUND"
	case errors.Is(err, job.ErrWorkflowNotFound):
		return http.StatusNotFound, "WORKFLOW_NOT_FOUND"
	case errors.Is(err, job.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, job.ErrInputRequired),
		errors.Is(err, job.ErrInvalidWorkflow),
		errors.Is(err, job.ErrUnknownStatus),
		errors.Is(err, format.ErrUnknownOutput),
		errors.Is(err, preprocess.ErrUnknownStep),
		errors.Is(err, preprocess.ErrConfiguration),
		errors.Is(err, align.ErrConfiguration):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, audio.ErrInvalidWAV),
		errors.Is(err, pipeline.ErrUntimedOutput),
		errors.Is(err, align.ErrAlignmentCardinality):
		return http.StatusUnprocessableEntity, "UNPROCESSABLE_AUDIO"
	case errors.Is(err, engine.ErrModelUnavailable):
		return http.StatusBadGateway, "MODEL_UNAVAILABLE"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "INPUT_NOT_FOUND"
	case errors.Is(err, storage.ErrUnsupportedScheme), errors.Is(err, storage.ErrInvalidURI):
		return http.StatusBadRequest, "INVALID_URI"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
