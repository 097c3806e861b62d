// Package server provides the HTTP API of the transcription service.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/djh00t/klingon-transcribe/internal/job"
	"github.com/djh00t/klingon-transcribe/internal/preprocess"
)

// CreateJobRequest is the HTTP request body for creating a new job.
type CreateJobRequest struct {
	// InputURI is where the audio is read from (path, s3:// or http(s)://).
	InputURI string `json:"input_uri" validate:"required"`
	// OutputURI is the base URI outputs are written to; each format adds
	// its extension. Empty keeps the documents in the job only.
	OutputURI string `json:"output_uri,omitempty"`
	// Workflow names a stored workflow to start from.
	Workflow string `json:"workflow,omitempty" validate:"omitempty,max=64"`
	// Preprocess overrides the preprocessing steps.
	Preprocess []preprocess.StepSpec `json:"preprocess,omitempty" validate:"omitempty,dive"`
	// OutputFormats overrides the output formats.
	OutputFormats    []string `json:"output_formats,omitempty" validate:"omitempty,dive,required"`
	ASRModel         string   `json:"asr_model,omitempty"`
	DiarizationModel string   `json:"diarization_model,omitempty"`
}

func (r CreateJobRequest) toRequest() job.Request {
	return job.Request{
		InputURI:         r.InputURI,
		OutputURI:        r.OutputURI,
		Workflow:         r.Workflow,
		Preprocess:       r.Preprocess,
		OutputFormats:    r.OutputFormats,
		ASRModel:         r.ASRModel,
		DiarizationModel: r.DiarizationModel,
	}
}

// ProcessRequest is the HTTP request body for running a workflow on a file.
type ProcessRequest struct {
	WorkflowName string `json:"workflow_name" validate:"required"`
	FilePath     string `json:"file_path" validate:"required"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	// Error contains any error message if the job failed.
	Error            string            `json:"error,omitempty"`
	Workflow         string            `json:"workflow,omitempty"`
	InputURI         string            `json:"input_uri"`
	ASRModel         string            `json:"asr_model"`
	DiarizationModel string            `json:"diarization_model"`
	Steps            []string          `json:"steps"`
	Outputs          map[string]string `json:"outputs,omitempty"`
	Documents        map[string]string `json:"documents,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func newJobResponse(j *job.Job, withDocuments bool) JobResponse {
	resp := JobResponse{
		ID:               j.ID,
		Status:           string(j.Status),
		Progress:         j.Progress,
		Error:            j.Error,
		Workflow:         j.Workflow,
		InputURI:         j.InputURI,
		ASRModel:         j.ASRModel,
		DiarizationModel: j.DiarizationModel,
		Steps:            j.Steps,
		Outputs:          j.Outputs,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
	}
	if resp.Steps == nil {
		resp.Steps = []string{}
	}
	if withDocuments && j.Status == job.StatusCompleted {
		resp.Documents = j.Documents
	}
	return resp
}

// JobListResponse is the HTTP response for listing jobs.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// TranscribeResponse maps output format names to rendered documents.
type TranscribeResponse struct {
	Documents map[string]string `json:"documents"`
	// Duration is the length of the processed audio in seconds.
	Duration float64 `json:"duration"`
}

// WorkflowListResponse is the HTTP response for listing workflows.
type WorkflowListResponse struct {
	Workflows []job.Workflow `json:"workflows"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
