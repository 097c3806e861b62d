// Package job provides the Job aggregate for asynchronous transcription
// runs: the state machine, its repository and the workflow presets jobs
// are started from.
package job

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/djh00t/klingon-transcribe/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting for a free worker slot.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the pipeline is processing the job.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates all outputs were produced.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job encountered an error during execution.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was manually cancelled.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates the job exceeded its deadline.
	StatusTimedOut Status = "TIMED_OUT"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrUnknownStatus is returned by ParseStatus.
var ErrUnknownStatus = errors.New("unknown job status")

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := validTransitions[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled, StatusTimedOut},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// Job is one asynchronous transcription of an input URI.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Workflow is the name of the workflow preset, if any.
	Workflow string
	// InputURI is where the audio is read from.
	InputURI string
	// OutputURI is the base URI outputs are written to. Empty keeps the
	// documents in the job only.
	OutputURI string
	// ASRModel and DiarizationModel are the models the job runs with.
	ASRModel         string
	DiarizationModel string
	// Steps are the preprocessing step names, in order.
	Steps []string
	// Status is the current job state.
	Status Status
	// Progress is the percentage of completion (0-100).
	Progress int
	// Error contains any error message if the job failed.
	Error string
	// Outputs maps output format names to the URIs they were written to.
	Outputs map[string]string
	// Documents maps output format names to their rendered content.
	Documents map[string]string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusInQueue,
		Outputs:   make(map[string]string),
		Documents: make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transition(status)
}

func (j *Job) transition(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted:
		j.Progress = 100
		j.CompletedAt = j.UpdatedAt
	case StatusFailed, StatusCancelled, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED state.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED state with an error message. The
// message is only recorded when the transition is allowed.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transition(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// Timeout transitions the job to TIMED_OUT state.
func (j *Job) Timeout() error {
	return j.TransitionTo(StatusTimedOut)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress sets the progress percentage (0-100).
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = min(max(progress, 0), 100)
	j.UpdatedAt = time.Now()
}

// SetOutput records a rendered document and, when it was written, its URI.
func (j *Job) SetOutput(name, uri, content string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Documents[name] = content
	if uri != "" {
		j.Outputs[name] = uri
	}
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(validTransitions[j.Status]) == 0
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:               j.ID,
		Workflow:         j.Workflow,
		InputURI:         j.InputURI,
		OutputURI:        j.OutputURI,
		ASRModel:         j.ASRModel,
		DiarizationModel: j.DiarizationModel,
		Steps:            slices.Clone(j.Steps),
		Status:           j.Status,
		Progress:         j.Progress,
		Error:            j.Error,
		Outputs:          maps.Clone(j.Outputs),
		Documents:        maps.Clone(j.Documents),
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
		StartedAt:        j.StartedAt,
		CompletedAt:      j.CompletedAt,
	}
}
