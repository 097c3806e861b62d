package job

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/djh00t/klingon-transcribe/internal/format"
	"github.com/djh00t/klingon-transcribe/internal/preprocess"
)

// Static errors for workflows.
var (
	// ErrWorkflowNotFound is returned when no workflow has the given name.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrInvalidWorkflow is returned when a workflow fails validation.
	ErrInvalidWorkflow = errors.New("invalid workflow")
)

// Workflow is a named, reusable run preset.
type Workflow struct {
	Name             string                `json:"name" validate:"required,max=64,excludesall=/"`
	Steps            []preprocess.StepSpec `json:"steps" validate:"dive"`
	ASRModel         string                `json:"asr_model,omitempty"`
	DiarizationModel string                `json:"diarization_model,omitempty"`
	OutputFormats    []string              `json:"output_formats,omitempty" validate:"dive,required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and output format names.
func (w Workflow) Validate() error {
	if err := validate.Struct(w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWorkflow, err)
	}
	if _, err := format.ParseOutputs(w.OutputFormats); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidWorkflow, err)
	}
	return nil
}

// Clone returns a deep copy of the workflow.
func (w Workflow) Clone() Workflow {
	out := w
	out.Steps = preprocess.NewPipelineConfig(w.Steps...).Steps()
	out.OutputFormats = slices.Clone(w.OutputFormats)
	return out
}

// WorkflowStore persists workflows by name.
type WorkflowStore interface {
	// Save validates and stores w, replacing a workflow of the same name.
	Save(ctx context.Context, w Workflow) error
	// Get returns the named workflow or ErrWorkflowNotFound.
	Get(ctx context.Context, name string) (Workflow, error)
	// List returns all workflows sorted by name.
	List(ctx context.Context) ([]Workflow, error)
}

var _ WorkflowStore = (*MemoryWorkflowStore)(nil)

// MemoryWorkflowStore is an in-memory WorkflowStore.
type MemoryWorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]Workflow
}

// NewMemoryWorkflowStore creates an empty workflow store.
func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{workflows: make(map[string]Workflow)}
}

// Save implements WorkflowStore.
func (s *MemoryWorkflowStore) Save(_ context.Context, w Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[w.Name] = w.Clone()
	return nil
}

// Get implements WorkflowStore.
func (s *MemoryWorkflowStore) Get(_ context.Context, name string) (Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[name]
	if !ok {
		return Workflow{}, fmt.Errorf("%w: %q", ErrWorkflowNotFound, name)
	}
	return w.Clone(), nil
}

// List implements WorkflowStore.
func (s *MemoryWorkflowStore) List(_ context.Context) ([]Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, w.Clone())
	}
	slices.SortFunc(out, func(a, b Workflow) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}
