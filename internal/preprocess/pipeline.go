// Package preprocess runs an ordered chain of named audio enhancement steps
// before detection and transcription.
package preprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
)

// Static errors for preprocessing.
var (
	// ErrConfiguration is returned for malformed registrations or parameters.
	ErrConfiguration = errors.New("preprocess: invalid configuration")
	// ErrUnknownStep is matched by *UnknownStepError.
	ErrUnknownStep = errors.New("preprocess: unknown step")
	// ErrStepExecution is matched by *StepExecutionError.
	ErrStepExecution = errors.New("preprocess: step failed")
)

// UnknownStepError names a step that is not registered. It is returned
// before any step runs.
type UnknownStepError struct {
	Step string
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("preprocess: unknown step %q", e.Step)
}

// Is reports whether target is ErrUnknownStep.
func (e *UnknownStepError) Is(target error) bool {
	return target == ErrUnknownStep
}

// StepExecutionError wraps the failure of one step.
type StepExecutionError struct {
	Step  string
	Index int
	Err   error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("preprocess: step %d %q failed: %v", e.Index, e.Step, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrStepExecution.
func (e *StepExecutionError) Is(target error) bool {
	return target == ErrStepExecution
}

// Step transforms audio. Implementations must not modify the input buffer.
type Step interface {
	Apply(ctx context.Context, buf *goaudio.FloatBuffer, params Params) (*goaudio.FloatBuffer, error)
}

// StepFunc adapts a function to the Step interface.
type StepFunc func(ctx context.Context, buf *goaudio.FloatBuffer, params Params) (*goaudio.FloatBuffer, error)

// Apply calls f.
func (f StepFunc) Apply(ctx context.Context, buf *goaudio.FloatBuffer, params Params) (*goaudio.FloatBuffer, error) {
	return f(ctx, buf, params)
}

// Registry maps step names to implementations. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]Step
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{steps: make(map[string]Step)}
}

// Register adds a step under name. Names must be unique and non-empty.
func (r *Registry) Register(name string, step Step) error {
	if name == "" {
		return fmt.Errorf("%w: step name is empty", ErrConfiguration)
	}
	if step == nil {
		return fmt.Errorf("%w: step %q is nil", ErrConfiguration, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.steps[name]; exists {
		return fmt.Errorf("%w: step %q already registered", ErrConfiguration, name)
	}
	r.steps[name] = step
	return nil
}

// Lookup returns the step registered under name.
func (r *Registry) Lookup(name string) (Step, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.steps[name]
	return s, ok
}

// Names returns the registered step names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.steps))
	for n := range r.steps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Pipeline applies a PipelineConfig using the steps of a Registry.
type Pipeline struct {
	registry *Registry
	logger   *slog.Logger
}

// New creates a Pipeline. If logger is nil, slog.Default() is used.
func New(registry *Registry, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{registry: registry, logger: logger}
}

// Registry returns the registry the pipeline resolves steps from.
func (p *Pipeline) Registry() *Registry { return p.registry }

// Validate checks that every configured step is registered.
func (p *Pipeline) Validate(cfg PipelineConfig) error {
	_, err := p.resolve(cfg)
	return err
}

// Apply runs the configured steps in order, feeding each step the previous
// step's output. Unknown names fail before anything runs; the first failing
// step aborts the chain.
func (p *Pipeline) Apply(ctx context.Context, buf *goaudio.FloatBuffer, cfg PipelineConfig) (*goaudio.FloatBuffer, error) {
	steps, err := p.resolve(cfg)
	if err != nil {
		return nil, err
	}

	specs := cfg.Steps()
	current := buf
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("preprocess: cancelled before step %q: %w", specs[i].Name, err)
		}

		start := time.Now()
		out, err := step.Apply(ctx, current, specs[i].Params)
		if err != nil {
			p.logger.Warn("preprocessing step failed",
				slog.String("step", specs[i].Name),
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			return nil, &StepExecutionError{Step: specs[i].Name, Index: i, Err: err}
		}
		if out == nil {
			return nil, &StepExecutionError{Step: specs[i].Name, Index: i, Err: errors.New("step returned no audio")}
		}

		p.logger.Debug("preprocessing step applied",
			slog.String("step", specs[i].Name),
			slog.Int("index", i),
			slog.Duration("duration", time.Since(start)),
		)
		current = out
	}
	return current, nil
}

func (p *Pipeline) resolve(cfg PipelineConfig) ([]Step, error) {
	specs := cfg.Steps()
	steps := make([]Step, len(specs))
	for i, spec := range specs {
		s, ok := p.registry.Lookup(spec.Name)
		if !ok {
			return nil, &UnknownStepError{Step: spec.Name}
		}
		steps[i] = s
	}
	return steps, nil
}
