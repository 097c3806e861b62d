package preprocess

import (
	"fmt"
	"strconv"
)

// Params are the per-step parameters of a PipelineConfig entry.
type Params map[string]any

// Float returns the numeric parameter key, or def when it is absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: param %q: %v", ErrConfiguration, key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: param %q has type %T, want number", ErrConfiguration, key, v)
	}
}

// String returns the string parameter key, or def when it is absent.
func (p Params) String(key, def string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: param %q has type %T, want string", ErrConfiguration, key, v)
	}
	return s, nil
}

// StepSpec names one step of a pipeline and its parameters.
type StepSpec struct {
	Name   string `json:"name" yaml:"name" validate:"required"`
	Params Params `json:"params,omitempty" yaml:"params,omitempty"`
}

// PipelineConfig is an ordered, immutable list of steps.
type PipelineConfig struct {
	steps []StepSpec
}

// NewPipelineConfig copies specs into a PipelineConfig.
func NewPipelineConfig(specs ...StepSpec) PipelineConfig {
	steps := make([]StepSpec, len(specs))
	for i, s := range specs {
		steps[i] = StepSpec{Name: s.Name, Params: cloneParams(s.Params)}
	}
	return PipelineConfig{steps: steps}
}

// Steps builds a PipelineConfig of parameterless steps.
func Steps(names ...string) PipelineConfig {
	specs := make([]StepSpec, len(names))
	for i, n := range names {
		specs[i] = StepSpec{Name: n}
	}
	return NewPipelineConfig(specs...)
}

// Steps returns a copy of the configured steps.
func (c PipelineConfig) Steps() []StepSpec {
	out := make([]StepSpec, len(c.steps))
	for i, s := range c.steps {
		out[i] = StepSpec{Name: s.Name, Params: cloneParams(s.Params)}
	}
	return out
}

// Names returns the step names in order.
func (c PipelineConfig) Names() []string {
	names := make([]string, len(c.steps))
	for i, s := range c.steps {
		names[i] = s.Name
	}
	return names
}

// Len returns the number of steps.
func (c PipelineConfig) Len() int { return len(c.steps) }

func cloneParams(p Params) Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
