package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/djh00t/klingon-transcribe/internal/format"
	"github.com/djh00t/klingon-transcribe/internal/pipeline"
	"github.com/djh00t/klingon-transcribe/internal/preprocess"
)

// PipelineFile is the YAML form of a run configuration. Omitted fields
// keep the values from the environment.
type PipelineFile struct {
	ASRModel         string                `yaml:"asr_model"`
	DiarizationModel string                `yaml:"diarization_model"`
	Preprocess       []preprocess.StepSpec `yaml:"preprocess"`
	OutputFormats    []string              `yaml:"output_formats"`
	Tolerance        *int                  `yaml:"tolerance"`
	SRTClock         *bool                 `yaml:"srt_clock"`
	Diarize          *bool                 `yaml:"diarize"`
}

// LoadPipelineFile reads and validates the pipeline file at path.
func LoadPipelineFile(path string) (*PipelineFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	pf, err := DecodePipelineFile(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return pf, nil
}

// DecodePipelineFile decodes a pipeline file from r. Unknown keys are errors.
func DecodePipelineFile(r io.Reader) (*PipelineFile, error) {
	pf := &PipelineFile{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(pf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := pf.Validate(); err != nil {
		return nil, err
	}
	return pf, nil
}

// Validate checks the file for consistency. All problems are reported together.
func (pf *PipelineFile) Validate() error {
	var errs []error
	for i, s := range pf.Preprocess {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%w: preprocess[%d]: name is required", ErrInvalidValue, i))
		}
	}
	for _, name := range pf.OutputFormats {
		if _, err := format.ParseOutput(name); err != nil {
			errs = append(errs, err)
		}
	}
	if pf.Tolerance != nil && *pf.Tolerance < 0 {
		errs = append(errs, fmt.Errorf("%w: tolerance must be non-negative, got %d", ErrInvalidValue, *pf.Tolerance))
	}
	return errors.Join(errs...)
}

// RunConfig builds the run configuration from the environment settings,
// overlaid with pf when it is not nil.
func (c *Config) RunConfig(pf *PipelineFile, logger *slog.Logger) (pipeline.RunConfig, error) {
	rc := pipeline.DefaultRunConfig()
	rc.Logger = logger
	rc.ASRModel = c.ASRModel
	rc.DiarizationModel = c.DiarizationModel
	rc.Diarize = c.DiarizeBackend != BackendNone
	rc.Preprocess = preprocess.NewPipelineConfig(c.PreprocessSteps()...)

	outputs := c.OutputFormats
	if pf != nil {
		if pf.ASRModel != "" {
			rc.ASRModel = pf.ASRModel
		}
		if pf.DiarizationModel != "" {
			rc.DiarizationModel = pf.DiarizationModel
		}
		if pf.Preprocess != nil {
			rc.Preprocess = preprocess.NewPipelineConfig(pf.Preprocess...)
		}
		if len(pf.OutputFormats) > 0 {
			outputs = pf.OutputFormats
		}
		if pf.Tolerance != nil {
			rc.Tolerance = *pf.Tolerance
		}
		if pf.SRTClock != nil {
			rc.SRTClock = *pf.SRTClock
		}
		if pf.Diarize != nil {
			rc.Diarize = *pf.Diarize && c.DiarizeBackend != BackendNone
		}
	}

	if len(outputs) > 0 {
		parsed, err := format.ParseOutputs(outputs)
		if err != nil {
			return pipeline.RunConfig{}, err
		}
		rc.Outputs = parsed
	}
	return rc, nil
}
