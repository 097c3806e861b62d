package preprocess

import (
	"context"
	"fmt"
	"math"

	goaudio "github.com/go-audio/audio"
)

// Built-in step names.
const (
	StepNormalize        = "normalize"
	StepHighpass         = "highpass"
	StepDenoise          = "denoise"
	StepLoudnorm         = "loudnorm"
	StepAudioEnhancement = "audio_enhancement"
	StepNoiseRemoval     = "noise_removal"
)

// Default models for the model-backed steps.
const (
	DefaultEnhancementModel = "AudioSuperRes"
	DefaultDenoiserModel    = "denoiser_hifi"
)

// Filterer runs an ffmpeg audio filter graph over a buffer.
type Filterer interface {
	Filter(ctx context.Context, buf *goaudio.FloatBuffer, filter string) (*goaudio.FloatBuffer, error)
}

// Enhancer runs a model-backed enhancement or denoising pass.
type Enhancer interface {
	Enhance(ctx context.Context, buf *goaudio.FloatBuffer, model string) (*goaudio.FloatBuffer, error)
}

// RegisterBuiltins registers the standard steps. Filter steps need a
// Filterer and model steps need an Enhancer; either may be nil, in which
// case those steps are left out.
func RegisterBuiltins(r *Registry, f Filterer, e Enhancer) error {
	steps := map[string]Step{
		StepNormalize: StepFunc(Normalize),
	}
	if f != nil {
		steps[StepHighpass] = FilterStep(f, highpassFilter)
		steps[StepDenoise] = FilterStep(f, denoiseFilter)
		steps[StepLoudnorm] = FilterStep(f, loudnormFilter)
	}
	if e != nil {
		steps[StepAudioEnhancement] = ModelStep(e, DefaultEnhancementModel)
		steps[StepNoiseRemoval] = ModelStep(e, DefaultDenoiserModel)
	}
	for name, s := range steps {
		if err := r.Register(name, s); err != nil {
			return err
		}
	}
	return nil
}

// Normalize scales the buffer so its largest absolute sample equals the
// "peak" parameter (default 1.0). Silent input is returned unchanged.
func Normalize(_ context.Context, buf *goaudio.FloatBuffer, params Params) (*goaudio.FloatBuffer, error) {
	peak, err := params.Float("peak", 1.0)
	if err != nil {
		return nil, err
	}
	if peak <= 0 || peak > 1 {
		return nil, fmt.Errorf("%w: peak %v outside (0, 1]", ErrConfiguration, peak)
	}

	out := cloneBuffer(buf)
	var highest float64
	for _, v := range out.Data {
		highest = math.Max(highest, math.Abs(v))
	}
	if highest == 0 {
		return out, nil
	}
	gain := peak / highest
	for i := range out.Data {
		out.Data[i] *= gain
	}
	return out, nil
}

// FilterStep returns a step that runs the ffmpeg filter built from params.
func FilterStep(f Filterer, build func(Params) (string, error)) Step {
	return StepFunc(func(ctx context.Context, buf *goaudio.FloatBuffer, params Params) (*goaudio.FloatBuffer, error) {
		filter, err := build(params)
		if err != nil {
			return nil, err
		}
		return f.Filter(ctx, buf, filter)
	})
}

func highpassFilter(params Params) (string, error) {
	cutoff, err := params.Float("cutoff_hz", 100)
	if err != nil {
		return "", err
	}
	if cutoff <= 0 {
		return "", fmt.Errorf("%w: cutoff_hz must be positive, got %v", ErrConfiguration, cutoff)
	}
	return fmt.Sprintf("highpass=f=%g", cutoff), nil
}

func denoiseFilter(params Params) (string, error) {
	nr, err := params.Float("reduction_db", 12)
	if err != nil {
		return "", err
	}
	if nr < 0.01 || nr > 97 {
		return "", fmt.Errorf("%w: reduction_db %v outside [0.01, 97]", ErrConfiguration, nr)
	}
	return fmt.Sprintf("afftdn=nr=%g", nr), nil
}

func loudnormFilter(params Params) (string, error) {
	target, err := params.Float("target_lufs", -16)
	if err != nil {
		return "", err
	}
	if target < -70 || target > -5 {
		return "", fmt.Errorf("%w: target_lufs %v outside [-70, -5]", ErrConfiguration, target)
	}
	return fmt.Sprintf("loudnorm=I=%g:TP=-1.5:LRA=11", target), nil
}

// ModelStep returns a step that sends audio through a remote model. The
// "model" parameter overrides defaultModel.
func ModelStep(e Enhancer, defaultModel string) Step {
	return StepFunc(func(ctx context.Context, buf *goaudio.FloatBuffer, params Params) (*goaudio.FloatBuffer, error) {
		model, err := params.String("model", defaultModel)
		if err != nil {
			return nil, err
		}
		return e.Enhance(ctx, buf, model)
	})
}

func cloneBuffer(buf *goaudio.FloatBuffer) *goaudio.FloatBuffer {
	out := &goaudio.FloatBuffer{Data: make([]float64, len(buf.Data))}
	copy(out.Data, buf.Data)
	if buf.Format != nil {
		f := *buf.Format
		out.Format = &f
	}
	return out
}
