// Package engine defines the model collaborators of the transcription
// pipeline (transcribers and diarizers) and adapts the available backends
// to them.
package engine

import (
	"context"
	"errors"
	"fmt"

	goaudio "github.com/go-audio/audio"

	"github.com/djh00t/klingon-transcribe/internal/align"
)

// ErrModelUnavailable is matched by *ModelUnavailableError.
var ErrModelUnavailable = errors.New("engine: model unavailable")

// ModelUnavailableError reports a failed call to a model backend.
type ModelUnavailableError struct {
	Backend string
	Model   string
	Err     error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("engine: %s model %q unavailable: %v", e.Backend, e.Model, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrModelUnavailable.
func (e *ModelUnavailableError) Is(target error) bool {
	return target == ErrModelUnavailable
}

// unavailable wraps err unless it is a cancellation, which callers handle
// on their own.
func unavailable(ctx context.Context, backend, model string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s %s: %w", backend, model, ctx.Err())
	}
	return &ModelUnavailableError{Backend: backend, Model: model, Err: err}
}

// Input is one piece of audio handed to the models, both as 16-bit PCM WAV
// bytes and as decoded samples.
type Input struct {
	Name  string
	WAV   []byte
	Audio *goaudio.FloatBuffer
}

// Transcriber turns audio into transcription units.
type Transcriber interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	Transcribe(ctx context.Context, in Input, model string) ([]align.TranscriptionUnit, error)
}

// Diarizer turns audio into speaker-labelled segments.
type Diarizer interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	Diarize(ctx context.Context, in Input, model string) ([]align.DiarizationSegment, error)
}
