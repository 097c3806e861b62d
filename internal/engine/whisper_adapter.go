package engine

import (
	"context"

	"github.com/djh00t/klingon-transcribe/internal/align"
	"github.com/djh00t/klingon-transcribe/internal/segment"
	"github.com/djh00t/klingon-transcribe/internal/whisper"
)

const backendOpenAI = "openai"

// whisperClient is the subset of *whisper.Client used by the adapter.
type whisperClient interface {
	Transcribe(ctx context.Context, model string, wav []byte) (whisper.Result, error)
}

// WhisperTranscriber adapts the OpenAI transcription client to the
// Transcriber interface.
type WhisperTranscriber struct {
	client whisperClient
}

// NewWhisperTranscriber creates a new OpenAI transcriber adapter.
func NewWhisperTranscriber(client whisperClient) *WhisperTranscriber {
	return &WhisperTranscriber{client: client}
}

// Name implements Transcriber.
func (a *WhisperTranscriber) Name() string { return backendOpenAI }

// Transcribe implements Transcriber. Models that return no segments yield
// one untimed unit with the whole text.
func (a *WhisperTranscriber) Transcribe(ctx context.Context, in Input, model string) ([]align.TranscriptionUnit, error) {
	res, err := a.client.Transcribe(ctx, model, in.WAV)
	if err != nil {
		return nil, unavailable(ctx, backendOpenAI, whisper.ResolveModel(model), err)
	}

	if len(res.Segments) == 0 {
		if res.Text == "" {
			return []align.TranscriptionUnit{}, nil
		}
		return []align.TranscriptionUnit{align.Untimed(res.Text)}, nil
	}

	units := make([]align.TranscriptionUnit, len(res.Segments))
	for i, s := range res.Segments {
		units[i] = align.Timed(s.Text, segment.Seconds(s.Start), segment.Seconds(s.End))
	}
	return units, nil
}

var _ Transcriber = (*WhisperTranscriber)(nil)
