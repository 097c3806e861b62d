package engine

import (
	"context"
	"log/slog"
	"strings"

	goaudio "github.com/go-audio/audio"

	"github.com/djh00t/klingon-transcribe/internal/align"
	"github.com/djh00t/klingon-transcribe/internal/audio"
	"github.com/djh00t/klingon-transcribe/internal/modelserver"
	"github.com/djh00t/klingon-transcribe/internal/preprocess"
	"github.com/djh00t/klingon-transcribe/internal/segment"
)

const backendModelServer = "modelserver"

// ModelServerTranscriber adapts a model server to the Transcriber interface.
type ModelServerTranscriber struct {
	client modelserver.Client
}

// NewModelServerTranscriber creates a new model server transcriber adapter.
func NewModelServerTranscriber(client modelserver.Client) *ModelServerTranscriber {
	return &ModelServerTranscriber{client: client}
}

// Name implements Transcriber.
func (a *ModelServerTranscriber) Name() string { return backendModelServer }

// Transcribe implements Transcriber. Timed segments become timed units in
// seconds; otherwise utterances, or the lines of the text, become untimed
// units in order.
func (a *ModelServerTranscriber) Transcribe(ctx context.Context, in Input, model string) ([]align.TranscriptionUnit, error) {
	res, err := a.client.Transcribe(ctx, model, in.WAV)
	if err != nil {
		return nil, unavailable(ctx, backendModelServer, model, err)
	}

	if len(res.Segments) > 0 {
		units := make([]align.TranscriptionUnit, 0, len(res.Segments))
		for _, s := range res.Segments {
			units = append(units, align.Timed(strings.TrimSpace(s.Text), segment.Seconds(s.Start), segment.Seconds(s.End)))
		}
		return units, nil
	}

	texts := res.Utterances
	if len(texts) == 0 {
		texts = strings.Split(res.Text, "\n")
	}
	units := make([]align.TranscriptionUnit, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			units = append(units, align.Untimed(t))
		}
	}
	return units, nil
}

// ModelServerDiarizer adapts a model server to the Diarizer interface.
type ModelServerDiarizer struct {
	client modelserver.Client
	logger *slog.Logger
}

// NewModelServerDiarizer creates a new model server diarizer adapter. A nil
// logger falls back to slog.Default.
func NewModelServerDiarizer(client modelserver.Client, logger *slog.Logger) *ModelServerDiarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelServerDiarizer{client: client, logger: logger}
}

// Name implements Diarizer.
func (a *ModelServerDiarizer) Name() string { return backendModelServer }

// Diarize implements Diarizer. Turns that are empty or reversed are dropped
// with a warning.
func (a *ModelServerDiarizer) Diarize(ctx context.Context, in Input, model string) ([]align.DiarizationSegment, error) {
	res, err := a.client.Diarize(ctx, model, in.WAV)
	if err != nil {
		return nil, unavailable(ctx, backendModelServer, model, err)
	}

	out := make([]align.DiarizationSegment, 0, len(res.Segments))
	dropped := 0
	for _, s := range res.Segments {
		if s.End <= s.Start {
			dropped++
			continue
		}
		out = append(out, align.DiarizationSegment{
			Start:   segment.Seconds(s.Start),
			End:     segment.Seconds(s.End),
			Speaker: s.Label,
		})
	}
	if dropped > 0 {
		a.logger.WarnContext(ctx, "dropped invalid diarization turns",
			slog.String("model", model),
			slog.Int("dropped", dropped),
			slog.Int("kept", len(out)),
		)
	}
	return out, nil
}

// ModelServerEnhancer runs model server enhancement models as
// preprocessing steps.
type ModelServerEnhancer struct {
	client modelserver.Client
}

// NewModelServerEnhancer creates a new model server enhancer adapter.
func NewModelServerEnhancer(client modelserver.Client) *ModelServerEnhancer {
	return &ModelServerEnhancer{client: client}
}

// Enhance implements preprocess.Enhancer.
func (a *ModelServerEnhancer) Enhance(ctx context.Context, buf *goaudio.FloatBuffer, model string) (*goaudio.FloatBuffer, error) {
	wav, err := audio.EncodeWAV(buf, audio.TargetBitDepth)
	if err != nil {
		return nil, err
	}
	out, err := a.client.Enhance(ctx, model, wav)
	if err != nil {
		return nil, unavailable(ctx, backendModelServer, model, err)
	}
	return audio.DecodeWAV(out)
}

// Compile-time interface checks.
var (
	_ Transcriber         = (*ModelServerTranscriber)(nil)
	_ Diarizer            = (*ModelServerDiarizer)(nil)
	_ preprocess.Enhancer = (*ModelServerEnhancer)(nil)
)
