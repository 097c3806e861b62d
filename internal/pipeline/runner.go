// Package pipeline runs audio through preprocessing, transcription,
// diarization, alignment and formatting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"golang.org/x/sync/errgroup"

	"github.com/djh00t/klingon-transcribe/internal/align"
	"github.com/djh00t/klingon-transcribe/internal/audio"
	"github.com/djh00t/klingon-transcribe/internal/engine"
	"github.com/djh00t/klingon-transcribe/internal/format"
	"github.com/djh00t/klingon-transcribe/internal/observe"
	"github.com/djh00t/klingon-transcribe/internal/preprocess"
)

// ErrNoTranscriber is returned by NewRunner when no transcriber is given.
var ErrNoTranscriber = errors.New("pipeline: transcriber is required")

// ErrUntimedOutput is returned when a timed output is requested from a
// transcript that has neither time bounds nor diarization.
var ErrUntimedOutput = errors.New("pipeline: output needs timed transcription or diarization")

// Stage names used in metrics and spans.
const (
	StageDecode     = "decode"
	StagePreprocess = "preprocess"
	StageTranscribe = "transcribe"
	StageDiarize    = "diarize"
	StageAlign      = "align"
	StageRender     = "render"
)

// Converter turns arbitrary audio into 16 kHz mono 16-bit WAV.
type Converter interface {
	ConvertToWAV(ctx context.Context, data []byte) ([]byte, error)
}

// Document is one rendered output.
type Document struct {
	Output  format.Output
	Content string
}

// Result is the outcome of a run.
type Result struct {
	Records   []align.Record
	Documents []Document
	// Duration is the length of the processed audio in seconds.
	Duration float64
}

// Document returns the content rendered for the named output.
func (r *Result) Document(name string) (string, bool) {
	for _, d := range r.Documents {
		if d.Output.Name == name {
			return d.Content, true
		}
	}
	return "", false
}

// Runner executes runs. It is safe for concurrent use.
type Runner struct {
	transcriber  engine.Transcriber
	diarizer     engine.Diarizer
	converter    Converter
	preprocessor *preprocess.Pipeline
	metrics      *observe.Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithDiarizer sets the diarizer used when RunConfig.Diarize is set.
func WithDiarizer(d engine.Diarizer) Option {
	return func(r *Runner) {
		r.diarizer = d
	}
}

// WithConverter sets the converter used for input that is not 16 kHz mono WAV.
func WithConverter(c Converter) Option {
	return func(r *Runner) {
		r.converter = c
	}
}

// WithPreprocessor sets the preprocessing pipeline.
func WithPreprocessor(p *preprocess.Pipeline) Option {
	return func(r *Runner) {
		r.preprocessor = p
	}
}

// WithMetrics records stage and run metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner creates a Runner around a transcriber.
func NewRunner(t engine.Transcriber, opts ...Option) (*Runner, error) {
	if t == nil {
		return nil, ErrNoTranscriber
	}
	r := &Runner{transcriber: t}
	for _, opt := range opts {
		opt(r)
	}
	if r.preprocessor == nil {
		r.preprocessor = preprocess.New(preprocess.NewRegistry(), nil)
	}
	return r, nil
}

// Preprocessor returns the preprocessing pipeline, for step validation.
func (r *Runner) Preprocessor() *preprocess.Pipeline { return r.preprocessor }

// Validate checks a RunConfig against the runner's capabilities without
// touching any audio.
func (r *Runner) Validate(cfg RunConfig) error {
	if err := r.preprocessor.Validate(cfg.Preprocess); err != nil {
		return err
	}
	if len(cfg.Outputs) == 0 {
		return fmt.Errorf("%w: no outputs requested", format.ErrUnknownOutput)
	}
	if cfg.Tolerance < 0 {
		return fmt.Errorf("%w: tolerance must be non-negative, got %d", align.ErrConfiguration, cfg.Tolerance)
	}
	return nil
}

// Run processes one audio file. name is used for logs and the CTM file
// column.
func (r *Runner) Run(ctx context.Context, cfg RunConfig, data []byte, name string) (res *Result, err error) {
	if err := r.Validate(cfg); err != nil {
		return nil, err
	}

	logger := cfg.logger().With(slog.String("input", name))
	start := time.Now()

	ctx, span := observe.StartSpan(ctx, "pipeline.run")
	defer func() {
		observe.EndSpan(span, err)
		if r.metrics != nil {
			r.metrics.RecordRun(ctx, observe.StatusOf(err), time.Since(start))
		}
	}()
	logger = observe.WithTrace(ctx, logger)

	buf, err := stage(ctx, r, StageDecode, func(ctx context.Context) (*goaudio.FloatBuffer, error) {
		return r.decode(ctx, data)
	})
	if err != nil {
		return nil, err
	}
	duration := audio.Duration(buf)
	if r.metrics != nil {
		r.metrics.AudioSeconds.Add(ctx, duration)
	}
	logger.Info("audio decoded",
		slog.Float64("duration_s", duration),
		slog.Int("sample_rate", buf.Format.SampleRate),
	)

	if cfg.Preprocess.Len() > 0 {
		buf, err = stage(ctx, r, StagePreprocess, func(ctx context.Context) (*goaudio.FloatBuffer, error) {
			return r.preprocessor.Apply(ctx, buf, cfg.Preprocess)
		})
		if err != nil {
			return nil, err
		}
		logger.Info("audio preprocessed", slog.Any("steps", cfg.Preprocess.Names()))
	}

	wav, err := audio.EncodeWAV(buf, audio.TargetBitDepth)
	if err != nil {
		return nil, fmt.Errorf("encode audio: %w", err)
	}
	in := engine.Input{Name: name, WAV: wav, Audio: buf}

	units, diarization, err := r.infer(ctx, cfg, in)
	if err != nil {
		return nil, err
	}
	logger.Info("models finished",
		slog.Int("units", len(units)),
		slog.Int("speaker_segments", len(diarization)),
	)

	diarized := cfg.Diarize && r.diarizer != nil
	records, err := stage(ctx, r, StageAlign, func(context.Context) ([]align.Record, error) {
		switch {
		case diarized:
			return align.New(align.WithTolerance(cfg.Tolerance)).Align(diarization, units)
		case timed(units):
			return align.Records(units)
		default:
			return nil, nil
		}
	})
	if err != nil {
		return nil, err
	}

	docs, err := stage(ctx, r, StageRender, func(context.Context) ([]Document, error) {
		return render(cfg, records, units, diarized, name)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("transcription complete",
		slog.Int("records", len(records)),
		slog.Int("documents", len(docs)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return &Result{Records: records, Documents: docs, Duration: duration}, nil
}

// decode reads 16 kHz mono audio from data, converting through the
// converter whenever the input is not already in that shape.
func (r *Runner) decode(ctx context.Context, data []byte) (*goaudio.FloatBuffer, error) {
	buf, err := audio.DecodeWAV(data)
	if err == nil && buf.Format.SampleRate == audio.TargetSampleRate {
		return audio.Mono(buf), nil
	}
	if r.converter == nil {
		if err != nil {
			return nil, fmt.Errorf("decode audio: %w", err)
		}
		return audio.Mono(buf), nil
	}

	converted, cerr := r.converter.ConvertToWAV(ctx, data)
	if cerr != nil {
		return nil, fmt.Errorf("convert audio: %w", cerr)
	}
	buf, err = audio.DecodeWAV(converted)
	if err != nil {
		return nil, fmt.Errorf("decode converted audio: %w", err)
	}
	return audio.Mono(buf), nil
}

// infer runs the transcriber and, when enabled, the diarizer concurrently.
// The first failure cancels the other call.
func (r *Runner) infer(ctx context.Context, cfg RunConfig, in engine.Input) ([]align.TranscriptionUnit, []align.DiarizationSegment, error) {
	var (
		units       []align.TranscriptionUnit
		diarization []align.DiarizationSegment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		units, err = stage(gctx, r, StageTranscribe, func(ctx context.Context) ([]align.TranscriptionUnit, error) {
			out, err := r.transcriber.Transcribe(ctx, in, cfg.ASRModel)
			r.recordModel(ctx, r.transcriber.Name(), StageTranscribe, err)
			return out, err
		})
		return err
	})
	if cfg.Diarize && r.diarizer != nil {
		g.Go(func() error {
			var err error
			diarization, err = stage(gctx, r, StageDiarize, func(ctx context.Context) ([]align.DiarizationSegment, error) {
				out, err := r.diarizer.Diarize(ctx, in, cfg.DiarizationModel)
				r.recordModel(ctx, r.diarizer.Name(), StageDiarize, err)
				return out, err
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return units, diarization, nil
}

func (r *Runner) recordModel(ctx context.Context, backend, kind string, err error) {
	if r.metrics != nil {
		r.metrics.RecordModelRequest(ctx, backend, kind, observe.StatusOf(err))
	}
}

// stage wraps fn in a span and records its latency.
func stage[T any](ctx context.Context, r *Runner, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline."+name)
	start := time.Now()
	out, err := fn(ctx)
	if r.metrics != nil {
		r.metrics.RecordStage(ctx, name, time.Since(start))
	}
	observe.EndSpan(span, err)
	return out, err
}

func timed(units []align.TranscriptionUnit) bool {
	for _, u := range units {
		if !u.Timed {
			return false
		}
	}
	return true
}

// render produces every requested output. A transcript with no time bounds
// and no diarization only supports plain text, which is then the raw
// transcript.
func render(cfg RunConfig, records []align.Record, units []align.TranscriptionUnit, diarized bool, name string) ([]Document, error) {
	untimed := !diarized && !timed(units)
	ctmFile := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if ctmFile == "" || ctmFile == "." {
		ctmFile = "audio"
	}

	docs := make([]Document, 0, len(cfg.Outputs))
	for _, o := range cfg.Outputs {
		var (
			content string
			err     error
		)
		switch {
		case untimed && o.Kind == format.KindPlain:
			texts := make([]string, len(units))
			for i, u := range units {
				texts[i] = u.Text
			}
			content = format.PlainText(strings.Join(texts, "\n"))
		case untimed:
			return nil, fmt.Errorf("%w: %s", ErrUntimedOutput, o.Name)
		case o.Kind == format.KindCTM:
			content = format.CTM(records, ctmFile)
		case o.Kind == format.KindSRT && cfg.SRTClock:
			content, err = o.Render(format.ClockTimes(records))
		default:
			content, err = o.Render(records)
		}
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", o.Name, err)
		}
		docs = append(docs, Document{Output: o, Content: content})
	}
	return docs, nil
}
