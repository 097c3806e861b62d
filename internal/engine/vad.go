package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	goaudio "github.com/go-audio/audio"

	"github.com/djh00t/klingon-transcribe/internal/align"
	"github.com/djh00t/klingon-transcribe/internal/audio"
	"github.com/djh00t/klingon-transcribe/internal/modelserver"
	"github.com/djh00t/klingon-transcribe/internal/segment"
)

const backendVAD = "vad"

// DefaultVADModel is the model server voice activity model.
const DefaultVADModel = "vad_multilingual_marblenet"

// SingleSpeaker is the label given to every VAD segment.
const SingleSpeaker = "SPEAKER_00"

// SpeechFramer produces per-frame speech decisions from samples.
type SpeechFramer interface {
	SpeechFrames(ctx context.Context, buf *goaudio.FloatBuffer, opts audio.SilenceOpts) (segment.FrameSignal, error)
}

// VADDiarizer produces single-speaker diarization from voice activity.
// With a model server it detects over the server's per-frame output;
// otherwise it frames silencedetect output at a fixed frame size.
type VADDiarizer struct {
	client    modelserver.Client
	framer    SpeechFramer
	silence   audio.SilenceOpts
	threshold float64
	model     string
}

// VADOption configures a VADDiarizer.
type VADOption func(*VADDiarizer)

// WithModelServer uses client's /vad endpoint as the frame source.
func WithModelServer(client modelserver.Client) VADOption {
	return func(d *VADDiarizer) {
		d.client = client
	}
}

// WithSpeechFramer uses framer as the frame source when no model server is set.
func WithSpeechFramer(framer SpeechFramer, opts audio.SilenceOpts) VADOption {
	return func(d *VADDiarizer) {
		d.framer = framer
		d.silence = opts
	}
}

// WithThreshold sets the detection threshold.
func WithThreshold(t float64) VADOption {
	return func(d *VADDiarizer) {
		d.threshold = t
	}
}

// WithVADModel sets the model server VAD model used when the diarization
// model passed to Diarize is empty.
func WithVADModel(model string) VADOption {
	return func(d *VADDiarizer) {
		d.model = model
	}
}

// NewVADDiarizer creates a VADDiarizer. At least one frame source must be set.
func NewVADDiarizer(opts ...VADOption) (*VADDiarizer, error) {
	d := &VADDiarizer{
		silence:   audio.DefaultSilenceOpts(),
		threshold: segment.DefaultThreshold,
		model:     DefaultVADModel,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil && d.framer == nil {
		return nil, errors.New("engine: vad diarizer needs a model server or a speech framer")
	}
	return d, nil
}

// Name implements Diarizer.
func (d *VADDiarizer) Name() string { return backendVAD }

// Diarize implements Diarizer. Every speech segment is attributed to
// SingleSpeaker with times in seconds.
func (d *VADDiarizer) Diarize(ctx context.Context, in Input, model string) ([]align.DiarizationSegment, error) {
	sig, det, err := d.frames(ctx, in, model)
	if err != nil {
		return nil, err
	}

	segs, err := det.Detect(sig, d.threshold)
	if err != nil {
		return nil, fmt.Errorf("detect speech: %w", err)
	}

	out := make([]align.DiarizationSegment, len(segs))
	for i, s := range segs {
		out[i] = align.DiarizationSegment{Start: s.Start, End: s.End, Speaker: SingleSpeaker}
	}
	return out, nil
}

func (d *VADDiarizer) frames(ctx context.Context, in Input, model string) (segment.FrameSignal, segment.Detector, error) {
	if d.client != nil {
		if model == "" {
			model = d.model
		}
		res, err := d.client.DetectVoice(ctx, model, in.WAV)
		if err != nil {
			return segment.FrameSignal{}, nil, unavailable(ctx, backendVAD, model, err)
		}
		sig := segment.FrameSignal{
			SampleRate:    res.SampleRate,
			FrameLength:   res.FrameLength,
			Probabilities: res.Probabilities,
			Decisions:     res.Decisions,
		}
		if len(res.Probabilities) > 0 {
			return sig, segment.NewProbabilityDetector(segment.WithUnit(segment.UnitSecond)), nil
		}
		return sig, segment.NewBinaryDetector(segment.WithUnit(segment.UnitSecond)), nil
	}

	sig, err := d.framer.SpeechFrames(ctx, in.Audio, d.silence)
	if err != nil {
		return segment.FrameSignal{}, nil, fmt.Errorf("frame speech: %w", err)
	}
	det, err := segment.NewFixedFrameDetector(
		time.Duration(d.silence.FrameMs)*time.Millisecond,
		segment.WithUnit(segment.UnitSecond),
		segment.WithSampleRate(sig.SampleRate),
	)
	if err != nil {
		return segment.FrameSignal{}, nil, err
	}
	return sig, det, nil
}

var _ Diarizer = (*VADDiarizer)(nil)
