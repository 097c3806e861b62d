package segment

import (
	"fmt"
	"math"
	"time"
)

// DefaultThreshold is the speech probability above which a frame is active.
const DefaultThreshold = 0.5

// Detector converts a FrameSignal into speech segments.
type Detector interface {
	// Detect returns the active spans of sig in ascending order. An empty
	// signal yields an empty, non-nil slice.
	Detect(sig FrameSignal, threshold float64) ([]Segment, error)
}

// inputKind selects which values of a FrameSignal a detector reads.
type inputKind int

const (
	inputProbability inputKind = iota
	inputDecision
)

// FrameDetector is the single scan implementation behind every backend.
// Backends differ only in input kind, output unit and how frame timing is
// established.
type FrameDetector struct {
	name          string
	kind          inputKind
	unit          Unit
	sampleRate    int
	frameDuration time.Duration
}

// Compile-time check that FrameDetector implements Detector.
var _ Detector = (*FrameDetector)(nil)

// Option configures a FrameDetector.
type Option func(*FrameDetector)

// WithUnit sets the unit of the returned segment bounds.
func WithUnit(u Unit) Option {
	return func(d *FrameDetector) {
		d.unit = u
	}
}

// WithSampleRate declares the sample rate the detector expects. Signals
// declaring a different rate are rejected.
func WithSampleRate(hz int) Option {
	return func(d *FrameDetector) {
		d.sampleRate = hz
	}
}

// NewProbabilityDetector returns a detector that thresholds continuous
// per-frame speech probabilities. Bounds default to frame indices.
func NewProbabilityDetector(opts ...Option) *FrameDetector {
	return newDetector("probability", inputProbability, UnitFrame, opts)
}

// NewBinaryDetector returns a detector over pre-classified frame decisions.
// The threshold is ignored. Bounds default to milliseconds.
func NewBinaryDetector(opts ...Option) *FrameDetector {
	return newDetector("binary", inputDecision, UnitMillisecond, opts)
}

// NewFixedFrameDetector returns a detector over decisions taken on frames of
// a fixed, externally known duration. The threshold is ignored. Bounds
// default to sample indices.
func NewFixedFrameDetector(frameDuration time.Duration, opts ...Option) (*FrameDetector, error) {
	if frameDuration <= 0 {
		return nil, fmt.Errorf("%w: frame duration must be positive, got %s", ErrConfiguration, frameDuration)
	}
	d := newDetector("fixed-frame", inputDecision, UnitSample, opts)
	d.frameDuration = frameDuration
	return d, nil
}

func newDetector(name string, kind inputKind, unit Unit, opts []Option) *FrameDetector {
	d := &FrameDetector{name: name, kind: kind, unit: unit}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name identifies the backend, e.g. "probability".
func (d *FrameDetector) Name() string { return d.name }

// Unit returns the unit of the segments the detector produces.
func (d *FrameDetector) Unit() Unit { return d.unit }

// Detect implements Detector.
func (d *FrameDetector) Detect(sig FrameSignal, threshold float64) ([]Segment, error) {
	if sig.Len() == 0 {
		return []Segment{}, nil
	}

	timing, err := d.timing(sig)
	if err != nil {
		return nil, err
	}

	active, frames, err := d.activity(sig, threshold)
	if err != nil {
		return nil, err
	}

	spans := scan(frames, active)
	segments := make([]Segment, 0, len(spans))
	for _, sp := range spans {
		segments = append(segments, Segment{
			Start: timing.At(sp.start, d.unit),
			End:   timing.At(sp.end, d.unit),
		})
	}
	return segments, nil
}

// timing validates the signal's declared timing against the detector.
func (d *FrameDetector) timing(sig FrameSignal) (Timing, error) {
	t := sig.Timing()
	if d.sampleRate > 0 && t.SampleRate != d.sampleRate {
		return Timing{}, fmt.Errorf("%w: signal sample rate %d, detector expects %d",
			ErrConfiguration, t.SampleRate, d.sampleRate)
	}

	if d.frameDuration > 0 {
		if t.SampleRate <= 0 {
			return Timing{}, fmt.Errorf("%w: sample rate must be positive, got %d", ErrConfiguration, t.SampleRate)
		}
		want := int(math.Round(d.frameDuration.Seconds() * float64(t.SampleRate)))
		if want <= 0 {
			return Timing{}, fmt.Errorf("%w: frame duration %s is shorter than one sample", ErrConfiguration, d.frameDuration)
		}
		switch {
		case t.FrameLength == 0:
			t.FrameLength = want
		case t.FrameLength != want:
			return Timing{}, fmt.Errorf("%w: frame length %d samples does not match frame duration %s at %d Hz",
				ErrConfiguration, t.FrameLength, d.frameDuration, t.SampleRate)
		}
	}

	if err := t.Validate(); err != nil {
		return Timing{}, err
	}
	return t, nil
}

// activity returns the per-frame speech predicate for the detector's input
// kind and the number of frames it covers.
func (d *FrameDetector) activity(sig FrameSignal, threshold float64) (func(int) bool, int, error) {
	if np, nd := len(sig.Probabilities), len(sig.Decisions); np > 0 && nd > 0 && np != nd {
		return nil, 0, fmt.Errorf("%w: %d probabilities but %d frame decisions", ErrConfiguration, np, nd)
	}

	switch d.kind {
	case inputProbability:
		if len(sig.Probabilities) == 0 {
			return nil, 0, fmt.Errorf("%w: %s detector needs probabilities", ErrConfiguration, d.name)
		}
		if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
			return nil, 0, fmt.Errorf("%w: threshold %v outside [0, 1]", ErrConfiguration, threshold)
		}
		for i, p := range sig.Probabilities {
			if math.IsNaN(p) || p < 0 || p > 1 {
				return nil, 0, fmt.Errorf("%w: probability %v at frame %d outside [0, 1]", ErrConfiguration, p, i)
			}
		}
		probs := sig.Probabilities
		return func(i int) bool { return probs[i] > threshold }, len(probs), nil
	default:
		if len(sig.Decisions) == 0 {
			return nil, 0, fmt.Errorf("%w: %s detector needs frame decisions", ErrConfiguration, d.name)
		}
		decisions := sig.Decisions
		return func(i int) bool { return decisions[i] }, len(decisions), nil
	}
}

type span struct {
	start, end int
}

// scan walks n frames and records the half-open spans where active holds.
// A span still open after the last frame is closed at n.
func scan(n int, active func(int) bool) []span {
	var (
		spans    []span
		inSpeech bool
		start    int
	)
	for i := 0; i < n; i++ {
		on := active(i)
		switch {
		case on && !inSpeech:
			start = i
			inSpeech = true
		case !on && inSpeech:
			spans = append(spans, span{start: start, end: i})
			inSpeech = false
		}
	}
	if inSpeech {
		spans = append(spans, span{start: start, end: n})
	}
	return spans
}
