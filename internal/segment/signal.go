// Package segment turns per-frame voice-activity signals into time segments.
//
// A FrameSignal carries one value per frame, either a speech probability or a
// pre-classified speech decision. Detectors scan the frames and report the
// spans where speech is active, expressed in the unit the caller asked for.
package segment

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrConfiguration is returned when a signal or detector is malformed.
var ErrConfiguration = errors.New("segment: invalid configuration")

// Unit is the unit a Time value is expressed in.
type Unit int

const (
	// UnitFrame counts frames from the start of the signal.
	UnitFrame Unit = iota
	// UnitSample counts audio samples from the start of the signal.
	UnitSample
	// UnitMillisecond is elapsed milliseconds.
	UnitMillisecond
	// UnitSecond is elapsed seconds.
	UnitSecond
	// UnitClock is elapsed seconds rendered as HH:MM:SS,mmm.
	UnitClock
)

var unitNames = map[Unit]string{
	UnitFrame:       "frame",
	UnitSample:      "sample",
	UnitMillisecond: "ms",
	UnitSecond:      "s",
	UnitClock:       "clock",
}

func (u Unit) String() string {
	if name, ok := unitNames[u]; ok {
		return name
	}
	return "unit(" + strconv.Itoa(int(u)) + ")"
}

// ParseUnit parses a unit name as produced by Unit.String.
func ParseUnit(s string) (Unit, error) {
	for u, name := range unitNames {
		if strings.EqualFold(s, name) {
			return u, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown unit %q", ErrConfiguration, s)
}

// MarshalText encodes the unit by name.
func (u Unit) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText decodes a unit name.
func (u *Unit) UnmarshalText(text []byte) error {
	parsed, err := ParseUnit(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Time is a position on the audio timeline in a declared unit.
type Time struct {
	Value float64 `json:"value"`
	Unit  Unit    `json:"unit"`
}

// Frames returns a Time of n frames.
func Frames(n int) Time { return Time{Value: float64(n), Unit: UnitFrame} }

// Samples returns a Time of n samples.
func Samples(n int) Time { return Time{Value: float64(n), Unit: UnitSample} }

// Milliseconds returns a Time of v milliseconds.
func Milliseconds(v float64) Time { return Time{Value: v, Unit: UnitMillisecond} }

// Seconds returns a Time of v seconds.
func Seconds(v float64) Time { return Time{Value: v, Unit: UnitSecond} }

// Clock returns a Time of v seconds that renders as an SRT timestamp.
func Clock(v float64) Time { return Time{Value: v, Unit: UnitClock} }

// String renders the value in its own unit without conversion. Seconds keep a
// fractional part ("1.0", "2.5"); counted units print as integers when whole.
func (t Time) String() string {
	switch t.Unit {
	case UnitSecond:
		s := strconv.FormatFloat(t.Value, 'f', -1, 64)
		if !strings.ContainsAny(s, ".NI") {
			s += ".0"
		}
		return s
	case UnitClock:
		return clockString(t.Value)
	default:
		if t.Value == math.Trunc(t.Value) {
			return strconv.FormatFloat(t.Value, 'f', 0, 64)
		}
		return strconv.FormatFloat(t.Value, 'f', -1, 64)
	}
}

func clockString(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	ms := int64(math.Round(sec * 1000))
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// Segment is a half-open span of speech [Start, End) in a single unit.
type Segment struct {
	Start Time
	End   Time
}

// Length returns End minus Start in the segment's unit.
func (s Segment) Length() float64 {
	return s.End.Value - s.Start.Value
}

// Timing describes how frames map onto samples.
type Timing struct {
	// SampleRate is the audio sample rate in Hz.
	SampleRate int
	// FrameLength is the number of samples covered by one frame.
	FrameLength int
}

// Validate reports whether the timing yields a positive frame duration.
func (t Timing) Validate() error {
	if t.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrConfiguration, t.SampleRate)
	}
	if t.FrameLength <= 0 {
		return fmt.Errorf("%w: frame length must be positive, got %d", ErrConfiguration, t.FrameLength)
	}
	return nil
}

// FrameSeconds returns the duration of one frame in seconds.
func (t Timing) FrameSeconds() float64 {
	return float64(t.FrameLength) / float64(t.SampleRate)
}

// At returns the position of frame index i expressed in unit u.
func (t Timing) At(i int, u Unit) Time {
	return t.fromSamples(float64(i)*float64(t.FrameLength), u)
}

// Convert re-expresses a Time in another unit. Conversion goes through the
// sample domain so whole frame and sample counts stay exact.
func (t Timing) Convert(v Time, to Unit) Time {
	return t.fromSamples(t.toSamples(v), to)
}

func (t Timing) toSamples(v Time) float64 {
	switch v.Unit {
	case UnitFrame:
		return v.Value * float64(t.FrameLength)
	case UnitSample:
		return v.Value
	case UnitMillisecond:
		return v.Value * float64(t.SampleRate) / 1000
	default:
		return v.Value * float64(t.SampleRate)
	}
}

func (t Timing) fromSamples(n float64, u Unit) Time {
	switch u {
	case UnitFrame:
		return Time{Value: n / float64(t.FrameLength), Unit: u}
	case UnitSample:
		return Time{Value: n, Unit: u}
	case UnitMillisecond:
		return Time{Value: n * 1000 / float64(t.SampleRate), Unit: u}
	default:
		return Time{Value: n / float64(t.SampleRate), Unit: u}
	}
}

// FrameSignal is an ordered per-frame voice-activity signal. Probability
// detectors read Probabilities; binary detectors read Decisions.
type FrameSignal struct {
	SampleRate    int       `json:"sample_rate"`
	FrameLength   int       `json:"frame_length"`
	Probabilities []float64 `json:"probabilities,omitempty"`
	Decisions     []bool    `json:"decisions,omitempty"`
}

// Len returns the number of frames carried by the signal.
func (s FrameSignal) Len() int {
	return max(len(s.Probabilities), len(s.Decisions))
}

// Timing returns the frame timing declared by the signal.
func (s FrameSignal) Timing() Timing {
	return Timing{SampleRate: s.SampleRate, FrameLength: s.FrameLength}
}

// Binarize returns a copy of the signal whose Decisions are the
// probabilities thresholded with the same rule the probability detector uses.
func (s FrameSignal) Binarize(threshold float64) FrameSignal {
	out := FrameSignal{
		SampleRate:  s.SampleRate,
		FrameLength: s.FrameLength,
		Decisions:   make([]bool, len(s.Probabilities)),
	}
	for i, p := range s.Probabilities {
		out.Decisions[i] = p > threshold
	}
	return out
}
