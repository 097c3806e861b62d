// Package align merges speaker diarization with transcription output into a
// single ordered sequence of records ready for formatting.
package align

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/djh00t/klingon-transcribe/internal/segment"
)

// Static errors for alignment.
var (
	// ErrConfiguration is returned when the inputs cannot be aligned under
	// any policy, e.g. units mixing timed and untimed entries.
	ErrConfiguration = errors.New("align: invalid configuration")
	// ErrAlignmentCardinality is matched by *AlignmentCardinalityError.
	ErrAlignmentCardinality = errors.New("align: diarization and transcription counts differ")
)

// AlignmentCardinalityError reports a positional pairing whose sequence
// lengths differ by more than the configured tolerance.
type AlignmentCardinalityError struct {
	Diarization   int
	Transcription int
	Tolerance     int
}

func (e *AlignmentCardinalityError) Error() string {
	return fmt.Sprintf("align: %d diarization segments vs %d transcription units exceeds tolerance %d",
		e.Diarization, e.Transcription, e.Tolerance)
}

// Is reports whether target is ErrAlignmentCardinality.
func (e *AlignmentCardinalityError) Is(target error) bool {
	return target == ErrAlignmentCardinality
}

// DiarizationSegment is a span of audio attributed to one speaker.
type DiarizationSegment struct {
	Start   segment.Time `json:"start"`
	End     segment.Time `json:"end"`
	Speaker string       `json:"speaker"`
}

// TranscriptionUnit is a piece of recognized text, optionally time-bounded.
type TranscriptionUnit struct {
	Text  string       `json:"text"`
	Start segment.Time `json:"start"`
	End   segment.Time `json:"end"`
	Timed bool         `json:"timed"`
}

// Untimed returns a unit that is ordered by position only.
func Untimed(text string) TranscriptionUnit {
	return TranscriptionUnit{Text: text}
}

// Timed returns a unit bounded by [start, end).
func Timed(text string, start, end segment.Time) TranscriptionUnit {
	return TranscriptionUnit{Text: text, Start: start, End: end, Timed: true}
}

// Record is one aligned, speaker-attributed line of transcript.
type Record struct {
	Index   int          `json:"index"`
	Start   segment.Time `json:"start"`
	End     segment.Time `json:"end"`
	Speaker string       `json:"speaker,omitempty"`
	Text    string       `json:"text"`
}

// HasSpeaker reports whether the record carries a speaker label.
func (r Record) HasSpeaker() bool {
	return r.Speaker != ""
}

// Aligner pairs diarization segments with transcription units.
type Aligner struct {
	tolerance int
}

// Option configures an Aligner.
type Option func(*Aligner)

// WithTolerance sets how many entries positional pairing may drop before
// failing. Negative values are treated as zero.
func WithTolerance(n int) Option {
	return func(a *Aligner) {
		a.tolerance = max(n, 0)
	}
}

// New creates an Aligner. By default any count mismatch in positional
// pairing is an error.
func New(opts ...Option) *Aligner {
	a := &Aligner{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Tolerance returns the configured positional mismatch tolerance.
func (a *Aligner) Tolerance() int { return a.tolerance }

// Align merges diarization and transcription into records sorted by start.
//
// Timed units take the speaker of the diarization segment they overlap most,
// ties going to the earliest segment. Untimed units are paired by position
// with the diarization segments taken in start order. Diarization segments
// must all share one unit.
func (a *Aligner) Align(diarization []DiarizationSegment, transcription []TranscriptionUnit) ([]Record, error) {
	if len(diarization) == 0 || len(transcription) == 0 {
		return []Record{}, nil
	}

	timed, err := boundsMode(transcription)
	if err != nil {
		return nil, err
	}

	var records []Record
	if timed {
		records, err = a.byOverlap(diarization, transcription)
	} else {
		records, err = a.byPosition(diarization, transcription)
	}
	if err != nil {
		return nil, err
	}
	return order(records), nil
}

// Records turns timed units into speaker-less records, for runs without
// diarization. Untimed units are rejected since they carry no position.
func Records(units []TranscriptionUnit) ([]Record, error) {
	records := make([]Record, 0, len(units))
	for i, u := range units {
		if !u.Timed {
			return nil, fmt.Errorf("%w: unit %d has no time bounds", ErrConfiguration, i)
		}
		if u.Start.Unit != units[0].Start.Unit || u.End.Unit != units[0].Start.Unit {
			return nil, fmt.Errorf("%w: unit %d is in %s, expected %s", ErrConfiguration, i, u.Start.Unit, units[0].Start.Unit)
		}
		records = append(records, Record{Start: u.Start, End: u.End, Text: u.Text})
	}
	return order(records), nil
}

// boundsMode reports whether every unit is timed. Mixed input is rejected.
func boundsMode(units []TranscriptionUnit) (bool, error) {
	timed := 0
	for _, u := range units {
		if u.Timed {
			timed++
		}
	}
	switch timed {
	case 0:
		return false, nil
	case len(units):
		return true, nil
	default:
		return false, fmt.Errorf("%w: %d of %d transcription units are timed", ErrConfiguration, timed, len(units))
	}
}

// diarizationUnit returns the unit shared by every diarization bound.
func diarizationUnit(diarization []DiarizationSegment) (segment.Unit, error) {
	unit := diarization[0].Start.Unit
	for i, d := range diarization {
		if d.Start.Unit != unit || d.End.Unit != unit {
			return 0, fmt.Errorf("%w: diarization segment %d is in %s, expected %s", ErrConfiguration, i, d.Start.Unit, unit)
		}
	}
	return unit, nil
}

func (a *Aligner) byOverlap(diarization []DiarizationSegment, units []TranscriptionUnit) ([]Record, error) {
	unit, err := diarizationUnit(diarization)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(units))
	for i, u := range units {
		if u.Start.Unit != unit || u.End.Unit != unit {
			return nil, fmt.Errorf("%w: transcription unit %d is in %s, diarization in %s", ErrConfiguration, i, u.Start.Unit, unit)
		}
		rec := Record{Start: u.Start, End: u.End, Text: u.Text}
		if best, ok := bestOverlap(diarization, u); ok {
			rec.Speaker = diarization[best].Speaker
		}
		records = append(records, rec)
	}
	return records, nil
}

// bestOverlap returns the index of the segment overlapping u the most.
// ok is false when no segment overlaps u at all.
func bestOverlap(diarization []DiarizationSegment, u TranscriptionUnit) (int, bool) {
	best := -1
	most := 0.0
	for i, d := range diarization {
		ov := min(d.End.Value, u.End.Value) - max(d.Start.Value, u.Start.Value)
		if ov <= 0 {
			continue
		}
		if best < 0 || ov > most ||
			(ov == most && d.Start.Value < diarization[best].Start.Value) {
			best = i
			most = ov
		}
	}
	return best, best >= 0
}

func (a *Aligner) byPosition(diarization []DiarizationSegment, units []TranscriptionUnit) ([]Record, error) {
	if _, err := diarizationUnit(diarization); err != nil {
		return nil, err
	}

	diff := len(diarization) - len(units)
	if diff < 0 {
		diff = -diff
	}
	if diff > a.tolerance {
		return nil, &AlignmentCardinalityError{
			Diarization:   len(diarization),
			Transcription: len(units),
			Tolerance:     a.tolerance,
		}
	}

	diarization = slices.Clone(diarization)
	slices.SortStableFunc(diarization, func(x, y DiarizationSegment) int {
		return cmp.Compare(x.Start.Value, y.Start.Value)
	})

	n := min(len(diarization), len(units))
	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, Record{
			Start:   diarization[i].Start,
			End:     diarization[i].End,
			Speaker: diarization[i].Speaker,
			Text:    units[i].Text,
		})
	}
	return records, nil
}

// order sorts records by start, keeping input order for equal starts, and
// assigns indices.
func order(records []Record) []Record {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Start.Value < records[j].Start.Value
	})
	for i := range records {
		records[i].Index = i
	}
	return records
}
