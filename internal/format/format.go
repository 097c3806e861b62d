// Package format renders aligned transcript records as text documents.
package format

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/djh00t/klingon-transcribe/internal/align"
	"github.com/djh00t/klingon-transcribe/internal/segment"
)

// Static errors for formatting.
var (
	// ErrUnknownKind is returned for a format kind that has no renderer.
	ErrUnknownKind = errors.New("format: unknown kind")
	// ErrUnknownOutput is returned for an output name that is not registered.
	ErrUnknownOutput = errors.New("format: unknown output format")
)

// Kind is a document layout.
type Kind string

const (
	// KindPlain is newline-joined text only.
	KindPlain Kind = "plain"
	// KindTimecoded prefixes each line with [start-end].
	KindTimecoded Kind = "timecoded"
	// KindSRT is numbered SubRip cues.
	KindSRT Kind = "srt"
	// KindCTM is NIST time-marked conversation lines.
	KindCTM Kind = "ctm"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindPlain, KindTimecoded, KindSRT, KindCTM:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Format renders records in the given layout. Times are printed exactly as
// the records carry them. An empty record list yields an empty document.
func Format(records []align.Record, kind Kind, withSpeaker bool) (string, error) {
	switch kind {
	case KindPlain:
		return plain(records), nil
	case KindTimecoded:
		return timecoded(records, withSpeaker), nil
	case KindSRT:
		return srt(records, withSpeaker), nil
	case KindCTM:
		return CTM(records, defaultCTMFile), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// PlainText is the whole-file plain mode: the raw transcription, untouched
// by diarization.
func PlainText(transcript string) string {
	return transcript
}

func plain(records []align.Record) string {
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	return strings.Join(texts, "\n")
}

func timecoded(records []align.Record, withSpeaker bool) string {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "[%s-%s] %s\n", r.Start, r.End, line(r, withSpeaker))
	}
	return b.String()
}

func srt(records []align.Record, withSpeaker bool) string {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", r.Index+1, r.Start, r.End, line(r, withSpeaker))
	}
	return b.String()
}

func line(r align.Record, withSpeaker bool) string {
	if withSpeaker && r.HasSpeaker() {
		return "Speaker " + r.Speaker + ": " + r.Text
	}
	return r.Text
}

const defaultCTMFile = "audio"

// CTM renders one time-marked line per record:
// "<file> 1 <start> <duration> <token> NA lex <speaker>". Whitespace inside a
// record's text is joined with underscores so each line stays one token.
func CTM(records []align.Record, file string) string {
	var b strings.Builder
	for _, r := range records {
		speaker := r.Speaker
		if speaker == "" {
			speaker = "unknown"
		}
		token := strings.Join(strings.Fields(r.Text), "_")
		fmt.Fprintf(&b, "%s 1 %.2f %.2f %s NA lex %s\n",
			file, r.Start.Value, r.End.Value-r.Start.Value, token, speaker)
	}
	return b.String()
}

// ClockTimes returns a copy of records whose second and millisecond times
// render as SRT timestamps (HH:MM:SS,mmm). Frame and sample times are left
// as they are since they need a sample rate to convert.
func ClockTimes(records []align.Record) []align.Record {
	out := make([]align.Record, len(records))
	for i, r := range records {
		r.Start = clock(r.Start)
		r.End = clock(r.End)
		out[i] = r
	}
	return out
}

func clock(t segment.Time) segment.Time {
	switch t.Unit {
	case segment.UnitSecond:
		return segment.Clock(t.Value)
	case segment.UnitMillisecond:
		return segment.Clock(t.Value / 1000)
	default:
		return t
	}
}

// Output is a named artifact the pipeline can produce.
type Output struct {
	Name        string
	Kind        Kind
	WithSpeaker bool
	Extension   string
}

// Render formats records as this output.
func (o Output) Render(records []align.Record) (string, error) {
	return Format(records, o.Kind, o.WithSpeaker)
}

var outputs = map[string]Output{
	"plain_text":             {Name: "plain_text", Kind: KindPlain, Extension: ".txt"},
	"timecoded_text":         {Name: "timecoded_text", Kind: KindTimecoded, Extension: ".timecoded.txt"},
	"timecoded_speaker_text": {Name: "timecoded_speaker_text", Kind: KindTimecoded, WithSpeaker: true, Extension: ".speaker.txt"},
	"srt":                    {Name: "srt", Kind: KindSRT, Extension: ".srt"},
	"srt_speaker":            {Name: "srt_speaker", Kind: KindSRT, WithSpeaker: true, Extension: ".speaker.srt"},
	"ctm":                    {Name: "ctm", Kind: KindCTM, Extension: ".ctm"},
}

// ParseOutput looks up an output by name, e.g. "srt_speaker".
func ParseOutput(name string) (Output, error) {
	o, ok := outputs[strings.TrimSpace(name)]
	if !ok {
		return Output{}, fmt.Errorf("%w: %q", ErrUnknownOutput, name)
	}
	return o, nil
}

// ParseOutputs looks up each name, dropping duplicates and keeping order.
func ParseOutputs(names []string) ([]Output, error) {
	seen := make(map[string]bool, len(names))
	result := make([]Output, 0, len(names))
	for _, n := range names {
		o, err := ParseOutput(n)
		if err != nil {
			return nil, err
		}
		if seen[o.Name] {
			continue
		}
		seen[o.Name] = true
		result = append(result, o)
	}
	return result, nil
}

// OutputNames lists every registered output name in sorted order.
func OutputNames() []string {
	names := make([]string, 0, len(outputs))
	for n := range outputs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
