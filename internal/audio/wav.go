// Package audio decodes, encodes and transforms PCM audio for the
// transcription pipeline.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Target format for everything sent to models.
const (
	TargetSampleRate = 16000
	TargetBitDepth   = 16
)

// Static errors for audio operations.
var (
	// ErrInvalidWAV is returned when the input is not a PCM WAV stream.
	ErrInvalidWAV = errors.New("audio: invalid wav data")
	// ErrEmptyBuffer is returned when a buffer has no format or no samples.
	ErrEmptyBuffer = errors.New("audio: empty buffer")
)

// DecodeWAV decodes PCM WAV bytes into a float buffer with samples
// scaled to [-1, 1]. Channels stay interleaved.
func DecodeWAV(data []byte) (*goaudio.FloatBuffer, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, ErrInvalidWAV
	}

	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}

	depth := int(d.BitDepth)
	if depth == 0 {
		depth = TargetBitDepth
	}
	scale := float64(int64(1) << (depth - 1))

	out := &goaudio.FloatBuffer{
		Format: &goaudio.Format{
			NumChannels: int(d.NumChans),
			SampleRate:  int(d.SampleRate),
		},
		Data: make([]float64, len(pcm.Data)),
	}
	for i, v := range pcm.Data {
		out.Data[i] = float64(v) / scale
	}
	return out, nil
}

// EncodeWAV encodes buf as PCM WAV at the given bit depth (16 when zero).
// Samples outside [-1, 1] are clipped.
func EncodeWAV(buf *goaudio.FloatBuffer, bitDepth int) ([]byte, error) {
	if buf == nil || buf.Format == nil {
		return nil, ErrEmptyBuffer
	}
	if bitDepth == 0 {
		bitDepth = TargetBitDepth
	}
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("audio: unsupported bit depth %d", bitDepth)
	}

	peak := float64(int64(1)<<(bitDepth-1)) - 1
	ints := &goaudio.IntBuffer{
		Format:         buf.Format,
		Data:           make([]int, len(buf.Data)),
		SourceBitDepth: bitDepth,
	}
	for i, v := range buf.Data {
		ints.Data[i] = int(math.Round(math.Max(-1, math.Min(1, v)) * peak))
	}

	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, buf.Format.SampleRate, bitDepth, buf.Format.NumChannels, 1)
	if err := enc.Write(ints); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return ws.buf, nil
}

// Mono averages interleaved channels into a single channel. A mono buffer
// is returned as is.
func Mono(buf *goaudio.FloatBuffer) *goaudio.FloatBuffer {
	if buf == nil || buf.Format == nil || buf.Format.NumChannels <= 1 {
		return buf
	}
	ch := buf.Format.NumChannels
	n := len(buf.Data) / ch
	out := &goaudio.FloatBuffer{
		Format: &goaudio.Format{NumChannels: 1, SampleRate: buf.Format.SampleRate},
		Data:   make([]float64, n),
	}
	for i := 0; i < n; i++ {
		var sum float64
		for c := 0; c < ch; c++ {
			sum += buf.Data[i*ch+c]
		}
		out.Data[i] = sum / float64(ch)
	}
	return out
}

// Duration returns the length of buf in seconds.
func Duration(buf *goaudio.FloatBuffer) float64 {
	if buf == nil || buf.Format == nil || buf.Format.SampleRate <= 0 {
		return 0
	}
	ch := buf.Format.NumChannels
	if ch < 1 {
		ch = 1
	}
	return float64(len(buf.Data)/ch) / float64(buf.Format.SampleRate)
}

// writeSeeker is an in-memory io.WriteSeeker for the wav encoder, which
// seeks back to patch the header sizes on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, fmt.Errorf("audio: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("audio: negative seek position %d", abs)
	}
	w.pos = int(abs)
	return abs, nil
}
