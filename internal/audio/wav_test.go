package audio

import (
	"errors"
	"math"
	"testing"

	goaudio "github.com/go-audio/audio"
)

func TestEncodeDecodeWAV(t *testing.T) {
	in := &goaudio.FloatBuffer{
		Format: &goaudio.Format{NumChannels: 1, SampleRate: 16000},
		Data:   []float64{0, 0.5, -0.5, 1, -1, 0.25},
	}

	data, err := EncodeWAV(in, 16)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header")
	}

	out, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if out.Format.SampleRate != 16000 || out.Format.NumChannels != 1 {
		t.Errorf("unexpected format: %+v", out.Format)
	}
	if len(out.Data) != len(in.Data) {
		t.Fatalf("expected %d samples, got %d", len(in.Data), len(out.Data))
	}
	for i := range in.Data {
		if math.Abs(out.Data[i]-in.Data[i]) > 1e-3 {
			t.Errorf("sample %d: got %f, want %f", i, out.Data[i], in.Data[i])
		}
	}
}

func TestEncodeWAV_Clips(t *testing.T) {
	in := &goaudio.FloatBuffer{
		Format: &goaudio.Format{NumChannels: 1, SampleRate: 8000},
		Data:   []float64{2, -3},
	}
	data, err := EncodeWAV(in, 0)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	out, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if out.Data[0] > 1 || out.Data[1] < -1 {
		t.Errorf("expected clipped samples, got %v", out.Data)
	}
}

func TestEncodeWAV_Errors(t *testing.T) {
	if _, err := EncodeWAV(nil, 16); !errors.Is(err, ErrEmptyBuffer) {
		t.Errorf("expected ErrEmptyBuffer, got %v", err)
	}
	buf := &goaudio.FloatBuffer{Format: &goaudio.Format{NumChannels: 1, SampleRate: 16000}}
	if _, err := EncodeWAV(buf, 12); err == nil {
		t.Error("expected error for unsupported bit depth")
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	_, err := DecodeWAV([]byte("not a wav file at all"))
	if !errors.Is(err, ErrInvalidWAV) {
		t.Errorf("expected ErrInvalidWAV, got %v", err)
	}
}

func TestMono(t *testing.T) {
	stereo := &goaudio.FloatBuffer{
		Format: &goaudio.Format{NumChannels: 2, SampleRate: 16000},
		Data:   []float64{1, 0, 0.5, 0.5, -1, 1},
	}
	m := Mono(stereo)
	if m.Format.NumChannels != 1 {
		t.Fatalf("expected 1 channel, got %d", m.Format.NumChannels)
	}
	want := []float64{0.5, 0.5, 0}
	for i := range want {
		if m.Data[i] != want[i] {
			t.Errorf("sample %d: got %f, want %f", i, m.Data[i], want[i])
		}
	}

	mono := &goaudio.FloatBuffer{Format: &goaudio.Format{NumChannels: 1, SampleRate: 16000}}
	if Mono(mono) != mono {
		t.Error("expected mono buffer to be returned unchanged")
	}
}

func TestDuration(t *testing.T) {
	buf := &goaudio.FloatBuffer{
		Format: &goaudio.Format{NumChannels: 2, SampleRate: 100},
		Data:   make([]float64, 300),
	}
	if d := Duration(buf); d != 1.5 {
		t.Errorf("expected 1.5s, got %f", d)
	}
	if d := Duration(nil); d != 0 {
		t.Errorf("expected 0 for nil buffer, got %f", d)
	}
}

func TestWriteSeeker(t *testing.T) {
	ws := &writeSeeker{}
	_, _ = ws.Write([]byte("hello world"))
	if _, err := ws.Seek(0, 0); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	_, _ = ws.Write([]byte("HELLO"))
	if string(ws.buf) != "HELLO world" {
		t.Errorf("got %q", ws.buf)
	}
	if _, err := ws.Seek(-100, 1); err == nil {
		t.Error("expected error for negative position")
	}
}
