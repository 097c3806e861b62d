package audio

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	goaudio "github.com/go-audio/audio"

	"github.com/djh00t/klingon-transcribe/internal/segment"
)

// SilenceOpts configures silence-based speech framing.
type SilenceOpts struct {
	// FrameMs is the frame size of the produced signal.
	// Default: 30 milliseconds.
	FrameMs int

	// MinSilenceMs is the minimum silence duration in milliseconds
	// reported by silencedetect.
	// Default: 500 milliseconds.
	MinSilenceMs int

	// SilenceThreshDB is the volume threshold in dBFS below which
	// audio is considered silence.
	// Default: -40 dBFS.
	SilenceThreshDB float64
}

// DefaultSilenceOpts returns the default options for speech framing.
func DefaultSilenceOpts() SilenceOpts {
	return SilenceOpts{
		FrameMs:         30,
		MinSilenceMs:    500,
		SilenceThreshDB: -40,
	}
}

// FFmpeg converts and filters audio using the ffmpeg CLI.
type FFmpeg struct {
	ffmpegPath string
	tempDir    string
}

// NewFFmpeg creates a new FFmpeg.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH). If
// tempDir is empty, the system temp directory is used.
func NewFFmpeg(ffmpegPath, tempDir string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, tempDir: tempDir}
}

// ConvertToWAV transcodes any input ffmpeg understands into 16 kHz mono
// 16-bit PCM WAV.
func (f *FFmpeg) ConvertToWAV(ctx context.Context, data []byte) ([]byte, error) {
	dir, cleanup, err := f.workDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	in := filepath.Join(dir, "input")
	out := filepath.Join(dir, "output.wav")
	if err := os.WriteFile(in, data, 0600); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}

	args := []string{
		"-y",
		"-hide_banner",
		"-i", in,
		"-ac", "1",
		"-ar", strconv.Itoa(TargetSampleRate),
		"-c:a", "pcm_s16le",
		out,
	}
	if _, err := f.runFFmpeg(ctx, args); err != nil {
		return nil, err
	}

	wavData, err := os.ReadFile(out) // #nosec G304 - path is built from our own temp dir
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	return wavData, nil
}

// Filter runs an ffmpeg audio filter graph (-af) over buf and returns the
// result at the same sample rate and channel count.
func (f *FFmpeg) Filter(ctx context.Context, buf *goaudio.FloatBuffer, filter string) (*goaudio.FloatBuffer, error) {
	if buf == nil || buf.Format == nil {
		return nil, ErrEmptyBuffer
	}
	dir, cleanup, err := f.workDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	in, err := f.writeBuffer(dir, buf)
	if err != nil {
		return nil, err
	}
	out := filepath.Join(dir, "filtered.wav")

	args := []string{
		"-y",
		"-hide_banner",
		"-i", in,
		"-af", filter,
		"-ar", strconv.Itoa(buf.Format.SampleRate),
		"-ac", strconv.Itoa(buf.Format.NumChannels),
		"-c:a", "pcm_s16le",
		out,
	}
	if _, err := f.runFFmpeg(ctx, args); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(out) // #nosec G304 - path is built from our own temp dir
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	return DecodeWAV(data)
}

// SpeechFrames runs silencedetect over buf and returns a per-frame speech
// decision signal. A frame is speech unless its midpoint falls inside a
// detected silence.
func (f *FFmpeg) SpeechFrames(ctx context.Context, buf *goaudio.FloatBuffer, opts SilenceOpts) (segment.FrameSignal, error) {
	if buf == nil || buf.Format == nil || buf.Format.SampleRate <= 0 {
		return segment.FrameSignal{}, ErrEmptyBuffer
	}
	if opts.FrameMs <= 0 {
		return segment.FrameSignal{}, fmt.Errorf("audio: frame size must be positive, got %d ms", opts.FrameMs)
	}

	dir, cleanup, err := f.workDir()
	if err != nil {
		return segment.FrameSignal{}, err
	}
	defer cleanup()

	in, err := f.writeBuffer(dir, buf)
	if err != nil {
		return segment.FrameSignal{}, err
	}

	filter := fmt.Sprintf("silencedetect=noise=%ddB:d=%f",
		int(opts.SilenceThreshDB),
		float64(opts.MinSilenceMs)/1000.0,
	)
	args := []string{
		"-hide_banner",
		"-i", in,
		"-af", filter,
		"-f", "null",
		"-",
	}
	stderr, err := f.runFFmpeg(ctx, args)
	if err != nil {
		return segment.FrameSignal{}, err
	}

	mono := Mono(buf)
	duration := Duration(mono)
	return framesFromSilences(
		parseSilenceOutput(stderr, duration),
		mono.Format.SampleRate,
		len(mono.Data),
		opts.FrameMs,
	), nil
}

// silenceInterval represents a detected silence interval in seconds.
type silenceInterval struct {
	start float64
	end   float64
}

var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*(-?[\d.]+)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*(-?[\d.]+)`)
)

// parseSilenceOutput parses ffmpeg silencedetect output. A silence that
// starts but never ends runs to duration.
func parseSilenceOutput(output string, duration float64) []silenceInterval {
	var intervals []silenceInterval
	var currentStart float64
	hasStart := false

	for _, line := range strings.Split(output, "\n") {
		if m := silenceStartRe.FindStringSubmatch(line); len(m) > 1 {
			if val, err := strconv.ParseFloat(m[1], 64); err == nil {
				currentStart = math.Max(0, val)
				hasStart = true
			}
		}
		if m := silenceEndRe.FindStringSubmatch(line); len(m) > 1 && hasStart {
			if val, err := strconv.ParseFloat(m[1], 64); err == nil {
				intervals = append(intervals, silenceInterval{start: currentStart, end: val})
				hasStart = false
			}
		}
	}
	if hasStart && duration > currentStart {
		intervals = append(intervals, silenceInterval{start: currentStart, end: duration})
	}
	return intervals
}

func framesFromSilences(silences []silenceInterval, sampleRate, samples, frameMs int) segment.FrameSignal {
	frameLength := int(math.Round(float64(sampleRate) * float64(frameMs) / 1000))
	if frameLength < 1 {
		frameLength = 1
	}
	n := (samples + frameLength - 1) / frameLength

	decisions := make([]bool, n)
	frameSec := float64(frameLength) / float64(sampleRate)
	for i := range decisions {
		mid := (float64(i) + 0.5) * frameSec
		decisions[i] = true
		for _, s := range silences {
			if mid >= s.start && mid < s.end {
				decisions[i] = false
				break
			}
		}
	}

	return segment.FrameSignal{
		SampleRate:  sampleRate,
		FrameLength: frameLength,
		Decisions:   decisions,
	}
}

func (f *FFmpeg) workDir() (string, func(), error) {
	dir, err := os.MkdirTemp(f.tempDir, "ffmpeg-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

func (f *FFmpeg) writeBuffer(dir string, buf *goaudio.FloatBuffer) (string, error) {
	data, err := EncodeWAV(buf, TargetBitDepth)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "input.wav")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write input: %w", err)
	}
	return path, nil
}

// runFFmpeg executes ffmpeg with the given arguments and returns its stderr.
// The error carries stderr output if the command fails.
func (f *FFmpeg) runFFmpeg(ctx context.Context, args []string) (string, error) {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return "", &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return stderr.String(), nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
