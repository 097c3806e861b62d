package pipeline

import (
	"log/slog"

	"github.com/djh00t/klingon-transcribe/internal/format"
	"github.com/djh00t/klingon-transcribe/internal/preprocess"
)

// Default model identifiers.
const (
	DefaultASRModel         = "Citrinet-1024"
	DefaultDiarizationModel = "speakerdiar_telephony"
)

// DefaultOutputs are the output formats produced when none are requested.
var DefaultOutputs = []string{"plain_text", "timecoded_text", "timecoded_speaker_text", "srt", "srt_speaker"}

// RunConfig is everything one run needs besides the audio. It is passed
// explicitly; the runner keeps no per-run state.
type RunConfig struct {
	ASRModel         string
	DiarizationModel string
	Preprocess       preprocess.PipelineConfig
	Outputs          []format.Output
	// Tolerance is the positional alignment tolerance.
	Tolerance int
	// SRTClock renders SRT times as HH:MM:SS,mmm instead of seconds.
	SRTClock bool
	// Diarize enables the diarizer. Without it records carry no speaker.
	Diarize bool
	Logger  *slog.Logger
}

// DefaultRunConfig returns a RunConfig with default models and outputs.
func DefaultRunConfig() RunConfig {
	outputs, _ := format.ParseOutputs(DefaultOutputs)
	return RunConfig{
		ASRModel:         DefaultASRModel,
		DiarizationModel: DefaultDiarizationModel,
		Outputs:          outputs,
		SRTClock:         true,
		Diarize:          true,
	}
}

func (c RunConfig) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
