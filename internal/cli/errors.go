package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/djh00t/klingon-transcribe/internal/align"
	"github.com/djh00t/klingon-transcribe/internal/audio"
	"github.com/djh00t/klingon-transcribe/internal/engine"
	"github.com/djh00t/klingon-transcribe/internal/format"
	"github.com/djh00t/klingon-transcribe/internal/pipeline"
	"github.com/djh00t/klingon-transcribe/internal/preprocess"
	"github.com/djh00t/klingon-transcribe/internal/segment"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitGeneral    = 1
	ExitUsage      = 2
	ExitConfig     = 3
	ExitValidation = 4
	ExitModel      = 5
	ExitStorage    = 6
	ExitInterrupt  = 130
)

// Sentinel errors for the command line.
var (
	// ErrConfig wraps configuration loading and wiring failures.
	ErrConfig = errors.New("configuration error")
	// ErrStorage wraps input reads and output writes.
	ErrStorage = errors.New("storage error")
	// ErrUsage is returned for invalid flag combinations.
	ErrUsage = errors.New("invalid usage")
)

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	if errors.Is(err, context.Canceled) {
		return ExitInterrupt
	}
	if errors.Is(err, ErrUsage) || isCobraUsageError(err) {
		return ExitUsage
	}
	if errors.Is(err, ErrConfig) {
		return ExitConfig
	}
	if errors.Is(err, ErrStorage) {
		return ExitStorage
	}
	if errors.Is(err, engine.ErrModelUnavailable) {
		return ExitModel
	}
	if errors.Is(err, preprocess.ErrUnknownStep) || errors.Is(err, preprocess.ErrConfiguration) ||
		errors.Is(err, preprocess.ErrStepExecution) || errors.Is(err, format.ErrUnknownOutput) ||
		errors.Is(err, align.ErrConfiguration) || errors.Is(err, align.ErrAlignmentCardinality) ||
		errors.Is(err, segment.ErrConfiguration) || errors.Is(err, audio.ErrInvalidWAV) ||
		errors.Is(err, pipeline.ErrUntimedOutput) {
		return ExitValidation
	}
	return ExitGeneral
}

// cobraUsageErrorPatterns are message fragments of cobra's flag and
// argument errors, which are not typed.
var cobraUsageErrorPatterns = []string{
	"required flag",
	"unknown flag",
	"unknown shorthand",
	"flag needs an argument",
	"invalid argument",
	"unknown command",
	"accepts ",
	"requires at least",
	"requires at most",
}

func isCobraUsageError(err error) bool {
	msg := err.Error()
	for _, p := range cobraUsageErrorPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
