// Package cli implements the klingon-transcribe command line: one-shot
// runs, the HTTP server and step listing.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/sethvargo/go-envconfig"

	"github.com/djh00t/klingon-transcribe/internal/bootstrap"
	"github.com/djh00t/klingon-transcribe/internal/config"
)

// BuildFunc wires the application from configuration.
type BuildFunc func(ctx context.Context, cfg *config.Config, pf *config.PipelineFile, logger *slog.Logger) (*bootstrap.Dependencies, error)

// Env holds injectable dependencies for CLI commands.
type Env struct {
	Stdout io.Writer
	Stderr io.Writer
	// Lookuper resolves environment variables for config.LoadWith.
	Lookuper envconfig.Lookuper
	Build    BuildFunc
	// Logger overrides the logger built from LOG_FORMAT and LOG_LEVEL.
	Logger *slog.Logger
}

// DefaultEnv returns an Env bound to the process environment.
func DefaultEnv() *Env {
	return &Env{
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		Lookuper: envconfig.OsLookuper(),
		Build:    bootstrap.NewDependencies,
	}
}

// load reads and validates configuration and, when configured, the
// pipeline file. pipelineFile overrides PIPELINE_FILE.
func (e *Env) load(ctx context.Context, pipelineFile string) (*config.Config, *config.PipelineFile, *slog.Logger, error) {
	cfg, err := config.LoadWith(ctx, e.Lookuper)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	logger := e.Logger
	if logger == nil {
		logger = cfg.NewLogger()
	}

	if pipelineFile == "" {
		pipelineFile = cfg.PipelineFile
	}
	var pf *config.PipelineFile
	if pipelineFile != "" {
		pf, err = config.LoadPipelineFile(pipelineFile)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return cfg, pf, logger, nil
}
