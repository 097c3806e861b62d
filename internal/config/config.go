// Package config provides configuration loading from environment variables
// and pipeline files.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/djh00t/klingon-transcribe/internal/format"
	"github.com/djh00t/klingon-transcribe/internal/preprocess"
)

// Backend names.
const (
	BackendModelServer = "modelserver"
	BackendOpenAI      = "openai"
	BackendVAD         = "vad"
	BackendNone        = "none"
)

// Static errors for configuration validation.
var (
	// ErrModelServerURLRequired is returned when a backend needs MODEL_SERVER_URL.
	ErrModelServerURLRequired = errors.New("config: MODEL_SERVER_URL is required")
	// ErrOpenAIKeyRequired is returned when ASR_BACKEND=openai without OPENAI_API_KEY.
	ErrOpenAIKeyRequired = errors.New("config: OPENAI_API_KEY is required")
	// ErrInvalidBackend is returned for an unknown ASR or diarization backend.
	ErrInvalidBackend = errors.New("config: invalid backend")
	// ErrInvalidValue is returned for out-of-range settings.
	ErrInvalidValue = errors.New("config: invalid value")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int  `env:"PORT, default=8080" json:"port"`
	MetricsEnabled bool `env:"METRICS_ENABLED, default=true" json:"metrics_enabled"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/klingon-transcribe" json:"temp_dir"`

	// Model settings
	ASRModel         string `env:"CORE_ASR_MODEL, default=Citrinet-1024" json:"asr_model"`
	DiarizationModel string `env:"CORE_DIARIZATION_MODEL, default=speakerdiar_telephony" json:"diarization_model"`
	ASRBackend       string `env:"ASR_BACKEND, default=modelserver" json:"asr_backend"`
	DiarizeBackend   string `env:"DIARIZATION_BACKEND, default=modelserver" json:"diarization_backend"`

	// Model server
	ModelServerURL    string `env:"MODEL_SERVER_URL" json:"model_server_url,omitempty"`
	ModelServerAPIKey string `env:"MODEL_SERVER_API_KEY" json:"-"` // Masked in JSON

	// OpenAI
	OpenAIAPIKey string `env:"OPENAI_API_KEY" json:"-"` // Masked in JSON

	// Preprocessing settings
	AudioEnhancement bool   `env:"PREPROCESSING_AUDIO_ENHANCEMENT, default=false" json:"audio_enhancement"`
	NoiseRemoval     bool   `env:"PREPROCESSING_NOISE_REMOVAL, default=false" json:"noise_removal"`
	PreprocessModel  string `env:"PREPROCESSING_MODEL, default=denoiser_hifi" json:"preprocess_model"`

	// Output settings
	OutputFormats []string `env:"OUTPUT_FORMATS, default=plain_text,timecoded_text,timecoded_speaker_text,srt,srt_speaker" json:"output_formats"`
	PipelineFile  string   `env:"PIPELINE_FILE" json:"pipeline_file,omitempty"`

	// Job settings
	MaxConcurrentJobs int           `env:"MAX_CONCURRENT_JOBS, default=2" json:"max_concurrent_jobs"`
	JobTimeout        time.Duration `env:"JOB_TIMEOUT, default=30m" json:"job_timeout"`
	// JobRetention is how long finished jobs stay listed. Zero keeps them
	// until restart.
	JobRetention      time.Duration `env:"JOB_RETENTION, default=24h" json:"job_retention"`

	// Optional S3 settings
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Optional HTTP storage basic auth
	HTTPAccessKeyID     string `env:"HTTP_ACCESS_KEY_ID" json:"-"`
	HTTPSecretAccessKey string `env:"HTTP_SECRET_ACCESS_KEY" json:"-"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if an S3 region is configured.
func (c *Config) S3Enabled() bool {
	return c.S3Region != ""
}

// HTTPAuthEnabled returns true if HTTP storage credentials are configured.
func (c *Config) HTTPAuthEnabled() bool {
	return c.HTTPAccessKeyID != "" && c.HTTPSecretAccessKey != ""
}

// ModelServerEnabled returns true if a model server URL is configured.
func (c *Config) ModelServerEnabled() bool {
	return c.ModelServerURL != ""
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	return LoadWith(context.Background(), envconfig.OsLookuper())
}

// LoadWith reads configuration from l.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: PORT %d", ErrInvalidValue, c.Port))
	}
	if c.MaxConcurrentJobs <= 0 {
		errs = append(errs, fmt.Errorf("%w: MAX_CONCURRENT_JOBS must be positive, got %d", ErrInvalidValue, c.MaxConcurrentJobs))
	}
	if c.JobTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: JOB_TIMEOUT must be positive, got %s", ErrInvalidValue, c.JobTimeout))
	}
	if c.JobRetention < 0 {
		errs = append(errs, fmt.Errorf("%w: JOB_RETENTION must not be negative, got %s", ErrInvalidValue, c.JobRetention))
	}

	switch c.ASRBackend {
	case BackendModelServer:
		if !c.ModelServerEnabled() {
			errs = append(errs, fmt.Errorf("%w for ASR_BACKEND=%s", ErrModelServerURLRequired, c.ASRBackend))
		}
	case BackendOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, ErrOpenAIKeyRequired)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: ASR_BACKEND %q", ErrInvalidBackend, c.ASRBackend))
	}

	switch c.DiarizeBackend {
	case BackendModelServer:
		if !c.ModelServerEnabled() {
			errs = append(errs, fmt.Errorf("%w for DIARIZATION_BACKEND=%s", ErrModelServerURLRequired, c.DiarizeBackend))
		}
	case BackendVAD, BackendNone:
	default:
		errs = append(errs, fmt.Errorf("%w: DIARIZATION_BACKEND %q", ErrInvalidBackend, c.DiarizeBackend))
	}

	if (c.AudioEnhancement || c.NoiseRemoval) && !c.ModelServerEnabled() {
		errs = append(errs, fmt.Errorf("%w for model preprocessing steps", ErrModelServerURLRequired))
	}

	if _, err := format.ParseOutputs(c.OutputFormats); err != nil {
		errs = append(errs, err)
	}

	if !slices.Contains([]string{"json", "text"}, strings.ToLower(c.LogFormat)) {
		errs = append(errs, fmt.Errorf("%w: LOG_FORMAT %q", ErrInvalidValue, c.LogFormat))
	}

	return errors.Join(errs...)
}

// PreprocessSteps returns the preprocessing chain selected by the
// PREPROCESSING_* switches: enhancement first, then noise removal.
func (c *Config) PreprocessSteps() []preprocess.StepSpec {
	var specs []preprocess.StepSpec
	if c.AudioEnhancement {
		specs = append(specs, preprocess.StepSpec{Name: preprocess.StepAudioEnhancement})
	}
	if c.NoiseRemoval {
		specs = append(specs, preprocess.StepSpec{
			Name:   preprocess.StepNoiseRemoval,
			Params: preprocess.Params{"model": c.PreprocessModel},
		})
	}
	return specs
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, ASRBackend: %s, ASRModel: %s, DiarizationBackend: %s, DiarizationModel: %s, ModelServerURL: %s, OutputFormats: %s, MaxConcurrentJobs: %d, JobTimeout: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.ASRBackend,
		c.ASRModel,
		c.DiarizeBackend,
		c.DiarizationModel,
		c.ModelServerURL,
		strings.Join(c.OutputFormats, ","),
		c.MaxConcurrentJobs,
		c.JobTimeout,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
