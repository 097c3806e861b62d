// Package bootstrap wires the transcription service from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/djh00t/klingon-transcribe/internal/audio"
	"github.com/djh00t/klingon-transcribe/internal/config"
	"github.com/djh00t/klingon-transcribe/internal/engine"
	"github.com/djh00t/klingon-transcribe/internal/job"
	"github.com/djh00t/klingon-transcribe/internal/modelserver"
	"github.com/djh00t/klingon-transcribe/internal/observe"
	"github.com/djh00t/klingon-transcribe/internal/pipeline"
	"github.com/djh00t/klingon-transcribe/internal/preprocess"
	"github.com/djh00t/klingon-transcribe/internal/storage"
	"github.com/djh00t/klingon-transcribe/internal/whisper"
)

// Version is reported in telemetry.
var Version = "dev"

// Dependencies holds everything the CLI and the HTTP server need.
type Dependencies struct {
	Runner    *pipeline.Runner
	Service   *job.Service
	Storage   *storage.Router
	Local     *storage.LocalStorage
	Registry  *preprocess.Registry
	Metrics   *observe.Metrics
	RunConfig pipeline.RunConfig

	shutdown func(context.Context) error
}

// Shutdown flushes telemetry.
func (d *Dependencies) Shutdown(ctx context.Context) error {
	if d.shutdown == nil {
		return nil
	}
	return d.shutdown(ctx)
}

// NewDependencies creates and initializes all dependencies for the application.
// pf may be nil.
func NewDependencies(ctx context.Context, cfg *config.Config, pf *config.PipelineFile, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	metrics, shutdown, err := initMetrics(ctx, cfg)
	if err != nil {
		return nil, err
	}
	deps.Metrics = metrics
	deps.shutdown = shutdown

	local, router, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps.Local = local
	deps.Storage = router

	var client modelserver.Client
	if cfg.ModelServerEnabled() {
		c, err := modelserver.NewClient(cfg.ModelServerURL, modelserver.WithAPIKey(cfg.ModelServerAPIKey))
		if err != nil {
			return nil, fmt.Errorf("create model server client: %w", err)
		}
		client = c
		logger.Info("model server configured", slog.String("url", cfg.ModelServerURL))
	}

	ffmpeg := audio.NewFFmpeg("", cfg.TempDir)

	transcriber, err := initTranscriber(cfg, client)
	if err != nil {
		return nil, err
	}
	diarizer, err := initDiarizer(cfg, client, ffmpeg, logger)
	if err != nil {
		return nil, err
	}

	deps.Registry = preprocess.NewRegistry()
	var enhancer preprocess.Enhancer
	if client != nil {
		enhancer = engine.NewModelServerEnhancer(client)
	}
	if err := preprocess.RegisterBuiltins(deps.Registry, ffmpeg, enhancer); err != nil {
		return nil, fmt.Errorf("register preprocessing steps: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithConverter(ffmpeg),
		pipeline.WithPreprocessor(preprocess.New(deps.Registry, logger)),
		pipeline.WithMetrics(metrics),
	}
	if diarizer != nil {
		opts = append(opts, pipeline.WithDiarizer(diarizer))
	}
	runner, err := pipeline.NewRunner(transcriber, opts...)
	if err != nil {
		return nil, err
	}
	deps.Runner = runner

	rc, err := cfg.RunConfig(pf, logger)
	if err != nil {
		return nil, err
	}
	deps.RunConfig = rc

	deps.Service = job.NewService(
		job.NewMemoryRepository(),
		job.NewMemoryWorkflowStore(),
		runner,
		router,
		logger,
		job.WithDefaults(rc),
		job.WithTempStore(local),
		job.WithMaxConcurrent(cfg.MaxConcurrentJobs),
		job.WithTimeout(cfg.JobTimeout),
		job.WithServiceMetrics(metrics),
	)

	logger.Info("pipeline configured",
		slog.String("asr_backend", transcriber.Name()),
		slog.String("diarization_backend", cfg.DiarizeBackend),
		slog.Any("steps", deps.Registry.Names()),
	)
	return deps, nil
}

func initMetrics(ctx context.Context, cfg *config.Config) (*observe.Metrics, func(context.Context) error, error) {
	if !cfg.MetricsEnabled {
		m, err := observe.NewMetrics(noop.NewMeterProvider())
		return m, nil, err
	}
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: Version})
	if err != nil {
		return nil, nil, fmt.Errorf("init telemetry: %w", err)
	}
	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		_ = shutdown(ctx)
		return nil, nil, fmt.Errorf("create metrics: %w", err)
	}
	return m, shutdown, nil
}

// initStorage builds the URI router: local paths always, S3 when a region
// is configured, and HTTP(S) with optional basic auth.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.LocalStorage, *storage.Router, error) {
	local, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, nil, fmt.Errorf("create local storage: %w", err)
	}
	router := storage.NewRouter()
	router.Handle(local, "file")
	logger.Info("local storage configured", slog.String("temp_dir", cfg.TempDir))

	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Storage(ctx, storage.S3Config{
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create S3 storage: %w", err)
		}
		router.Handle(s3Store, "s3")
		logger.Info("S3 storage configured",
			slog.String("region", cfg.S3Region),
			slog.String("endpoint", cfg.S3Endpoint),
		)
	}

	var httpOpts []storage.HTTPOption
	if cfg.HTTPAuthEnabled() {
		httpOpts = append(httpOpts, storage.WithBasicAuth(cfg.HTTPAccessKeyID, cfg.HTTPSecretAccessKey))
	}
	router.Handle(storage.NewHTTPStorage(httpOpts...), "http", "https")

	return local, router, nil
}

func initTranscriber(cfg *config.Config, client modelserver.Client) (engine.Transcriber, error) {
	switch cfg.ASRBackend {
	case config.BackendOpenAI:
		c, err := whisper.New(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("create OpenAI client: %w", err)
		}
		return engine.NewWhisperTranscriber(c), nil
	case config.BackendModelServer:
		if client == nil {
			return nil, config.ErrModelServerURLRequired
		}
		return engine.NewModelServerTranscriber(client), nil
	default:
		return nil, fmt.Errorf("%w: ASR_BACKEND %q", config.ErrInvalidBackend, cfg.ASRBackend)
	}
}

func initDiarizer(cfg *config.Config, client modelserver.Client, framer engine.SpeechFramer, logger *slog.Logger) (engine.Diarizer, error) {
	switch cfg.DiarizeBackend {
	case config.BackendNone:
		return nil, nil
	case config.BackendVAD:
		opts := []engine.VADOption{engine.WithSpeechFramer(framer, audio.DefaultSilenceOpts())}
		if client != nil {
			opts = append(opts, engine.WithModelServer(client))
		}
		return engine.NewVADDiarizer(opts...)
	case config.BackendModelServer:
		if client == nil {
			return nil, config.ErrModelServerURLRequired
		}
		return engine.NewModelServerDiarizer(client, logger), nil
	default:
		return nil, fmt.Errorf("%w: DIARIZATION_BACKEND %q", config.ErrInvalidBackend, cfg.DiarizeBackend)
	}
}
