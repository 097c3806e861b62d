package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/djh00t/klingon-transcribe/internal/server"
)

// shutdownTimeout bounds graceful shutdown of the server and running jobs.
const shutdownTimeout = 30 * time.Second

// janitorInterval checks for expired jobs a few times per retention
// period, at most every ten minutes.
func janitorInterval(retention time.Duration) time.Duration {
	return min(max(retention/4, time.Second), 10*time.Minute)
}

// ServerCmd creates the server command.
func ServerCmd(env *Env) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd, env, port)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (default from PORT)")
	return cmd
}

func runServer(cmd *cobra.Command, env *Env, port int) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, pf, logger, err := env.load(ctx, "")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if port > 0 {
		cfg.Port = port
	}

	logger.Info("starting klingon-transcribe",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("temp_dir", cfg.TempDir),
		slog.String("asr_backend", cfg.ASRBackend),
		slog.String("diarization_backend", cfg.DiarizeBackend),
		slog.Int("max_concurrent_jobs", cfg.MaxConcurrentJobs),
		slog.Duration("job_retention", cfg.JobRetention),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	deps, err := env.Build(ctx, cfg, pf, logger)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	srvCfg := server.DefaultConfig()
	if cfg.MetricsEnabled {
		srvCfg.Metrics = deps.Metrics
		srvCfg.MetricsHandler = promhttp.Handler()
	}
	handlers := server.NewHandlers(deps.Service, logger)
	router := server.NewRouter(handlers, logger, srvCfg)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 30 * time.Minute, // synchronous /transcribe runs the whole pipeline
		IdleTimeout:  60 * time.Second,
	}

	if cfg.JobRetention > 0 {
		go deps.Service.RunJanitor(ctx, janitorInterval(cfg.JobRetention), cfg.JobRetention)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	logger.Info("shutting down server...")
	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown failed: %w", err))
	}
	if err := deps.Service.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop jobs: %w", err))
	}
	if err := deps.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("flush telemetry: %w", err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	logger.Info("server stopped gracefully")
	return nil
}
