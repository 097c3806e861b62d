package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/djh00t/klingon-transcribe/internal/format"
	"github.com/djh00t/klingon-transcribe/internal/observe"
	"github.com/djh00t/klingon-transcribe/internal/pipeline"
	"github.com/djh00t/klingon-transcribe/internal/preprocess"
	"github.com/djh00t/klingon-transcribe/internal/storage"
)

// ErrInputRequired is returned when a request names no input.
var ErrInputRequired = errors.New("job: input URI is required")

// Progress checkpoints reported while a job runs.
const (
	progressRead    = 10
	progressRun     = 30
	progressWritten = 90
)

// Runner executes a pipeline run.
type Runner interface {
	Run(ctx context.Context, cfg pipeline.RunConfig, data []byte, name string) (*pipeline.Result, error)
	Validate(cfg pipeline.RunConfig) error
}

// TempStore stages uploaded audio on local disk.
type TempStore interface {
	SaveTemp(ctx context.Context, name string, data io.Reader) (string, error)
	CleanupTemp(ctx context.Context, paths []string) error
}

// Request describes a transcription. Empty fields fall back to the
// workflow, then to the service defaults.
type Request struct {
	InputURI         string
	OutputURI        string
	Workflow         string
	Preprocess       []preprocess.StepSpec
	OutputFormats    []string
	ASRModel         string
	DiarizationModel string
}

// Service runs transcription jobs in the background.
type Service struct {
	repo      Repository
	workflows WorkflowStore
	runner    Runner
	store     storage.Storage
	temp      TempStore
	defaults  pipeline.RunConfig
	sem       *semaphore.Weighted
	timeout   time.Duration
	metrics   *observe.Metrics
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]*activeJob
	wg     sync.WaitGroup
}

type activeJob struct {
	job    *Job
	cancel context.CancelFunc
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMaxConcurrent limits how many jobs run at once.
func WithMaxConcurrent(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithTimeout bounds each job's processing time.
func WithTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithDefaults sets the run configuration requests start from.
func WithDefaults(cfg pipeline.RunConfig) ServiceOption {
	return func(s *Service) {
		s.defaults = cfg
	}
}

// WithTempStore enables uploads.
func WithTempStore(t TempStore) ServiceOption {
	return func(s *Service) {
		s.temp = t
	}
}

// WithServiceMetrics records job metrics.
func WithServiceMetrics(m *observe.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a Service. If logger is nil, slog.Default() is used.
func NewService(repo Repository, workflows WorkflowStore, runner Runner, store storage.Storage, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:      repo,
		workflows: workflows,
		runner:    runner,
		store:     store,
		defaults:  pipeline.DefaultRunConfig(),
		sem:       semaphore.NewWeighted(2),
		timeout:   30 * time.Minute,
		logger:    logger,
		active:    make(map[string]*activeJob),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates req, stores a new job and starts it in the background.
// The job outlives ctx.
func (s *Service) Submit(ctx context.Context, req Request) (*Job, error) {
	if req.InputURI == "" {
		return nil, ErrInputRequired
	}
	return s.submit(ctx, req, nil)
}

// SubmitUpload stages data as a temporary file and submits a job reading
// it. The file is removed when the job ends.
func (s *Service) SubmitUpload(ctx context.Context, name string, data io.Reader, req Request) (*Job, error) {
	if s.temp == nil {
		return nil, errors.New("job: uploads are not configured")
	}
	path, err := s.temp.SaveTemp(ctx, name, data)
	if err != nil {
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	req.InputURI = path

	j, err := s.submit(ctx, req, []string{path})
	if err != nil {
		_ = s.temp.CleanupTemp(ctx, []string{path})
		return nil, err
	}
	return j, nil
}

func (s *Service) submit(ctx context.Context, req Request, cleanup []string) (*Job, error) {
	cfg, err := s.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	job := New()
	job.Workflow = req.Workflow
	job.InputURI = req.InputURI
	job.OutputURI = req.OutputURI
	job.ASRModel = cfg.ASRModel
	job.DiarizationModel = cfg.DiarizationModel
	job.Steps = cfg.Preprocess.Names()

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.String("input", job.InputURI),
		slog.String("workflow", job.Workflow),
		slog.Any("steps", job.Steps),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	s.mu.Lock()
	s.active[job.ID] = &activeJob{job: job, cancel: cancel}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.process(runCtx, job, cfg, cleanup)
	}()

	return job.Clone(), nil
}

// Resolve builds the run configuration for req: service defaults, then
// the named workflow, then the request's own fields.
func (s *Service) Resolve(ctx context.Context, req Request) (pipeline.RunConfig, error) {
	cfg := s.defaults
	cfg.Logger = s.logger

	asr, diar := req.ASRModel, req.DiarizationModel
	steps, outputs := req.Preprocess, req.OutputFormats

	if req.Workflow != "" {
		if s.workflows == nil {
			return pipeline.RunConfig{}, fmt.Errorf("%w: %q", ErrWorkflowNotFound, req.Workflow)
		}
		w, err := s.workflows.Get(ctx, req.Workflow)
		if err != nil {
			return pipeline.RunConfig{}, err
		}
		if asr == "" {
			asr = w.ASRModel
		}
		if diar == "" {
			diar = w.DiarizationModel
		}
		if steps == nil {
			steps = w.Steps
		}
		if len(outputs) == 0 {
			outputs = w.OutputFormats
		}
	}

	if asr != "" {
		cfg.ASRModel = asr
	}
	if diar != "" {
		cfg.DiarizationModel = diar
	}
	if steps != nil {
		cfg.Preprocess = preprocess.NewPipelineConfig(steps...)
	}
	if len(outputs) > 0 {
		parsed, err := format.ParseOutputs(outputs)
		if err != nil {
			return pipeline.RunConfig{}, err
		}
		cfg.Outputs = parsed
	}

	if err := s.runner.Validate(cfg); err != nil {
		return pipeline.RunConfig{}, err
	}
	return cfg, nil
}

// Transcribe runs req synchronously on data, without creating a job.
func (s *Service) Transcribe(ctx context.Context, data []byte, name string, req Request) (*pipeline.Result, error) {
	cfg, err := s.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.runner.Run(ctx, cfg, data, name)
}

func (s *Service) process(ctx context.Context, job *Job, cfg pipeline.RunConfig, cleanup []string) {
	logger := s.logger.With(slog.String("job_id", job.ID))
	defer s.finish(job, cleanup)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.abort(ctx, job, logger, err)
		return
	}
	defer s.sem.Release(1)

	if err := job.Start(); err != nil {
		// Cancelled while queued.
		return
	}
	s.save(ctx, job, logger)
	if s.metrics != nil {
		s.metrics.ActiveJobs.Add(ctx, 1)
		defer s.metrics.ActiveJobs.Add(context.WithoutCancel(ctx), -1)
	}

	if err := s.run(ctx, job, cfg, logger); err != nil {
		s.abort(ctx, job, logger, err)
		return
	}

	if err := job.Complete(); err != nil {
		return
	}
	s.save(ctx, job, logger)
	logger.Info("job completed", slog.Any("outputs", job.Clone().Outputs))
}

func (s *Service) run(ctx context.Context, job *Job, cfg pipeline.RunConfig, logger *slog.Logger) error {
	data, err := s.store.Read(ctx, job.InputURI)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	job.UpdateProgress(progressRead)
	s.save(ctx, job, logger)

	cfg.Logger = logger
	job.UpdateProgress(progressRun)
	s.save(ctx, job, logger)

	res, err := s.runner.Run(ctx, cfg, data, job.InputURI)
	if err != nil {
		return err
	}

	for _, doc := range res.Documents {
		uri := ""
		if job.OutputURI != "" {
			uri = job.OutputURI + doc.Output.Extension
			if err := s.store.Write(ctx, uri, []byte(doc.Content)); err != nil {
				return fmt.Errorf("write %s: %w", doc.Output.Name, err)
			}
		}
		job.SetOutput(doc.Output.Name, uri, doc.Content)
	}
	job.UpdateProgress(progressWritten)
	return nil
}

// abort moves the job to the terminal state matching err.
func (s *Service) abort(ctx context.Context, job *Job, logger *slog.Logger, err error) {
	var terr error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		terr = job.Timeout()
	case errors.Is(ctx.Err(), context.Canceled):
		terr = job.Cancel()
	default:
		terr = job.Fail(err.Error())
	}
	if terr != nil {
		// Already terminal, e.g. cancelled through Cancel.
		return
	}
	logger.Error("job failed",
		slog.String("status", string(job.GetStatus())),
		slog.String("error", err.Error()),
	)
	s.save(ctx, job, logger)
}

func (s *Service) finish(job *Job, cleanup []string) {
	s.mu.Lock()
	delete(s.active, job.ID)
	s.mu.Unlock()

	ctx := context.Background()
	if len(cleanup) > 0 && s.temp != nil {
		if err := s.temp.CleanupTemp(ctx, cleanup); err != nil {
			s.logger.Warn("failed to clean up job files",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordJob(ctx, string(job.GetStatus()))
	}
}

func (s *Service) save(ctx context.Context, job *Job, logger *slog.Logger) {
	if err := s.repo.Save(context.WithoutCancel(ctx), job); err != nil {
		logger.Error("failed to save job", slog.String("error", err.Error()))
	}
}

// Get returns the job with the given ID.
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns the jobs matching f, oldest first.
func (s *Service) List(ctx context.Context, f Filter) ([]*Job, error) {
	return s.repo.List(ctx, f)
}

// Prune forgets jobs that finished more than retention ago.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int, error) {
	n, err := s.repo.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	if n > 0 {
		s.logger.Info("pruned finished jobs",
			slog.Int("count", n),
			slog.Duration("retention", retention),
		)
	}
	return n, nil
}

// RunJanitor prunes finished jobs every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Prune(ctx, retention); err != nil {
				s.logger.Warn("job janitor failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Cancel stops a queued or running job. Terminal jobs yield
// ErrInvalidTransition.
func (s *Service) Cancel(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	a, ok := s.active[id]
	s.mu.Unlock()
	if !ok {
		// Not running here: either unknown or already finished.
		if _, err := s.repo.FindByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrInvalidTransition
	}

	if err := a.job.Cancel(); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, a.job); err != nil {
		return nil, err
	}
	a.cancel()
	s.logger.Info("job cancelled", slog.String("job_id", id))
	return a.job.Clone(), nil
}

// SaveWorkflow stores a workflow after checking its steps exist.
func (s *Service) SaveWorkflow(ctx context.Context, w Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if err := s.runner.Validate(s.workflowConfig(w)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidWorkflow, err)
	}
	return s.workflows.Save(ctx, w)
}

func (s *Service) workflowConfig(w Workflow) pipeline.RunConfig {
	cfg := s.defaults
	cfg.Preprocess = preprocess.NewPipelineConfig(w.Steps...)
	return cfg
}

// GetWorkflow returns the named workflow.
func (s *Service) GetWorkflow(ctx context.Context, name string) (Workflow, error) {
	return s.workflows.Get(ctx, name)
}

// ListWorkflows returns all workflows sorted by name.
func (s *Service) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	return s.workflows.List(ctx)
}

// ProcessWorkflow submits a job running the named workflow on path.
func (s *Service) ProcessWorkflow(ctx context.Context, name, path string) (*Job, error) {
	return s.Submit(ctx, Request{Workflow: name, InputURI: path})
}

// Wait blocks until all background jobs have returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels running jobs and waits for them, or for ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, a := range s.active {
		a.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
