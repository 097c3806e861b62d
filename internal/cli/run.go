package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/djh00t/klingon-transcribe/internal/format"
	"github.com/djh00t/klingon-transcribe/internal/preprocess"
)

type runOptions struct {
	input            string
	output           string
	asrModel         string
	diarizationModel string
	steps            []string
	outputFormats    []string
	configFile       string
	tolerance        int
}

// RunCmd creates the run command.
func RunCmd(env *Env) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Transcribe one audio file",
		Long: `Transcribe one audio file and write every requested output format.

Input and output accept local paths, file://, s3:// and http(s):// URIs.
The output URI is a base: each format appends its own extension
(.txt, .timecoded.txt, .speaker.txt, .srt, .speaker.srt, .ctm).`,
		Example: `  klingon-transcribe run --input call.mp3 --output out/call
  klingon-transcribe run --input s3://calls/in.wav --output s3://calls/out/in --preprocess noise_removal
  klingon-transcribe run --input call.wav --output call --output-formats srt,ctm --config pipeline.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTranscription(cmd, env, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "", "Input audio URI")
	f.StringVarP(&opts.output, "output", "o", "", "Output base URI")
	f.StringVar(&opts.asrModel, "asr-model", "", "ASR model (default from CORE_ASR_MODEL)")
	f.StringVar(&opts.diarizationModel, "diarization-model", "", "Diarization model (default from CORE_DIARIZATION_MODEL)")
	f.StringSliceVar(&opts.steps, "preprocess", nil, "Preprocessing steps, in order")
	f.StringSliceVar(&opts.outputFormats, "output-formats", nil, "Output formats")
	f.StringVarP(&opts.configFile, "config", "c", "", "Pipeline YAML file (default from PIPELINE_FILE)")
	f.IntVar(&opts.tolerance, "tolerance", 0, "Alignment tolerance for untimed transcripts")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runTranscription(cmd *cobra.Command, env *Env, opts runOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, pf, logger, err := env.load(ctx, opts.configFile)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	deps, err := env.Build(ctx, cfg, pf, logger)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	defer func() {
		if err := deps.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	rc := deps.RunConfig
	rc.Logger = logger
	if opts.asrModel != "" {
		rc.ASRModel = opts.asrModel
	}
	if opts.diarizationModel != "" {
		rc.DiarizationModel = opts.diarizationModel
	}
	flags := cmd.Flags()
	if flags.Changed("preprocess") {
		rc.Preprocess = preprocess.Steps(opts.steps...)
	}
	if flags.Changed("output-formats") {
		outputs, err := format.ParseOutputs(opts.outputFormats)
		if err != nil {
			return err
		}
		rc.Outputs = outputs
	}
	if flags.Changed("tolerance") {
		if opts.tolerance < 0 {
			return fmt.Errorf("%w: --tolerance must be non-negative, got %d", ErrUsage, opts.tolerance)
		}
		rc.Tolerance = opts.tolerance
	}

	data, err := deps.Storage.Read(ctx, opts.input)
	if err != nil {
		return fmt.Errorf("%w: read input: %w", ErrStorage, err)
	}

	res, err := deps.Runner.Run(ctx, rc, data, opts.input)
	if err != nil {
		return err
	}

	for _, doc := range res.Documents {
		uri := opts.output + doc.Output.Extension
		if err := deps.Storage.Write(ctx, uri, []byte(doc.Content)); err != nil {
			return fmt.Errorf("%w: write %s: %w", ErrStorage, doc.Output.Name, err)
		}
		logger.Info("output written",
			slog.String("format", doc.Output.Name),
			slog.String("uri", uri),
		)
		fmt.Fprintln(env.Stdout, uri)
	}
	return nil
}
