// Package whisper transcribes audio with the OpenAI transcription API.
package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI transcription models. Only DefaultModel returns segment timings.
const (
	DefaultModel             = openai.Whisper1
	ModelGPT4oTranscribe     = "gpt-4o-transcribe"
	ModelGPT4oMiniTranscribe = "gpt-4o-mini-transcribe"
)

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = 1 * time.Second
	defaultMaxDelay   = 30 * time.Second
)

// Segment is a timed piece of transcript, in seconds.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Result is a finished transcription.
type Result struct {
	Text     string
	Language string
	Segments []Segment
}

// audioTranscriber is the subset of *openai.Client used here.
type audioTranscriber interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

var _ audioTranscriber = (*openai.Client)(nil)

// Client transcribes audio through OpenAI with retries on transient errors.
type Client struct {
	client     audioTranscriber
	language   string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLanguage sets an ISO 639-1 language hint. Empty means auto-detect.
func WithLanguage(code string) Option {
	return func(c *Client) {
		c.language = code
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelays sets the base and max delays for exponential backoff.
func WithRetryDelays(base, max time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.baseDelay = base
		}
		if max > 0 {
			c.maxDelay = max
		}
	}
}

// New creates a Client from an API key.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyMissing
	}
	return newClient(openai.NewClient(apiKey), opts...), nil
}

func newClient(api audioTranscriber, opts ...Option) *Client {
	c := &Client{
		client:     api,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveModel maps a requested model to an OpenAI transcription model.
// Names OpenAI does not serve fall back to DefaultModel.
func ResolveModel(model string) string {
	switch model {
	case DefaultModel, ModelGPT4oTranscribe, ModelGPT4oMiniTranscribe:
		return model
	default:
		return DefaultModel
	}
}

// Transcribe sends WAV audio to OpenAI. Segment timings are requested
// when the resolved model supports them.
func (c *Client) Transcribe(ctx context.Context, model string, wav []byte) (Result, error) {
	model = ResolveModel(model)
	format := openai.AudioResponseFormatJSON
	if model == DefaultModel {
		format = openai.AudioResponseFormatVerboseJSON
	}

	cfg := retryConfig{
		MaxRetries: c.maxRetries,
		BaseDelay:  c.baseDelay,
		MaxDelay:   c.maxDelay,
	}

	return retryWithBackoff(ctx, cfg, func() (Result, error) {
		// The reader is consumed per attempt.
		req := openai.AudioRequest{
			Model:    model,
			FilePath: "audio.wav",
			Reader:   bytes.NewReader(wav),
			Format:   format,
			Language: c.language,
		}
		resp, err := c.client.CreateTranscription(ctx, req)
		if err != nil {
			return Result{}, classifyError(err)
		}
		return toResult(resp), nil
	}, isRetryableError)
}

func toResult(resp openai.AudioResponse) Result {
	out := Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
	}
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		out.Segments = append(out.Segments, Segment{Start: s.Start, End: s.End, Text: text})
	}
	return out
}

// retryConfig holds retry parameters for exponential backoff.
type retryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (c *retryConfig) normalize() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = c.BaseDelay
	}
}

// retryWithBackoff executes fn with exponential backoff, retrying only
// errors accepted by shouldRetry.
func retryWithBackoff[T any](
	ctx context.Context,
	cfg retryConfig,
	fn func() (T, error),
	shouldRetry func(error) bool,
) (T, error) {
	cfg.normalize()

	var zero T
	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
			delay = min(delay*2, cfg.MaxDelay)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !shouldRetry(lastErr) {
			return zero, lastErr
		}
	}

	return zero, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}

// classifyError maps OpenAI API errors to sentinel errors.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			// Quota exhaustion needs user action and is not retried.
			if strings.Contains(apiErr.Message, "quota") ||
				strings.Contains(apiErr.Message, "billing") {
				return fmt.Errorf("%s: %w", apiErr.Message, ErrQuotaExceeded)
			}
			return fmt.Errorf("%s: %w", apiErr.Message, ErrRateLimit)
		case http.StatusUnauthorized:
			return fmt.Errorf("%s: %w", apiErr.Message, ErrAuthFailed)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return fmt.Errorf("%s: %w", apiErr.Message, ErrTimeout)
		case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound:
			return fmt.Errorf("%s: %w", apiErr.Message, ErrBadRequest)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timed out: %w", ErrTimeout)
	}

	return err
}

// isRetryableError reports whether err is transient.
func isRetryableError(err error) bool {
	if errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}

	return false
}
