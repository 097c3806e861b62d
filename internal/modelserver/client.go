package modelserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Static errors for model server client operations.
var (
	// ErrBaseURLRequired is returned when the server URL is not provided.
	ErrBaseURLRequired = errors.New("modelserver: base URL is required")
	// ErrModelRequired is returned when a call names no model.
	ErrModelRequired = errors.New("modelserver: model is required")
	// ErrEmptyAudio is returned when a call carries no audio.
	ErrEmptyAudio = errors.New("modelserver: audio is empty")
	// ErrModelNotFound is returned when the server does not know the model.
	ErrModelNotFound = errors.New("modelserver: model not found")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("modelserver: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("modelserver: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("modelserver: request failed")
)

// Client defines the operations offered by a model server.
type Client interface {
	// Transcribe runs an ASR model over WAV audio.
	Transcribe(ctx context.Context, model string, wav []byte) (TranscribeResult, error)

	// Diarize runs a speaker diarization model over WAV audio.
	Diarize(ctx context.Context, model string, wav []byte) (DiarizeResult, error)

	// DetectVoice runs a voice activity model over WAV audio.
	DetectVoice(ctx context.Context, model string, wav []byte) (VADResult, error)

	// Enhance runs an enhancement or denoising model and returns WAV audio.
	Enhance(ctx context.Context, model string, wav []byte) ([]byte, error)
}

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new model server HTTP client for baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 10 * time.Minute},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Transcribe implements Client.
func (c *HTTPClient) Transcribe(ctx context.Context, model string, wav []byte) (TranscribeResult, error) {
	var resp TranscribeResult
	if err := c.post(ctx, "/transcribe", model, wav, &resp); err != nil {
		return TranscribeResult{}, err
	}
	return resp, nil
}

// Diarize implements Client.
func (c *HTTPClient) Diarize(ctx context.Context, model string, wav []byte) (DiarizeResult, error) {
	var resp DiarizeResult
	if err := c.post(ctx, "/diarize", model, wav, &resp); err != nil {
		return DiarizeResult{}, err
	}
	return resp, nil
}

// DetectVoice implements Client.
func (c *HTTPClient) DetectVoice(ctx context.Context, model string, wav []byte) (VADResult, error) {
	var resp VADResult
	if err := c.post(ctx, "/vad", model, wav, &resp); err != nil {
		return VADResult{}, err
	}
	return resp, nil
}

// Enhance implements Client.
func (c *HTTPClient) Enhance(ctx context.Context, model string, wav []byte) ([]byte, error) {
	var out []byte
	if err := c.post(ctx, "/enhance", model, wav, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// post sends wav and model as a multipart form. result is either a JSON
// target or a *[]byte receiving the raw body.
func (c *HTTPClient) post(ctx context.Context, path, model string, wav []byte, result interface{}) error {
	if model == "" {
		return ErrModelRequired
	}
	if len(wav) == 0 {
		return ErrEmptyAudio
	}

	body, contentType, err := multipartBody(model, wav)
	if err != nil {
		return fmt.Errorf("modelserver: build request: %w", err)
	}
	return c.doRequestWithRetry(ctx, c.baseURL+path, body, contentType, result)
}

func multipartBody(model string, wav []byte) ([]byte, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	if err := w.WriteField("model", model); err != nil {
		return nil, "", err
	}
	fw, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return b.Bytes(), w.FormDataContentType(), nil
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, url string, body []byte, contentType string, result interface{}) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("modelserver: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2 // Exponential backoff
			}
		}

		err := c.doRequest(ctx, url, body, contentType, result)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("modelserver: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, url string, body []byte, contentType string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("modelserver: create request: %w", err)
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("modelserver: context cancelled: %w", ctx.Err())
		}
		return &retryableError{err: fmt.Errorf("modelserver: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("modelserver: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := errorMessage(respBody)
		switch {
		case resp.StatusCode >= 500:
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, msg)}
		case resp.StatusCode == http.StatusTooManyRequests:
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, msg)}
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrModelNotFound, msg)
		default:
			return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, msg)
		}
	}

	switch out := result.(type) {
	case nil:
	case *[]byte:
		*out = respBody
	default:
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("modelserver: unmarshal response: %w", err)
		}
	}
	return nil
}

func errorMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Verify interface implementation at compile time.
var _ Client = (*HTTPClient)(nil)
