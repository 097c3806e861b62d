package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Static errors for HTTP storage.
var (
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("storage: server error")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("storage: request failed")
)

// HTTPStorage implements Storage for http:// and https:// URIs. Reads are
// GET requests and writes are PUT requests.
type HTTPStorage struct {
	httpClient  *http.Client
	username    string
	password    string
	maxRetries  int
	baseBackoff time.Duration
}

// HTTPOption is a function that configures an HTTPStorage.
type HTTPOption func(*HTTPStorage)

// WithBasicAuth sets credentials sent with every request.
func WithBasicAuth(username, password string) HTTPOption {
	return func(s *HTTPStorage) {
		s.username = username
		s.password = password
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPStorage) {
		s.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) HTTPOption {
	return func(s *HTTPStorage) {
		s.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) HTTPOption {
	return func(s *HTTPStorage) {
		s.baseBackoff = d
	}
}

// NewHTTPStorage creates a new HTTPStorage.
func NewHTTPStorage(opts ...HTTPOption) *HTTPStorage {
	s := &HTTPStorage{
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read implements Storage.
func (s *HTTPStorage) Read(ctx context.Context, uri string) ([]byte, error) {
	return s.doRequestWithRetry(ctx, http.MethodGet, uri, nil)
}

// Write implements Storage.
func (s *HTTPStorage) Write(ctx context.Context, uri string, data []byte) error {
	_, err := s.doRequestWithRetry(ctx, http.MethodPut, uri, data)
	return err
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (s *HTTPStorage) doRequestWithRetry(ctx context.Context, method, uri string, body []byte) ([]byte, error) {
	var lastErr error
	backoff := s.baseBackoff

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("storage: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		data, err := s.doRequest(ctx, method, uri, body)
		if err == nil {
			return data, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("storage: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (s *HTTPStorage) doRequest(ctx context.Context, method, uri string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, uri, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("storage: context cancelled: %w", ctx.Err())
		}
		return nil, &retryableError{err: fmt.Errorf("storage: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("storage: read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
	default:
		return nil, fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}
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
var _ Storage = (*HTTPStorage)(nil)
