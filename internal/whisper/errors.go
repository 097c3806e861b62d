package whisper

import "errors"

// ErrAPIKeyMissing indicates OPENAI_API_KEY is not set.
var ErrAPIKeyMissing = errors.New("whisper: OPENAI_API_KEY not set")

// ErrRateLimit indicates the API rate limit was exceeded (temporary, retryable).
var ErrRateLimit = errors.New("whisper: rate limit exceeded")

// ErrQuotaExceeded indicates the API quota was exceeded (billing issue, not retryable).
var ErrQuotaExceeded = errors.New("whisper: quota exceeded")

// ErrTimeout indicates a request timed out.
var ErrTimeout = errors.New("whisper: request timeout")

// ErrAuthFailed indicates authentication failed (invalid key).
var ErrAuthFailed = errors.New("whisper: authentication failed")

// ErrBadRequest indicates the API rejected the request.
var ErrBadRequest = errors.New("whisper: bad request")
