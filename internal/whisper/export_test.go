package whisper

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// AudioTranscriber mirrors the unexported interface for black-box tests.
type AudioTranscriber interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// NewTestClient creates a Client backed by a mock transcriber.
func NewTestClient(api AudioTranscriber, opts ...Option) *Client {
	return newClient(api, opts...)
}

// Function exports for unit testing internal logic.
var (
	ClassifyError    = classifyError
	IsRetryableError = isRetryableError
)
