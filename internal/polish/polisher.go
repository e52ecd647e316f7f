package polish

import (
	"context"
	"errors"
)

// Errors returned by Polisher implementations.
var (
	// ErrEmptyTranscript is returned when the transcript to polish is empty.
	ErrEmptyTranscript = errors.New("transcript cannot be empty")

	// ErrInvalidConfig indicates the polisher was constructed with missing
	// or invalid configuration.
	ErrInvalidConfig = errors.New("invalid polisher configuration")

	// ErrContentBlocked indicates the model refused the content.
	ErrContentBlocked = errors.New("content blocked by model safety filters")

	// ErrInvalidResponse indicates the model returned an empty or
	// unusable response.
	ErrInvalidResponse = errors.New("invalid model response")

	// ErrTransientFailure indicates repeated transient API failures; the
	// caller may retry later.
	ErrTransientFailure = errors.New("transient model API failure")
)

// Polisher post-processes a transcript with an LLM. When question is empty
// the model cleans up and summarizes the transcript; otherwise it answers
// the question grounded in the transcript content.
type Polisher interface {
	Polish(ctx context.Context, transcript, question string) (string, error)
}
