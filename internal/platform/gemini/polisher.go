package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/korvane/vidsub-api/internal/config"
	"github.com/korvane/vidsub-api/internal/polish"
)

const (
	defaultSystemPrompt = "You are a careful editor. Clean up the following " +
		"video transcript: fix punctuation and obvious recognition errors, " +
		"keep the speaker's wording, and do not invent content. If a question " +
		"is given, answer it using only the transcript."

	maxRetries        = 3
	baseRetryDelaySec = 2
)

// TranscriptPolisher implements polish.Polisher on top of the Gemini API.
type TranscriptPolisher struct {
	logger *slog.Logger
	client *genai.Client
	model  string
}

// NewTranscriptPolisher creates a polisher backed by the configured Gemini
// model.
func NewTranscriptPolisher(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*TranscriptPolisher, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", polish.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", polish.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", polish.ErrInvalidConfig, err)
	}

	return &TranscriptPolisher{
		logger: logger.With("component", "gemini_polisher"),
		client: client,
		model:  cfg.Model,
	}, nil
}

// Polish sends the transcript (and optional question) to the model and
// returns its text response. Transient API errors are retried with
// exponential backoff and jitter; empty or blocked responses are permanent
// failures.
func (p *TranscriptPolisher) Polish(ctx context.Context, transcript, question string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", polish.ErrEmptyTranscript
	}

	prompt := buildPrompt(transcript, question)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		p.logger.InfoContext(ctx, "calling Gemini API",
			"attempt", attempt+1,
			"max_attempts", maxRetries+1,
			"model", p.model)

		resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), nil)
		if err == nil {
			text, permErr := extractText(resp)
			if permErr != nil {
				return "", permErr
			}
			return text, nil
		}
		lastErr = err
		p.logger.ErrorContext(ctx, "Gemini API call failed",
			"attempt", attempt+1,
			"error", err)

		if attempt >= maxRetries {
			break
		}

		// Exponential backoff with jitter between 0.5x and 1x.
		backoff := float64(baseRetryDelaySec) * math.Pow(2, float64(attempt))
		delay := time.Duration(backoff * (0.5 + rng.Float64()*0.5) * float64(time.Second))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return "", fmt.Errorf("%w: exceeded %d attempts: %v", polish.ErrTransientFailure, maxRetries+1, lastErr)
}

func buildPrompt(transcript, question string) string {
	var b strings.Builder
	b.WriteString(defaultSystemPrompt)
	b.WriteString("\n\nTranscript:\n")
	b.WriteString(transcript)
	if question != "" {
		b.WriteString("\n\nQuestion: ")
		b.WriteString(question)
	}
	return b.String()
}

// extractText pulls the model's text out of the response, mapping the
// degenerate cases to permanent errors.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", polish.ErrInvalidResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: finish reason safety", polish.ErrContentBlocked)
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty candidate content", polish.ErrInvalidResponse)
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: response contains no text", polish.ErrInvalidResponse)
	}
	return text, nil
}
