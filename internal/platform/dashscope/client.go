package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/korvane/vidsub-api/internal/pipeline"
)

const (
	defaultBaseURL = "https://dashscope.aliyuncs.com"
	defaultModel   = "paraformer-v2"

	requestTimeout = 30 * time.Second
)

// Client is a DashScope transcription API client. It implements
// pipeline.Recognizer.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for the given API key.
func NewClient(apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger.With("component", "dashscope"),
	}
}

type submitRequest struct {
	Model      string           `json:"model"`
	Input      submitInput      `json:"input"`
	Parameters submitParameters `json:"parameters"`
}

type submitInput struct {
	FileURLs []string `json:"file_urls"`
}

type submitParameters struct {
	LanguageHints      []string `json:"language_hints,omitempty"`
	DiarizationEnabled bool     `json:"diarization_enabled"`
}

type taskOutput struct {
	TaskID     string `json:"task_id"`
	TaskStatus string `json:"task_status"`
	Message    string `json:"message"`
	Results    []struct {
		TranscriptionURL string `json:"transcription_url"`
		SubtaskStatus    string `json:"subtask_status"`
	} `json:"results"`
}

type apiResponse struct {
	Output  taskOutput `json:"output"`
	Code    string     `json:"code"`
	Message string     `json:"message"`
}

// Submit creates an asynchronous transcription job for the audio URL and
// returns the vendor task id.
func (c *Client) Submit(ctx context.Context, fileURL string, languageHints []string) (string, error) {
	body, err := json.Marshal(submitRequest{
		Model:      c.model,
		Input:      submitInput{FileURLs: []string{fileURL}},
		Parameters: submitParameters{LanguageHints: languageHints, DiarizationEnabled: true},
	})
	if err != nil {
		return "", err
	}

	url := c.baseURL + "/api/v1/services/audio/asr/transcription"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-DashScope-Async", "enable")

	var parsed apiResponse
	if err := c.do(req, &parsed); err != nil {
		return "", fmt.Errorf("transcription submit failed: %w", err)
	}
	if parsed.Output.TaskID == "" {
		return "", fmt.Errorf("transcription submit rejected: %s %s", parsed.Code, parsed.Message)
	}

	c.logger.Debug("transcription job submitted", "task_id", parsed.Output.TaskID)
	return parsed.Output.TaskID, nil
}

// Poll fetches the job status, mapping the vendor's lifecycle states onto
// the pipeline's.
func (c *Client) Poll(ctx context.Context, jobID string) (*pipeline.RecognitionPoll, error) {
	url := c.baseURL + "/api/v1/tasks/" + jobID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var parsed apiResponse
	if err := c.do(req, &parsed); err != nil {
		return nil, fmt.Errorf("transcription poll failed: %w", err)
	}

	poll := &pipeline.RecognitionPoll{Message: parsed.Output.Message}
	switch parsed.Output.TaskStatus {
	case "PENDING":
		poll.Status = pipeline.RecognitionPending
	case "RUNNING":
		poll.Status = pipeline.RecognitionRunning
	case "SUCCEEDED":
		poll.Status = pipeline.RecognitionSucceeded
		if len(parsed.Output.Results) > 0 {
			poll.ResultURL = parsed.Output.Results[0].TranscriptionURL
		}
	case "FAILED":
		poll.Status = pipeline.RecognitionFailed
		if poll.Message == "" {
			poll.Message = parsed.Message
		}
	default:
		return nil, fmt.Errorf("unknown task status %q", parsed.Output.TaskStatus)
	}
	return poll, nil
}

type transcriptionResult struct {
	Transcripts []struct {
		Sentences []struct {
			Text      string `json:"text"`
			BeginTime int64  `json:"begin_time"`
			EndTime   int64  `json:"end_time"`
			SpeakerID *int   `json:"speaker_id"`
		} `json:"sentences"`
	} `json:"transcripts"`
}

// FetchResult downloads the finished transcription and converts its
// sentences into pipeline segments.
func (c *Client) FetchResult(ctx context.Context, resultURL string) ([]pipeline.Segment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, err
	}

	var parsed transcriptionResult
	if err := c.do(req, &parsed); err != nil {
		return nil, fmt.Errorf("transcription result fetch failed: %w", err)
	}

	var segments []pipeline.Segment
	for _, transcript := range parsed.Transcripts {
		for _, s := range transcript.Sentences {
			if s.Text == "" {
				continue
			}
			segments = append(segments, pipeline.Segment{
				Text:      s.Text,
				SpeakerID: s.SpeakerID,
				BeginMS:   s.BeginTime,
				EndMS:     s.EndTime,
			})
		}
	}
	return segments, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %.200s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
