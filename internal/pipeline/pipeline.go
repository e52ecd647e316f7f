package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"time"
)

// Source records where the final transcript came from.
type Source string

const (
	SourceNativeCaptions Source = "native_captions"
	SourceRecognition    Source = "speech_recognition"
)

// Config holds the tunables for one Pipeline instance.
type Config struct {
	// AudioDir is where downloaded audio is staged. Files are always
	// removed before Run returns.
	AudioDir string

	// LanguagePriority orders caption-track languages from most to least
	// preferred.
	LanguagePriority []string

	// LanguageHints are forwarded to the recognition vendor.
	LanguageHints []string

	// PollInterval is the delay between recognition poll attempts.
	PollInterval time.Duration

	// MaxPolls bounds the total poll attempts; reaching it fails the job
	// with ErrRecognitionTimeout.
	MaxPolls int
}

// Deps are the external collaborators a Pipeline runs against.
type Deps struct {
	Info       VideoInfoProvider
	Captions   CaptionProvider
	Downloader AudioDownloader

	// Hosts are the anonymous file hosts raced during upload. Ignored when
	// SelfHost is set.
	Hosts []FileHost

	// SelfHost, when non-nil, switches upload to self-hosted direct-link
	// mode: its origin must verify as publicly reachable or the job fails.
	SelfHost FileHost

	Recognizer Recognizer

	// HTTPClient is used for host probes and URL verification. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Pipeline runs videos through the extraction stage sequence.
type Pipeline struct {
	cfg        Config
	info       VideoInfoProvider
	captions   CaptionProvider
	downloader AudioDownloader
	hosts      []FileHost
	selfHost   FileHost
	recognizer Recognizer
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Pipeline. Zero-value config fields get sensible defaults.
func New(cfg Config, deps Deps, logger *slog.Logger) *Pipeline {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 600
	}
	if cfg.AudioDir == "" {
		cfg.AudioDir = os.TempDir()
	}
	client := deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Pipeline{
		cfg:        cfg,
		info:       deps.Info,
		captions:   deps.Captions,
		downloader: deps.Downloader,
		hosts:      deps.Hosts,
		selfHost:   deps.SelfHost,
		recognizer: deps.Recognizer,
		httpClient: client,
		logger:     logger.With("component", "pipeline"),
	}
}

// Request describes one extraction run.
type Request struct {
	VideoID string

	// Title is the caller-supplied title, used when metadata lookup fails.
	Title string

	// ForceRecognition skips the native-subtitle probe entirely.
	ForceRecognition bool

	// Cancelled is consulted at the cancellation checkpoints. Nil means
	// never cancelled.
	Cancelled Canceller

	// Listener receives progress and log events. Nil means no events.
	Listener Listener
}

// Result is the outcome of a successful extraction run.
type Result struct {
	Title           string
	Transcript      string
	TimedTranscript string
	Source          Source
	DurationSeconds float64
}

// Run executes the full stage sequence for one video. Any stage error
// aborts the run for this video only; downloaded audio is removed on every
// exit path. Cancellation is checked before audio download and before
// recognition submission.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	listener := req.Listener
	if listener == nil {
		listener = NopListener{}
	}
	log := p.logger.With("video_id", req.VideoID)

	listener.Progress(probeStart, "looking up video metadata")

	title := req.Title
	var duration float64
	if info, err := p.info.GetInfo(ctx, req.VideoID); err == nil && info != nil {
		if info.Title != "" {
			title = info.Title
		}
		duration = info.DurationSeconds
	}
	if title == "" {
		title = req.VideoID
	}

	if !req.ForceRecognition {
		transcript, err := p.probeNativeCaptions(ctx, req.VideoID, listener, log)
		if err == nil {
			listener.Progress(done, "extraction complete")
			return &Result{
				Title:           title,
				Transcript:      transcript,
				Source:          SourceNativeCaptions,
				DurationSeconds: duration,
			}, nil
		}
		if errors.Is(err, ErrCredentialInvalid) {
			return nil, err
		}
		if !errors.Is(err, ErrNoCaptions) {
			return nil, err
		}
		listener.Log("no usable native captions, falling back to speech recognition")
	}

	if req.Cancelled.cancelled() {
		return nil, ErrCancelled
	}

	audioPath, audioDuration, err := p.downloadAudio(ctx, req.VideoID, listener)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := os.Remove(audioPath); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn("failed to remove temporary audio file",
				"path", audioPath,
				"error", rmErr)
		}
	}()
	if audioDuration > 0 {
		duration = audioDuration
	}

	fileURL, err := p.uploadForRecognition(ctx, audioPath, listener)
	if err != nil {
		return nil, err
	}

	if req.Cancelled.cancelled() {
		return nil, ErrCancelled
	}

	segments, err := p.transcribe(ctx, fileURL, duration, listener)
	if err != nil {
		return nil, err
	}

	listener.Progress(assembleStart, "assembling result")
	transcript := assembleTranscript(segments)
	timed := assembleTimedTranscript(segments)
	if transcript == "" {
		transcript = "(no speech recognized)"
	}

	listener.Progress(done, "extraction complete")
	log.Info("extraction finished",
		"source", SourceRecognition,
		"transcript_chars", len(transcript))

	return &Result{
		Title:           title,
		Transcript:      transcript,
		TimedTranscript: timed,
		Source:          SourceRecognition,
		DurationSeconds: duration,
	}, nil
}

// HasNativeCaptions is a quick best-effort probe used for pre-sorting batch
// submissions: videos with usable native captions are cheap and can run
// first. Errors count as "no".
func (p *Pipeline) HasNativeCaptions(ctx context.Context, videoID string) bool {
	text, err := p.captions.GetCaptions(ctx, videoID, p.cfg.LanguagePriority)
	if err != nil {
		return false
	}
	return validateCaptions(text) == nil
}

// probeNativeCaptions fetches and validates a native caption track.
// Returns the transcript text, or an error wrapping ErrNoCaptions to fall
// through to recognition, or ErrCredentialInvalid which must surface.
func (p *Pipeline) probeNativeCaptions(ctx context.Context, videoID string, listener Listener, log *slog.Logger) (string, error) {
	listener.Progress(probeStart+5, "checking for native captions")

	text, err := p.captions.GetCaptions(ctx, videoID, p.cfg.LanguagePriority)
	if err != nil {
		if errors.Is(err, ErrCredentialInvalid) || errors.Is(err, ErrNoCaptions) {
			return "", err
		}
		// Transport or parse failure during the probe is not fatal; treat
		// it like a missing track and let recognition handle the video.
		log.Warn("caption probe failed", "error", err)
		return "", fmt.Errorf("%w: probe failed: %v", ErrNoCaptions, err)
	}

	if err := validateCaptions(text); err != nil {
		listener.Log("native captions rejected by validation")
		return "", err
	}

	listener.Progress(probeEnd, "native captions found")
	return text, nil
}

// downloadAudio runs the download collaborator, mapping its own percent
// complete linearly into the download band.
func (p *Pipeline) downloadAudio(ctx context.Context, videoID string, listener Listener) (string, float64, error) {
	listener.Progress(downloadStart, "downloading audio")

	path, duration, err := p.downloader.Download(ctx, videoID, p.cfg.AudioDir, func(percent float64) {
		pct := math.Min(math.Max(percent, 0), 100)
		mapped := downloadStart + pct*(downloadEnd-downloadStart)/100
		listener.Progress(int(mapped), "downloading audio")
	})
	if err != nil {
		return "", 0, fmt.Errorf("audio download failed: %w", err)
	}

	listener.Progress(downloadEnd, "audio downloaded")
	return path, duration, nil
}
