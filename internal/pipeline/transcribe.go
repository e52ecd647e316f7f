package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"
)

const (
	// pollRetries is how many times one poll attempt retries a transient
	// transport error before surfacing it.
	pollRetries = 3

	pollRetryBackoff = time.Second
)

// transcribe submits the uploaded audio to the recognition vendor and polls
// until the job finishes, mapping poll progress into the transcription band.
// During the pending phase progress grows linearly with poll count up to a
// ceiling; during the running phase it follows a concave curve of elapsed
// time against an estimate derived from the audio duration, approaching but
// never exceeding the band's upper bound until the vendor reports success.
func (p *Pipeline) transcribe(ctx context.Context, fileURL string, durationSeconds float64, listener Listener) ([]Segment, error) {
	jobID, err := p.recognizer.Submit(ctx, fileURL, p.cfg.LanguageHints)
	if err != nil {
		return nil, fmt.Errorf("failed to submit recognition job: %w", err)
	}
	listener.Log(fmt.Sprintf("recognition job submitted: %s", jobID))
	listener.Progress(transcribeStart, "running speech recognition")

	// The vendor processes roughly 10x realtime; never estimate below 3s.
	estimate := 10.0
	if durationSeconds > 0 {
		estimate = math.Max(3, durationSeconds/10)
	}

	var (
		lastStatus   RecognitionStatus
		runningSince time.Time
		resultURL    string
	)

	for poll := 0; poll < p.cfg.MaxPolls; poll++ {
		resp, err := p.pollWithRetry(ctx, jobID, listener)
		if err != nil {
			return nil, err
		}

		if resp.Status != lastStatus {
			listener.Log(fmt.Sprintf("recognition status: %s", resp.Status))
			lastStatus = resp.Status
			if resp.Status == RecognitionRunning {
				runningSince = time.Now()
			}
		}

		switch resp.Status {
		case RecognitionPending:
			progress := float64(transcribeStart) + float64(poll)*0.5
			listener.Progress(int(math.Min(progress, pendingCeiling)), "recognition queued")

		case RecognitionRunning:
			progress := float64(pendingCeiling)
			if !runningSince.IsZero() {
				ratio := math.Min(1, time.Since(runningSince).Seconds()/estimate)
				ratio = math.Pow(ratio, 0.8)
				progress += (runningEnd - pendingCeiling) * ratio
			}
			listener.Progress(int(progress), "recognition in progress")

		case RecognitionSucceeded:
			listener.Progress(runningEnd, "recognition complete")
			resultURL = resp.ResultURL
			return p.fetchSegments(ctx, resultURL)

		case RecognitionFailed:
			msg := resp.Message
			if msg == "" {
				msg = "unknown vendor error"
			}
			return nil, fmt.Errorf("%w: %s", ErrRecognitionFailed, msg)
		}

		select {
		case <-time.After(p.cfg.PollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, ErrRecognitionTimeout
}

// pollWithRetry retries transient transport errors (TLS handshake
// failures, resets, timeouts) with a short backoff before surfacing them.
func (p *Pipeline) pollWithRetry(ctx context.Context, jobID string, listener Listener) (*RecognitionPoll, error) {
	var lastErr error
	for attempt := 1; attempt <= pollRetries; attempt++ {
		resp, err := p.recognizer.Poll(ctx, jobID)
		if err == nil {
			return resp, nil
		}
		if !isTransientTransportError(err) {
			return nil, fmt.Errorf("failed to poll recognition job: %w", err)
		}
		lastErr = err
		listener.Log(fmt.Sprintf("transient poll error, retry %d/%d", attempt, pollRetries))

		select {
		case <-time.After(pollRetryBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("poll failed after %d retries: %w", pollRetries, lastErr)
}

func (p *Pipeline) fetchSegments(ctx context.Context, resultURL string) ([]Segment, error) {
	segments, err := p.recognizer.FetchResult(ctx, resultURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recognition result: %w", err)
	}
	return segments, nil
}

// isTransientTransportError classifies errors worth retrying during the
// poll loop: timeouts, connection resets, and TLS handshake failures.
func isTransientTransportError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "tls:") ||
		strings.Contains(msg, "TLS handshake") ||
		strings.Contains(msg, "connection reset")
}
