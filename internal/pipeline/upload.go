package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const (
	hostProbeTimeout = 3 * time.Second
	urlVerifyTimeout = 10 * time.Second
)

// uploadForRecognition makes the audio file publicly reachable for the
// recognition vendor. In self-hosted mode the configured origin must be
// reachable or the job fails; otherwise the pipeline races uploads to the
// anonymous hosts and accepts the first verified result.
func (p *Pipeline) uploadForRecognition(ctx context.Context, path string, listener Listener) (string, error) {
	listener.Progress(uploadStart, "uploading audio for recognition")

	if p.selfHost != nil {
		if !p.headStatusBelow(ctx, p.selfHost.ProbeURL(), 500, hostProbeTimeout) {
			return "", ErrSelfHostUnreachable
		}
		url, err := p.selfHost.Upload(ctx, path)
		if err != nil {
			return "", fmt.Errorf("self-hosted upload failed: %w", err)
		}
		listener.Progress(uploadEnd, "audio uploaded")
		return url, nil
	}

	url, err := p.raceHosts(ctx, path, listener)
	if err != nil {
		return "", err
	}
	listener.Progress(uploadEnd, "audio uploaded")
	return url, nil
}

// raceHosts probes every host for availability, then uploads to all
// available hosts concurrently and returns the first URL that verifies as
// reachable, cancelling the remaining uploads.
func (p *Pipeline) raceHosts(ctx context.Context, path string, listener Listener) (string, error) {
	available := p.probeHosts(ctx, listener)
	if len(available) == 0 {
		return "", fmt.Errorf("%w: no host reachable", ErrAllHostsFailed)
	}
	listener.Log(fmt.Sprintf("%d file hosts available, uploading concurrently", len(available)))

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		host string
		url  string
		ok   bool
	}
	results := make(chan outcome, len(available))

	for _, host := range available {
		go func(h FileHost) {
			url, err := h.Upload(raceCtx, path)
			if err != nil || url == "" {
				results <- outcome{host: h.Name()}
				return
			}
			if !p.headStatusBelow(raceCtx, url, 400, urlVerifyTimeout) {
				results <- outcome{host: h.Name()}
				return
			}
			results <- outcome{host: h.Name(), url: url, ok: true}
		}(host)
	}

	for range available {
		select {
		case res := <-results:
			if res.ok {
				listener.Log(fmt.Sprintf("upload succeeded via %s", res.host))
				return res.url, nil
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return "", ErrAllHostsFailed
}

// probeHosts checks all hosts concurrently and returns those whose probe
// endpoint answers without a server error.
func (p *Pipeline) probeHosts(ctx context.Context, listener Listener) []FileHost {
	type probe struct {
		host FileHost
		ok   bool
	}
	results := make(chan probe, len(p.hosts))

	for _, host := range p.hosts {
		go func(h FileHost) {
			results <- probe{host: h, ok: p.headStatusBelow(ctx, h.ProbeURL(), 500, hostProbeTimeout)}
		}(host)
	}

	var available []FileHost
	for range p.hosts {
		res := <-results
		if res.ok {
			available = append(available, res.host)
			listener.Log(fmt.Sprintf("file host %s available", res.host.Name()))
		}
	}
	return available
}

// headStatusBelow issues a HEAD request and reports whether the response
// status is below the threshold. Any transport error counts as a failure.
func (p *Pipeline) headStatusBelow(ctx context.Context, url string, threshold int, timeout time.Duration) bool {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode < threshold
}
