package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- fakes ---

type fakeInfo struct {
	info *VideoInfo
}

func (f *fakeInfo) GetInfo(ctx context.Context, videoID string) (*VideoInfo, error) {
	return f.info, nil
}

type fakeCaptions struct {
	text  string
	err   error
	calls int
}

func (f *fakeCaptions) GetCaptions(ctx context.Context, videoID string, langPriority []string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeDownloader struct {
	duration float64
	err      error
	called   bool
	path     string
}

func (f *fakeDownloader) Download(ctx context.Context, videoID, destDir string, progress DownloadProgressFunc) (string, float64, error) {
	f.called = true
	if f.err != nil {
		return "", 0, f.err
	}
	file, err := os.CreateTemp(destDir, "audio-*.m4a")
	if err != nil {
		return "", 0, err
	}
	_ = file.Close()
	f.path = file.Name()
	if progress != nil {
		progress(50)
		progress(100)
	}
	return f.path, f.duration, nil
}

type fakeHost struct {
	name      string
	probeURL  string
	uploadURL string
	uploadErr error
	delay     time.Duration
}

func (f *fakeHost) Name() string     { return f.name }
func (f *fakeHost) ProbeURL() string { return f.probeURL }

func (f *fakeHost) Upload(ctx context.Context, filePath string) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return f.uploadURL, nil
}

type scriptedRecognizer struct {
	submitErr error
	submitted bool

	mu       sync.Mutex
	polls    []RecognitionPoll
	pollErrs []error
	pollIdx  int

	segments []Segment
	fetchErr error
}

func (r *scriptedRecognizer) Submit(ctx context.Context, fileURL string, hints []string) (string, error) {
	r.submitted = true
	if r.submitErr != nil {
		return "", r.submitErr
	}
	return "job-1", nil
}

func (r *scriptedRecognizer) Poll(ctx context.Context, jobID string) (*RecognitionPoll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.pollIdx
	r.pollIdx++
	if i < len(r.pollErrs) && r.pollErrs[i] != nil {
		return nil, r.pollErrs[i]
	}
	if len(r.polls) == 0 {
		return &RecognitionPoll{Status: RecognitionPending}, nil
	}
	if i >= len(r.polls) {
		i = len(r.polls) - 1
	}
	poll := r.polls[i]
	return &poll, nil
}

func (r *scriptedRecognizer) FetchResult(ctx context.Context, resultURL string) ([]Segment, error) {
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	return r.segments, nil
}

type recordingListener struct {
	mu       sync.Mutex
	progress []int
	logs     []string
}

func (l *recordingListener) Progress(percent int, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress = append(l.progress, percent)
}

func (l *recordingListener) Log(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, message)
}

func (l *recordingListener) lastProgress() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.progress) == 0 {
		return -1
	}
	return l.progress[len(l.progress)-1]
}

// validCaptionText builds a caption track that passes validation.
func validCaptionText() string {
	text := ""
	for i := 0; i < 10; i++ {
		text += fmt.Sprintf("this is spoken line number %d of the video\n", i)
	}
	return text
}

func newTestPipeline(t *testing.T, deps Deps) *Pipeline {
	t.Helper()
	if deps.Info == nil {
		deps.Info = &fakeInfo{}
	}
	cfg := Config{
		AudioDir:     t.TempDir(),
		PollInterval: time.Millisecond,
		MaxPolls:     50,
	}
	return New(cfg, deps, setupTestLogger())
}

// --- Run ---

func TestRun_NativeCaptions(t *testing.T) {
	captions := &fakeCaptions{text: validCaptionText()}
	downloader := &fakeDownloader{}
	p := newTestPipeline(t, Deps{
		Info:     &fakeInfo{info: &VideoInfo{Title: "lecture", DurationSeconds: 300}},
		Captions: captions,
		Downloader: downloader,
	})

	listener := &recordingListener{}
	result, err := p.Run(context.Background(), Request{
		VideoID:  "BV1abc",
		Listener: listener,
	})
	require.NoError(t, err)

	assert.Equal(t, SourceNativeCaptions, result.Source)
	assert.Equal(t, "lecture", result.Title)
	assert.Contains(t, result.Transcript, "spoken line number 0")
	assert.Equal(t, done, listener.lastProgress())
	assert.False(t, downloader.called, "native captions must skip the download stage")
}

func TestRun_CredentialInvalidSurfaces(t *testing.T) {
	p := newTestPipeline(t, Deps{
		Captions:   &fakeCaptions{err: fmt.Errorf("%w: track listed but no url", ErrCredentialInvalid)},
		Downloader: &fakeDownloader{},
	})

	_, err := p.Run(context.Background(), Request{VideoID: "BV1abc"})
	assert.ErrorIs(t, err, ErrCredentialInvalid)
}

func TestRun_RecognitionPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	downloader := &fakeDownloader{duration: 120}
	recognizer := &scriptedRecognizer{
		polls: []RecognitionPoll{
			{Status: RecognitionPending},
			{Status: RecognitionRunning},
			{Status: RecognitionSucceeded, ResultURL: server.URL + "/result"},
		},
		segments: []Segment{
			{Text: "hello there", SpeakerID: speaker(0), BeginMS: 0},
			{Text: "general remark", SpeakerID: speaker(1), BeginMS: 2000},
		},
	}
	p := newTestPipeline(t, Deps{
		Captions:   &fakeCaptions{err: ErrNoCaptions},
		Downloader: downloader,
		Hosts: []FileHost{
			&fakeHost{name: "hostA", probeURL: server.URL, uploadURL: server.URL + "/file"},
		},
		Recognizer: recognizer,
	})

	listener := &recordingListener{}
	result, err := p.Run(context.Background(), Request{
		VideoID:  "BV1abc",
		Title:    "fallback title",
		Listener: listener,
	})
	require.NoError(t, err)

	assert.Equal(t, SourceRecognition, result.Source)
	assert.Equal(t, "fallback title", result.Title)
	assert.Contains(t, result.Transcript, "[Speaker 1]")
	assert.Contains(t, result.Transcript, "general remark")
	assert.NotEmpty(t, result.TimedTranscript)
	assert.Equal(t, float64(120), result.DurationSeconds)
	assert.Equal(t, done, listener.lastProgress())

	// Temporary audio is removed on the way out.
	_, statErr := os.Stat(downloader.path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_DownloadFailureCleansUpNothing(t *testing.T) {
	p := newTestPipeline(t, Deps{
		Captions:   &fakeCaptions{err: ErrNoCaptions},
		Downloader: &fakeDownloader{err: errors.New("stream interrupted")},
	})

	_, err := p.Run(context.Background(), Request{VideoID: "BV1abc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audio download failed")
}

func TestRun_CancelledBeforeDownload(t *testing.T) {
	downloader := &fakeDownloader{}
	p := newTestPipeline(t, Deps{
		Captions:   &fakeCaptions{err: ErrNoCaptions},
		Downloader: downloader,
	})

	_, err := p.Run(context.Background(), Request{
		VideoID:   "BV1abc",
		Cancelled: func() bool { return true },
	})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.False(t, downloader.called)
}

func TestRun_CancelledBeforeRecognition(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	recognizer := &scriptedRecognizer{}
	checkpoints := 0
	p := newTestPipeline(t, Deps{
		Captions:   &fakeCaptions{err: ErrNoCaptions},
		Downloader: &fakeDownloader{},
		Hosts: []FileHost{
			&fakeHost{name: "hostA", probeURL: server.URL, uploadURL: server.URL + "/file"},
		},
		Recognizer: recognizer,
	})

	_, err := p.Run(context.Background(), Request{
		VideoID: "BV1abc",
		Cancelled: func() bool {
			checkpoints++
			return checkpoints > 1 // first checkpoint passes, second cancels
		},
	})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.False(t, recognizer.submitted, "cancel before submission must skip the vendor call")
}

func TestRun_DownloadProgressStaysInBand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	listener := &recordingListener{}
	p := newTestPipeline(t, Deps{
		Captions:   &fakeCaptions{err: ErrNoCaptions},
		Downloader: &fakeDownloader{},
		Hosts: []FileHost{
			&fakeHost{name: "hostA", probeURL: server.URL, uploadURL: server.URL + "/file"},
		},
		Recognizer: &scriptedRecognizer{
			polls:    []RecognitionPoll{{Status: RecognitionSucceeded, ResultURL: server.URL + "/r"}},
			segments: []Segment{{Text: "x"}},
		},
	})

	_, err := p.Run(context.Background(), Request{VideoID: "BV1abc", Listener: listener})
	require.NoError(t, err)

	// Downloader reported 50% and 100%; both must land inside 5-40.
	listener.mu.Lock()
	defer listener.mu.Unlock()
	assert.Contains(t, listener.progress, 22) // 5 + 50*0.35
	assert.Contains(t, listener.progress, 40) // 5 + 100*0.35
}

// --- upload ---

func TestUpload_FirstVerifiedHostWins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fast := &fakeHost{name: "fast", probeURL: server.URL, uploadURL: server.URL + "/fast"}
	slow := &fakeHost{name: "slow", probeURL: server.URL, uploadURL: server.URL + "/slow", delay: 5 * time.Second}
	broken := &fakeHost{name: "broken", probeURL: server.URL, uploadErr: errors.New("413 too large")}

	p := newTestPipeline(t, Deps{Hosts: []FileHost{slow, fast, broken}})

	url, err := p.uploadForRecognition(context.Background(), "/tmp/a.m4a", NopListener{})
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/fast", url)
}

func TestUpload_AllHostsFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := newTestPipeline(t, Deps{Hosts: []FileHost{
		&fakeHost{name: "a", probeURL: server.URL, uploadErr: errors.New("rejected")},
		&fakeHost{name: "b", probeURL: server.URL, uploadErr: errors.New("rejected")},
	}})

	_, err := p.uploadForRecognition(context.Background(), "/tmp/a.m4a", NopListener{})
	assert.ErrorIs(t, err, ErrAllHostsFailed)
}

func TestUpload_NoHostReachable(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close() // probe target refuses connections

	p := newTestPipeline(t, Deps{Hosts: []FileHost{
		&fakeHost{name: "a", probeURL: dead.URL},
	}})

	_, err := p.uploadForRecognition(context.Background(), "/tmp/a.m4a", NopListener{})
	assert.ErrorIs(t, err, ErrAllHostsFailed)
}

func TestUpload_SelfHostUnreachableFailsJob(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	p := newTestPipeline(t, Deps{
		SelfHost: &fakeHost{name: "self", probeURL: dead.URL, uploadURL: dead.URL + "/f"},
	})

	_, err := p.uploadForRecognition(context.Background(), "/tmp/a.m4a", NopListener{})
	assert.ErrorIs(t, err, ErrSelfHostUnreachable)
}

func TestUpload_SelfHostMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := newTestPipeline(t, Deps{
		SelfHost: &fakeHost{name: "self", probeURL: server.URL, uploadURL: server.URL + "/direct"},
		// Anonymous hosts must be ignored in self-hosted mode.
		Hosts: []FileHost{&fakeHost{name: "anon", probeURL: server.URL, uploadErr: errors.New("boom")}},
	})

	url, err := p.uploadForRecognition(context.Background(), "/tmp/a.m4a", NopListener{})
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/direct", url)
}

// --- transcription ---

func TestTranscribe_VendorFailure(t *testing.T) {
	p := newTestPipeline(t, Deps{
		Recognizer: &scriptedRecognizer{
			polls: []RecognitionPoll{{Status: RecognitionFailed, Message: "audio format unsupported"}},
		},
	})

	_, err := p.transcribe(context.Background(), "http://x/f", 60, NopListener{})
	assert.ErrorIs(t, err, ErrRecognitionFailed)
	assert.Contains(t, err.Error(), "audio format unsupported")
}

func TestTranscribe_PollCeilingTimesOut(t *testing.T) {
	cfg := Config{AudioDir: t.TempDir(), PollInterval: time.Millisecond, MaxPolls: 3}
	p := New(cfg, Deps{
		Info:       &fakeInfo{},
		Recognizer: &scriptedRecognizer{}, // forever pending
	}, setupTestLogger())

	_, err := p.transcribe(context.Background(), "http://x/f", 60, NopListener{})
	assert.ErrorIs(t, err, ErrRecognitionTimeout)
}

func TestTranscribe_RetriesTransientErrors(t *testing.T) {
	tlsErr := errors.New("remote error: tls: handshake failure")
	recognizer := &scriptedRecognizer{
		pollErrs: []error{tlsErr, tlsErr},
		polls: []RecognitionPoll{
			{}, {},
			{Status: RecognitionSucceeded, ResultURL: "http://x/result"},
		},
		segments: []Segment{{Text: "recovered"}},
	}
	p := newTestPipeline(t, Deps{Recognizer: recognizer})

	segments, err := p.transcribe(context.Background(), "http://x/f", 60, NopListener{})
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "recovered", segments[0].Text)
}

func TestTranscribe_NonTransientErrorSurfacesImmediately(t *testing.T) {
	recognizer := &scriptedRecognizer{
		pollErrs: []error{errors.New("401 unauthorized")},
	}
	p := newTestPipeline(t, Deps{Recognizer: recognizer})

	_, err := p.transcribe(context.Background(), "http://x/f", 60, NopListener{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to poll recognition job")
}

func TestIsTransientTransportError(t *testing.T) {
	assert.True(t, isTransientTransportError(errors.New("remote error: tls: bad record MAC")))
	assert.True(t, isTransientTransportError(errors.New("read tcp: connection reset by peer")))
	assert.False(t, isTransientTransportError(errors.New("404 not found")))
}
