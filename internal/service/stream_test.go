package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korvane/vidsub-api/internal/domain"
	"github.com/korvane/vidsub-api/internal/gate"
	"github.com/korvane/vidsub-api/internal/pipeline"
	"github.com/korvane/vidsub-api/internal/registry"
)

// floodingExtractor emits far more progress events than the stream buffer
// holds, then completes. finished receives the video id after each run.
type floodingExtractor struct {
	progressEvents int
	finished       chan string
}

func (f *floodingExtractor) Run(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	if req.Listener != nil {
		for i := 0; i < f.progressEvents; i++ {
			req.Listener.Progress(50, "working")
		}
	}
	if f.finished != nil {
		f.finished <- req.VideoID
	}
	return &pipeline.Result{Transcript: "transcript of " + req.VideoID}, nil
}

func (f *floodingExtractor) HasNativeCaptions(_ context.Context, _ string) bool {
	return false
}

func collectEvents(t *testing.T, events <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("stream did not close within %v; got %d events", timeout, len(got))
		}
	}
}

func TestStreamExtract_RejectsEmptyVideoID(t *testing.T) {
	h := newHarness(t, &fakeExtractor{})
	_, err := h.svc.StreamExtract(context.Background(), Caller{ID: uuid.New()}, "", "", false)
	assert.ErrorIs(t, err, ErrInvalidVideoRef)
}

func TestStreamExtract_SuccessEmitsProgressThenResult(t *testing.T) {
	h := newHarness(t, &fakeExtractor{})

	events, err := h.svc.StreamExtract(context.Background(), Caller{ID: uuid.New()}, "vid1", "a title", false)
	require.NoError(t, err)

	got := collectEvents(t, events, 5*time.Second)
	require.NotEmpty(t, got)

	last := got[len(got)-1]
	assert.Equal(t, EventResult, last.Type)
	assert.Empty(t, last.Err)
	require.NotNil(t, last.Result)
	assert.Equal(t, "transcript of vid1", last.Result.Transcript)
	assert.Equal(t, 100, last.Progress)

	sawProgress := false
	for _, ev := range got[:len(got)-1] {
		assert.NotEqual(t, EventResult, ev.Type, "result must be the final event")
		if ev.Type == EventProgress {
			sawProgress = true
		}
	}
	assert.True(t, sawProgress, "expected at least one progress event before the result")
}

func TestStreamExtract_FailureCarriesErrorMessage(t *testing.T) {
	extractor := &fakeExtractor{
		failing: map[string]error{"vid1": assert.AnError},
	}
	h := newHarness(t, extractor)

	events, err := h.svc.StreamExtract(context.Background(), Caller{ID: uuid.New()}, "vid1", "", true)
	require.NoError(t, err)

	got := collectEvents(t, events, 5*time.Second)
	require.NotEmpty(t, got)

	last := got[len(got)-1]
	assert.Equal(t, EventResult, last.Type)
	assert.Nil(t, last.Result)
	assert.Contains(t, last.Err, assert.AnError.Error())
}

func TestStreamExtract_HeartbeatDuringIdle(t *testing.T) {
	extractor := &fakeExtractor{block: make(chan struct{})}
	h := newHarness(t, extractor)
	h.svc.cfg.StreamHeartbeat = 20 * time.Millisecond

	events, err := h.svc.StreamExtract(context.Background(), Caller{ID: uuid.New()}, "vid1", "", false)
	require.NoError(t, err)

	// The worker is blocked, so the only traffic is heartbeats.
	var sawHeartbeat bool
	timeout := time.After(2 * time.Second)
	for !sawHeartbeat {
		select {
		case ev := <-events:
			if ev.Type == EventHeartbeat {
				sawHeartbeat = true
			}
		case <-timeout:
			t.Fatal("no heartbeat observed on an idle stream")
		}
	}

	close(extractor.block)
	for range events {
		// Drain until the worker finishes and closes the stream.
	}
}

func TestStreamExtract_AttachToRunningTask(t *testing.T) {
	extractor := &fakeExtractor{block: make(chan struct{})}
	h := newHarness(t, extractor)
	caller := Caller{ID: uuid.New()}

	taskID, err := h.svc.SubmitTask(context.Background(), caller, "vid1", "", false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return extractor.runs.Load() == 1
	}, 5*time.Second, 5*time.Millisecond)

	// A stream for the same owner and video attaches to the running task
	// instead of scheduling a second run.
	events, err := h.svc.StreamExtract(context.Background(), caller, "vid1", "", false)
	require.NoError(t, err)

	close(extractor.block)
	got := collectEvents(t, events, 5*time.Second)

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, EventResult, last.Type)
	require.NotNil(t, last.Result)
	assert.Equal(t, "transcript of vid1", last.Result.Transcript)

	assert.Equal(t, int32(1), extractor.runs.Load(), "attaching a stream must not re-run the task")

	task, err := h.svc.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExtractStatusCompleted, task.Status)
}

func TestStreamExtract_ContextCancelStopsStream(t *testing.T) {
	extractor := &fakeExtractor{block: make(chan struct{})}
	h := newHarness(t, extractor)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := h.svc.StreamExtract(ctx, Caller{ID: uuid.New()}, "vid1", "", false)
	require.NoError(t, err)

	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond, "stream channel should close after context cancel")

	// The detached worker still finishes on its own.
	close(extractor.block)
	require.Eventually(t, func() bool {
		return extractor.runs.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamExtract_AbandonedStreamDoesNotWedgeWorker(t *testing.T) {
	logger := setupTestLogger()
	extractor := &floodingExtractor{
		progressEvents: streamBuffer + 50,
		finished:       make(chan string, 2),
	}

	// A single worker per pool: one wedged job would starve the whole
	// traffic class.
	pools := Pools{
		Direct: gate.NewPool("direct", 1, 4, logger),
		Anon:   gate.NewPool("anon", 1, 4, logger),
		Guest:  gate.NewPool("guest", 1, 4, logger),
	}
	pools.Direct.Start()
	pools.Anon.Start()
	pools.Guest.Start()
	t.Cleanup(func() {
		pools.Direct.Stop()
		pools.Anon.Stop()
		pools.Guest.Stop()
	})

	svc := NewExtractService(
		Config{
			StreamHeartbeat: time.Minute,
			PresortTimeout:  time.Second,
		},
		extractor,
		registry.NewBatchRegistry(logger),
		registry.NewExtractTaskRegistry(registry.NewMemStore(), logger),
		pools,
		gate.NewGuestGate(2, logger),
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := svc.StreamExtract(ctx, Caller{ID: uuid.New()}, "vid-abandoned", "", false)
	require.NoError(t, err)

	// Abandon the stream immediately; the flood of progress events then
	// overruns the internal buffer before the result event is sent.
	cancel()
	for range events {
	}

	select {
	case <-extractor.finished:
	case <-time.After(5 * time.Second):
		t.Fatal("abandoned job never finished; worker is blocked on the result event")
	}

	// The pool's only worker must be free again for new work.
	events, err = svc.StreamExtract(context.Background(), Caller{ID: uuid.New()}, "vid-next", "", false)
	require.NoError(t, err)

	got := collectEvents(t, events, 5*time.Second)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, EventResult, last.Type)
	require.NotNil(t, last.Result)
	assert.Equal(t, "transcript of vid-next", last.Result.Transcript)
}
