package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
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

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExtractor scripts pipeline outcomes per video id.
type fakeExtractor struct {
	mu        sync.Mutex
	runs      atomic.Int32
	failing   map[string]error
	captioned map[string]bool

	// block, when non-nil, holds every Run until closed.
	block chan struct{}
}

func (f *fakeExtractor) Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	f.runs.Add(1)

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if req.Cancelled != nil && req.Cancelled() {
		return nil, pipeline.ErrCancelled
	}

	if req.Listener != nil {
		req.Listener.Progress(20, "downloading audio")
		req.Listener.Progress(70, "running speech recognition")
	}

	f.mu.Lock()
	err := f.failing[req.VideoID]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if req.Listener != nil {
		req.Listener.Progress(100, "extraction complete")
	}
	return &pipeline.Result{
		Title:      req.VideoID + " title",
		Transcript: "transcript of " + req.VideoID,
		Source:     pipeline.SourceRecognition,
	}, nil
}

func (f *fakeExtractor) HasNativeCaptions(ctx context.Context, videoID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captioned[videoID]
}

type serviceHarness struct {
	svc       *ExtractService
	extractor *fakeExtractor
	store     *registry.MemStore
	gate      *gate.GuestGate
}

func newHarness(t *testing.T, extractor *fakeExtractor) *serviceHarness {
	t.Helper()
	logger := setupTestLogger()

	memStore := registry.NewMemStore()
	pools := Pools{
		Direct: gate.NewPool("direct", 4, 64, logger),
		Anon:   gate.NewPool("anon", 4, 64, logger),
		Guest:  gate.NewPool("guest", 4, 64, logger),
	}
	pools.Direct.Start()
	pools.Anon.Start()
	pools.Guest.Start()
	t.Cleanup(func() {
		pools.Direct.Stop()
		pools.Anon.Stop()
		pools.Guest.Stop()
	})

	guestGate := gate.NewGuestGate(2, logger)

	svc := NewExtractService(
		Config{
			StreamHeartbeat: time.Minute,
			PresortTimeout:  time.Second,
		},
		extractor,
		registry.NewBatchRegistry(logger),
		registry.NewExtractTaskRegistry(memStore, logger),
		pools,
		guestGate,
		logger,
	)
	return &serviceHarness{svc: svc, extractor: extractor, store: memStore, gate: guestGate}
}

func waitForBatch(t *testing.T, svc *ExtractService, batchID uuid.UUID) *domain.BatchJob {
	t.Helper()
	var snapshot *domain.BatchJob
	require.Eventually(t, func() bool {
		snap, err := svc.GetBatch(batchID)
		if err != nil {
			return false
		}
		snapshot = snap
		return snap.Status != domain.BatchStatusProcessing
	}, 5*time.Second, 10*time.Millisecond, "batch did not settle")
	return snapshot
}

func TestSubmitBatch_Validation(t *testing.T) {
	h := newHarness(t, &fakeExtractor{})

	_, err := h.svc.SubmitBatch(context.Background(), Caller{ID: uuid.New()}, nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, err = h.svc.SubmitBatch(context.Background(), Caller{ID: uuid.New()}, []domain.VideoRef{
		{VideoID: "BV1a"},
		{VideoID: ""},
	})
	assert.ErrorIs(t, err, ErrInvalidVideoRef)
}

func TestSubmitBatch_MixedOutcomes(t *testing.T) {
	// Three videos: the second has native captions, recognition fails for
	// the third. Expected: completed, completed, error; aggregate
	// completed with all three counted as finished.
	extractor := &fakeExtractor{
		captioned: map[string]bool{"vid2": true},
		failing:   map[string]error{"vid3": errors.New("recognition job failed")},
	}
	h := newHarness(t, extractor)

	batchID, err := h.svc.SubmitBatch(context.Background(), Caller{ID: uuid.New()}, []domain.VideoRef{
		{VideoID: "vid1", Title: "one"},
		{VideoID: "vid2", Title: "two"},
		{VideoID: "vid3", Title: "three"},
	})
	require.NoError(t, err)

	snap := waitForBatch(t, h.svc, batchID)

	assert.Equal(t, domain.BatchStatusCompleted, snap.Status)
	assert.Equal(t, 3, snap.CompletedCount)

	byOriginal := make(map[int]domain.VideoTask, len(snap.Videos))
	for _, v := range snap.Videos {
		byOriginal[v.OriginalIndex] = v
	}
	assert.Equal(t, domain.VideoStatusCompleted, byOriginal[0].Status)
	assert.Equal(t, domain.VideoStatusCompleted, byOriginal[1].Status)
	assert.Equal(t, domain.VideoStatusError, byOriginal[2].Status)
	assert.Contains(t, byOriginal[2].Error, "recognition job failed")
	assert.Equal(t, "transcript of vid1", byOriginal[0].Transcript)
}

func TestSubmitBatch_PresortMovesCaptionedFirst(t *testing.T) {
	extractor := &fakeExtractor{captioned: map[string]bool{"vid3": true}}
	h := newHarness(t, extractor)

	batchID, err := h.svc.SubmitBatch(context.Background(), Caller{ID: uuid.New()}, []domain.VideoRef{
		{VideoID: "vid1"},
		{VideoID: "vid2"},
		{VideoID: "vid3"},
	})
	require.NoError(t, err)

	snap := waitForBatch(t, h.svc, batchID)

	// The captioned video was submitted first but keeps its original index.
	require.Len(t, snap.Videos, 3)
	assert.Equal(t, 2, snap.Videos[0].OriginalIndex)
}

func TestCancelBatch_MidFlight(t *testing.T) {
	extractor := &fakeExtractor{block: make(chan struct{})}
	h := newHarness(t, extractor)

	batchID, err := h.svc.SubmitBatch(context.Background(), Caller{ID: uuid.New()}, []domain.VideoRef{
		{VideoID: "vid1"},
		{VideoID: "vid2"},
	})
	require.NoError(t, err)

	// Let the workers pick the jobs up, then cancel while they are blocked.
	require.Eventually(t, func() bool {
		return extractor.runs.Load() == 2
	}, 5*time.Second, 5*time.Millisecond)

	result, err := h.svc.CancelBatch(batchID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCancelled, result.Status)
	assert.Len(t, result.AffectedIndices, 2)

	// Unblock the in-flight work; its late updates must be discarded.
	close(extractor.block)

	time.Sleep(50 * time.Millisecond)
	snap, err := h.svc.GetBatch(batchID)
	require.NoError(t, err)
	for _, v := range snap.Videos {
		assert.Equal(t, domain.VideoStatusCancelled, v.Status)
		assert.Equal(t, 100, v.Progress)
	}
}

func TestSubmitBatch_GuestReleasesGateSlots(t *testing.T) {
	h := newHarness(t, &fakeExtractor{})

	batchID, err := h.svc.SubmitBatch(context.Background(), Caller{ID: uuid.New(), Guest: true}, []domain.VideoRef{
		{VideoID: "vid1"},
		{VideoID: "vid2"},
		{VideoID: "vid3"},
		{VideoID: "vid4"},
	})
	require.NoError(t, err)

	snap := waitForBatch(t, h.svc, batchID)
	assert.Equal(t, domain.BatchStatusCompleted, snap.Status)

	status := h.svc.GuestStatus()
	assert.Equal(t, 0, status.Active, "all gate slots must be released")
	assert.Equal(t, 0, status.Queued)
}

func TestSubmitTask_Lifecycle(t *testing.T) {
	h := newHarness(t, &fakeExtractor{})
	caller := Caller{ID: uuid.New()}

	taskID, err := h.svc.SubmitTask(context.Background(), caller, "vid1", "a title", false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, err := h.svc.GetTask(context.Background(), taskID)
		return err == nil && task.Status == domain.ExtractStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	task, err := h.svc.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, 100, task.Progress)
	assert.Equal(t, "transcript of vid1", task.Transcript)

	// The terminal record reached the store mirror.
	stored, err := h.store.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExtractStatusCompleted, stored.Status)
}

func TestSubmitTask_DuplicateDoesNotRunTwice(t *testing.T) {
	extractor := &fakeExtractor{block: make(chan struct{})}
	h := newHarness(t, extractor)
	caller := Caller{ID: uuid.New()}

	first, err := h.svc.SubmitTask(context.Background(), caller, "vid1", "", false)
	require.NoError(t, err)

	second, err := h.svc.SubmitTask(context.Background(), caller, "vid1", "", false)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	close(extractor.block)
	require.Eventually(t, func() bool {
		task, err := h.svc.GetTask(context.Background(), first)
		return err == nil && task.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), extractor.runs.Load(), "duplicate submission must not schedule more work")
}

func TestSubmitTask_RejectsEmptyVideoID(t *testing.T) {
	h := newHarness(t, &fakeExtractor{})
	_, err := h.svc.SubmitTask(context.Background(), Caller{ID: uuid.New()}, "", "", false)
	assert.ErrorIs(t, err, ErrInvalidVideoRef)
}

func TestCancelTask_MidFlight(t *testing.T) {
	extractor := &fakeExtractor{block: make(chan struct{})}
	h := newHarness(t, extractor)
	caller := Caller{ID: uuid.New()}

	taskID, err := h.svc.SubmitTask(context.Background(), caller, "vid1", "", false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return extractor.runs.Load() == 1
	}, 5*time.Second, 5*time.Millisecond)

	assert.True(t, h.svc.CancelTask(context.Background(), taskID))

	// The blocked work observes the cancel at its next checkpoint.
	close(extractor.block)

	require.Eventually(t, func() bool {
		task, err := h.svc.GetTask(context.Background(), taskID)
		return err == nil && task.Status == domain.ExtractStatusCancelled
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTaskFailurePreservesMessage(t *testing.T) {
	extractor := &fakeExtractor{
		failing: map[string]error{"vid1": fmt.Errorf("%w: every host rejected the file", pipeline.ErrAllHostsFailed)},
	}
	h := newHarness(t, extractor)

	taskID, err := h.svc.SubmitTask(context.Background(), Caller{ID: uuid.New()}, "vid1", "", true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, err := h.svc.GetTask(context.Background(), taskID)
		return err == nil && task.Status == domain.ExtractStatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	task, err := h.svc.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Contains(t, task.Error, "every host rejected the file")
}

func TestStatusForProgress(t *testing.T) {
	tests := []struct {
		percent int
		want    domain.ExtractTaskStatus
	}{
		{0, domain.ExtractStatusPending},
		{4, domain.ExtractStatusPending},
		{5, domain.ExtractStatusDownloading},
		{39, domain.ExtractStatusDownloading},
		{40, domain.ExtractStatusUploading},
		{47, domain.ExtractStatusUploading},
		{48, domain.ExtractStatusTranscribing},
		{94, domain.ExtractStatusTranscribing},
		{95, domain.ExtractStatusProcessing},
		{100, domain.ExtractStatusProcessing},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForProgress(tt.percent), "percent %d", tt.percent)
	}
}

func TestJanitorEvictsOldRecords(t *testing.T) {
	h := newHarness(t, &fakeExtractor{})
	caller := Caller{ID: uuid.New()}

	taskID, err := h.svc.SubmitTask(context.Background(), caller, "vid1", "", false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, err := h.svc.GetTask(context.Background(), taskID)
		return err == nil && task.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	// Fresh terminal records survive a janitor pass.
	h.svc.runJanitor(context.Background())
	_, err = h.store.GetTask(context.Background(), taskID)
	assert.NoError(t, err)
}
