package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/korvane/vidsub-api/internal/domain"
	"github.com/korvane/vidsub-api/internal/gate"
	"github.com/korvane/vidsub-api/internal/pipeline"
	"github.com/korvane/vidsub-api/internal/registry"
)

// Extractor is the pipeline surface the service drives. Satisfied by
// *pipeline.Pipeline.
type Extractor interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	HasNativeCaptions(ctx context.Context, videoID string) bool
}

// Caller identifies the submitting caller and its traffic class.
type Caller struct {
	ID uuid.UUID

	// Guest marks low-trust callers throttled by the guest gate in
	// addition to their worker pool.
	Guest bool

	// DirectLink marks privileged traffic using self-hosted direct-link
	// uploads, which runs in its own pool so anonymous-host load cannot
	// starve it.
	DirectLink bool
}

// Pools groups the per-traffic-class worker pools.
type Pools struct {
	Direct *gate.Pool
	Anon   *gate.Pool
	Guest  *gate.Pool
}

// Config holds service-level tunables.
type Config struct {
	// StreamHeartbeat is the idle wait before a heartbeat event is emitted
	// on a streaming connection.
	StreamHeartbeat time.Duration

	// RetentionAge is how long terminal records are kept before the
	// janitor evicts them.
	RetentionAge time.Duration

	// JanitorInterval is how often the janitor runs.
	JanitorInterval time.Duration

	// PresortTimeout bounds the best-effort native-caption probe used to
	// order batch submissions.
	PresortTimeout time.Duration
}

// ExtractService coordinates submissions, registries, pools, and the
// pipeline.
type ExtractService struct {
	cfg       Config
	extractor Extractor
	batches   *registry.BatchRegistry
	tasks     *registry.ExtractTaskRegistry
	pools     Pools
	guestGate *gate.GuestGate
	logger    *slog.Logger
}

// NewExtractService wires the service together. All dependencies are
// required except cfg fields, which fall back to defaults.
func NewExtractService(
	cfg Config,
	extractor Extractor,
	batches *registry.BatchRegistry,
	tasks *registry.ExtractTaskRegistry,
	pools Pools,
	guestGate *gate.GuestGate,
	logger *slog.Logger,
) *ExtractService {
	if cfg.StreamHeartbeat <= 0 {
		cfg.StreamHeartbeat = 120 * time.Second
	}
	if cfg.RetentionAge <= 0 {
		cfg.RetentionAge = 24 * time.Hour
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = time.Hour
	}
	if cfg.PresortTimeout <= 0 {
		cfg.PresortTimeout = 5 * time.Second
	}
	return &ExtractService{
		cfg:       cfg,
		extractor: extractor,
		batches:   batches,
		tasks:     tasks,
		pools:     pools,
		guestGate: guestGate,
		logger:    logger.With("component", "extract_service"),
	}
}

// poolFor picks the worker pool for the caller's traffic class.
func (s *ExtractService) poolFor(caller Caller) *gate.Pool {
	switch {
	case caller.Guest:
		return s.pools.Guest
	case caller.DirectLink:
		return s.pools.Direct
	default:
		return s.pools.Anon
	}
}

// SubmitBatch validates the refs, creates the batch, and queues one job per
// video in the caller's pool. Returns immediately with the batch id; work
// proceeds in background workers. Videos with pre-detected native captions
// are moved to the front of the submission order as a best-effort
// optimization.
func (s *ExtractService) SubmitBatch(ctx context.Context, caller Caller, refs []domain.VideoRef) (uuid.UUID, error) {
	if len(refs) == 0 {
		return uuid.Nil, ErrEmptyBatch
	}
	// Stamp the original submission order before any re-sorting; it is the
	// stable ordering key callers see.
	indexed := make([]domain.VideoRef, len(refs))
	copy(indexed, refs)
	for i := range indexed {
		if indexed[i].VideoID == "" {
			return uuid.Nil, fmt.Errorf("%w: empty video id", ErrInvalidVideoRef)
		}
		indexed[i].Index = i
	}

	ordered := s.presortByCaptions(ctx, indexed)

	batchID := s.batches.CreateBatch(len(ordered))
	s.logger.Info("batch submitted",
		"batch_id", batchID,
		"total", len(ordered),
		"caller_id", caller.ID,
		"guest", caller.Guest)

	pool := s.poolFor(caller)
	for _, ref := range ordered {
		index, err := s.batches.AddVideo(batchID, ref)
		if err != nil {
			return uuid.Nil, err
		}

		ref := ref
		submitErr := pool.Submit(func(jobCtx context.Context) {
			s.runBatchVideo(jobCtx, caller, batchID, index, ref)
		})
		if submitErr != nil {
			// The queue is full; fail this video without touching its
			// siblings.
			_ = s.batches.SetVideoStatus(batchID, index, domain.VideoStatusError, registry.VideoUpdate{
				Progress: registry.IntPtr(100),
				Error:    ErrQueueSaturated.Error(),
			})
		}
	}

	return batchID, nil
}

// presortByCaptions probes each video for usable native captions
// concurrently and moves captioned videos to the front, preserving the
// original submission index on every entry. Probe failures leave the
// original order untouched.
func (s *ExtractService) presortByCaptions(ctx context.Context, refs []domain.VideoRef) []domain.VideoRef {
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.PresortTimeout)
	defer cancel()

	type probe struct {
		pos      int
		captions bool
	}
	results := make(chan probe, len(refs))
	for pos, ref := range refs {
		go func(pos int, videoID string) {
			results <- probe{pos: pos, captions: s.extractor.HasNativeCaptions(probeCtx, videoID)}
		}(pos, ref.VideoID)
	}

	captioned := make(map[int]bool, len(refs))
	for range refs {
		res := <-results
		captioned[res.pos] = res.captions
	}

	ordered := make([]domain.VideoRef, len(refs))
	copy(ordered, refs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return captioned[ordered[i].Index] && !captioned[ordered[j].Index]
	})
	return ordered
}

// runBatchVideo executes the pipeline for one batch video inside a worker.
// Guest callers additionally pass through the fair-queuing gate. Late
// status updates after a batch cancel are rejected by the registry and
// silently dropped here.
func (s *ExtractService) runBatchVideo(ctx context.Context, caller Caller, batchID uuid.UUID, index int, ref domain.VideoRef) {
	if s.batches.IsCancelled(batchID) {
		return
	}

	if caller.Guest {
		_ = s.batches.SetVideoStatus(batchID, index, domain.VideoStatusQueued, registry.VideoUpdate{})
		if err := s.guestGate.Acquire(ctx); err != nil {
			s.setVideoOutcome(batchID, index, domain.VideoStatusError, "cancelled while waiting for a slot", "")
			return
		}
		defer s.guestGate.Release()

		// The batch may have been cancelled while this video waited.
		if s.batches.IsCancelled(batchID) {
			return
		}
	}

	_ = s.batches.SetVideoStatus(batchID, index, domain.VideoStatusProcessing, registry.VideoUpdate{
		Progress: registry.IntPtr(0),
	})

	listener := pipeline.FuncListener{
		ProgressFunc: func(percent int, message string) {
			_ = s.batches.SetVideoStatus(batchID, index, domain.VideoStatusProcessing, registry.VideoUpdate{
				Progress: registry.IntPtr(percent),
			})
		},
	}

	result, err := s.extractor.Run(ctx, pipeline.Request{
		VideoID:   ref.VideoID,
		Title:     ref.Title,
		Listener:  listener,
		Cancelled: func() bool { return s.batches.IsCancelled(batchID) },
	})

	switch {
	case err == nil:
		s.setVideoOutcome(batchID, index, domain.VideoStatusCompleted, "", result.Transcript)
	case errors.Is(err, pipeline.ErrCancelled):
		// The registry already latched cancelled for this video.
	default:
		s.setVideoOutcome(batchID, index, domain.VideoStatusError, err.Error(), "")
	}
}

func (s *ExtractService) setVideoOutcome(batchID uuid.UUID, index int, status domain.VideoStatus, errMsg, transcript string) {
	update := registry.VideoUpdate{
		Progress:   registry.IntPtr(100),
		Error:      errMsg,
		Transcript: transcript,
	}
	if err := s.batches.SetVideoStatus(batchID, index, status, update); err != nil &&
		!errors.Is(err, registry.ErrVideoTerminal) {
		s.logger.Warn("failed to record video outcome",
			"batch_id", batchID,
			"index", index,
			"status", status,
			"error", err)
	}
}

// GetBatch returns a snapshot of the batch.
func (s *ExtractService) GetBatch(batchID uuid.UUID) (*domain.BatchJob, error) {
	return s.batches.Snapshot(batchID)
}

// CancelBatch flips every pending/queued/processing video to cancelled and
// the batch to cancelled. In-flight work is not interrupted; its eventual
// updates are rejected by the terminal latch.
func (s *ExtractService) CancelBatch(batchID uuid.UUID) (*registry.CancelResult, error) {
	return s.batches.CancelBatch(batchID)
}

// SubmitTask creates (or re-uses) a durable task for the caller and video
// and schedules pipeline work only when the task is new.
func (s *ExtractService) SubmitTask(ctx context.Context, caller Caller, videoID, title string, useSpeechRecognition bool) (uuid.UUID, error) {
	if videoID == "" {
		return uuid.Nil, fmt.Errorf("%w: empty video id", ErrInvalidVideoRef)
	}

	taskID, created, err := s.tasks.CreateTask(ctx, caller.ID, videoID, title, useSpeechRecognition)
	if err != nil {
		return uuid.Nil, err
	}
	if !created {
		return taskID, nil
	}

	submitErr := s.poolFor(caller).Submit(func(jobCtx context.Context) {
		s.runDurableTask(jobCtx, caller, taskID, videoID, title, useSpeechRecognition, nil)
	})
	if submitErr != nil {
		_ = s.tasks.UpdateTask(ctx, taskID, registry.TaskUpdate{
			Status: domain.ExtractStatusFailed,
			Error:  ErrQueueSaturated.Error(),
		})
		return uuid.Nil, ErrQueueSaturated
	}

	return taskID, nil
}

// runDurableTask executes the pipeline for one durable task, reporting
// progress and stage transitions into the task registry. An extra listener
// may observe the same events (used by the streaming path).
func (s *ExtractService) runDurableTask(ctx context.Context, caller Caller, taskID uuid.UUID, videoID, title string, useSpeechRecognition bool, extra pipeline.Listener) {
	if caller.Guest {
		if err := s.guestGate.Acquire(ctx); err != nil {
			s.finishTask(ctx, taskID, domain.ExtractStatusFailed, "cancelled while waiting for a slot", nil)
			return
		}
		defer s.guestGate.Release()

		if s.tasks.IsCancelled(ctx, taskID) {
			return
		}
	}

	listeners := pipeline.Listeners{s.taskListener(ctx, taskID)}
	if extra != nil {
		listeners = append(listeners, extra)
	}

	result, err := s.extractor.Run(ctx, pipeline.Request{
		VideoID:          videoID,
		Title:            title,
		ForceRecognition: useSpeechRecognition,
		Listener:         listeners,
		Cancelled:        func() bool { return s.tasks.IsCancelled(ctx, taskID) },
	})

	switch {
	case err == nil:
		s.finishTask(ctx, taskID, domain.ExtractStatusCompleted, "", result)
	case errors.Is(err, pipeline.ErrCancelled):
		// CancelTask already latched the status.
	default:
		s.finishTask(ctx, taskID, domain.ExtractStatusFailed, err.Error(), nil)
	}
}

// taskListener maps pipeline progress into durable-task updates, deriving
// the stage status from the progress band.
func (s *ExtractService) taskListener(ctx context.Context, taskID uuid.UUID) pipeline.Listener {
	return pipeline.FuncListener{
		ProgressFunc: func(percent int, message string) {
			_ = s.tasks.UpdateTask(ctx, taskID, registry.TaskUpdate{
				Status:    statusForProgress(percent),
				Progress:  registry.IntPtr(percent),
				StageDesc: message,
			})
		},
	}
}

// statusForProgress derives the durable-task stage status from the overall
// progress percentage, mirroring the pipeline's stage bands.
func statusForProgress(percent int) domain.ExtractTaskStatus {
	switch {
	case percent < 5:
		return domain.ExtractStatusPending
	case percent < 40:
		return domain.ExtractStatusDownloading
	case percent < 48:
		return domain.ExtractStatusUploading
	case percent < 95:
		return domain.ExtractStatusTranscribing
	case percent < 100:
		return domain.ExtractStatusProcessing
	default:
		return domain.ExtractStatusProcessing
	}
}

func (s *ExtractService) finishTask(ctx context.Context, taskID uuid.UUID, status domain.ExtractTaskStatus, errMsg string, result *pipeline.Result) {
	update := registry.TaskUpdate{
		Status:   status,
		Progress: registry.IntPtr(100),
		Error:    errMsg,
	}
	if result != nil {
		update.Transcript = result.Transcript
		update.TimedTranscript = result.TimedTranscript
	}
	if err := s.tasks.UpdateTask(ctx, taskID, update); err != nil &&
		!errors.Is(err, registry.ErrTaskTerminal) {
		s.logger.Warn("failed to record task outcome",
			"task_id", taskID,
			"status", status,
			"error", err)
	}
}

// GetTask returns a snapshot of the durable task.
func (s *ExtractService) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.ExtractTask, error) {
	return s.tasks.GetTask(ctx, taskID)
}

// CancelTask cancels the durable task. Returns false when the task is
// already completed or failed.
func (s *ExtractService) CancelTask(ctx context.Context, taskID uuid.UUID) bool {
	return s.tasks.CancelTask(ctx, taskID)
}

// ListActiveTasks returns the caller's non-terminal tasks, newest first.
func (s *ExtractService) ListActiveTasks(ctx context.Context, callerID uuid.UUID, limit int) ([]*domain.ExtractTask, error) {
	return s.tasks.ListActiveForOwner(ctx, callerID, limit)
}

// ListTasks returns the caller's tasks regardless of status, newest first.
func (s *ExtractService) ListTasks(ctx context.Context, callerID uuid.UUID, limit int) ([]*domain.ExtractTask, error) {
	return s.tasks.ListForOwner(ctx, callerID, limit)
}

// GuestStatus reports the guest gate's live counters.
func (s *ExtractService) GuestStatus() gate.Status {
	return s.guestGate.Status()
}

// StartJanitor runs periodic eviction of old terminal records from both
// registries until the context is cancelled.
func (s *ExtractService) StartJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.JanitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runJanitor(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *ExtractService) runJanitor(ctx context.Context) {
	deleted, err := s.tasks.EvictOlderThan(ctx, s.cfg.RetentionAge)
	if err != nil {
		s.logger.Error("task eviction failed", "error", err)
	}
	evicted := s.batches.EvictOlderThan(s.cfg.RetentionAge)
	if deleted > 0 || evicted > 0 {
		s.logger.Info("janitor pass complete",
			"tasks_deleted", deleted,
			"batches_evicted", evicted)
	}
}
