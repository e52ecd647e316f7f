package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/korvane/vidsub-api/internal/domain"
)

// Errors returned by BatchRegistry operations.
var (
	ErrBatchNotFound   = errors.New("batch not found")
	ErrVideoOutOfRange = errors.New("video index out of range")

	// ErrVideoTerminal is returned when a status update arrives for a video
	// that already reached a terminal status. The first terminal write wins;
	// late updates are rejected, never applied.
	ErrVideoTerminal = errors.New("video already in terminal status")
)

// VideoUpdate carries the optional fields of a video status update.
// Nil Progress leaves the stored progress unchanged.
type VideoUpdate struct {
	Progress   *int
	Error      string
	Transcript string
}

// IntPtr returns a pointer to n, for populating optional update fields.
func IntPtr(n int) *int {
	return &n
}

// CancelResult reports the outcome of cancelling a batch.
type CancelResult struct {
	AffectedIndices []int              `json:"affected_indices"`
	Status          domain.BatchStatus `json:"status"`
}

// BatchRegistry tracks multi-video batch jobs in memory. All mutations go
// through registry methods under a single registry-wide mutex; reads return
// deep snapshot copies so callers never observe live-mutating structures.
type BatchRegistry struct {
	mu      sync.Mutex
	batches map[uuid.UUID]*domain.BatchJob
	logger  *slog.Logger
}

// NewBatchRegistry creates an empty batch registry.
func NewBatchRegistry(logger *slog.Logger) *BatchRegistry {
	return &BatchRegistry{
		batches: make(map[uuid.UUID]*domain.BatchJob),
		logger:  logger.With("component", "batch_registry"),
	}
}

// CreateBatch registers a new batch expecting total videos and returns its id.
func (r *BatchRegistry) CreateBatch(total int) uuid.UUID {
	batchID := uuid.New()

	r.mu.Lock()
	r.batches[batchID] = &domain.BatchJob{
		ID:        batchID,
		Total:     total,
		Status:    domain.BatchStatusProcessing,
		CreatedAt: time.Now().UTC(),
		Videos:    make([]domain.VideoTask, 0, total),
	}
	r.mu.Unlock()

	r.logger.Info("batch created", "batch_id", batchID, "total", total)
	return batchID
}

// AddVideo appends a tracking entry for the given video and returns its
// positional index within the batch. The index is stable for the life of
// the batch regardless of any submission re-ordering.
func (r *BatchRegistry) AddVideo(batchID uuid.UUID, ref domain.VideoRef) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.batches[batchID]
	if !ok {
		return -1, ErrBatchNotFound
	}

	job.Videos = append(job.Videos, domain.NewVideoTask(ref))
	return len(job.Videos) - 1, nil
}

// SetVideoStatus updates one video's status and optional fields.
//
// Terminal statuses latch: once a video is completed, error or cancelled,
// any further update is rejected with ErrVideoTerminal. Completion
// accounting counts all terminal videos as finished, and the batch
// auto-transitions to completed once every video is finished, unless it was
// explicitly cancelled.
func (r *BatchRegistry) SetVideoStatus(batchID uuid.UUID, index int, status domain.VideoStatus, update VideoUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	if index < 0 || index >= len(job.Videos) {
		return ErrVideoOutOfRange
	}

	video := &job.Videos[index]
	if video.Status.IsTerminal() {
		return ErrVideoTerminal
	}

	video.Status = status
	if update.Progress != nil {
		video.Progress = *update.Progress
	}
	if update.Error != "" {
		video.Error = update.Error
	}
	if update.Transcript != "" {
		video.Transcript = update.Transcript
	}

	r.settleLocked(job)
	return nil
}

// settleLocked recomputes the finished count and auto-completes the batch.
// Caller must hold the mutex.
func (r *BatchRegistry) settleLocked(job *domain.BatchJob) {
	finished := 0
	for i := range job.Videos {
		if job.Videos[i].Status.IsTerminal() {
			finished++
		}
	}
	job.CompletedCount = finished

	if finished == job.Total && job.Status != domain.BatchStatusCancelled {
		job.Status = domain.BatchStatusCompleted
	}
}

// Snapshot returns a deep copy of the batch, safe for callers to inspect
// while workers keep mutating the registry.
func (r *BatchRegistry) Snapshot(batchID uuid.UUID) (*domain.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.batches[batchID]
	if !ok {
		return nil, ErrBatchNotFound
	}

	snap := *job
	snap.Videos = make([]domain.VideoTask, len(job.Videos))
	copy(snap.Videos, job.Videos)
	return &snap, nil
}

// VideoStatus returns the current status of a single video.
func (r *BatchRegistry) VideoStatus(batchID uuid.UUID, index int) (domain.VideoStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.batches[batchID]
	if !ok {
		return "", ErrBatchNotFound
	}
	if index < 0 || index >= len(job.Videos) {
		return "", ErrVideoOutOfRange
	}
	return job.Videos[index].Status, nil
}

// CancelBatch transitions every pending and processing video to cancelled
// with progress forced to 100, and marks the batch cancelled. It does not
// wait for in-flight work: a worker still executing for a cancelled video
// runs to completion, but its eventual status update is rejected by the
// terminal latch. Returns the original submission indices of the affected
// videos.
func (r *BatchRegistry) CancelBatch(batchID uuid.UUID) (*CancelResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.batches[batchID]
	if !ok {
		return nil, ErrBatchNotFound
	}

	affected := make([]int, 0, len(job.Videos))
	for i := range job.Videos {
		video := &job.Videos[i]
		switch video.Status {
		case domain.VideoStatusPending, domain.VideoStatusQueued, domain.VideoStatusProcessing:
			video.Status = domain.VideoStatusCancelled
			// Forced to 100 so progress bars render the slot as settled,
			// visually distinct from a successful completion.
			video.Progress = 100
			affected = append(affected, video.OriginalIndex)
		}
	}

	job.Status = domain.BatchStatusCancelled
	r.settleLocked(job)

	r.logger.Info("batch cancelled",
		"batch_id", batchID,
		"affected_count", len(affected))

	return &CancelResult{
		AffectedIndices: affected,
		Status:          job.Status,
	}, nil
}

// IsCancelled reports whether the batch has been cancelled. Pipeline
// workers poll this at their cancellation checkpoints.
func (r *BatchRegistry) IsCancelled(batchID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.batches[batchID]
	return ok && job.Status == domain.BatchStatusCancelled
}

// EvictOlderThan removes batches that reached a terminal aggregate status
// before the given age. Returns the number of batches removed.
func (r *BatchRegistry) EvictOlderThan(age time.Duration) int {
	cutoff := time.Now().UTC().Add(-age)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, job := range r.batches {
		if job.Status == domain.BatchStatusProcessing {
			continue
		}
		if job.CreatedAt.Before(cutoff) {
			delete(r.batches, id)
			removed++
		}
	}

	if removed > 0 {
		r.logger.Info("evicted old batches", "count", removed)
	}
	return removed
}
