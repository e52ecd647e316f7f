package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/korvane/vidsub-api/internal/domain"
	"github.com/korvane/vidsub-api/internal/store"
)

// Errors returned by ExtractTaskRegistry operations.
var (
	ErrTaskNotFound = errors.New("extraction task not found")

	// ErrTaskTerminal is returned when an update arrives for a task that
	// already reached a terminal status.
	ErrTaskTerminal = errors.New("extraction task already in terminal status")
)

// TaskUpdate carries the optional fields of an extraction task update.
// Zero-valued fields leave the stored values unchanged; nil Progress
// leaves progress untouched.
type TaskUpdate struct {
	Status          domain.ExtractTaskStatus
	Progress        *int
	StageDesc       string
	Error           string
	Transcript      string
	TimedTranscript string
}

// ExtractTaskRegistry tracks durable single-video extraction tasks. The
// in-memory map is the authoritative live view; every mutation is mirrored
// synchronously to the record store. Mirror failures are logged and
// swallowed so they never fail the originating request. On cache misses the
// registry falls back to the store and repopulates the cache, which is also
// how state survives a process restart.
//
// The mutex guards only the in-memory maps; it is never held across a
// store call.
type ExtractTaskRegistry struct {
	mu           sync.Mutex
	tasks        map[uuid.UUID]*domain.ExtractTask
	ownerVideoID map[uuid.UUID]map[string]uuid.UUID

	store  store.ExtractTaskStore
	logger *slog.Logger
}

// NewExtractTaskRegistry creates a registry backed by the given record store.
func NewExtractTaskRegistry(s store.ExtractTaskStore, logger *slog.Logger) *ExtractTaskRegistry {
	return &ExtractTaskRegistry{
		tasks:        make(map[uuid.UUID]*domain.ExtractTask),
		ownerVideoID: make(map[uuid.UUID]map[string]uuid.UUID),
		store:        s,
		logger:       logger.With("component", "extract_task_registry"),
	}
}

// CreateTask creates a durable task for the (owner, video) pair, or returns
// the id of the existing non-terminal task for that pair. The boolean
// reports whether a new task was created, so callers only schedule work
// once per task. The idempotency check consults the in-memory cache first,
// then the record store, so duplicate submissions are de-duplicated across
// process restarts as well.
func (r *ExtractTaskRegistry) CreateTask(ctx context.Context, ownerID uuid.UUID, videoID, title string, useSpeechRecognition bool) (uuid.UUID, bool, error) {
	r.mu.Lock()
	if id, ok := r.activeTaskIDLocked(ownerID, videoID); ok {
		r.mu.Unlock()
		return id, false, nil
	}
	r.mu.Unlock()

	// Check the record store outside the lock.
	if existing, err := r.store.GetActiveTaskByOwnerAndVideo(ctx, ownerID, videoID); err == nil {
		r.mu.Lock()
		r.insertLocked(existing)
		r.mu.Unlock()
		return existing.ID, false, nil
	} else if !store.IsNotFoundError(err) {
		r.logger.Error("record store lookup failed during create",
			"owner_id", ownerID,
			"video_id", videoID,
			"error", err)
		// The in-memory registry stays authoritative; fall through and
		// create a fresh task.
	}

	task, err := domain.NewExtractTask(ownerID, videoID, title, useSpeechRecognition)
	if err != nil {
		return uuid.Nil, false, err
	}

	r.mu.Lock()
	// A concurrent request may have created the task while we were at the
	// store; honor the first writer.
	if id, ok := r.activeTaskIDLocked(ownerID, videoID); ok {
		r.mu.Unlock()
		return id, false, nil
	}
	r.insertLocked(task)
	snapshot := task.Clone()
	r.mu.Unlock()

	r.mirror(ctx, snapshot)

	r.logger.Info("extraction task created",
		"task_id", task.ID,
		"owner_id", ownerID,
		"video_id", videoID)
	return task.ID, true, nil
}

// activeTaskIDLocked returns the cached non-terminal task id for the pair.
// Caller must hold the mutex.
func (r *ExtractTaskRegistry) activeTaskIDLocked(ownerID uuid.UUID, videoID string) (uuid.UUID, bool) {
	byVideo, ok := r.ownerVideoID[ownerID]
	if !ok {
		return uuid.Nil, false
	}
	id, ok := byVideo[videoID]
	if !ok {
		return uuid.Nil, false
	}
	task, ok := r.tasks[id]
	if !ok || task.Status.IsTerminal() {
		return uuid.Nil, false
	}
	return id, true
}

// insertLocked places a task into the cache and indexes it by owner+video.
// Caller must hold the mutex.
func (r *ExtractTaskRegistry) insertLocked(task *domain.ExtractTask) {
	r.tasks[task.ID] = task
	byVideo, ok := r.ownerVideoID[task.OwnerID]
	if !ok {
		byVideo = make(map[string]uuid.UUID)
		r.ownerVideoID[task.OwnerID] = byVideo
	}
	byVideo[task.VideoID] = task.ID
}

// UpdateTask applies the update to the task and mirrors the result to the
// record store. Updates to a task already in a terminal status are rejected
// with ErrTaskTerminal: the first terminal write wins.
func (r *ExtractTaskRegistry) UpdateTask(ctx context.Context, taskID uuid.UUID, update TaskUpdate) error {
	r.mu.Lock()
	task, ok := r.tasks[taskID]
	r.mu.Unlock()

	if !ok {
		// Cache miss: repopulate from the record store.
		loaded, err := r.store.GetTask(ctx, taskID)
		if err != nil {
			return ErrTaskNotFound
		}
		r.mu.Lock()
		if cached, exists := r.tasks[taskID]; exists {
			task = cached
		} else {
			r.insertLocked(loaded)
			task = loaded
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	if task.Status.IsTerminal() {
		r.mu.Unlock()
		return ErrTaskTerminal
	}

	if update.Status != "" {
		task.Status = update.Status
		if update.StageDesc == "" {
			task.StageDesc = update.Status.StageDescription()
		}
	}
	if update.StageDesc != "" {
		task.StageDesc = update.StageDesc
	}
	if update.Progress != nil {
		task.Progress = *update.Progress
	}
	if update.Error != "" {
		task.Error = update.Error
	}
	if update.Transcript != "" {
		task.Transcript = update.Transcript
	}
	if update.TimedTranscript != "" {
		task.TimedTranscript = update.TimedTranscript
	}
	task.UpdatedAt = time.Now().UTC()
	snapshot := task.Clone()
	r.mu.Unlock()

	r.mirror(ctx, snapshot)
	return nil
}

// GetTask returns a snapshot of the task, consulting memory first and
// falling back to the record store, repopulating the cache on a hit.
func (r *ExtractTaskRegistry) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.ExtractTask, error) {
	r.mu.Lock()
	if task, ok := r.tasks[taskID]; ok {
		snap := task.Clone()
		r.mu.Unlock()
		return snap, nil
	}
	r.mu.Unlock()

	loaded, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	r.mu.Lock()
	if cached, ok := r.tasks[taskID]; ok {
		loaded = cached
	} else {
		r.insertLocked(loaded)
	}
	snap := loaded.Clone()
	r.mu.Unlock()
	return snap, nil
}

// GetTaskByOwnerAndVideo returns a snapshot of the owner's task for the
// given video, memory first, then record store.
func (r *ExtractTaskRegistry) GetTaskByOwnerAndVideo(ctx context.Context, ownerID uuid.UUID, videoID string) (*domain.ExtractTask, error) {
	r.mu.Lock()
	if byVideo, ok := r.ownerVideoID[ownerID]; ok {
		if id, ok := byVideo[videoID]; ok {
			if task, ok := r.tasks[id]; ok {
				snap := task.Clone()
				r.mu.Unlock()
				return snap, nil
			}
		}
	}
	r.mu.Unlock()

	loaded, err := r.store.GetActiveTaskByOwnerAndVideo(ctx, ownerID, videoID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	r.mu.Lock()
	r.insertLocked(loaded)
	snap := loaded.Clone()
	r.mu.Unlock()
	return snap, nil
}

// CancelTask flips the task to cancelled. Returns false when the task does
// not exist or has already completed or failed; those terminal states are
// not revocable. Cancellation is cooperative: the pipeline observes it at
// its checkpoints, in-flight collaborator calls are not interrupted.
func (r *ExtractTaskRegistry) CancelTask(ctx context.Context, taskID uuid.UUID) bool {
	r.mu.Lock()
	task, ok := r.tasks[taskID]
	r.mu.Unlock()

	if !ok {
		loaded, err := r.store.GetTask(ctx, taskID)
		if err != nil {
			return false
		}
		r.mu.Lock()
		if cached, exists := r.tasks[taskID]; exists {
			task = cached
		} else {
			r.insertLocked(loaded)
			task = loaded
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	if task.Status == domain.ExtractStatusCompleted || task.Status == domain.ExtractStatusFailed {
		r.mu.Unlock()
		return false
	}
	task.Status = domain.ExtractStatusCancelled
	task.StageDesc = domain.ExtractStatusCancelled.StageDescription()
	task.UpdatedAt = time.Now().UTC()
	snapshot := task.Clone()
	r.mu.Unlock()

	r.mirror(ctx, snapshot)

	r.logger.Info("extraction task cancelled", "task_id", taskID)
	return true
}

// IsCancelled reports whether the task has been cancelled. Pipeline stages
// poll this at their cancellation checkpoints.
func (r *ExtractTaskRegistry) IsCancelled(ctx context.Context, taskID uuid.UUID) bool {
	task, err := r.GetTask(ctx, taskID)
	return err == nil && task.Status == domain.ExtractStatusCancelled
}

// ListActiveForOwner returns the owner's non-terminal tasks from the record
// store, newest first.
func (r *ExtractTaskRegistry) ListActiveForOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.ExtractTask, error) {
	return r.store.ListActiveForOwner(ctx, ownerID, limit)
}

// ListForOwner returns the owner's tasks regardless of status, newest first.
func (r *ExtractTaskRegistry) ListForOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.ExtractTask, error) {
	return r.store.ListForOwner(ctx, ownerID, limit)
}

// EvictOlderThan deletes terminal records older than the retention age from
// the record store and drops matching terminal entries from the cache.
func (r *ExtractTaskRegistry) EvictOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)

	deleted, err := r.store.DeleteTerminalOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	for id, task := range r.tasks {
		if task.Status.IsTerminal() && task.CreatedAt.Before(cutoff) {
			delete(r.tasks, id)
			if byVideo, ok := r.ownerVideoID[task.OwnerID]; ok {
				if byVideo[task.VideoID] == id {
					delete(byVideo, task.VideoID)
				}
			}
		}
	}
	r.mu.Unlock()

	if deleted > 0 {
		r.logger.Info("evicted old task records", "count", deleted)
	}
	return deleted, nil
}

// mirror pushes the task snapshot to the record store. Failures are logged
// and swallowed: the in-memory registry remains the source of truth for the
// live process and the originating request must not fail.
func (r *ExtractTaskRegistry) mirror(ctx context.Context, task *domain.ExtractTask) {
	if err := r.store.UpsertTask(ctx, task); err != nil {
		r.logger.Error("failed to mirror task to record store",
			"task_id", task.ID,
			"status", task.Status,
			"error", err)
	}
}
