package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/korvane/vidsub-api/internal/domain"
)

// ExtractTaskStore defines the interface for persisting extraction tasks.
// The in-memory registry mirrors every mutation through this interface;
// mirror failures are logged by the registry and never propagated to
// callers, so implementations should return plain errors without retrying.
type ExtractTaskStore interface {
	// UpsertTask inserts the task record or, if a record with the same ID
	// already exists, replaces its mutable fields.
	UpsertTask(ctx context.Context, task *domain.ExtractTask) error

	// GetTask retrieves a task by its ID.
	// Returns ErrTaskNotFound if no record exists.
	GetTask(ctx context.Context, id uuid.UUID) (*domain.ExtractTask, error)

	// GetActiveTaskByOwnerAndVideo retrieves the newest non-terminal task
	// for the given (owner, video) pair, or ErrTaskNotFound.
	GetActiveTaskByOwnerAndVideo(ctx context.Context, ownerID uuid.UUID, videoID string) (*domain.ExtractTask, error)

	// ListActiveForOwner returns the owner's non-terminal tasks, newest
	// first, up to limit.
	ListActiveForOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.ExtractTask, error)

	// ListForOwner returns the owner's tasks regardless of status, newest
	// first, up to limit.
	ListForOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.ExtractTask, error)

	// DeleteTerminalOlderThan removes terminal records created before the
	// cutoff and returns the number of rows deleted.
	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
