package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/korvane/vidsub-api/internal/domain"
	"github.com/korvane/vidsub-api/internal/store"
)

// MemStore is an in-memory implementation of store.ExtractTaskStore used
// by tests in this package and by the service tests. It mimics the query
// behavior of the postgres implementation closely enough to exercise the
// registry's store-fallback paths.
type MemStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.ExtractTask

	// failUpserts makes every UpsertTask return an error, for exercising
	// the mirror-failure-swallowing path.
	failUpserts bool
	upsertErr   error
}

// NewMemStore creates an empty in-memory task store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[uuid.UUID]*domain.ExtractTask)}
}

func (m *MemStore) UpsertTask(ctx context.Context, task *domain.ExtractTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpserts {
		return m.upsertErr
	}
	m.records[task.ID] = task.Clone()
	return nil
}

func (m *MemStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.ExtractTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.records[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return task.Clone(), nil
}

func (m *MemStore) GetActiveTaskByOwnerAndVideo(ctx context.Context, ownerID uuid.UUID, videoID string) (*domain.ExtractTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *domain.ExtractTask
	for _, task := range m.records {
		if task.OwnerID != ownerID || task.VideoID != videoID || task.Status.IsTerminal() {
			continue
		}
		if newest == nil || task.CreatedAt.After(newest.CreatedAt) {
			newest = task
		}
	}
	if newest == nil {
		return nil, store.ErrTaskNotFound
	}
	return newest.Clone(), nil
}

func (m *MemStore) ListActiveForOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.ExtractTask, error) {
	return m.list(ownerID, limit, true)
}

func (m *MemStore) ListForOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.ExtractTask, error) {
	return m.list(ownerID, limit, false)
}

func (m *MemStore) list(ownerID uuid.UUID, limit int, activeOnly bool) ([]*domain.ExtractTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ExtractTask
	for _, task := range m.records {
		if task.OwnerID != ownerID {
			continue
		}
		if activeOnly && task.Status.IsTerminal() {
			continue
		}
		out = append(out, task.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, task := range m.records {
		if task.Status.IsTerminal() && task.CreatedAt.Before(cutoff) {
			delete(m.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports the number of stored records.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Drop removes a record directly, simulating external deletion.
func (m *MemStore) Drop(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
}
