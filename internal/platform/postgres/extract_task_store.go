package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/korvane/vidsub-api/internal/domain"
	"github.com/korvane/vidsub-api/internal/platform/logger"
	"github.com/korvane/vidsub-api/internal/store"
)

// terminalStatuses are the statuses a task can never leave. Kept as a
// package-level slice so every query that filters on them uses the same
// list as domain.ExtractTaskStatus.IsTerminal.
var terminalStatuses = []string{
	string(domain.ExtractStatusCompleted),
	string(domain.ExtractStatusFailed),
	string(domain.ExtractStatusCancelled),
}

// PostgresExtractTaskStore implements the store.ExtractTaskStore interface
// using PostgreSQL.
type PostgresExtractTaskStore struct {
	db store.DBTX
}

// NewPostgresExtractTaskStore creates a new PostgresExtractTaskStore.
func NewPostgresExtractTaskStore(db store.DBTX) *PostgresExtractTaskStore {
	return &PostgresExtractTaskStore{
		db: db,
	}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *PostgresExtractTaskStore) WithTx(tx *sql.Tx) *PostgresExtractTaskStore {
	return &PostgresExtractTaskStore{db: tx}
}

// UpsertTask inserts the task record or replaces its mutable fields when a
// record with the same ID already exists. The registry mirrors every task
// mutation through this method, so it must be safe to call repeatedly.
func (s *PostgresExtractTaskStore) UpsertTask(ctx context.Context, task *domain.ExtractTask) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO extract_tasks (
			id, owner_id, video_id, title, status, progress, stage_desc,
			error_message, transcript, timed_transcript,
			use_speech_recognition, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			stage_desc = EXCLUDED.stage_desc,
			error_message = EXCLUDED.error_message,
			transcript = EXCLUDED.transcript,
			timed_transcript = EXCLUDED.timed_transcript,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.OwnerID,
		task.VideoID,
		task.Title,
		task.Status,
		task.Progress,
		task.StageDesc,
		nullString(task.Error),
		nullString(task.Transcript),
		nullString(task.TimedTranscript),
		task.UseSpeechRecognition,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to upsert extraction task",
			"task_id", task.ID,
			"status", task.Status,
			"error", err)
		return fmt.Errorf("failed to upsert extraction task: %w", MapError(err))
	}

	return nil
}

// GetTask retrieves a task by its ID. Returns store.ErrTaskNotFound if no
// record exists.
func (s *PostgresExtractTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.ExtractTask, error) {
	query := selectColumns + `
		FROM extract_tasks
		WHERE id = $1
	`

	task, err := s.scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get extraction task: %w", MapError(err))
	}
	return task, nil
}

// GetActiveTaskByOwnerAndVideo retrieves the newest non-terminal task for
// the given (owner, video) pair, or store.ErrTaskNotFound.
func (s *PostgresExtractTaskStore) GetActiveTaskByOwnerAndVideo(ctx context.Context, ownerID uuid.UUID, videoID string) (*domain.ExtractTask, error) {
	query := selectColumns + `
		FROM extract_tasks
		WHERE owner_id = $1 AND video_id = $2 AND status != ALL($3)
		ORDER BY created_at DESC
		LIMIT 1
	`

	task, err := s.scanTask(s.db.QueryRowContext(ctx, query, ownerID, videoID, terminalStatuses))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get active extraction task: %w", MapError(err))
	}
	return task, nil
}

// ListActiveForOwner returns the owner's non-terminal tasks, newest first,
// up to limit.
func (s *PostgresExtractTaskStore) ListActiveForOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.ExtractTask, error) {
	query := selectColumns + `
		FROM extract_tasks
		WHERE owner_id = $1 AND status != ALL($2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	return s.queryTasks(ctx, query, ownerID, terminalStatuses, limit)
}

// ListForOwner returns the owner's tasks regardless of status, newest
// first, up to limit.
func (s *PostgresExtractTaskStore) ListForOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.ExtractTask, error) {
	query := selectColumns + `
		FROM extract_tasks
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return s.queryTasks(ctx, query, ownerID, limit)
}

// DeleteTerminalOlderThan removes terminal records created before the
// cutoff and returns the number of rows deleted. Non-terminal records are
// never touched regardless of age.
func (s *PostgresExtractTaskStore) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	log := logger.FromContext(ctx)

	query := `
		DELETE FROM extract_tasks
		WHERE status = ANY($1) AND created_at < $2
	`

	result, err := s.db.ExecContext(ctx, query, terminalStatuses, cutoff)
	if err != nil {
		log.Error("failed to delete old extraction tasks",
			"cutoff", cutoff,
			"error", err)
		return 0, fmt.Errorf("failed to delete old extraction tasks: %w", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

const selectColumns = `
		SELECT id, owner_id, video_id, title, status, progress, stage_desc,
		       error_message, transcript, timed_transcript,
		       use_speech_recognition, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresExtractTaskStore) scanTask(row rowScanner) (*domain.ExtractTask, error) {
	var task domain.ExtractTask
	var errorMessage, transcript, timedTranscript sql.NullString

	err := row.Scan(
		&task.ID,
		&task.OwnerID,
		&task.VideoID,
		&task.Title,
		&task.Status,
		&task.Progress,
		&task.StageDesc,
		&errorMessage,
		&transcript,
		&timedTranscript,
		&task.UseSpeechRecognition,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Error = errorMessage.String
	task.Transcript = transcript.String
	task.TimedTranscript = timedTranscript.String
	return &task, nil
}

func (s *PostgresExtractTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.ExtractTask, error) {
	log := logger.FromContext(ctx)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query extraction tasks", "error", err)
		return nil, fmt.Errorf("failed to query extraction tasks: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.ExtractTask
	for rows.Next() {
		task, err := s.scanTask(rows)
		if err != nil {
			log.Error("failed to scan extraction task row", "error", err)
			return nil, fmt.Errorf("failed to scan extraction task row: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		log.Error("error iterating extraction task rows", "error", err)
		return nil, fmt.Errorf("error iterating extraction task rows: %w", err)
	}

	return tasks, nil
}

// nullString converts an empty string to a NULL column value.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
