package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/korvane/vidsub-api/internal/store"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		input    error
		expected error
	}{
		{
			name:     "nil error",
			input:    nil,
			expected: nil,
		},
		{
			name:     "no rows maps to not found",
			input:    sql.ErrNoRows,
			expected: store.ErrNotFound,
		},
		{
			name:     "unique violation maps to duplicate",
			input:    &pgconn.PgError{Code: uniqueViolationCode},
			expected: store.ErrDuplicate,
		},
		{
			name:     "check violation maps to update failed",
			input:    &pgconn.PgError{Code: checkViolationCode, ConstraintName: "extract_tasks_progress_check"},
			expected: store.ErrUpdateFailed,
		},
		{
			name:     "not null violation maps to update failed",
			input:    &pgconn.PgError{Code: notNullViolationCode, ColumnName: "video_id"},
			expected: store.ErrUpdateFailed,
		},
		{
			name:     "unknown pg error passes through",
			input:    &pgconn.PgError{Code: "42P01"},
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := MapError(tt.input)
			if tt.input == nil {
				assert.NoError(t, mapped)
				return
			}
			if tt.expected == nil {
				assert.Equal(t, tt.input, mapped)
				return
			}
			assert.ErrorIs(t, mapped, tt.expected)
		})
	}
}

func TestMapErrorPreservesOriginal(t *testing.T) {
	original := fmt.Errorf("query failed: %w", sql.ErrNoRows)
	mapped := MapError(original)
	assert.ErrorIs(t, mapped, store.ErrNotFound)
	assert.Contains(t, mapped.Error(), "query failed")
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: uniqueViolationCode}))
	assert.True(t, IsUniqueViolation(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: uniqueViolationCode})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: checkViolationCode}))
	assert.False(t, IsUniqueViolation(errors.New("plain error")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, IsNotFoundError(sql.ErrNoRows))
	assert.True(t, IsNotFoundError(store.ErrNotFound))
	assert.True(t, IsNotFoundError(store.ErrTaskNotFound))
	assert.True(t, IsNotFoundError(fmt.Errorf("lookup: %w", sql.ErrNoRows)))
	assert.False(t, IsNotFoundError(errors.New("something else")))
	assert.False(t, IsNotFoundError(nil))
}
