package domain

import (
	"time"

	"github.com/google/uuid"
)

// VideoStatus represents the processing state of a single video in a batch
type VideoStatus string

// Possible video status values
const (
	VideoStatusPending    VideoStatus = "pending"
	VideoStatusQueued     VideoStatus = "queued"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusError      VideoStatus = "error"
	VideoStatusCancelled  VideoStatus = "cancelled"
)

// IsTerminal reports whether the status is final. A video never leaves a
// terminal status once it has entered one.
func (s VideoStatus) IsTerminal() bool {
	switch s {
	case VideoStatusCompleted, VideoStatusError, VideoStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidVideoStatus checks if the given status is a valid VideoStatus.
func IsValidVideoStatus(s VideoStatus) bool {
	switch s {
	case VideoStatusPending, VideoStatusQueued, VideoStatusProcessing,
		VideoStatusCompleted, VideoStatusError, VideoStatusCancelled:
		return true
	default:
		return false
	}
}

// BatchStatus represents the aggregate state of a batch job
type BatchStatus string

// Possible batch status values
const (
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusCancelled  BatchStatus = "cancelled"
)

// VideoRef identifies a video submitted for extraction, before any task
// tracking exists for it.
type VideoRef struct {
	VideoID   string `json:"video_id"`
	ContentID string `json:"content_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Index     int    `json:"index"`
}

// VideoTask tracks one video inside a batch job. OriginalIndex preserves the
// submission order even when the batch was re-sorted before dispatch.
type VideoTask struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	OriginalIndex int         `json:"original_index"`
	Status        VideoStatus `json:"status"`
	Progress      int         `json:"progress"`
	Error         string      `json:"error,omitempty"`
	Transcript    string      `json:"transcript,omitempty"`
}

// BatchJob tracks a multi-video extraction job. It is owned exclusively by
// the batch registry and mutated only through registry methods.
type BatchJob struct {
	ID             uuid.UUID   `json:"id"`
	Total          int         `json:"total"`
	Status         BatchStatus `json:"status"`
	CompletedCount int         `json:"completed_count"`
	CreatedAt      time.Time   `json:"created_at"`
	Videos         []VideoTask `json:"videos"`
}

// NewVideoTask builds the initial tracking entry for a submitted video.
// The task ID is derived from the content ID when one is known, otherwise
// a fresh UUID is generated.
func NewVideoTask(ref VideoRef) VideoTask {
	id := ref.ContentID
	if id == "" {
		id = uuid.New().String()
	}
	title := ref.Title
	if title == "" {
		title = ref.VideoID
	}
	return VideoTask{
		ID:            id,
		Title:         title,
		OriginalIndex: ref.Index,
		Status:        VideoStatusPending,
		Progress:      0,
	}
}
