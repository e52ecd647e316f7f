package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ExtractTaskStatus represents the processing state of a durable
// extraction task
type ExtractTaskStatus string

// Possible extraction task status values
const (
	ExtractStatusPending      ExtractTaskStatus = "pending"
	ExtractStatusDownloading  ExtractTaskStatus = "downloading"
	ExtractStatusUploading    ExtractTaskStatus = "uploading"
	ExtractStatusTranscribing ExtractTaskStatus = "transcribing"
	ExtractStatusProcessing   ExtractTaskStatus = "processing"
	ExtractStatusCompleted    ExtractTaskStatus = "completed"
	ExtractStatusFailed       ExtractTaskStatus = "failed"
	ExtractStatusCancelled    ExtractTaskStatus = "cancelled"
)

// stageDescriptions maps each status to its default human-readable stage
// description, shown to callers polling the task.
var stageDescriptions = map[ExtractTaskStatus]string{
	ExtractStatusPending:      "waiting to start",
	ExtractStatusDownloading:  "downloading audio",
	ExtractStatusUploading:    "uploading for recognition",
	ExtractStatusTranscribing: "running speech recognition",
	ExtractStatusProcessing:   "assembling result",
	ExtractStatusCompleted:    "extraction complete",
	ExtractStatusFailed:       "extraction failed",
	ExtractStatusCancelled:    "cancelled",
}

// StageDescription returns the default stage description for the status.
func (s ExtractTaskStatus) StageDescription() string {
	if desc, ok := stageDescriptions[s]; ok {
		return desc
	}
	return string(s)
}

// IsTerminal reports whether the status is final.
func (s ExtractTaskStatus) IsTerminal() bool {
	switch s {
	case ExtractStatusCompleted, ExtractStatusFailed, ExtractStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidExtractTaskStatus checks if the given status is a valid
// ExtractTaskStatus.
func IsValidExtractTaskStatus(s ExtractTaskStatus) bool {
	_, ok := stageDescriptions[s]
	return ok
}

// Common validation errors for ExtractTask
var (
	ErrEmptyTaskID             = errors.New("task ID cannot be empty")
	ErrEmptyTaskOwnerID        = errors.New("task owner ID cannot be empty")
	ErrEmptyTaskVideoID        = errors.New("task video ID cannot be empty")
	ErrInvalidExtractStatus    = errors.New("invalid extraction task status")
	ErrInvalidExtractProgress  = errors.New("progress must be between 0 and 100")
)

// ExtractTask represents a single-video extraction job owned by one caller.
// The in-memory registry is the authoritative live view; every mutation is
// mirrored to the record store for crash recovery.
type ExtractTask struct {
	ID                   uuid.UUID         `json:"id"`
	OwnerID              uuid.UUID         `json:"owner_id"`
	VideoID              string            `json:"video_id"`
	Title                string            `json:"title"`
	Status               ExtractTaskStatus `json:"status"`
	Progress             int               `json:"progress"`
	StageDesc            string            `json:"stage_desc"`
	Error                string            `json:"error,omitempty"`
	Transcript           string            `json:"transcript,omitempty"`
	TimedTranscript      string            `json:"timed_transcript,omitempty"`
	UseSpeechRecognition bool              `json:"use_speech_recognition"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// NewExtractTask creates a new ExtractTask in the pending state for the
// given owner and video. Returns an error if validation fails.
func NewExtractTask(ownerID uuid.UUID, videoID, title string, useSpeechRecognition bool) (*ExtractTask, error) {
	if title == "" {
		title = videoID
	}
	now := time.Now().UTC()
	task := &ExtractTask{
		ID:                   uuid.New(),
		OwnerID:              ownerID,
		VideoID:              videoID,
		Title:                title,
		Status:               ExtractStatusPending,
		Progress:             0,
		StageDesc:            ExtractStatusPending.StageDescription(),
		UseSpeechRecognition: useSpeechRecognition,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the ExtractTask has valid data.
func (t *ExtractTask) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if t.OwnerID == uuid.Nil {
		return ErrEmptyTaskOwnerID
	}
	if t.VideoID == "" {
		return ErrEmptyTaskVideoID
	}
	if !IsValidExtractTaskStatus(t.Status) {
		return ErrInvalidExtractStatus
	}
	if t.Progress < 0 || t.Progress > 100 {
		return ErrInvalidExtractProgress
	}
	return nil
}

// Clone returns a copy of the task safe to hand to callers while the
// registry keeps mutating the original.
func (t *ExtractTask) Clone() *ExtractTask {
	c := *t
	return &c
}
