package service

import "errors"

// Common service errors. The API layer maps these to HTTP status codes.
var (
	// ErrInvalidVideoRef indicates a submission with a missing or malformed
	// video reference. Rejected before any work is queued.
	ErrInvalidVideoRef = errors.New("invalid video reference")

	// ErrEmptyBatch indicates a batch submission with no videos.
	ErrEmptyBatch = errors.New("batch contains no videos")

	// ErrQueueSaturated indicates the worker pool for the caller's traffic
	// class has no queue capacity left.
	ErrQueueSaturated = errors.New("submission queue is full")
)
