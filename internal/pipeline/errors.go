package pipeline

import "errors"

// Errors surfaced by pipeline stages.
var (
	// ErrNoCaptions indicates the video has no native caption track in any
	// of the requested languages. It is an expected outcome, not a failure:
	// the pipeline falls through to speech recognition.
	ErrNoCaptions = errors.New("no native captions available")

	// ErrCredentialInvalid indicates a caption track is listed by metadata
	// but its content URL could not be resolved, which usually means the
	// site credential lacks required fields. Callers must treat this
	// differently from ErrNoCaptions and prompt for re-authentication
	// instead of silently falling back.
	ErrCredentialInvalid = errors.New("site credential is invalid or incomplete")

	// ErrAllHostsFailed indicates every anonymous file host rejected the
	// upload or produced an unreachable URL.
	ErrAllHostsFailed = errors.New("all file hosts failed")

	// ErrSelfHostUnreachable indicates the configured self-hosted origin is
	// not publicly reachable, so the recognition vendor could not fetch the
	// audio from it.
	ErrSelfHostUnreachable = errors.New("self-hosted origin is not publicly reachable")

	// ErrRecognitionTimeout indicates the recognition job did not finish
	// within the maximum number of poll attempts.
	ErrRecognitionTimeout = errors.New("speech recognition timed out")

	// ErrRecognitionFailed indicates the recognition vendor reported the
	// job as failed.
	ErrRecognitionFailed = errors.New("speech recognition failed")

	// ErrCancelled indicates the task was cancelled at a checkpoint before
	// the pipeline finished. It is a distinct terminal outcome, not a
	// failure.
	ErrCancelled = errors.New("extraction cancelled")
)
