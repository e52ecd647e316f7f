package pipeline

import "context"

// VideoInfo holds the metadata returned by the video site for one video.
type VideoInfo struct {
	Title           string
	DurationSeconds float64
	ContentID       string
	Owner           string
	PublishDate     string
	CoverURL        string
}

// VideoInfoProvider looks up video metadata. Implementations return
// (nil, nil) on network or parse errors: unknown metadata is not fatal and
// the pipeline proceeds with whatever the caller supplied.
type VideoInfoProvider interface {
	GetInfo(ctx context.Context, videoID string) (*VideoInfo, error)
}

// CaptionProvider fetches a native caption track for a video, trying
// languages in priority order. Returns ErrNoCaptions when no track matches
// any requested language, and ErrCredentialInvalid when a track is listed
// but its content URL cannot be resolved.
type CaptionProvider interface {
	GetCaptions(ctx context.Context, videoID string, langPriority []string) (string, error)
}

// DownloadProgressFunc receives the downloader's own percent complete,
// in the range 0-100.
type DownloadProgressFunc func(percent float64)

// AudioDownloader fetches the audio track of a video into destDir and
// reports fractional progress through the callback. Returns the file path
// and the audio duration in seconds.
type AudioDownloader interface {
	Download(ctx context.Context, videoID, destDir string, progress DownloadProgressFunc) (path string, durationSeconds float64, err error)
}

// FileHost uploads a local file to a publicly reachable URL. Hosts are
// independent; the pipeline races several concurrently and accepts the
// first whose result URL verifies.
type FileHost interface {
	// Name identifies the host in logs.
	Name() string

	// ProbeURL is a cheap endpoint for checking host availability before
	// committing to an upload.
	ProbeURL() string

	// Upload transfers the file and returns its public URL.
	Upload(ctx context.Context, filePath string) (string, error)
}

// RecognitionStatus is the lifecycle state of an asynchronous recognition
// job as reported by the vendor.
type RecognitionStatus string

const (
	RecognitionPending   RecognitionStatus = "pending"
	RecognitionRunning   RecognitionStatus = "running"
	RecognitionSucceeded RecognitionStatus = "succeeded"
	RecognitionFailed    RecognitionStatus = "failed"
)

// RecognitionPoll is one poll response for an asynchronous recognition job.
type RecognitionPoll struct {
	Status    RecognitionStatus
	ResultURL string
	Message   string
}

// Segment is one recognized utterance. SpeakerID is nil when diarization
// was not enabled or the vendor produced no speaker information.
type Segment struct {
	Text      string
	SpeakerID *int
	BeginMS   int64
	EndMS     int64
}

// Recognizer is the asynchronous speech-to-text collaborator: submit a job
// for a publicly reachable audio URL, poll it to completion, then fetch the
// recognized segments.
type Recognizer interface {
	Submit(ctx context.Context, fileURL string, languageHints []string) (jobID string, err error)
	Poll(ctx context.Context, jobID string) (*RecognitionPoll, error)
	FetchResult(ctx context.Context, resultURL string) ([]Segment, error)
}
