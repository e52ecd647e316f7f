package api

// ExtractRequest is the request body for single-video extraction, both the
// async and streaming variants.
type ExtractRequest struct {
	VideoID              string `json:"video_id"              validate:"required,min=1"`
	Title                string `json:"title"`
	UseSpeechRecognition bool   `json:"use_speech_recognition"`
}

// BatchVideoRequest is one video inside a batch submission.
type BatchVideoRequest struct {
	VideoID   string `json:"video_id"   validate:"required,min=1"`
	ContentID string `json:"content_id"`
	Title     string `json:"title"`
}

// BatchRequest is the request body for a batch submission.
type BatchRequest struct {
	Videos []BatchVideoRequest `json:"videos" validate:"required,min=1,dive"`
}

// SubmitResponse acknowledges an accepted async submission.
type SubmitResponse struct {
	TaskID string `json:"task_id"`
}

// BatchSubmitResponse acknowledges an accepted batch submission.
type BatchSubmitResponse struct {
	BatchID string `json:"batch_id"`
	Total   int    `json:"total"`
}

// CancelResponse reports the outcome of a cancel request.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// PolishRequest is the request body for LLM transcript post-processing.
type PolishRequest struct {
	Transcript string `json:"transcript" validate:"required,min=1"`
	Question   string `json:"question"`
}

// PolishResponse carries the polished transcript or answer.
type PolishResponse struct {
	Result string `json:"result"`
}
