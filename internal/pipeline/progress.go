package pipeline

// Stage progress bands. Each stage reports progress only within its own
// band so a caller watching the percentage sees a single monotonic-looking
// ramp across the whole pipeline.
const (
	probeStart = 0
	probeEnd   = 15

	downloadStart = 5
	downloadEnd   = 40

	uploadStart = 40
	uploadEnd   = 48

	transcribeStart = 48
	transcribeEnd   = 95

	// Within the transcription band: pending ramps linearly with poll
	// count, running follows a concave curve against estimated duration.
	pendingCeiling = 53
	runningEnd     = 90

	assembleStart = 95
	done          = 100
)

// Listener observes pipeline progress. Progress carries the overall
// percentage and a short stage message; Log carries informational lines a
// caller may relay to a streaming client. Implementations must not block:
// the pipeline invokes listeners synchronously between stage steps.
type Listener interface {
	Progress(percent int, message string)
	Log(message string)
}

// Listeners fans one stream of events out to several listeners.
type Listeners []Listener

func (ls Listeners) Progress(percent int, message string) {
	for _, l := range ls {
		l.Progress(percent, message)
	}
}

func (ls Listeners) Log(message string) {
	for _, l := range ls {
		l.Log(message)
	}
}

// NopListener discards all events.
type NopListener struct{}

func (NopListener) Progress(int, string) {}
func (NopListener) Log(string)           {}

// FuncListener adapts two functions to the Listener interface. Either
// function may be nil.
type FuncListener struct {
	ProgressFunc func(percent int, message string)
	LogFunc      func(message string)
}

func (f FuncListener) Progress(percent int, message string) {
	if f.ProgressFunc != nil {
		f.ProgressFunc(percent, message)
	}
}

func (f FuncListener) Log(message string) {
	if f.LogFunc != nil {
		f.LogFunc(message)
	}
}

// Canceller reports whether the task has been cancelled. The pipeline
// consults it at defined checkpoints; cancellation is cooperative, never
// preemptive.
type Canceller func() bool

func (c Canceller) cancelled() bool {
	return c != nil && c()
}
