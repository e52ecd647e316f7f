package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/korvane/vidsub-api/internal/domain"
	"github.com/korvane/vidsub-api/internal/pipeline"
	"github.com/korvane/vidsub-api/internal/registry"
)

// EventType classifies streaming events.
type EventType string

const (
	EventProgress  EventType = "progress"
	EventLog       EventType = "log"
	EventHeartbeat EventType = "heartbeat"
	EventResult    EventType = "result"
)

// Event is one message on a streaming extraction connection. The stream is
// terminated by a single result event: either Result is set or Err carries
// the failure message.
type Event struct {
	Type     EventType        `json:"type"`
	Progress int              `json:"progress,omitempty"`
	Message  string           `json:"message,omitempty"`
	Result   *pipeline.Result `json:"result,omitempty"`
	Err      string           `json:"error,omitempty"`
}

const (
	// streamBuffer bounds the internal event queue. Progress events beyond
	// the buffer are dropped rather than blocking the pipeline.
	streamBuffer = 256

	// watchPollInterval is how often an attached stream polls a task that
	// was already running when the stream opened.
	watchPollInterval = 500 * time.Millisecond
)

// StreamExtract runs a single-video extraction in a background worker and
// returns a channel of progress, log, heartbeat, and result events. A
// heartbeat is emitted whenever no other event arrives within the
// configured idle wait, so idle-connection timeouts upstream are defeated.
// The channel is closed after the terminal result event. Cancelling ctx
// abandons the stream; the underlying work keeps its own lifecycle.
func (s *ExtractService) StreamExtract(ctx context.Context, caller Caller, videoID, title string, useSpeechRecognition bool) (<-chan Event, error) {
	if videoID == "" {
		return nil, fmt.Errorf("%w: empty video id", ErrInvalidVideoRef)
	}

	taskID, created, err := s.tasks.CreateTask(ctx, caller.ID, videoID, title, useSpeechRecognition)
	if err != nil {
		return nil, err
	}

	internal := make(chan Event, streamBuffer)
	relay := func(ev Event) {
		select {
		case internal <- ev:
		default:
			// Queue full: drop intermediate events, never block the worker.
		}
	}

	listener := pipeline.FuncListener{
		ProgressFunc: func(percent int, message string) {
			relay(Event{Type: EventProgress, Progress: percent, Message: message})
		},
		LogFunc: func(message string) {
			relay(Event{Type: EventLog, Message: message})
		},
	}

	run := func(jobCtx context.Context) {
		s.runDurableTask(jobCtx, caller, taskID, videoID, title, useSpeechRecognition, listener)

		task, err := s.tasks.GetTask(jobCtx, taskID)
		final := Event{Type: EventResult}
		switch {
		case err != nil:
			final.Err = err.Error()
		case task.Error != "":
			final.Err = task.Error
		default:
			final.Result = &pipeline.Result{
				Title:           task.Title,
				Transcript:      task.Transcript,
				TimedTranscript: task.TimedTranscript,
			}
			final.Progress = task.Progress
		}
		// The result event must not be dropped.
		internal <- final
		close(internal)
	}

	if created {
		if err := s.poolFor(caller).Submit(run); err != nil {
			_ = s.tasks.UpdateTask(ctx, taskID, registry.TaskUpdate{
				Status: domain.ExtractStatusFailed,
				Error:  ErrQueueSaturated.Error(),
			})
			return nil, ErrQueueSaturated
		}
	} else {
		// An identical task is already running; this stream only observes
		// its state until it settles.
		go s.watchTask(ctx, taskID, internal)
	}

	out := make(chan Event, 1)
	go s.relayWithHeartbeat(ctx, internal, out)
	return out, nil
}

// relayWithHeartbeat forwards events from the worker to the caller,
// inserting a heartbeat whenever the worker stays silent for the configured
// idle wait. When the caller detaches mid-stream the worker channel is
// drained to completion so the worker's terminal send never blocks.
func (s *ExtractService) relayWithHeartbeat(ctx context.Context, in <-chan Event, out chan<- Event) {
	defer close(out)
	heartbeat := time.NewTicker(s.cfg.StreamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-in:
			if !ok {
				return
			}
			heartbeat.Reset(s.cfg.StreamHeartbeat)
			select {
			case out <- ev:
			case <-ctx.Done():
				go drainUntilClosed(in)
				return
			}
			if ev.Type == EventResult {
				return
			}
		case <-heartbeat.C:
			select {
			case out <- Event{Type: EventHeartbeat}:
			case <-ctx.Done():
				go drainUntilClosed(in)
				return
			}
		case <-ctx.Done():
			go drainUntilClosed(in)
			return
		}
	}
}

// drainUntilClosed consumes the remaining events of an abandoned stream.
// The producing worker sends its result event unconditionally and then
// closes the channel; without a consumer that send would pin a pool worker
// forever.
func drainUntilClosed(in <-chan Event) {
	for range in {
	}
}

// watchTask polls an already-running task and synthesizes progress and a
// final result event for an attached stream.
func (s *ExtractService) watchTask(ctx context.Context, taskID uuid.UUID, out chan<- Event) {
	defer close(out)
	lastProgress := -1

	for {
		task, err := s.tasks.GetTask(ctx, taskID)
		if err != nil {
			out <- Event{Type: EventResult, Err: err.Error()}
			return
		}

		if task.Progress != lastProgress {
			lastProgress = task.Progress
			select {
			case out <- Event{Type: EventProgress, Progress: task.Progress, Message: task.StageDesc}:
			default:
			}
		}

		if task.Status.IsTerminal() {
			final := Event{Type: EventResult, Progress: task.Progress}
			if task.Error != "" {
				final.Err = task.Error
			} else {
				final.Result = &pipeline.Result{
					Title:           task.Title,
					Transcript:      task.Transcript,
					TimedTranscript: task.TimedTranscript,
				}
			}
			out <- final
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(watchPollInterval):
		}
	}
}
