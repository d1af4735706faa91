package tasks

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// EventType names the kind of message sent to the UI layer.
type EventType string

const (
	EventSongTitle EventType = "song_title"
	EventProgress  EventType = "progress"
	EventETA       EventType = "eta_update"
	EventComplete  EventType = "download_complete"
)

// CommandExit asks a running sync to stop after the current song.
const CommandExit = "EXIT"

// Progress is the run counter snapshot sent after every song.
type Progress struct {
	Completed int
	Total     int
	Success   int
	Failure   int
}

// ETA holds elapsed and estimated remaining time, in seconds.
type ETA struct {
	Elapsed   float64
	Remaining float64
}

// Event is a single message from the pipeline to its observer.
//
// Only the field matching Type is meaningful.
type Event struct {
	Type     EventType
	Title    string
	Progress Progress
	ETA      ETA
}

// Contents returns the wire payload for the event type:
// a string for song_title, [completed,total,success,failure] for progress,
// [elapsed,eta] for eta_update and an empty list for download_complete.
func (e Event) Contents() any {
	switch e.Type {
	case EventSongTitle:
		return e.Title
	case EventProgress:
		return []int{e.Progress.Completed, e.Progress.Total, e.Progress.Success, e.Progress.Failure}
	case EventETA:
		return []float64{e.ETA.Elapsed, e.ETA.Remaining}
	default:
		return []any{}
	}
}

// MarshalJSON encodes the event as {"type": ..., "contents": ...}.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     EventType `json:"type"`
		Contents any       `json:"contents"`
	}{e.Type, e.Contents()})
}

// String renders the event as a single human-readable line.
func (e Event) String() string {
	switch e.Type {
	case EventSongTitle:
		return e.Title
	case EventProgress:
		p := e.Progress
		return fmt.Sprintf("[%d/%d] %d succeeded, %d failed", p.Completed, p.Total, p.Success, p.Failure)
	case EventETA:
		elapsed := time.Duration(e.ETA.Elapsed * float64(time.Second)).Round(time.Second)
		remaining := time.Duration(e.ETA.Remaining * float64(time.Second)).Round(time.Second)
		return fmt.Sprintf("elapsed %s, eta %s", elapsed, remaining)
	case EventComplete:
		return "download complete"
	default:
		return string(e.Type)
	}
}

func songTitleEvent(title string) Event {
	return Event{Type: EventSongTitle, Title: title}
}

func progressEvent(completed, total, success, failure int) Event {
	return Event{
		Type:     EventProgress,
		Progress: Progress{Completed: completed, Total: total, Success: success, Failure: failure},
	}
}

func etaEvent(elapsed, remaining time.Duration) Event {
	return Event{
		Type: EventETA,
		ETA:  ETA{Elapsed: elapsed.Seconds(), Remaining: remaining.Seconds()},
	}
}

func completeEvent() Event {
	return Event{Type: EventComplete}
}

// EstimateRemaining extrapolates the average time per completed song over the songs left.
// It returns 0 until a song has completed.
func EstimateRemaining(total, completed int, elapsed time.Duration) time.Duration {
	if completed <= 0 || total <= completed {
		return 0
	}
	return time.Duration(float64(total-completed) * float64(elapsed) / float64(completed))
}

// EventSink receives pipeline events in emission order.
type EventSink interface {
	Emit(Event)
}

// ChannelSink delivers events over a channel. Emit blocks until the event is received.
type ChannelSink chan Event

func (c ChannelSink) Emit(e Event) { c <- e }

// SinkFunc adapts a function to [EventSink].
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// StopToken carries control commands from the UI to a running sync.
//
// It holds at most one pending command; the pipeline polls it once per completed song.
type StopToken struct {
	commands chan string
	stopped  atomic.Bool
}

// NewStopToken creates an empty token.
func NewStopToken() *StopToken {
	return &StopToken{commands: make(chan string, 1)}
}

// Send queues cmd without blocking. It reports false when a command is already pending.
func (s *StopToken) Send(cmd string) bool {
	select {
	case s.commands <- cmd:
		return true
	default:
		return false
	}
}

// Exit requests a graceful stop.
func (s *StopToken) Exit() bool {
	return s.Send(CommandExit)
}

// Requested polls for a pending command and reports whether an exit has been received.
// A nil token never requests a stop.
func (s *StopToken) Requested() bool {
	if s == nil {
		return false
	}
	if s.stopped.Load() {
		return true
	}
	select {
	case cmd := <-s.commands:
		if cmd == CommandExit {
			s.stopped.Store(true)
		}
	default:
	}
	return s.stopped.Load()
}
