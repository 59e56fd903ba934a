// Package logging wires up the per-service structured logger and the
// bounded, drop-on-full queue that forwards child-service logs to the
// controller process (spec.md §9: "multi-process logging queue").
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// New builds a logger for serviceID. When stderr is a terminal it uses
// zerolog's console writer (colorized, human-readable — the structured
// analog of the teacher's emoji-prefixed log.Printf lines); otherwise it
// emits one JSON object per line, suitable for a log-aggregation pipeline.
func New(serviceID string) zerolog.Logger {
	var w io.Writer = os.Stderr
	if isTerminal(os.Stderr) {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).With().
		Timestamp().
		Str("service_id", serviceID).
		Logger()
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// Entry is one forwarded log line, tagged with its originating service.
type Entry struct {
	ServiceID string
	Level     zerolog.Level
	Message   string
	Time      time.Time
}

// Queue is a bounded, non-blocking log-forwarding channel. Services push
// entries to it from a zerolog hook; the controller drains it and
// re-emits each entry under the originating service's name. A full queue
// drops new entries rather than blocking the caller, matching spec.md §9's
// "drop-on-full to prevent recursion" guidance.
type Queue struct {
	ch chan Entry
}

// NewQueue creates a Queue with the given bounded capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Queue{ch: make(chan Entry, capacity)}
}

// Push enqueues an entry, dropping it silently if the queue is full.
func (q *Queue) Push(e Entry) {
	select {
	case q.ch <- e:
	default:
	}
}

// Drain returns the receive-only channel of forwarded entries.
func (q *Queue) Drain() <-chan Entry { return q.ch }

// Hook implements zerolog.Hook, forwarding every log line at Info level or
// above into a Queue in addition to the logger's normal output; Debug and
// Trace lines are not forwarded.
type Hook struct {
	ServiceID string
	Queue     *Queue
}

func (h Hook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if h.Queue == nil || level < zerolog.InfoLevel {
		return
	}
	h.Queue.Push(Entry{ServiceID: h.ServiceID, Level: level, Message: msg, Time: time.Now()})
}

// WithQueue attaches a forwarding Hook to logger.
func WithQueue(logger zerolog.Logger, serviceID string, q *Queue) zerolog.Logger {
	return logger.Hook(Hook{ServiceID: serviceID, Queue: q})
}
