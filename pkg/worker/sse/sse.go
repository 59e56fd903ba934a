// Package sse reads a Server-Sent-Events response body one event at a
// time, tagging each event with the monotonic clock reading observed at
// the instant its first byte arrived (spec.md §4.5: "the first-byte time
// of an SSE chunk is itself a measured quantity — time to first token and
// every subsequent inter-token gap derive from it").
package sse

import (
	"bufio"
	"io"
	"strings"
	"time"

	"github.com/aiperf/aiperf-go/pkg/model"
)

// Reader pulls one event at a time off body, following the WHATWG HTML
// Living Standard event-stream parsing rules: lines are separated by
// "\n", "\r\n", or "\r"; a line starting with ":" is a comment and
// ignored; a line "field: value" (optional single leading space on the
// value stripped) sets a field; a bare "field" line sets that field to the
// empty string; a blank line terminates and dispatches the event.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps body for event-at-a-time reading.
func NewReader(body io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(body)}
}

// Next blocks for the next event's first byte, records PerfNS at that
// instant, then reads until the terminating blank line. It returns
// io.EOF once the stream is exhausted with no further event pending.
func (r *Reader) Next() (model.SSEMessage, error) {
	_, err := r.br.ReadByte()
	if err != nil {
		return model.SSEMessage{}, err
	}
	perfNS := time.Now().UnixNano()
	if err := r.br.UnreadByte(); err != nil {
		return model.SSEMessage{}, err
	}

	var fields []model.SSEField
	for {
		line, err := r.readLine()
		if err != nil && line == "" {
			if len(fields) > 0 {
				return model.SSEMessage{PerfNS: perfNS, Fields: fields}, nil
			}
			return model.SSEMessage{}, err
		}
		if line == "" {
			// Blank line: dispatch (or, if nothing was collected yet,
			// skip leading blank lines between events).
			if len(fields) > 0 {
				return model.SSEMessage{PerfNS: perfNS, Fields: fields}, nil
			}
			if err != nil {
				return model.SSEMessage{}, err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // comment
		}
		name, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		fields = append(fields, model.SSEField{Name: name, Value: value})
		if err != nil {
			return model.SSEMessage{PerfNS: perfNS, Fields: fields}, nil
		}
	}
}

// readLine reads one line with any trailing \r\n, \n, or \r stripped. It
// may return a non-empty line alongside io.EOF when the stream ends
// without a final newline.
func (r *Reader) readLine() (string, error) {
	var sb strings.Builder
	for {
		b, err := r.br.ReadByte()
		if err != nil {
			return sb.String(), err
		}
		if b == '\n' {
			s := sb.String()
			return strings.TrimSuffix(s, "\r"), nil
		}
		if b == '\r' {
			next, err := r.br.Peek(1)
			if err == nil && len(next) == 1 && next[0] == '\n' {
				r.br.ReadByte()
			}
			return sb.String(), nil
		}
		sb.WriteByte(b)
	}
}

// DataText concatenates every "data" field value of an event, each
// separated by a newline, matching the Living Standard's buffering rule.
func DataText(msg model.SSEMessage) string {
	var parts []string
	for _, f := range msg.Fields {
		if f.Name == "data" {
			parts = append(parts, f.Value)
		}
	}
	return strings.Join(parts, "\n")
}

// IsDone reports whether the event's data payload is the OpenAI-style
// stream terminator "[DONE]".
func IsDone(msg model.SSEMessage) bool {
	return strings.TrimSpace(DataText(msg)) == "[DONE]"
}
