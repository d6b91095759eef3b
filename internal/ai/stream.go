package ai

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// EventType tags a stream event.
type EventType int

const (
	EventDelta EventType = iota
	EventComplete
	EventError
)

// Metadata is carried on the completion event.
type Metadata struct {
	Model         string
	CreatedAt     string
	TotalDuration int64
}

// Event is one decoded stream event. A stream yields zero or more deltas
// followed by exactly one terminal Complete or Error event.
type Event struct {
	Type  EventType
	Delta string   // EventDelta: the content fragment
	Text  string   // EventComplete: all fragments accumulated
	Meta  Metadata // EventComplete only
	Err   error    // EventError only
}

// IncompletePolicy decides what happens when the byte stream ends without a
// completion frame. The upstream behavior here is genuinely ambiguous, so it
// is explicit configuration rather than a guess.
type IncompletePolicy int

const (
	// IncompleteError surfaces ErrIncompleteStream as the terminal event.
	IncompleteError IncompletePolicy = iota
	// IncompleteAccept completes with whatever text accumulated.
	IncompleteAccept
)

const dataPrefix = "data: "

// streamFrame is one JSON frame on a "data: " line.
type streamFrame struct {
	Response      string `json:"response"`
	Done          bool   `json:"done"`
	Model         string `json:"model"`
	CreatedAt     string `json:"created_at"`
	TotalDuration int64  `json:"total_duration"`
}

// Stream decodes a line-delimited event body into Events. It owns the
// response body; Close releases it. Events is closed after the terminal
// event, and nothing is emitted after Close.
type Stream struct {
	body   io.ReadCloser
	events chan Event

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStream starts decoding body. Ownership of body transfers to the
// Stream; the caller consumes Events and must Close if it stops early.
func NewStream(body io.ReadCloser, policy IncompletePolicy, log *zap.Logger) *Stream {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Stream{
		body:   body,
		events: make(chan Event, 16),
		closed: make(chan struct{}),
	}
	go s.decode(policy, log)
	return s
}

// Events returns the decoded event sequence. The channel is closed once a
// terminal event has been delivered or the stream is closed.
func (s *Stream) Events() <-chan Event { return s.events }

// Close releases the underlying body. Safe to call more than once and at any
// point; the decode loop stops without emitting further events.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.body.Close()
	})
	return err
}

// emit delivers ev unless the stream has been abandoned.
func (s *Stream) emit(ev Event) bool {
	select {
	case <-s.closed:
		return false
	case s.events <- ev:
		return true
	}
}

func (s *Stream) decode(policy IncompletePolicy, log *zap.Logger) {
	defer close(s.events)
	defer s.Close()

	var acc strings.Builder

	sc := bufio.NewScanner(s.body)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 2*1024*1024)

	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(line[len(dataPrefix):]), &frame); err != nil {
			// Transient or diagnostic frames are tolerated; a bad frame
			// never terminates the stream.
			log.Debug("dropping malformed stream frame", zap.Error(err))
			continue
		}

		if frame.Done {
			s.emit(Event{
				Type: EventComplete,
				Text: acc.String(),
				Meta: Metadata{
					Model:         frame.Model,
					CreatedAt:     frame.CreatedAt,
					TotalDuration: frame.TotalDuration,
				},
			})
			return
		}

		if frame.Response != "" {
			acc.WriteString(frame.Response)
			if !s.emit(Event{Type: EventDelta, Delta: frame.Response}) {
				return
			}
		}
	}

	select {
	case <-s.closed:
		// Abandoned mid-stream; the scanner error is a consequence of the
		// body being closed under it, not a stream failure.
		return
	default:
	}

	if err := sc.Err(); err != nil {
		s.emit(Event{Type: EventError, Err: &NetworkError{Err: err}})
		return
	}

	// End of data without a completion frame.
	switch policy {
	case IncompleteAccept:
		s.emit(Event{Type: EventComplete, Text: acc.String()})
	default:
		s.emit(Event{Type: EventError, Err: ErrIncompleteStream})
	}
}
