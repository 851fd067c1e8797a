package llmprovider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/haowjy/meridian-stream-go/sse"
	"github.com/rs/zerolog"
)

// Reassembler turns one vendor's data payloads into canonical events. Each
// vendor package provides one; an instance serves a single stream.
type Reassembler interface {
	// Push consumes one data payload. Events produced before a failure are
	// returned along with the error.
	Push(payload string) ([]Event, error)

	// End is called once at a clean end of transport.
	End() ([]Event, error)
}

// EventStream is a lazy, finite, pull-based sequence of canonical events.
// It is not restartable and not safe for concurrent use.
type EventStream interface {
	// Next advances to the next event. It returns false when the stream
	// ended, failed, or was closed.
	Next() bool

	// Current returns the event Next advanced to.
	Current() Event

	// Err returns the error that ended the stream, if any. A terminal
	// ErrorEvent carries the same error.
	Err() error

	// Close releases the transport. Pending events are discarded.
	Close() error
}

// StreamOption configures an SSEStream.
type StreamOption func(*SSEStream)

// WithStreamLogger sets the stream logger.
func WithStreamLogger(l zerolog.Logger) StreamOption {
	return func(s *SSEStream) { s.logger = l }
}

// WithStreamMetrics records per-event metrics.
func WithStreamMetrics(m *Metrics) StreamOption {
	return func(s *SSEStream) { s.metrics = m }
}

// WithProviderName labels errors, logs and metrics.
func WithProviderName(name string) StreamOption {
	return func(s *SSEStream) { s.provider = name }
}

// SSEStream drives an sse.Reader and a Reassembler from Next. Nothing runs
// in the background: bytes are read only while the caller is pulling.
type SSEStream struct {
	ctx         context.Context
	body        io.ReadCloser
	reader      *sse.Reader
	reassembler Reassembler

	provider string
	logger   zerolog.Logger
	metrics  *Metrics

	queue   []Event
	current Event
	err     error
	done    bool
	closed  bool

	opened  time.Time
	emitted bool
}

// NewEventStream returns a stream that reads SSE from body. The stream owns
// body and closes it when it ends.
func NewEventStream(ctx context.Context, body io.ReadCloser, r Reassembler, opts ...StreamOption) *SSEStream {
	s := &SSEStream{
		ctx:         ctx,
		body:        body,
		reader:      sse.NewReader(body),
		reassembler: r,
		logger:      zerolog.Nop(),
		opened:      time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next implements EventStream.
func (s *SSEStream) Next() bool {
	for {
		if s.closed {
			return false
		}
		if err := s.ctx.Err(); err != nil {
			s.cancel(err)
			return false
		}
		if len(s.queue) > 0 {
			s.current = s.queue[0]
			s.queue = s.queue[1:]
			s.observe(s.current)
			return true
		}
		if s.done {
			s.release()
			return false
		}
		s.pull()
	}
}

// Current implements EventStream.
func (s *SSEStream) Current() Event {
	return s.current
}

// Err implements EventStream.
func (s *SSEStream) Err() error {
	return s.err
}

// Close implements EventStream.
func (s *SSEStream) Close() error {
	if s.closed {
		return nil
	}
	if !s.done {
		s.metrics.observeCancel(s.provider)
	}
	s.closed = true
	s.done = true
	s.queue = nil
	return s.body.Close()
}

// pull reads one payload and queues whatever it produces.
func (s *SSEStream) pull() {
	payload, err := s.reader.Next()
	if errors.Is(err, io.EOF) {
		events, endErr := s.reassembler.End()
		s.queue = append(s.queue, events...)
		if endErr != nil {
			s.fail(endErr)
			return
		}
		s.done = true
		return
	}
	if err != nil {
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			s.cancel(ctxErr)
			return
		}
		s.fail(s.transportError(err))
		return
	}

	events, err := s.reassembler.Push(payload)
	s.queue = append(s.queue, events...)
	if err != nil {
		s.fail(err)
	}
}

func (s *SSEStream) transportError(err error) error {
	if errors.Is(err, sse.ErrInvalidUTF8) {
		return &InvalidEventDataError{Provider: s.provider, Detail: err.Error()}
	}
	return NewNetworkError(s.provider, fmt.Errorf("reading stream: %w", err))
}

// fail queues the terminal ErrorEvent after any events already produced.
func (s *SSEStream) fail(err error) {
	s.err = err
	s.done = true
	s.queue = append(s.queue, ErrorEvent{Kind: KindOf(err), Err: err})
	s.logger.Error().Err(err).Str("kind", KindOf(err).String()).Msg("stream failed")
}

// cancel ends the stream without emitting anything further.
func (s *SSEStream) cancel(err error) {
	if s.err == nil {
		s.err = err
	}
	s.logger.Debug().Err(err).Msg("stream cancelled")
	_ = s.Close()
}

func (s *SSEStream) release() {
	if s.closed {
		return
	}
	s.closed = true
	if err := s.body.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("closing stream body")
	}
}

func (s *SSEStream) observe(ev Event) {
	if !s.emitted {
		s.emitted = true
		s.metrics.observeFirstEvent(s.provider, s.opened)
	}
	s.metrics.observeEvent(s.provider, ev)
}

// Events adapts an EventStream for range-over-func. Breaking out of the loop
// closes the stream.
func Events(stream EventStream) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		defer stream.Close()
		for stream.Next() {
			if !yield(stream.Current()) {
				return
			}
		}
	}
}

// Collect drains stream and returns every event. The error is the one that
// ended the stream, including context cancellation.
func Collect(stream EventStream) ([]Event, error) {
	var events []Event
	for ev := range Events(stream) {
		events = append(events, ev)
	}
	return events, stream.Err()
}

// CollectResponse drains stream into a GenerateResponse.
func CollectResponse(stream EventStream) (*GenerateResponse, error) {
	events, err := Collect(stream)
	if err != nil {
		return nil, err
	}
	return Accumulate(events)
}

// SliceStream replays a fixed event sequence as an EventStream. Bridges and
// tests use it to re-encode events that were already collected.
type SliceStream struct {
	events  []Event
	pos     int
	current Event
	err     error
}

// NewSliceStream returns a stream over events. A trailing ErrorEvent
// becomes the stream's Err.
func NewSliceStream(events ...Event) *SliceStream {
	s := &SliceStream{events: events}
	if n := len(events); n > 0 {
		if e, ok := events[n-1].(ErrorEvent); ok {
			s.err = e.Err
		}
	}
	return s
}

// Next implements EventStream.
func (s *SliceStream) Next() bool {
	if s.pos >= len(s.events) {
		return false
	}
	s.current = s.events[s.pos]
	s.pos++
	return true
}

// Current implements EventStream.
func (s *SliceStream) Current() Event { return s.current }

// Err implements EventStream.
func (s *SliceStream) Err() error {
	if s.pos < len(s.events) {
		return nil
	}
	return s.err
}

// Close implements EventStream.
func (s *SliceStream) Close() error {
	s.pos = len(s.events)
	return nil
}
