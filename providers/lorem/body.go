package lorem

import (
	"context"
	"io"
	"math/rand/v2"
	"time"
)

// chunkedBody serves pre-built SSE frames the way a network connection
// would: each frame is handed out in pieces of random size, and a new frame
// is released only after delay has passed.
type chunkedBody struct {
	ctx    context.Context
	frames [][]byte
	delay  time.Duration

	pending []byte
	closed  bool
}

func newChunkedBody(ctx context.Context, frames [][]byte, delay time.Duration) *chunkedBody {
	return &chunkedBody{ctx: ctx, frames: frames, delay: delay}
}

// Read implements io.Reader. It blocks for the frame delay and returns the
// context's error if it is cancelled while waiting.
func (b *chunkedBody) Read(p []byte) (int, error) {
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}

	if len(b.pending) == 0 {
		if len(b.frames) == 0 {
			return 0, io.EOF
		}
		if b.delay > 0 {
			timer := time.NewTimer(b.delay)
			select {
			case <-timer.C:
			case <-b.ctx.Done():
				timer.Stop()
				return 0, b.ctx.Err()
			}
		}
		b.pending, b.frames = b.frames[0], b.frames[1:]
	}

	n := min(len(p), len(b.pending), 1+rand.IntN(len(b.pending)))
	copy(p, b.pending[:n])
	b.pending = b.pending[n:]
	return n, nil
}

// Close implements io.Closer.
func (b *chunkedBody) Close() error {
	b.closed = true
	b.frames, b.pending = nil, nil
	return nil
}
