package cirrus

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Stream is a lazy sequence of inbound envelopes backed by one Watcher.
//
// A Stream ends at its first error; later calls to Next return the same
// error. The watcher is released when the stream ends or is closed.
type Stream struct {
	session *Session
	watcher *Watcher
	timeout time.Duration
	match   func(*Response) bool

	// endOnIdle turns a timeout after at least one match into io.EOF.
	endOnIdle bool

	mu       sync.Mutex
	matched  int
	err      error
	closed   atomic.Bool
	released sync.Once
}

func newStream(s *Session, w *Watcher, timeout time.Duration, match func(*Response) bool, endOnIdle bool) *Stream {
	return &Stream{
		session:   s,
		watcher:   w,
		timeout:   timeout,
		match:     match,
		endOnIdle: endOnIdle,
	}
}

// matchID matches envelopes whose messageIdentifier equals id. Envelopes
// without an identifier never match.
func matchID(id string) func(*Response) bool {
	return func(r *Response) bool {
		got, ok := r.ID()
		return ok && got == id
	}
}

// Next returns the next matching envelope.
//
// Errors:
//   - ErrTimeout: the per-read timeout elapsed before any match
//   - io.EOF: the per-read timeout elapsed after at least one match (Send
//     streams only)
//   - the session's terminal error, or ctx.Err()
func (st *Stream) Next(ctx context.Context) (*Response, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.err != nil {
		return nil, st.err
	}
	if st.closed.Load() {
		return nil, ErrClosed
	}

	for {
		frame, err := st.watcher.Read(ctx, st.timeout)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				if st.endOnIdle && st.matched > 0 {
					err = io.EOF
				} else {
					st.session.timeouts.Add(1)
				}
			}
			st.end(err)
			return nil, err
		}

		resp := frame.Response
		if st.match != nil && !st.match(resp) {
			if _, ok := resp.ID(); !ok && st.endOnIdle {
				st.session.logDebug("ignoring envelope without messageIdentifier",
					"message_type", resp.MessageType)
			}
			continue
		}

		st.matched++
		return resp, nil
	}
}

// Matched returns how many envelopes the stream has yielded.
func (st *Stream) Matched() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.matched
}

// Close releases the stream's watcher. It is safe to call more than once
// and concurrently with Next.
func (st *Stream) Close() {
	st.closed.Store(true)
	st.release()
}

// end records the terminal error and releases the watcher. mu must be held.
func (st *Stream) end(err error) {
	st.err = err
	st.release()
}

func (st *Stream) release() {
	st.released.Do(func() {
		st.session.dispatcher.Unregister(st.watcher)
	})
}

// BinaryStream is a lazy sequence of inbound binary frames.
type BinaryStream struct {
	session  *Session
	watcher  *Watcher
	timeout  time.Duration
	released sync.Once
}

// Next returns the next binary frame, ErrTimeout, or the session's terminal
// error. The stream stays usable after a timeout.
func (bs *BinaryStream) Next(ctx context.Context) ([]byte, error) {
	frame, err := bs.watcher.Read(ctx, bs.timeout)
	if err != nil {
		return nil, err
	}
	return frame.Data, nil
}

// Close releases the stream's watcher.
func (bs *BinaryStream) Close() {
	bs.released.Do(func() {
		bs.session.dispatcher.Unregister(bs.watcher)
	})
}
