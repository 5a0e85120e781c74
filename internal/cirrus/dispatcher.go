package cirrus

import (
	"context"
	"sync"
	"time"

	"github.com/eapache/queue"
)

// errCell holds the first terminal error of a session.
// It is set once by a background loop and read by every watcher.
type errCell struct {
	once sync.Once
	err  error
	done chan struct{}
}

func newErrCell() *errCell {
	return &errCell{done: make(chan struct{})}
}

// Set stores err if the cell is still empty. It reports whether err was stored.
func (c *errCell) Set(err error) bool {
	stored := false
	c.once.Do(func() {
		c.err = err
		close(c.done)
		stored = true
	})
	return stored
}

// Err returns the stored error, or nil.
func (c *errCell) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Done is closed once an error has been stored.
func (c *errCell) Done() <-chan struct{} {
	return c.done
}

// Watcher is one consumer's view of the inbound frame stream.
//
// Frames of the watcher's kind are appended to an unbounded FIFO in receipt
// order. A slow watcher grows its own queue and never blocks the receive
// loop or other watchers.
type Watcher struct {
	kind   FrameKind
	cell   *errCell
	mu     sync.Mutex
	items  *queue.Queue
	signal chan struct{}
}

func newWatcher(kind FrameKind, cell *errCell) *Watcher {
	return &Watcher{
		kind:   kind,
		cell:   cell,
		items:  queue.New(),
		signal: make(chan struct{}, 1),
	}
}

// Kind returns the frame kind this watcher receives.
func (w *Watcher) Kind() FrameKind {
	return w.kind
}

// Len returns the number of frames waiting to be read.
func (w *Watcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.items.Length()
}

func (w *Watcher) push(f Frame) {
	w.mu.Lock()
	w.items.Add(f)
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *Watcher) pop() (Frame, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.items.Length() == 0 {
		return Frame{}, false
	}
	f, _ := w.items.Remove().(Frame)
	return f, true
}

// Read returns the next queued frame.
//
// Frames already queued are returned before the session's terminal error.
// Once the queue is empty, a terminal error is returned immediately. A
// timeout <= 0 waits without limit; otherwise ErrTimeout is returned to this
// reader only.
func (w *Watcher) Read(ctx context.Context, timeout time.Duration) (Frame, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if f, ok := w.pop(); ok {
			return f, nil
		}
		if err := w.cell.Err(); err != nil {
			return Frame{}, err
		}

		select {
		case <-w.signal:
		case <-w.cell.Done():
		case <-deadline:
			return Frame{}, ErrTimeout
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}

// Dispatcher fans inbound frames out to every registered watcher.
type Dispatcher struct {
	cell     *errCell
	mu       sync.Mutex
	watchers map[*Watcher]struct{}
}

// newDispatcher creates a dispatcher whose watchers report failures stored
// in cell.
func newDispatcher(cell *errCell) *Dispatcher {
	return &Dispatcher{
		cell:     cell,
		watchers: make(map[*Watcher]struct{}),
	}
}

// Register adds a new watcher for frames of kind.
// Every Register must be paired with exactly one Unregister.
func (d *Dispatcher) Register(kind FrameKind) *Watcher {
	w := newWatcher(kind, d.cell)
	d.mu.Lock()
	d.watchers[w] = struct{}{}
	d.mu.Unlock()
	return w
}

// Unregister removes w. Removing an unknown watcher is a no-op.
func (d *Dispatcher) Unregister(w *Watcher) {
	d.mu.Lock()
	delete(d.watchers, w)
	d.mu.Unlock()
}

// Broadcast queues f on every registered watcher of the same kind.
// It must only be called from a single goroutine to preserve ordering.
func (d *Dispatcher) Broadcast(f Frame) {
	d.mu.Lock()
	targets := make([]*Watcher, 0, len(d.watchers))
	for w := range d.watchers {
		if w.kind == f.Kind {
			targets = append(targets, w)
		}
	}
	d.mu.Unlock()

	for _, w := range targets {
		w.push(f)
	}
}

// Len returns the number of registered watchers.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.watchers)
}
