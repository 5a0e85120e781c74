package yanzi

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-yanzi/internal/cirrus"
)

// SampleHandler receives one pushed sample.
type SampleHandler func(key string, sample json.RawMessage)

// Bus fans pushed samples out to in-process handlers.
//
// Handlers run synchronously on the publishing goroutine, in the order they
// were added, and must not block for long.
type Bus struct {
	mu       sync.RWMutex
	handlers []SampleHandler

	published  atomic.Uint64
	byLocation sync.Map // location id -> *atomic.Uint64
}

var _ cirrus.Publisher = (*Bus)(nil)

// NewBus creates a bus with no handlers.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe adds a handler.
func (b *Bus) Subscribe(h SampleHandler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish implements cirrus.Publisher.
func (b *Bus) Publish(key string, sample json.RawMessage) {
	b.published.Add(1)
	if k, err := ParseKey(key); err == nil {
		counter, _ := b.byLocation.LoadOrStore(k.LocationID, new(atomic.Uint64))
		counter.(*atomic.Uint64).Add(1) //nolint:forcetypeassert // only *atomic.Uint64 is stored
	}

	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		h(key, sample)
	}
}

// Published returns the number of samples seen.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// PublishedFor returns the number of samples seen for one location.
func (b *Bus) PublishedFor(locationID string) uint64 {
	if counter, ok := b.byLocation.Load(locationID); ok {
		return counter.(*atomic.Uint64).Load() //nolint:forcetypeassert // only *atomic.Uint64 is stored
	}
	return 0
}
