package realtime

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrConnectionGone is returned when a send targets a handle that is not registered.
	ErrConnectionGone = errors.New("realtime: connection gone")
	// ErrSlowConsumer is returned when a connection's queue is full and the event was dropped.
	ErrSlowConsumer = errors.New("realtime: outbound queue full")
)

// DefaultBuffer is the number of events queued per connection before drops start.
const DefaultBuffer = 64

// Hub fans events out to per-connection outbound queues.
// Each connection owns one buffered channel, so events reach a given
// connection in the order they were enqueued, and a stalled reader only
// ever loses its own events.
type Hub[T any] struct {
	mu      sync.RWMutex
	conns   map[string]chan T
	buffer  int
	dropped atomic.Int64
}

// NewHub creates an empty hub. A non-positive buffer uses DefaultBuffer.
func NewHub[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub[T]{
		conns:  make(map[string]chan T),
		buffer: buffer,
	}
}

// Register adds a connection and returns its outbound queue. Any initial
// events are queued before the connection becomes visible to broadcasts, so
// they are always the first things it receives. Registering a handle twice
// closes the old queue first.
func (h *Hub[T]) Register(handle string, initial ...T) <-chan T {
	ch := make(chan T, h.buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ev := range initial {
		_ = h.offer(ch, ev)
	}
	if old, ok := h.conns[handle]; ok {
		close(old)
	}
	h.conns[handle] = ch
	return ch
}

// Unregister removes a connection and closes its queue. It reports whether
// the handle was registered, so only one caller ever observes true.
func (h *Hub[T]) Unregister(handle string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.conns[handle]
	if !ok {
		return false
	}
	delete(h.conns, handle)
	close(ch)
	return true
}

// SendTo enqueues an event for a single connection.
func (h *Hub[T]) SendTo(handle string, event T) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.conns[handle]
	if !ok {
		return ErrConnectionGone
	}
	return h.offer(ch, event)
}

// BroadcastToAll enqueues an event for every connection and returns how many
// queues accepted it.
func (h *Hub[T]) BroadcastToAll(event T) int {
	return h.BroadcastToOthers("", event)
}

// BroadcastToOthers enqueues an event for every connection except origin.
func (h *Hub[T]) BroadcastToOthers(origin string, event T) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for handle, ch := range h.conns {
		if origin != "" && handle == origin {
			continue
		}
		if h.offer(ch, event) == nil {
			delivered++
		}
	}
	return delivered
}

// offer must be called with h.mu held (read or write) so ch cannot be closed underneath it.
func (h *Hub[T]) offer(ch chan T, event T) error {
	select {
	case ch <- event:
		return nil
	default:
		// Drop for this connection only; the others keep flowing.
		h.dropped.Add(1)
		return ErrSlowConsumer
	}
}

// Has reports whether handle is registered.
func (h *Hub[T]) Has(handle string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[handle]
	return ok
}

// Len returns the number of registered connections.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Dropped returns how many events were discarded because a queue was full.
func (h *Hub[T]) Dropped() int64 {
	return h.dropped.Load()
}

// CloseAll unregisters every connection.
func (h *Hub[T]) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for handle, ch := range h.conns {
		delete(h.conns, handle)
		close(ch)
	}
}
