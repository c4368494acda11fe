package playback

import "sync"

// DropRecorder counts frames a slow subscriber never received.
type DropRecorder interface {
	IncDroppedFrames()
}

// Hub fans frames out to any number of subscribers. Each subscriber has a
// bounded buffer; when it is full the oldest queued frame is dropped so a
// stalled reader never blocks the tick path.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]chan Frame
	nextID uint64
	buffer int
	drops  DropRecorder
	closed bool
	// gen is the newest session generation published so far.
	gen uint64
}

// NewHub constructs a hub whose subscribers buffer up to buffer frames.
// drops may be nil.
func NewHub(buffer int, drops DropRecorder) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{subs: make(map[uint64]chan Frame), buffer: buffer, drops: drops}
}

// Publish implements Sink. A frame from a newer session flushes every frame
// of older sessions still queued for a subscriber, and frames from a session
// older than the newest one seen are discarded.
func (h *Hub) Publish(f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch gen := f.Render.Generation; {
	case gen < h.gen:
		return
	case gen > h.gen:
		h.gen = gen
		for _, ch := range h.subs {
			flush(ch)
		}
	}
	for _, ch := range h.subs {
		select {
		case ch <- f:
			continue
		default:
		}
		select {
		case <-ch:
			if h.drops != nil {
				h.drops.IncDroppedFrames()
			}
		default:
		}
		select {
		case ch <- f:
		default:
		}
	}
}

// Generation returns the newest session generation published.
func (h *Hub) Generation() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gen
}

func flush(ch chan Frame) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// Subscribe returns a channel of frames and a function that unsubscribes
// and closes it. On a closed hub the channel is already closed.
func (h *Hub) Subscribe() (<-chan Frame, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Frame, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Later publishes are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
