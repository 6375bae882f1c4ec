// Package stream fans reconciler notifications out to live observers over
// server-sent events and WebSocket, and serves the polling and event-ingest
// HTTP endpoints.
package stream

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360studio/legion/state"
)

// StreamSocket carries every applied event in wire form, the way a push
// socket sends it.
const StreamSocket state.Stream = "socket"

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Message is one delivery to a subscriber. For the view streams Data is the
// full current view; for StreamSocket it is the raw event and Kind names it.
type Message struct {
	Stream state.Stream
	Kind   string
	Data   any
}

// Subscription receives messages for one (chat, stream) pair. When the
// subscriber falls behind, the oldest queued message is dropped.
type Subscription struct {
	C <-chan Message

	ch      chan Message
	hub     *Hub
	key     subKey
	dropped atomic.Int64
	once    sync.Once
}

// Dropped reports how many messages were discarded because the queue was
// full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

type subKey struct {
	chatID string
	stream state.Stream
}

// Hub implements state.Notifier by delivering to in-process subscribers.
type Hub struct {
	mu     sync.Mutex
	subs   map[subKey]map[*Subscription]struct{}
	buffer int
	logger *slog.Logger
}

// NewHub creates a hub. buffer <= 0 uses DefaultBuffer; a nil logger uses
// slog.Default().
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[subKey]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a subscriber for one stream of a chat.
func (h *Hub) Subscribe(chatID string, stream state.Stream) *Subscription {
	ch := make(chan Message, h.buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h, key: subKey{chatID, stream}}

	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[sub.key]
	if set == nil {
		set = make(map[*Subscription]struct{})
		h.subs[sub.key] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Subscribers returns the number of live subscribers for a chat stream.
func (h *Hub) Subscribers(chatID string, stream state.Stream) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[subKey{chatID, stream}])
}

// Notify delivers a view snapshot.
func (h *Hub) Notify(chatID string, stream state.Stream, data any) {
	h.deliver(subKey{chatID, stream}, Message{Stream: stream, Data: data})
}

// Push delivers a raw event to socket subscribers.
func (h *Hub) Push(chatID string, ev state.Event) {
	h.deliver(subKey{chatID, StreamSocket}, Message{Stream: StreamSocket, Kind: ev.Kind(), Data: ev})
}

// deliver never blocks: a full queue loses its oldest message.
func (h *Hub) deliver(key subKey, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[key] {
		select {
		case sub.ch <- msg:
			continue
		default:
		}
		select {
		case <-sub.ch:
			sub.dropped.Add(1)
		default:
		}
		select {
		case sub.ch <- msg:
		default:
			sub.dropped.Add(1)
		}
		h.logger.Debug("Subscriber lagging, dropped oldest message",
			"chat_id", key.chatID,
			"stream", key.stream,
			"dropped", sub.dropped.Load())
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.subs[sub.key]; set != nil {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.key)
		}
	}
	close(sub.ch)
}
