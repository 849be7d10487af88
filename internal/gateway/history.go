package gateway

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dhruvsoni1802/browser-gateway/internal/metrics"
)

const (
	// DefaultHistoryLimit is how many messages History keeps when no limit is given
	DefaultHistoryLimit = 10000

	// DefaultListLimit is the page size of ListMessages when the caller asks for 0
	DefaultListLimit = 100

	// MaxListLimit bounds ListMessages
	MaxListLimit = 1000

	sinkTimeout = 2 * time.Second

	// sinkQueue is how many messages may wait for the sink before new ones are dropped
	sinkQueue = 256
)

// MessageSink receives a copy of every recorded message
type MessageSink interface {
	Publish(ctx context.Context, msg Message) error
}

// History is a bounded, append-only record of protocol messages.
// Once full, the oldest message is dropped for each new one.
type History struct {
	mu       sync.RWMutex
	messages []Message
	next     int
	full     bool

	sink       MessageSink
	pending    chan Message
	sinkMu     sync.Mutex // guards sinkClosed and sends on pending
	sinkClosed bool
	sinkDone   chan struct{}

	logger *slog.Logger
}

// NewHistory creates a history keeping at most limit messages. With a sink,
// messages are mirrored by one background worker so a slow sink never holds
// up the caller; Close stops it.
func NewHistory(limit int, sink MessageSink, logger *slog.Logger) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &History{
		messages: make([]Message, limit),
		sink:     sink,
		logger:   logger,
	}
	if sink != nil {
		h.pending = make(chan Message, sinkQueue)
		h.sinkDone = make(chan struct{})
		go h.drain()
	}
	return h
}

// drain publishes queued messages until Close
func (h *History) drain() {
	defer close(h.sinkDone)
	for msg := range h.pending {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := h.sink.Publish(ctx, msg); err != nil {
			h.logger.Warn("failed to mirror message", "message_id", msg.ID, "error", err)
		}
		cancel()
	}
}

func (h *History) mirror(msg Message) {
	h.sinkMu.Lock()
	defer h.sinkMu.Unlock()
	if h.sinkClosed {
		return
	}
	select {
	case h.pending <- msg:
	default:
		h.logger.Warn("mirror queue full, dropping message", "message_id", msg.ID)
	}
}

// Close flushes queued messages to the sink and stops the worker.
// Messages appended afterwards are still recorded but no longer mirrored.
func (h *History) Close() {
	if h.sink == nil {
		return
	}
	h.sinkMu.Lock()
	if !h.sinkClosed {
		h.sinkClosed = true
		close(h.pending)
	}
	h.sinkMu.Unlock()
	<-h.sinkDone
}

// Append records msg and mirrors it to the sink if one is set
func (h *History) Append(msg Message) {
	h.mu.Lock()
	h.messages[h.next] = msg
	h.next = (h.next + 1) % len(h.messages)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()

	metrics.RecordMessage(string(msg.Direction), string(msg.Type))

	if h.sink != nil {
		h.mirror(msg)
	}
}

// List returns up to limit messages, newest first, optionally filtered by connection
func (h *History) List(connectionID string, limit int) []Message {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	h.mu.RLock()
	size := h.next
	if h.full {
		size = len(h.messages)
	}
	// Walk from the newest entry so equal timestamps keep newest-first order
	matched := make([]Message, 0, min(size, limit))
	for k := range size {
		msg := h.messages[(h.next-1-k+len(h.messages))%len(h.messages)]
		if connectionID != "" && msg.ConnectionID != connectionID {
			continue
		}
		matched = append(matched, msg)
	}
	h.mu.RUnlock()

	slices.SortStableFunc(matched, func(a, b Message) int {
		return cmp.Compare(b.Timestamp.UnixNano(), a.Timestamp.UnixNano())
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// Len returns how many messages are held
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.messages)
	}
	return h.next
}
