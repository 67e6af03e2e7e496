// Package bus decouples the webhook server from the ingestion workers
// with a buffered in-process queue.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"docverse/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based queue of delivered webhook events.
type InMemoryBus struct {
	inbound chan domain.InboundMessage
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
}

// New creates a bus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound: make(chan domain.InboundMessage, bufferSize),
		logger:  logger,
	}
}

// Publish enqueues one event. Blocks up to 10 seconds when the bus is
// full instead of dropping; a drop here would rely on the platform's
// redelivery to recover the event.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("publish to closed bus dropped", "key", msg.DedupKey())
		return
	}

	select {
	case b.inbound <- msg:
	default:
		b.logger.Warn("inbound bus full, waiting", "key", msg.DedupKey())
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
			b.logger.Info("event enqueued after wait", "key", msg.DedupKey())
		case <-timer.C:
			b.logger.Error("event dropped: bus full for 10s", "key", msg.DedupKey(), "sender", msg.Sender)
		}
	}
}

// Subscribe returns the worker-side channel. The channel closes when
// the bus closes.
func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
