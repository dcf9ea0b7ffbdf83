package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xtrntr/tradebot/internal/market"
	"github.com/xtrntr/tradebot/internal/models"
)

var _ market.Notifier = (*Async)(nil)

const (
	// DefaultQueueSize bounds the notifications waiting for delivery
	DefaultQueueSize = 1024
	deliverTimeout   = 30 * time.Second
)

// Async hands notifications to a single background goroutine so a slow sink
// never holds up the caller. Delivery order is preserved. When the queue is
// full the notification is dropped and logged.
type Async struct {
	next   market.Notifier
	logger *zap.Logger
	queue  chan models.Notification
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the delivery goroutine. Close stops it.
func NewAsync(next market.Notifier, size int, logger *zap.Logger) *Async {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	a := &Async{
		next:   next,
		logger: logger,
		queue:  make(chan models.Notification, size),
		done:   make(chan struct{}),
	}
	go a.deliver()
	return a
}

func (a *Async) Notify(ctx context.Context, n models.Notification) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.logger.Warn("Notification after shutdown dropped", zap.Int64("user_id", n.UserID), zap.String("kind", string(n.Kind)))
		return
	}
	select {
	case a.queue <- n:
	default:
		a.logger.Warn("Notification queue full, dropping",
			zap.Int64("user_id", n.UserID),
			zap.String("kind", string(n.Kind)),
			zap.Int("queued", len(a.queue)))
	}
}

func (a *Async) deliver() {
	defer close(a.done)
	for n := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		a.next.Notify(ctx, n)
		cancel()
	}
}

// Close stops accepting notifications and waits until the queued ones are delivered
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}
