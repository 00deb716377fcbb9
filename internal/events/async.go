package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const deliverTimeout = 5 * time.Second

// Async hands events to a single background worker through a bounded
// queue. When the queue is full the event is dropped.
type Async struct {
	inner  Publisher
	logger *zap.Logger
	queue  chan Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAsync(inner Publisher, buffer int, logger *zap.Logger) *Async {
	a := &Async{
		inner:  inner,
		logger: logger,
		queue:  make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		if err := a.inner.Publish(ctx, e); err != nil {
			a.logger.Warn("event delivery failed", zap.String("type", e.Type), zap.String("report_id", e.ReportID), zap.Error(err))
		}
		cancel()
	}
}

func (a *Async) Publish(_ context.Context, e Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- e:
	default:
		a.logger.Warn("event queue full, dropping event", zap.String("type", e.Type), zap.String("report_id", e.ReportID))
	}
	return nil
}

// Close stops accepting events, delivers what is queued, then closes the
// wrapped publisher.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.inner.Close()
}
