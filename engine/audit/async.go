package audit

import (
	"context"
	"sync"

	"github.com/palisade-ai/palisade/engine/core"
	"github.com/palisade-ai/palisade/pkg/logger"
)

const defaultQueueSize = 1024

// AsyncRecorder decouples audit writes from the request path: Record enqueues
// without blocking and a single worker drains into the store. When the queue
// is full the event is dropped and the drop is logged; audit pressure must
// never stall a query.
type AsyncRecorder struct {
	store Store
	log   logger.Logger

	queue     chan Event
	closeOnce sync.Once
	done      chan struct{}
}

func NewAsyncRecorder(store Store, queueSize int, log logger.Logger) *AsyncRecorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if log == nil {
		log = logger.NewForTests()
	}
	r := &AsyncRecorder{
		store: store,
		log:   log,
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
	go r.drain()
	return r
}

func (r *AsyncRecorder) Record(_ context.Context, event Event) {
	select {
	case r.queue <- event:
	default:
		r.log.Warn("audit queue full, dropping event",
			"event_type", event.Type, "request_id", event.RequestID)
	}
}

func (r *AsyncRecorder) drain() {
	defer close(r.done)
	for event := range r.queue {
		if err := r.store.Append(context.Background(), event); err != nil {
			r.log.Error("audit append failed", "event_type", event.Type, "error", core.RedactError(err))
		}
	}
}

// Close flushes the queue and stops the worker. Record must not be called
// after Close.
func (r *AsyncRecorder) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
	})
	<-r.done
}
