package feed

import (
	"sync"

	"github.com/google/uuid"

	"helpboard-backend/internal/domain"
)

// Handle is one live subscription. Each handle owns an ordered mailbox
// drained by a single goroutine, so callbacks never run concurrently.
type Handle struct {
	id      uuid.UUID
	table   domain.Table
	filter  Filter
	onEvent func(domain.ChangeEvent)
	onError func(error)
	broker  *Broker

	mu       sync.Mutex
	queue    []domain.ChangeEvent
	overflow bool
	cursor   int64
	limit    int

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newHandle(b *Broker, table domain.Table, filter Filter, onEvent func(domain.ChangeEvent), onError func(error)) *Handle {
	return &Handle{
		id:      uuid.New(),
		table:   table,
		filter:  filter,
		onEvent: onEvent,
		onError: onError,
		broker:  b,
		limit:   b.limit,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (h *Handle) ID() string          { return h.id.String() }
func (h *Handle) Table() domain.Table { return h.table }

// Done is closed once the handle stops delivering.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cursor is the highest sequence handed to onEvent so far.
func (h *Handle) Cursor() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor
}

// Unsubscribe releases the registration. Safe to call any number of times.
func (h *Handle) Unsubscribe() {
	h.once.Do(func() {
		h.broker.remove(h)
		close(h.done)
	})
}

// enqueue is called with the broker lock held. It returns false when the
// mailbox limit was hit; the caller then drops the registration.
func (h *Handle) enqueue(e domain.ChangeEvent) bool {
	h.mu.Lock()
	if h.limit > 0 && len(h.queue) >= h.limit {
		h.overflow = true
		h.queue = nil
		h.mu.Unlock()
		h.signal()
		return false
	}
	h.queue = append(h.queue, e)
	h.mu.Unlock()
	h.signal()
	return true
}

func (h *Handle) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Handle) run() {
	for {
		select {
		case <-h.done:
			return
		case <-h.wake:
		}

		h.mu.Lock()
		batch := h.queue
		h.queue = nil
		overflow := h.overflow
		h.mu.Unlock()

		if overflow {
			if h.onError != nil {
				h.onError(ErrSubscriberOverflow)
			}
			h.Unsubscribe()
			return
		}
		for _, e := range batch {
			select {
			case <-h.done:
				return
			default:
			}
			h.onEvent(e)
			h.mu.Lock()
			if e.Seq > h.cursor {
				h.cursor = e.Seq
			}
			h.mu.Unlock()
		}
	}
}
