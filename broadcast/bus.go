// Package broadcast provides best-effort publish/subscribe for job status
// transitions. Delivery is unordered across listeners and non-persistent:
// a listener that subscribes after an event was published must reconcile
// by querying the store.
package broadcast

import (
	"log/slog"
	"sync"

	"github.com/ngandimoun/voicejobs/models"
)

// StatusUpdate announces one job state transition.
type StatusUpdate struct {
	JobID  string            `json:"job_id"`
	Status models.JobStatus  `json:"status"`
	Result *models.JobResult `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// Broadcaster fans out status updates to independent listeners.
type Broadcaster interface {
	// Publish delivers the update to current subscribers, best-effort.
	Publish(update StatusUpdate)

	// Subscribe registers a handler and returns its unsubscribe func.
	Subscribe(handler func(StatusUpdate)) (unsubscribe func())
}

var _ Broadcaster = (*Bus)(nil)

// subscriberBuffer bounds how many undelivered updates a slow listener
// may accumulate before further updates are dropped for it.
const subscriberBuffer = 16

// Bus is the in-process Broadcaster. Each subscriber gets its own delivery
// goroutine and buffered channel, so a slow or failing listener never
// blocks Publish or the other listeners.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
	logger *slog.Logger
}

type subscriber struct {
	ch   chan StatusUpdate
	done chan struct{}
	once sync.Once
}

// NewBus creates an empty in-process bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[int]*subscriber), logger: logger}
}

// Publish delivers the update to every subscriber. Updates for subscribers
// with full buffers are dropped.
func (b *Bus) Publish(update StatusUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- update:
		default:
			b.logger.Warn("dropping status update for slow listener",
				slog.String("job_id", update.JobID),
				slog.String("status", string(update.Status)),
			)
		}
	}
}

// Subscribe registers a handler. The returned func removes it; calling it
// more than once is safe.
func (b *Bus) Subscribe(handler func(StatusUpdate)) func() {
	sub := &subscriber{
		ch:   make(chan StatusUpdate, subscriberBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go b.deliver(sub, handler)

	return func() {
		sub.once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.done)
		})
	}
}

func (b *Bus) deliver(sub *subscriber, handler func(StatusUpdate)) {
	for {
		select {
		case update := <-sub.ch:
			b.safeHandle(handler, update)
		case <-sub.done:
			return
		}
	}
}

// safeHandle isolates listener panics so one broken handler cannot take
// down the process.
func (b *Bus) safeHandle(handler func(StatusUpdate), update StatusUpdate) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("status listener panicked",
				slog.String("job_id", update.JobID),
				slog.Any("panic", r),
			)
		}
	}()
	handler(update)
}
