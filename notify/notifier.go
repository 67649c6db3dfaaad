// Package notify turns terminal status updates into user-visible
// notifications, exactly once per job.
package notify

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ngandimoun/voicejobs/broadcast"
	"github.com/ngandimoun/voicejobs/models"
)

// Sink displays a notification. Implementations are fire-and-forget; tag
// carries the job ID so host environments can collapse or replace earlier
// notifications for the same job.
type Sink interface {
	Show(title, body, tag string)
}

// LogSink writes notifications to the structured log. It is the default
// sink for headless deployments.
type LogSink struct {
	Logger *slog.Logger
}

// Show logs the notification.
func (s *LogSink) Show(title, body, tag string) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		slog.String("title", title),
		slog.String("body", body),
		slog.String("tag", tag),
	)
}

// defaultSeenLimit bounds the recently-notified set.
const defaultSeenLimit = 128

// Option configures a Notifier.
type Option func(*Notifier)

// WithSeenLimit sets how many recently notified job IDs are remembered for
// deduplication.
func WithSeenLimit(n int) Option {
	return func(nf *Notifier) {
		if n > 0 {
			nf.limit = n
		}
	}
}

// Notifier deduplicates terminal broadcasts by job ID: a duplicate
// broadcast of the same outcome produces no second notification.
type Notifier struct {
	sink  Sink
	limit int

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// New creates a notifier over the given sink.
func New(sink Sink, opts ...Option) *Notifier {
	n := &Notifier{
		sink:  sink,
		limit: defaultSeenLimit,
		seen:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Attach subscribes the notifier to a broadcaster and returns the
// unsubscribe func.
func (n *Notifier) Attach(b broadcast.Broadcaster) func() {
	return b.Subscribe(n.HandleUpdate)
}

// HandleUpdate reacts to a status update, notifying once per terminal job.
func (n *Notifier) HandleUpdate(u broadcast.StatusUpdate) {
	if !u.Status.IsTerminal() {
		return
	}

	n.mu.Lock()
	if _, dup := n.seen[u.JobID]; dup {
		n.mu.Unlock()
		return
	}
	n.seen[u.JobID] = struct{}{}
	n.order = append(n.order, u.JobID)
	if len(n.order) > n.limit {
		evicted := n.order[0]
		n.order = n.order[1:]
		delete(n.seen, evicted)
	}
	n.mu.Unlock()

	title, body := render(u)
	n.sink.Show(title, body, u.JobID)
}

func render(u broadcast.StatusUpdate) (title, body string) {
	if u.Status == models.StatusCompleted {
		title = "Recording processed"
		if u.Result == nil {
			return title, "Your recording has been processed."
		}
		return title, fmt.Sprintf("Captured %s and %s.",
			plural(u.Result.TaskCount, "task"),
			plural(u.Result.NoteCount, "note"),
		)
	}

	title = "Recording processing failed"
	if u.Error == "" {
		return title, "Your recording could not be processed."
	}
	return title, fmt.Sprintf("Your recording could not be processed: %s.", u.Error)
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
