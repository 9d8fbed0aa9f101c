package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"gild/internal/domain"
	"gild/internal/repository"
)

type Config struct {
	QueueSize    int
	WriteTimeout time.Duration
	Clock        domain.Clock
	Logger       *logrus.Logger
}

// Recorder persists audit entries off the request path. Entries go through a
// bounded queue to a single writer, so they are stored in submission order.
// When the queue is full new entries are dropped rather than blocking.
type Recorder struct {
	cfg     Config
	entries repository.AuditLogRepository

	queue   chan domain.AuditLogEntry
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.Mutex
	last   time.Time
	closed bool
}

func NewRecorder(cfg Config, entries repository.AuditLogRepository) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = domain.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Recorder{
		cfg:     cfg,
		entries: entries,
		queue:   make(chan domain.AuditLogEntry, cfg.QueueSize),
		done:    make(chan struct{}),
	}
}

// Start launches the writer. It must be called once.
func (r *Recorder) Start() {
	go func() {
		defer close(r.done)
		for entry := range r.queue {
			r.write(entry)
		}
	}()
	r.cfg.Logger.Infof("audit recorder started, queue size: %d", r.cfg.QueueSize)
}

// Submit stamps entry with the completion time and queues it. It reports
// false if the entry was dropped.
func (r *Recorder) Submit(entry domain.AuditLogEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.drop(entry, "recorder closed")
		return false
	}

	// strictly increasing; microseconds is the coarsest precision we store
	now := r.cfg.Clock.Now().UTC().Truncate(time.Microsecond)
	if !now.After(r.last) {
		now = r.last.Add(time.Microsecond)
	}
	entry.Time = now

	select {
	case r.queue <- entry:
		r.last = now
		return true
	default:
		r.drop(entry, "queue full")
		return false
	}
}

// Dropped returns how many entries were discarded.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting entries and waits for queued ones to be written.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		r.cfg.Logger.Info("audit recorder stopped")
		return nil
	case <-ctx.Done():
		r.cfg.Logger.WithField("pending", len(r.queue)).Warn("audit recorder stopped before draining")
		return ctx.Err()
	}
}

func (r *Recorder) write(entry domain.AuditLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	if _, err := r.entries.Append(ctx, &entry); err != nil {
		r.cfg.Logger.WithFields(logrus.Fields{
			"endpoint": entry.Endpoint,
			"entry":    entry.Entry,
		}).WithError(err).Warn("audit write failed")
	}
}

func (r *Recorder) drop(entry domain.AuditLogEntry, reason string) {
	r.dropped.Add(1)
	r.cfg.Logger.WithFields(logrus.Fields{
		"endpoint": entry.Endpoint,
		"entry":    entry.Entry,
		"reason":   reason,
	}).Warn("audit entry dropped")
}
