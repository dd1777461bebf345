package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/horacite/horacite/internal/observability"
)

// Recorder is the write side used by the rest of the application. Record
// must never block the request nor fail it.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// RecorderConfig sizes the asynchronous recorder.
type RecorderConfig struct {
	// BufferSize is how many entries may wait for the writer.
	BufferSize int

	// WriteTimeout bounds a single insert.
	WriteTimeout time.Duration
}

// AsyncRecorder queues entries on a buffered channel drained by a single
// writer goroutine. When the buffer is full the entry is dropped, logged and
// counted. Close stops the writer after draining what is queued.
type AsyncRecorder struct {
	repo    AuditRepository
	metrics *observability.Metrics
	timeout time.Duration

	ch      chan Entry
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64

	// mu orders enqueues against Close: Record holds it for reading while
	// it checks closed and sends, Close holds it for writing to flip closed.
	mu     sync.RWMutex
	closed bool
}

// NewAsyncRecorder starts the writer goroutine. Callers must call Close.
func NewAsyncRecorder(repo AuditRepository, cfg RecorderConfig, metrics *observability.Metrics) *AsyncRecorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	r := &AsyncRecorder{
		repo:    repo,
		metrics: metrics,
		timeout: cfg.WriteTimeout,
		ch:      make(chan Entry, cfg.BufferSize),
		done:    make(chan struct{}),
	}

	r.wg.Add(1)
	go r.run()

	return r
}

func (r *AsyncRecorder) run() {
	defer r.wg.Done()

	for {
		select {
		case entry := <-r.ch:
			r.write(entry)
		case <-r.done:
			for {
				select {
				case entry := <-r.ch:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

// write persists one entry. It is detached from the originating request,
// which has usually completed by now.
func (r *AsyncRecorder) write(entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.repo.Append(ctx, &entry); err != nil {
		r.metrics.RecordAuditWrite(false)
		slog.Error("failed to write audit log entry",
			slog.String("action", string(entry.Action)),
			slog.String("user_id", entry.UserID),
			slog.Any("error", err),
		)
		return
	}
	r.metrics.RecordAuditWrite(true)
}

// Record enqueues an entry without blocking. Invalid actions are rejected
// here so a bad caller cannot poison the writer.
func (r *AsyncRecorder) Record(_ context.Context, entry Entry) {
	if r == nil {
		return
	}
	if !entry.Action.Valid() {
		slog.Error("rejecting audit entry with unknown action",
			slog.String("action", string(entry.Action)),
		)
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		r.metrics.RecordAuditDropped()
		slog.Warn("audit recorder closed, dropping entry",
			slog.String("action", string(entry.Action)),
			slog.String("user_id", entry.UserID),
		)
		return
	}

	select {
	case r.ch <- entry:
	default:
		r.dropped.Add(1)
		r.metrics.RecordAuditDropped()
		slog.Warn("audit buffer full, dropping entry",
			slog.String("action", string(entry.Action)),
			slog.String("user_id", entry.UserID),
		)
	}
}

// Close drains queued entries and stops the writer. Safe to call twice.
func (r *AsyncRecorder) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	// No Record can send past this point, so the writer's final drain sees
	// every queued entry.
	close(r.done)
	r.wg.Wait()
}

// Dropped returns how many entries were discarded on a full buffer or
// after Close.
func (r *AsyncRecorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}
