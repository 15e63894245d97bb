package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BatchInserter is the interface used by Recorder to persist events. It
// exists to allow testing without a real database.
type BatchInserter interface {
	BatchInsert(ctx context.Context, evs []Event) error
}

// Recorder buffers lifecycle events in memory and periodically flushes them
// to the store in batches. Batching only amortizes writes: every event keeps
// the timestamp its caller supplied regardless of when the flush happens.
// Flush failures are logged and the batch is dropped; the ledger is advisory
// and delivery is at most once. Recorder is safe for concurrent use.
type Recorder struct {
	store         BatchInserter
	buffer        []Event
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	done          chan struct{}
	onFlush       func(n int, err error)
	onBuffer      func(size int)
}

// NewRecorder creates a Recorder that flushes to the given store when the
// buffer reaches batchSize or every flushInterval, whichever comes first.
func NewRecorder(store BatchInserter, batchSize int, flushInterval time.Duration) *Recorder {
	return &Recorder{
		store:         store,
		buffer:        make([]Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
}

// OnFlush registers a hook invoked after every flush attempt with the batch
// size and outcome. Used to wire operational metrics without coupling the
// recorder to a metrics registry. Must be called before Start.
func (r *Recorder) OnFlush(fn func(n int, err error)) {
	r.onFlush = fn
}

// OnBufferSize registers a hook invoked with the buffer length after every
// record and flush. Must be called before Start.
func (r *Recorder) OnBufferSize(fn func(size int)) {
	r.onBuffer = fn
}

// Start begins a background goroutine that flushes buffered events on a
// timer. It blocks until Stop is called or the context is cancelled.
func (r *Recorder) Start(ctx context.Context) {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Flush()
		case <-ctx.Done():
			r.Flush()
			return
		case <-r.done:
			r.Flush()
			return
		}
	}
}

// Record appends an event to the buffer, assigning an ID when the caller did
// not set one. If the buffer reaches batchSize a flush is triggered
// immediately, which bounds the buffer.
func (r *Recorder) Record(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	r.mu.Lock()
	r.buffer = append(r.buffer, ev)
	size := len(r.buffer)
	r.mu.Unlock()

	if r.onBuffer != nil {
		r.onBuffer(size)
	}
	if size >= r.batchSize {
		r.Flush()
	}
}

// Flush drains all buffered events and writes them to the store. Errors are
// logged rather than returned so callers are never blocked on the ledger.
func (r *Recorder) Flush() {
	r.mu.Lock()
	if len(r.buffer) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.buffer
	r.buffer = make([]Event, 0, r.batchSize)
	r.mu.Unlock()

	if r.onBuffer != nil {
		r.onBuffer(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := r.store.BatchInsert(ctx, batch)
	if err != nil {
		slog.Error("failed to flush lifecycle events", "count", len(batch), "error", err)
	}
	if r.onFlush != nil {
		r.onFlush(len(batch), err)
	}
}

// Stop signals the background goroutine to exit and performs a final flush.
// Safe to call when Start was never run; must not be called twice.
func (r *Recorder) Stop() {
	close(r.done)
	r.Flush()
}
