package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentfacts/expense-compliance/internal/policy"
)

// FlushObserver is told the outcome of every flush.
type FlushObserver interface {
	ObserveFlush(written, dropped int, duration time.Duration)
}

// Writer buffers verdict records and writes them to the store in batches.
// Records are handed over whole runs at a time; a full buffer sheds its oldest
// records so the newest runs survive.
type Writer struct {
	store    *Store
	observer FlushObserver

	mu       sync.Mutex
	pending  []*Record
	capacity int

	// flushMu serializes batch inserts so Flush returns only after every
	// record buffered before the call is in the store.
	flushMu sync.Mutex

	interval time.Duration
	timeout  time.Duration
	kick     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	written atomic.Int64
	dropped atomic.Int64
	flushes atomic.Int64
}

// WriterConfig holds configuration for the audit writer.
type WriterConfig struct {
	BufferSize    int           // Max records held before the oldest are dropped
	FlushInterval time.Duration // Period of the background flush
	FlushTimeout  time.Duration // Deadline of a single batch insert
}

// NewWriter creates a new async audit writer.
func NewWriter(store *Store, cfg WriterConfig) *Writer {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}

	return &Writer{
		store:    store,
		pending:  make([]*Record, 0, cfg.BufferSize),
		capacity: cfg.BufferSize,
		interval: cfg.FlushInterval,
		timeout:  cfg.FlushTimeout,
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// SetObserver registers a flush observer. Call before Start.
func (w *Writer) SetObserver(o FlushObserver) {
	w.observer = o
}

// Start begins the background flush loop.
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.loop()
	log.Info().
		Int("buffer_size", w.capacity).
		Dur("flush_interval", w.interval).
		Msg("Audit writer started")
}

// Write buffers a single record. A full buffer drops its oldest records and
// reports them to the observer.
func (w *Writer) Write(record *Record) {
	w.enqueue([]*Record{record})
}

// WriteRun records one verdict per scored transaction of a run. A run that
// does not fit in the free buffer space is written through synchronously,
// together with everything already buffered, so no run loses verdicts to its
// own size.
func (w *Writer) WriteRun(runID, workspaceID string, doc *policy.RuleDocument, scored []policy.ScoredTransaction) {
	records := RecordsFromScored(runID, workspaceID, doc, scored)
	if len(records) == 0 {
		return
	}

	w.mu.Lock()
	fits := len(w.pending)+len(records) <= w.capacity
	if fits {
		w.pending = append(w.pending, records...)
	}
	full := len(w.pending) == w.capacity
	w.mu.Unlock()

	if !fits {
		w.flushWith(records)
		return
	}
	if full {
		w.signal()
	}
}

func (w *Writer) enqueue(records []*Record) {
	w.mu.Lock()
	w.pending = append(w.pending, records...)
	overflow := len(w.pending) - w.capacity
	if overflow > 0 {
		w.pending = append(w.pending[:0:0], w.pending[overflow:]...)
		w.dropped.Add(int64(overflow))
	}
	full := len(w.pending) == w.capacity
	w.mu.Unlock()

	if overflow > 0 {
		w.observe(0, overflow, 0)
	}
	if full {
		w.signal()
	}
}

func (w *Writer) signal() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *Writer) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			w.Flush()
			return
		case <-ticker.C:
			w.Flush()
		case <-w.kick:
			w.Flush()
		}
	}
}

// Flush writes everything buffered so far. It blocks until the batch, and any
// batch already in flight, has reached the store.
func (w *Writer) Flush() {
	w.flushWith(nil)
}

// flushWith writes the buffer followed by extra, in batches of at most the
// buffer capacity.
func (w *Writer) flushWith(extra []*Record) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	records := append(w.pending, extra...)
	w.pending = make([]*Record, 0, w.capacity)
	w.mu.Unlock()

	for len(records) > 0 {
		n := min(len(records), w.capacity)
		w.insert(records[:n])
		records = records[n:]
	}
}

func (w *Writer) insert(records []*Record) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	err := w.store.InsertBatch(ctx, records)
	elapsed := time.Since(start)
	if err != nil {
		log.Error().Err(err).Int("count", len(records)).Msg("Failed to flush verdict records")
		w.dropped.Add(int64(len(records)))
		w.observe(0, len(records), elapsed)
		return
	}

	w.written.Add(int64(len(records)))
	w.flushes.Add(1)
	w.observe(len(records), 0, elapsed)
	log.Debug().Int("count", len(records)).Dur("duration", elapsed).Msg("Flushed verdict records")
}

func (w *Writer) observe(written, dropped int, d time.Duration) {
	if w.observer != nil {
		w.observer.ObserveFlush(written, dropped, d)
	}
}

// Stop ends the flush loop after a final flush. It is safe to call more than
// once.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		// Covers a writer that was never started.
		w.Flush()

		stats := w.Stats()
		log.Info().
			Int64("written", stats.Written).
			Int64("dropped", stats.Dropped).
			Int64("flushes", stats.Flushes).
			Msg("Audit writer stopped")
	})
}

// WriterStats contains writer statistics.
type WriterStats struct {
	Written    int64 `json:"written"`
	Dropped    int64 `json:"dropped"`
	Flushes    int64 `json:"flushes"`
	BufferSize int   `json:"buffer_size"`
}

// Stats returns current writer statistics.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	bufferSize := len(w.pending)
	w.mu.Unlock()

	return WriterStats{
		Written:    w.written.Load(),
		Dropped:    w.dropped.Load(),
		Flushes:    w.flushes.Load(),
		BufferSize: bufferSize,
	}
}
