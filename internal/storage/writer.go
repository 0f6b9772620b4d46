package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// WriteJob represents a unit of work to execute against the database.
type WriteJob interface {
	Execute(ctx context.Context, pool *pgxpool.Pool) error
}

// WriteJobFunc adapts a function into a WriteJob.
type WriteJobFunc func(ctx context.Context, pool *pgxpool.Pool) error

func (f WriteJobFunc) Execute(ctx context.Context, pool *pgxpool.Pool) error {
	return f(ctx, pool)
}

type WriterConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	// JobTimeout bounds one flushed batch.
	JobTimeout time.Duration
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 10000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Second
	}
	return c
}

// BatchWriter collects write jobs and flushes them in batches from a single
// goroutine, so analytics never block the proxied response.
type BatchWriter struct {
	pool    *pgxpool.Pool
	cfg     WriterConfig
	jobs    chan WriteJob
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	failed  atomic.Int64
	wg      sync.WaitGroup
}

func NewBatchWriter(pool *pgxpool.Pool, cfg WriterConfig) *BatchWriter {
	cfg = cfg.withDefaults()
	w := &BatchWriter{
		pool: pool,
		cfg:  cfg,
		jobs: make(chan WriteJob, cfg.BufferSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Enqueue reports false when the job was dropped because the queue is full
// or the writer has shut down.
func (w *BatchWriter) Enqueue(job WriteJob) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		log.Warn().Msg("writer shut down, dropping job")
		return false
	}

	select {
	case w.jobs <- job:
		return true
	default:
		w.dropped.Add(1)
		log.Warn().Int64("dropped", w.dropped.Load()).Msg("write queue full, dropping job")
		return false
	}
}

// Dropped returns how many jobs were rejected by a full queue.
func (w *BatchWriter) Dropped() int64 { return w.dropped.Load() }

// Failed returns how many jobs returned an error.
func (w *BatchWriter) Failed() int64 { return w.failed.Load() }

func (w *BatchWriter) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]WriteJob, 0, w.cfg.BatchSize)

	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				w.flush(batch)
				return
			}
			batch = append(batch, job)
			if len(batch) >= w.cfg.BatchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (w *BatchWriter) flush(batch []WriteJob) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
	defer cancel()

	for _, job := range batch {
		if err := job.Execute(ctx, w.pool); err != nil {
			w.failed.Add(1)
			log.Error().Err(err).Msg("write job failed")
		}
	}
}

// Shutdown flushes queued jobs and stops the writer. It is safe to call more
// than once.
func (w *BatchWriter) Shutdown() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()
	w.wg.Wait()
}
