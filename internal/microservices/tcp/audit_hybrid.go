package tcp

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// handshakeCache is the fast, immediate side of the hybrid recorder (Redis).
type handshakeCache interface {
	RecordHandshake(evt *HandshakeEvent) error
	Close() error
}

// handshakeStore is the durable, batched side (PostgreSQL).
type handshakeStore interface {
	SaveHandshake(ctx context.Context, evt *HandshakeEvent) error
	BatchInsert(ctx context.Context, batch []*HandshakeEvent) error
	Close() error
}

const (
	defaultAuditBatchSize     = 500
	defaultAuditFlushInterval = 30 * time.Second
	auditQueueSize            = 10000
)

var errRecorderClosed = errors.New("handshake recorder is closed")

// HybridHandshakeRecorder writes to the cache right away and queues the
// durable write for a background batch writer. Either side may be nil.
type HybridHandshakeRecorder struct {
	cache         handshakeCache
	store         handshakeStore
	writeChan     chan *HandshakeEvent
	stopChan      chan struct{}
	done          chan struct{}
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	started       atomic.Bool
	closed        atomic.Bool
}

func NewHybridHandshakeRecorder(cache handshakeCache, store handshakeStore) *HybridHandshakeRecorder {
	return &HybridHandshakeRecorder{
		cache:         cache,
		store:         store,
		writeChan:     make(chan *HandshakeEvent, auditQueueSize),
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
		batchSize:     defaultAuditBatchSize,
		flushInterval: defaultAuditFlushInterval,
		logger:        slog.Default(),
	}
}

// RecordHandshake writes to the cache and queues the durable write.
// When the queue is full the event goes straight to the store with a short timeout.
func (r *HybridHandshakeRecorder) RecordHandshake(evt *HandshakeEvent) error {
	if r.closed.Load() {
		return errRecorderClosed
	}

	if r.cache != nil {
		if err := r.cache.RecordHandshake(evt); err != nil {
			r.logger.Error("handshake_cache_write_failed",
				"session_id", evt.SessionID,
				"error", err,
			)
		}
	}
	if r.store == nil {
		return nil
	}

	select {
	case r.writeChan <- evt:
		return nil
	default:
	}

	r.logger.Warn("handshake_queue_full_direct_write",
		"session_id", evt.SessionID,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	return r.store.SaveHandshake(ctx, evt)
}

// Start launches the batch writer. It stops on ctx cancellation or Close.
func (r *HybridHandshakeRecorder) Start(ctx context.Context) {
	if r.store == nil || !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.runBatchWriter(ctx)
}

func (r *HybridHandshakeRecorder) runBatchWriter(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]*HandshakeEvent, 0, r.batchSize)
	r.logger.Info("handshake_batch_writer_started",
		"interval", r.flushInterval.String(),
		"batch_size", r.batchSize,
	)

	for {
		select {
		case <-ctx.Done():
			r.drain(batch)
			return
		case <-r.stopChan:
			r.drain(batch)
			return
		case evt := <-r.writeChan:
			batch = append(batch, evt)
			if len(batch) >= r.batchSize {
				r.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

// drain flushes the pending batch plus anything still queued.
func (r *HybridHandshakeRecorder) drain(batch []*HandshakeEvent) {
	for {
		select {
		case evt := <-r.writeChan:
			batch = append(batch, evt)
		default:
			r.logger.Info("handshake_batch_writer_shutting_down", "remaining", len(batch))
			if len(batch) > 0 {
				r.flushBatch(batch)
			}
			return
		}
	}
}

func (r *HybridHandshakeRecorder) flushBatch(batch []*HandshakeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := r.store.BatchInsert(ctx, batch); err != nil {
		r.logger.Error("handshake_batch_insert_failed",
			"count", len(batch),
			"error", err,
		)
		return
	}
	r.logger.Info("handshake_batch_insert_success",
		"count", len(batch),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Close stops the batch writer after a final flush and closes both backends.
func (r *HybridHandshakeRecorder) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.stopChan)
	if r.started.Load() {
		select {
		case <-r.done:
		case <-time.After(35 * time.Second):
			r.logger.Warn("handshake_batch_writer_stop_timeout")
		}
	}

	var errs []error
	if r.cache != nil {
		if err := r.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
