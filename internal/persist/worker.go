package persist

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"go.uber.org/zap"

	"github.com/discochess/romstash/internal/romerr"
	"github.com/discochess/romstash/internal/stats"
	"github.com/discochess/romstash/internal/store"
)

// run is the single goroutine that performs every disk tier operation.
func (c *Cache) run() {
	defer close(c.done)

	ticker := time.NewTicker(c.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case op := <-c.ops:
			c.handle(op)
		case <-c.kick:
			_ = c.flushPending(context.Background())
		case <-ticker.C:
			_ = c.flushPending(context.Background())
		case <-c.stop:
			c.shutdown()
			return
		}
	}
}

// shutdown resolves requests queued before Close and flushes what remains.
// No sends on ops can happen once stop is closed.
func (c *Cache) shutdown() {
	for {
		select {
		case op := <-c.ops:
			c.handle(op)
		default:
			c.closeErr = c.flushPending(context.Background())
			c.logger.Debug("persist worker stopped")
			return
		}
	}
}

func (c *Cache) handle(op any) {
	switch op := op.(type) {
	case readOp:
		op.reply <- c.read(op)
	case flushOp:
		op.reply <- c.flushPending(context.WithoutCancel(op.ctx))
	}
}

// read resolves a request that missed the memory tier: queued writes first,
// then the disk tier.
func (c *Cache) read(op readOp) Result {
	if err := op.ctx.Err(); err != nil {
		return c.miss(op.key, op.requesterID, fmt.Errorf("%w: %w", romerr.ErrCancelled, err))
	}

	if w, ok := c.queued(op.key); ok {
		c.queueHits.Add(1)
		c.stats.IncCounter(stats.MetricPersistQueueHits, 1)
		c.promote(op.key, w.payload, w.metadata, w.createdAt)
		return Result{
			Key:         op.key,
			RequesterID: op.requesterID,
			Status:      StatusHit,
			Tier:        TierQueue,
			Payload:     append([]byte(nil), w.payload...),
			Metadata:    maps.Clone(w.metadata),
			CreatedAt:   w.createdAt,
		}
	}

	raw, err := c.store.Read(op.ctx, op.key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.miss(op.key, op.requesterID, fmt.Errorf("%s: %w", op.key, romerr.ErrNotFound))
	case errors.Is(err, store.ErrCorrupt):
		return c.discard(op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return c.miss(op.key, op.requesterID, fmt.Errorf("%w: %w", romerr.ErrCancelled, err))
	case err != nil:
		c.logger.Warn("disk tier read failed", zap.String("key", op.key), zap.Error(err))
		return c.fail(op.key, op.requesterID, fmt.Errorf("reading %s: %w: %w", op.key, romerr.ErrIO, err))
	}

	payload, metadata, createdAt, err := DecodeEntry(raw)
	if err != nil {
		return c.discard(op, err)
	}

	if !createdAt.IsZero() && c.now().Sub(createdAt) > c.diskTTL {
		if err := c.store.Delete(op.ctx, op.key); err != nil {
			c.logger.Warn("deleting expired entry failed", zap.String("key", op.key), zap.Error(err))
		}
		return c.miss(op.key, op.requesterID, fmt.Errorf("%s: %w", op.key, romerr.ErrExpired))
	}

	c.diskHits.Add(1)
	c.stats.IncCounter(stats.MetricPersistDiskHits, 1)
	c.promote(op.key, payload, metadata, createdAt)
	return Result{
		Key:         op.key,
		RequesterID: op.requesterID,
		Status:      StatusHit,
		Tier:        TierDisk,
		Payload:     payload,
		Metadata:    maps.Clone(metadata),
		CreatedAt:   createdAt,
	}
}

// discard deletes a corrupt entry and reports it as a miss.
func (c *Cache) discard(op readOp, cause error) Result {
	c.logger.Warn("removing corrupt cache entry", zap.String("key", op.key), zap.Error(cause))
	if err := c.store.Delete(op.ctx, op.key); err != nil {
		c.logger.Warn("deleting corrupt entry failed", zap.String("key", op.key), zap.Error(err))
	}
	err := cause
	if !errors.Is(err, romerr.ErrCorrupt) {
		err = fmt.Errorf("%w: %w", romerr.ErrCorrupt, cause)
	}
	return c.miss(op.key, op.requesterID, fmt.Errorf("%s: %w", op.key, err))
}

// queued returns the most recent pending write for key.
func (c *Cache) queued(key string) (write, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for i := len(c.pending) - 1; i >= 0; i-- {
		if c.pending[i].key == key {
			return c.pending[i], true
		}
	}
	return write{}, false
}

// promote puts a worker-side hit back into the memory tier.
func (c *Cache) promote(key string, payload []byte, metadata map[string]any, createdAt time.Time) {
	c.memMu.Lock()
	defer c.memMu.Unlock()
	c.memory.Add(key, memEntry{
		payload:   payload,
		metadata:  metadata,
		createdAt: createdAt,
		storedAt:  c.now(),
	})
}

// flushPending writes every queued entry in submission order. A failed write
// is reported and skipped; it is not retried.
func (c *Cache) flushPending(ctx context.Context) error {
	c.pendingMu.Lock()
	batch := c.pending
	c.pending = nil
	c.pendingMu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	c.stats.SetGauge(stats.MetricPersistPending, 0)

	var errs []error
	for _, w := range batch {
		err := c.writeEntry(ctx, w)
		if err == nil {
			c.writes.Add(1)
			c.stats.IncCounter(stats.MetricPersistWrites, 1)
			continue
		}

		c.writeErrors.Add(1)
		c.stats.IncCounter(stats.MetricPersistWriteErrors, 1)
		c.logger.Warn("disk tier write failed", zap.String("key", w.key), zap.Error(err))
		if c.onWriteError != nil {
			c.onWriteError(w.key, err)
		}
		errs = append(errs, err)
	}

	c.logger.Debug("flushed pending writes",
		zap.Int("batch", len(batch)),
		zap.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

func (c *Cache) writeEntry(ctx context.Context, w write) error {
	data, err := EncodeEntry(w.payload, w.metadata, w.createdAt)
	if err != nil {
		return fmt.Errorf("writing %s: %w", w.key, err)
	}
	if err := c.store.Write(ctx, w.key, data); err != nil {
		return fmt.Errorf("writing %s: %w: %w", w.key, romerr.ErrIO, err)
	}
	return nil
}
