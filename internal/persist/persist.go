// Package persist implements a two-tier cache for derived artifacts keyed by
// (ROM identity, offset).
//
// The memory tier is a small FIFO with a short TTL and is consulted on the
// caller's goroutine. Everything that touches the disk tier runs on a single
// background worker reached through channels: disk reads, TTL checks against
// the stored creation time, and batched writes. Requests never block on I/O
// and never return errors directly; results arrive on a channel tagged as a
// hit, a miss, or an error.
package persist

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/discochess/romstash/internal/cachestrategy/fifo"
	"github.com/discochess/romstash/internal/romerr"
	"github.com/discochess/romstash/internal/stats"
	"github.com/discochess/romstash/internal/store"
)

// Defaults.
const (
	DefaultMemoryCapacity = 10
	DefaultMemoryTTL      = 5 * time.Minute
	DefaultDiskTTL        = 24 * time.Hour
	DefaultFlushInterval  = time.Second
	DefaultBatchSize      = 10
	DefaultQueueDepth     = 256
)

// ErrNilStore is returned by New when no disk tier is supplied.
var ErrNilStore = errors.New("persist: nil store")

// Status tags a Result.
type Status int

const (
	StatusHit Status = iota
	StatusMiss
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusHit:
		return "hit"
	case StatusMiss:
		return "miss"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Tier identifies where a hit was served from.
type Tier int

const (
	TierNone Tier = iota
	TierMemory
	TierQueue
	TierDisk
)

func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierMemory:
		return "memory"
	case TierQueue:
		return "queue"
	case TierDisk:
		return "disk"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// Result is delivered for every Request.
//
// For StatusMiss, Err wraps romerr.ErrNotFound, romerr.ErrExpired,
// romerr.ErrCorrupt, romerr.ErrCancelled or romerr.ErrClosed. For StatusError
// it wraps romerr.ErrIO.
type Result struct {
	Key         string
	RequesterID string
	Status      Status
	Tier        Tier
	Payload     []byte
	Metadata    map[string]any
	CreatedAt   time.Time
	Err         error
}

// Stats reports cache activity.
type Stats struct {
	MemoryEntries int
	Pending       int
	MemoryHits    int64
	QueueHits     int64
	DiskHits      int64
	Misses        int64
	Errors        int64
	Writes        int64
	WriteErrors   int64
}

type memEntry struct {
	payload   []byte
	metadata  map[string]any
	createdAt time.Time
	storedAt  time.Time
}

type write struct {
	key       string
	payload   []byte
	metadata  map[string]any
	createdAt time.Time
}

type readOp struct {
	ctx         context.Context
	key         string
	requesterID string
	reply       chan<- Result
}

type flushOp struct {
	ctx   context.Context
	reply chan<- error
}

// Cache is the two-tier persistent cache.
// A Cache is safe for concurrent use by multiple goroutines.
type Cache struct {
	store        store.Store
	logger       *zap.Logger
	stats        stats.Collector
	now          func() time.Time
	memCapacity  int
	memoryTTL    time.Duration
	diskTTL      time.Duration
	flushEvery   time.Duration
	batchSize    int
	queueDepth   int
	onWriteError func(key string, err error)

	memMu  sync.Mutex
	memory *fifo.Strategy[string, memEntry]

	pendingMu sync.Mutex
	pending   []write

	// lifecycle guards closed against in-flight sends on ops.
	lifecycle sync.RWMutex
	closed    bool
	ops       chan any
	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeErr  error

	memoryHits  atomic.Int64
	queueHits   atomic.Int64
	diskHits    atomic.Int64
	misses      atomic.Int64
	failures    atomic.Int64
	writes      atomic.Int64
	writeErrors atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithMemoryCapacity sets the number of entries held in memory.
func WithMemoryCapacity(n int) Option {
	return func(c *Cache) {
		c.memCapacity = n
	}
}

// WithMemoryTTL sets how long an entry stays valid in the memory tier.
func WithMemoryTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.memoryTTL = ttl
	}
}

// WithDiskTTL sets how long a stored entry stays valid.
func WithDiskTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.diskTTL = ttl
	}
}

// WithFlushInterval sets how often queued writes are flushed.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Cache) {
		c.flushEvery = d
	}
}

// WithBatchSize sets the queue length that triggers an immediate flush.
func WithBatchSize(n int) Option {
	return func(c *Cache) {
		c.batchSize = n
	}
}

// WithQueueDepth sets how many requests may wait for the worker before new
// ones resolve as misses.
func WithQueueDepth(n int) Option {
	return func(c *Cache) {
		c.queueDepth = n
	}
}

// WithClock sets the time source used for TTL checks and creation times.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStats sets the stats collector.
func WithStats(s stats.Collector) Option {
	return func(c *Cache) {
		c.stats = stats.OrNoop(s)
	}
}

// WithWriteErrorHandler registers fn to be called from the worker for every
// failed disk write.
func WithWriteErrorHandler(fn func(key string, err error)) Option {
	return func(c *Cache) {
		c.onWriteError = fn
	}
}

// New creates a Cache whose disk tier is st and starts its worker.
// Call Close to flush pending writes and stop the worker.
func New(st store.Store, opts ...Option) (*Cache, error) {
	if st == nil {
		return nil, ErrNilStore
	}

	c := &Cache{
		store:       st,
		logger:      zap.NewNop(),
		stats:       stats.NewNoop(),
		now:         time.Now,
		memCapacity: DefaultMemoryCapacity,
		memoryTTL:   DefaultMemoryTTL,
		diskTTL:     DefaultDiskTTL,
		flushEvery:  DefaultFlushInterval,
		batchSize:   DefaultBatchSize,
		queueDepth:  DefaultQueueDepth,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.flushEvery <= 0 {
		return nil, fmt.Errorf("persist: flush interval must be positive, got %v", c.flushEvery)
	}
	if c.batchSize < 1 {
		c.batchSize = 1
	}

	memory, err := fifo.New[string, memEntry](c.memCapacity)
	if err != nil {
		return nil, fmt.Errorf("creating memory tier: %w", err)
	}
	c.memory = memory

	c.ops = make(chan any, c.queueDepth)
	c.kick = make(chan struct{}, 1)
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go c.run()
	return c, nil
}

// Request looks key up and delivers exactly one Result on the returned
// channel. Memory hits are delivered before Request returns; everything else
// is resolved by the worker. The channel is buffered, so callers may abandon
// it.
func (c *Cache) Request(ctx context.Context, key, requesterID string) <-chan Result {
	reply := make(chan Result, 1)

	if r, ok := c.fromMemory(key, requesterID); ok {
		reply <- r
		return reply
	}

	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()

	if c.closed {
		reply <- c.miss(key, requesterID, romerr.ErrClosed)
		return reply
	}

	select {
	case c.ops <- readOp{ctx: ctx, key: key, requesterID: requesterID, reply: reply}:
	default:
		c.logger.Debug("persist queue saturated", zap.String("key", key))
		reply <- c.miss(key, requesterID, fmt.Errorf("request queue full: %w", romerr.ErrNotFound))
	}
	return reply
}

// Get is Request followed by a wait bounded by ctx. A context that ends first
// resolves as a miss wrapping romerr.ErrCancelled.
func (c *Cache) Get(ctx context.Context, key string) Result {
	select {
	case r := <-c.Request(ctx, key, ""):
		return r
	case <-ctx.Done():
		return c.miss(key, "", fmt.Errorf("%w: %w", romerr.ErrCancelled, ctx.Err()))
	}
}

// Submit stores payload and metadata in the memory tier and queues the disk
// write. The queue is flushed by the worker every flush interval, or at once
// when it reaches the batch size.
//
// Metadata must be encodable with msgpack and must not use CreatedAtKey.
// Returned metadata uses msgpack's loose types: integers come back as int64.
func (c *Cache) Submit(key string, payload []byte, metadata map[string]any) error {
	meta, err := normalizeMetadata(metadata)
	if err != nil {
		return fmt.Errorf("submitting %s: %w", key, err)
	}

	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()
	if c.closed {
		return romerr.ErrClosed
	}

	now := c.now()
	w := write{
		key:       key,
		payload:   append([]byte(nil), payload...),
		metadata:  meta,
		createdAt: now,
	}

	c.memMu.Lock()
	c.memory.Add(key, memEntry{
		payload:   w.payload,
		metadata:  w.metadata,
		createdAt: now,
		storedAt:  now,
	})
	c.memMu.Unlock()

	c.pendingMu.Lock()
	c.pending = append(c.pending, w)
	n := len(c.pending)
	c.pendingMu.Unlock()

	c.stats.SetGauge(stats.MetricPersistPending, int64(n))
	if n >= c.batchSize {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// ClearMemory drops the memory tier. Queued writes and the disk tier are
// untouched.
func (c *Cache) ClearMemory() {
	c.memMu.Lock()
	defer c.memMu.Unlock()
	c.memory.Purge()
}

// Flush asks the worker to write every queued entry and waits for it. Failed
// writes are joined into the returned error; they never stop the rest of the
// batch.
func (c *Cache) Flush(ctx context.Context) error {
	reply := make(chan error, 1)

	c.lifecycle.RLock()
	if c.closed {
		c.lifecycle.RUnlock()
		return romerr.ErrClosed
	}
	select {
	case c.ops <- flushOp{ctx: ctx, reply: reply}:
		c.lifecycle.RUnlock()
	case <-ctx.Done():
		c.lifecycle.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, lets the worker finish queued requests, flushes
// pending writes and waits for the worker to exit. The final flush error is
// returned. A second Close returns romerr.ErrClosed.
func (c *Cache) Close(ctx context.Context) error {
	c.lifecycle.Lock()
	if c.closed {
		c.lifecycle.Unlock()
		return romerr.ErrClosed
	}
	c.closed = true
	close(c.stop)
	c.lifecycle.Unlock()

	select {
	case <-c.done:
		return c.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() Stats {
	c.memMu.Lock()
	memEntries := c.memory.Len()
	c.memMu.Unlock()

	c.pendingMu.Lock()
	pending := len(c.pending)
	c.pendingMu.Unlock()

	return Stats{
		MemoryEntries: memEntries,
		Pending:       pending,
		MemoryHits:    c.memoryHits.Load(),
		QueueHits:     c.queueHits.Load(),
		DiskHits:      c.diskHits.Load(),
		Misses:        c.misses.Load(),
		Errors:        c.failures.Load(),
		Writes:        c.writes.Load(),
		WriteErrors:   c.writeErrors.Load(),
	}
}

// fromMemory serves key from the memory tier, evicting it when expired.
func (c *Cache) fromMemory(key, requesterID string) (Result, bool) {
	c.memMu.Lock()
	e, ok := c.memory.Get(key)
	if ok && c.now().Sub(e.storedAt) > c.memoryTTL {
		c.memory.Remove(key)
		ok = false
		c.logger.Debug("memory entry expired", zap.String("key", key))
	}
	c.memMu.Unlock()
	if !ok {
		return Result{}, false
	}

	c.memoryHits.Add(1)
	c.stats.IncCounter(stats.MetricPersistMemoryHits, 1)
	return Result{
		Key:         key,
		RequesterID: requesterID,
		Status:      StatusHit,
		Tier:        TierMemory,
		Payload:     append([]byte(nil), e.payload...),
		Metadata:    maps.Clone(e.metadata),
		CreatedAt:   e.createdAt,
	}, true
}

func (c *Cache) miss(key, requesterID string, err error) Result {
	c.misses.Add(1)
	c.stats.IncCounter(stats.MetricPersistMisses, 1)
	return Result{Key: key, RequesterID: requesterID, Status: StatusMiss, Err: err}
}

func (c *Cache) fail(key, requesterID string, err error) Result {
	c.failures.Add(1)
	c.stats.IncCounter(stats.MetricPersistErrors, 1)
	return Result{Key: key, RequesterID: requesterID, Status: StatusError, Err: err}
}
