// Package ingest implements C11 Ingestion Pipeline: a pluggable
// EventSource registry feeding a batching, rate-limited, retrying pipeline
// into the episodic store, adapted from the teacher's perception-client
// registry/factory pattern.
package ingest

import (
	"context"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/athena-core/memory/internal/config"
	"github.com/athena-core/memory/internal/episodic"
	"github.com/athena-core/memory/internal/erring"
	"github.com/athena-core/memory/internal/logging"
	"github.com/athena-core/memory/internal/types"
)

// EventSource produces episodic events from an external feed, resuming
// from an opaque cursor.
type EventSource interface {
	Name() string
	Fetch(ctx context.Context, cursor types.IngestionCursor) ([]*types.EpisodicEvent, types.IngestionCursor, error)
}

// Factory constructs an EventSource from source-specific config.
type Factory func(params map[string]interface{}) (EventSource, error)

// Registry is a name-keyed EventSource factory registry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds a factory under name, overwriting any existing entry.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build constructs an EventSource by name.
func (r *Registry) Build(name string, params map[string]interface{}) (EventSource, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, erring.InvalidInput("ingest.Registry.Build", "unknown event source: "+name)
	}
	return f(params)
}

// tokenBucket is a simple per-source rate limiter: ratePerMinute tokens
// refill continuously, capacity caps burst size at ratePerMinute.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time
}

func newTokenBucket(ratePerMinute int) *tokenBucket {
	rate := float64(ratePerMinute) / 60.0
	return &tokenBucket{tokens: float64(ratePerMinute), capacity: float64(ratePerMinute), refillRate: rate, last: time.Now()}
}

// Allow reports whether a token is available, consuming one if so.
func (b *tokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillRate)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Pipeline batches events from one or more sources into the episodic
// store, deduping via an LRU of recently-seen content hashes, applying a
// per-source token-bucket rate limit, and retrying failed flushes with
// exponential backoff.
type Pipeline struct {
	store   *episodic.Store
	cfg     config.IngestConfig
	dedup   *lru.Cache[[32]byte, struct{}]
	buckets sync.Map // source name -> *tokenBucket

	mu      sync.Mutex
	buffer  []*types.EpisodicEvent
	lastFlush time.Time
}

// New constructs a Pipeline backed by an episodic store.
func New(store *episodic.Store, cfg config.IngestConfig) (*Pipeline, error) {
	cache, err := lru.New[[32]byte, struct{}](cfg.DedupCacheSize)
	if err != nil {
		return nil, erring.ConfigError("ingest.New", err)
	}
	return &Pipeline{store: store, cfg: cfg, dedup: cache, lastFlush: time.Now()}, nil
}

// Submit enqueues one event for a source, applying rate limiting and
// in-memory dedup before it ever reaches a batch. Returns true if the
// event was enqueued, false if it was dropped (back-pressure or dup).
func (p *Pipeline) Submit(ctx context.Context, sourceName string, e *types.EpisodicEvent) (bool, error) {
	bucketAny, _ := p.buckets.LoadOrStore(sourceName, newTokenBucket(p.cfg.TokenBucketRate))
	bucket := bucketAny.(*tokenBucket)
	if !bucket.Allow() {
		logging.Get(logging.CategoryIngestion).Warn("rate limit exceeded for source %s, dropping event", sourceName)
		return false, nil
	}

	hash := episodic.ContentHash(e)
	if _, ok := p.dedup.Get(hash); ok {
		return false, nil
	}
	p.dedup.Add(hash, struct{}{})

	p.mu.Lock()
	p.buffer = append(p.buffer, e)
	shouldFlush := len(p.buffer) >= p.cfg.BatchSize || time.Since(p.lastFlush) >= time.Duration(p.cfg.FlushMS)*time.Millisecond
	p.mu.Unlock()

	if shouldFlush {
		if err := p.Flush(ctx); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Flush writes the current buffer to the episodic store, retrying with
// exponential backoff up to retries_max on transient failure.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.mu.Lock()
	batch := p.buffer
	p.buffer = nil
	p.lastFlush = time.Now()
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.RetriesMax; attempt++ {
		if attempt > 0 {
			backoffMS := math.Min(1000*math.Pow(2, float64(attempt)), 10000)
			backoff := time.Duration(backoffMS) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		_, err := p.store.AppendBatch(ctx, batch)
		if err == nil {
			logging.Get(logging.CategoryIngestion).Info("flushed batch of %d events", len(batch))
			return nil
		}
		lastErr = err
		if !erring.Retryable(err) {
			break
		}
	}
	return erring.BackendUnavailable("ingest.Flush", lastErr)
}

// Pending returns the number of events currently buffered, awaiting flush.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}
