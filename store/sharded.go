package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used when none is configured.
const DefaultShards = 64

// Option configures a [Sharded] store.
type Option func(*options)

// DefaultSweepBatch bounds how many entries Sweep deletes per lock hold.
const DefaultSweepBatch = 256

type options struct {
	shards     int
	sweepBatch int
	now        func() time.Time
}

// WithShards sets the shard count. Values are rounded up to a power of two.
func WithShards(n int) Option {
	return func(o *options) { o.shards = n }
}

// WithSweepBatch sets how many entries Sweep may delete before it releases
// the shard lock. Non-positive values select [DefaultSweepBatch].
func WithSweepBatch(n int) Option {
	return func(o *options) { o.sweepBatch = n }
}

// WithClock replaces time.Now for expiry decisions. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]Entry[V]
	_     [40]byte
}

// Sharded is an in-memory [Store] whose keys are spread over independent
// mutex-protected shards selected by xxhash.
type Sharded[V any] struct {
	shards []shard[V]
	mask   uint64
	batch  int
	now    func() time.Time

	// yield runs between sweep batches with no lock held. Tests only.
	yield func(shard int)
}

// NewSharded creates an empty sharded store.
func NewSharded[V any](opts ...Option) *Sharded[V] {
	o := options{shards: DefaultShards, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sweepBatch <= 0 {
		o.sweepBatch = DefaultSweepBatch
	}
	n := 1
	for n < o.shards {
		n <<= 1
	}

	s := &Sharded[V]{
		shards: make([]shard[V], n),
		mask:   uint64(n - 1),
		batch:  o.sweepBatch,
		now:    o.now,
	}
	for i := range s.shards {
		s.shards[i].items = make(map[string]Entry[V])
	}
	return s
}

func (s *Sharded[V]) shardFor(key string) *shard[V] {
	return &s.shards[xxhash.Sum64String(key)&s.mask]
}

func (s *Sharded[V]) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

// live returns the entry for key, evicting it first when expired.
// Callers must hold sh.mu.
func (s *Sharded[V]) live(sh *shard[V], key string) (Entry[V], bool) {
	e, ok := sh.items[key]
	if !ok {
		return e, false
	}
	if e.Expired(s.now()) {
		delete(sh.items, key)
		return Entry[V]{}, false
	}
	return e, true
}

// Get implements [Store].
func (s *Sharded[V]) Get(_ context.Context, key string) (Entry[V], error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := s.live(sh, key)
	if !ok {
		return Entry[V]{}, ErrNotFound
	}
	return e, nil
}

// GetOrInit implements [Store].
func (s *Sharded[V]) GetOrInit(_ context.Context, key string, init V, ttl time.Duration) (Entry[V], bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e, ok := s.live(sh, key); ok {
		return e, true, nil
	}
	e := Entry[V]{Value: init, Version: 1, ExpiresAt: s.expiry(ttl)}
	sh.items[key] = e
	return e, false, nil
}

// CompareAndSwap implements [Store].
func (s *Sharded[V]) CompareAndSwap(_ context.Context, key string, version uint64, next V, ttl time.Duration) (bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := s.live(sh, key)
	if !ok || e.Version != version {
		return false, nil
	}
	sh.items[key] = Entry[V]{Value: next, Version: version + 1, ExpiresAt: s.expiry(ttl)}
	return true, nil
}

// CompareAndDelete implements [Store].
func (s *Sharded[V]) CompareAndDelete(_ context.Context, key string, version uint64) (bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := s.live(sh, key)
	if !ok || e.Version != version {
		return false, nil
	}
	delete(sh.items, key)
	return true, nil
}

// Delete implements [Store]. Deleting a missing key is not an error.
func (s *Sharded[V]) Delete(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.items, key)
	sh.mu.Unlock()
	return nil
}

// Update implements [Updater] by running fn under the shard lock.
// fn must not call back into the store.
func (s *Sharded[V]) Update(_ context.Context, key string, ttl time.Duration, fn MutateFunc[V]) (V, bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var zero V
	cur, exists := s.live(sh, key)
	next, keep, err := fn(cur.Value, exists)
	if err != nil {
		return zero, false, err
	}
	if !keep {
		delete(sh.items, key)
		return zero, false, nil
	}

	version := uint64(1)
	if exists {
		version = cur.Version + 1
	}
	sh.items[key] = Entry[V]{Value: next, Version: version, ExpiresAt: s.expiry(ttl)}
	return next, true, nil
}

// Scan implements [Store]. Each shard is copied under its lock and fn is
// invoked after the lock is released.
func (s *Sharded[V]) Scan(ctx context.Context, prefix string, fn func(key string, e Entry[V]) bool) error {
	type kv struct {
		key string
		e   Entry[V]
	}
	var batch []kv
	for i := range s.shards {
		if err := ctx.Err(); err != nil {
			return err
		}
		sh := &s.shards[i]
		now := s.now()

		batch = batch[:0]
		sh.mu.Lock()
		for k, e := range sh.items {
			if !strings.HasPrefix(k, prefix) || e.Expired(now) {
				continue
			}
			batch = append(batch, kv{key: k, e: e})
		}
		sh.mu.Unlock()

		for _, item := range batch {
			if !fn(item.key, item.e) {
				return nil
			}
		}
	}
	return nil
}

// Sweep implements [Sweeper]. It takes one shard lock at a time and removes
// entries that are expired by TTL or rejected by the predicate. A shard lock
// is released after every batch of deletions, so writers on a large shard
// wait for at most one batch.
func (s *Sharded[V]) Sweep(ctx context.Context, prefix string, expired func(key string, v V) bool) (int, error) {
	removed := 0
	for i := range s.shards {
		for {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			n, more := s.sweepShard(&s.shards[i], prefix, expired)
			removed += n
			if !more {
				break
			}
			if s.yield != nil {
				s.yield(i)
			}
		}
	}
	return removed, nil
}

// sweepShard deletes up to s.batch matching entries from sh. more reports
// that the batch filled before the shard was exhausted.
func (s *Sharded[V]) sweepShard(sh *shard[V], prefix string, expired func(key string, v V) bool) (n int, more bool) {
	now := s.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for k, e := range sh.items {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !e.Expired(now) && (expired == nil || !expired(k, e.Value)) {
			continue
		}
		if n == s.batch {
			return n, true
		}
		delete(sh.items, k)
		n++
	}
	return n, false
}

// Len returns the number of stored entries, expired ones included.
func (s *Sharded[V]) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.items)
		sh.mu.Unlock()
	}
	return n
}
