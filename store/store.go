package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or its entry has expired.
	ErrNotFound = errors.New("store: not found")
	// ErrContention is returned by [Update] when the CAS retry budget is exhausted.
	ErrContention = errors.New("store: too much contention")
	// ErrUnavailable indicates the backing store could not be reached.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Entry is a stored value together with its version and expiry.
//
// Version starts at 1 on insert and increases on every successful swap.
// A zero ExpiresAt means the entry never expires.
type Entry[V any] struct {
	Value     V
	Version   uint64
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its expiry at now.
func (e Entry[V]) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store is the keyed state abstraction shared by the revocation list, rate
// counters and sessions. Keys are namespaced by prefix.
//
// Every implementation must make GetOrInit, CompareAndSwap and
// CompareAndDelete atomic with respect to other callers on the same key.
type Store[V any] interface {
	Get(ctx context.Context, key string) (Entry[V], error)
	GetOrInit(ctx context.Context, key string, init V, ttl time.Duration) (Entry[V], bool, error)
	CompareAndSwap(ctx context.Context, key string, version uint64, next V, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key string, version uint64) (bool, error)
	Delete(ctx context.Context, key string) error
	// Scan calls fn for every live entry whose key starts with prefix. fn
	// runs outside any internal lock and may call back into the store.
	// Returning false stops the iteration.
	Scan(ctx context.Context, prefix string, fn func(key string, e Entry[V]) bool) error
}

// MutateFunc computes the next value of a key from its current value.
// exists is false when the key is absent. Returning keep=false deletes the
// key (or leaves it absent).
type MutateFunc[V any] func(cur V, exists bool) (next V, keep bool, err error)

// Updater is implemented by stores that can run a [MutateFunc] natively
// under their own lock.
type Updater[V any] interface {
	Update(ctx context.Context, key string, ttl time.Duration, fn MutateFunc[V]) (V, bool, error)
}

// Sweeper is implemented by stores that can remove expired entries natively.
type Sweeper[V any] interface {
	Sweep(ctx context.Context, prefix string, expired func(key string, v V) bool) (int, error)
}

// MaxUpdateRetries bounds the optimistic retry loop in [Update].
const MaxUpdateRetries = 32

// Update atomically applies fn to the value stored at key and returns the
// value left in the store and whether the key still exists. Errors from fn
// abort the update without writing.
func Update[V any](ctx context.Context, s Store[V], key string, ttl time.Duration, fn MutateFunc[V]) (V, bool, error) {
	if u, ok := s.(Updater[V]); ok {
		return u.Update(ctx, key, ttl, fn)
	}

	var zero V
	for attempt := 0; attempt < MaxUpdateRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, false, err
		}

		cur, err := s.Get(ctx, key)
		exists := true
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return zero, false, err
			}
			exists = false
		}

		next, keep, err := fn(cur.Value, exists)
		if err != nil {
			return zero, false, err
		}

		switch {
		case !exists && !keep:
			return zero, false, nil
		case !exists:
			_, loaded, err := s.GetOrInit(ctx, key, next, ttl)
			if err != nil {
				return zero, false, err
			}
			if !loaded {
				return next, true, nil
			}
		case keep:
			ok, err := s.CompareAndSwap(ctx, key, cur.Version, next, ttl)
			if err != nil {
				return zero, false, err
			}
			if ok {
				return next, true, nil
			}
		default:
			ok, err := s.CompareAndDelete(ctx, key, cur.Version)
			if err != nil {
				return zero, false, err
			}
			if ok {
				return zero, false, nil
			}
		}
	}

	return zero, false, ErrContention
}

// Sweep removes every entry under prefix for which expired returns true and
// reports how many were removed. Entries modified concurrently with the
// sweep are left alone.
func Sweep[V any](ctx context.Context, s Store[V], prefix string, expired func(key string, v V) bool) (int, error) {
	if sw, ok := s.(Sweeper[V]); ok {
		return sw.Sweep(ctx, prefix, expired)
	}

	type candidate struct {
		key     string
		version uint64
	}
	var victims []candidate
	err := s.Scan(ctx, prefix, func(key string, e Entry[V]) bool {
		if expired(key, e.Value) {
			victims = append(victims, candidate{key: key, version: e.Version})
		}
		return ctx.Err() == nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, v := range victims {
		ok, err := s.CompareAndDelete(ctx, v.key, v.version)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}
