package redisstore

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/clinicguard/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type counter struct {
	N int `json:"n"`
}

func newRedisStoreTest(t *testing.T) (*Store[counter], *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return New[counter](rdb, "cg", nil), mr
}

func TestRedisStoreGetOrInitAndCAS(t *testing.T) {
	s, _ := newRedisStoreTest(t)
	ctx := context.Background()

	e, loaded, err := s.GetOrInit(ctx, "k", counter{N: 1}, 0)
	if err != nil {
		t.Fatalf("get or init: %v", err)
	}
	if loaded || e.Version != 1 || e.Value.N != 1 {
		t.Fatalf("unexpected first init: loaded=%v entry=%+v", loaded, e)
	}

	e, loaded, err = s.GetOrInit(ctx, "k", counter{N: 50}, 0)
	if err != nil {
		t.Fatalf("second get or init: %v", err)
	}
	if !loaded || e.Value.N != 1 {
		t.Fatalf("expected existing value, got loaded=%v entry=%+v", loaded, e)
	}

	ok, err := s.CompareAndSwap(ctx, "k", 2, counter{N: 9}, 0)
	if err != nil || ok {
		t.Fatalf("stale CAS must fail: ok=%v err=%v", ok, err)
	}
	ok, err = s.CompareAndSwap(ctx, "k", 1, counter{N: 2}, 0)
	if err != nil || !ok {
		t.Fatalf("CAS: ok=%v err=%v", ok, err)
	}

	e, err = s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Version != 2 || e.Value.N != 2 {
		t.Fatalf("unexpected entry after CAS: %+v", e)
	}

	ok, err = s.CompareAndDelete(ctx, "k", 2)
	if err != nil || !ok {
		t.Fatalf("compare and delete: ok=%v err=%v", ok, err)
	}
	if _, err := s.Get(ctx, "k"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisStoreTTL(t *testing.T) {
	s, mr := newRedisStoreTest(t)
	ctx := context.Background()

	if _, _, err := s.GetOrInit(ctx, "ttl", counter{N: 1}, time.Minute); err != nil {
		t.Fatalf("init: %v", err)
	}
	e, err := s.Get(ctx, "ttl")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.ExpiresAt.IsZero() {
		t.Fatalf("expected expiry to be reported")
	}

	mr.FastForward(2 * time.Minute)
	if _, err := s.Get(ctx, "ttl"); err != store.ErrNotFound {
		t.Fatalf("expected expired key to be gone, got %v", err)
	}
}

func TestRedisStoreUpdateConcurrent(t *testing.T) {
	s, _ := newRedisStoreTest(t)
	ctx := context.Background()

	var mu sync.Mutex
	applied := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, _, err := store.Update[counter](ctx, s, "hits", 0, func(cur counter, _ bool) (counter, bool, error) {
					cur.N++
					return cur, true, nil
				})
				if err == nil {
					mu.Lock()
					applied++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	e, err := s.Get(ctx, "hits")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Value.N != applied {
		t.Fatalf("lost update: stored %d, applied %d", e.Value.N, applied)
	}
}

func TestRedisStoreScanAndSweep(t *testing.T) {
	s, _ := newRedisStoreTest(t)
	ctx := context.Background()

	for i, k := range []string{"rl:a", "rl:b", "rl:c", "sess:x"} {
		if _, _, err := s.GetOrInit(ctx, k, counter{N: i}, 0); err != nil {
			t.Fatalf("init %s: %v", k, err)
		}
	}

	var keys []string
	if err := s.Scan(ctx, "rl:", func(key string, _ store.Entry[counter]) bool {
		keys = append(keys, key)
		return true
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 rl keys, got %v", keys)
	}

	odd := func(_ string, v counter) bool { return v.N%2 == 1 }
	removed, err := store.Sweep[counter](ctx, s, "rl:", odd)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	removed, err = store.Sweep[counter](ctx, s, "rl:", odd)
	if err != nil || removed != 0 {
		t.Fatalf("second sweep should be a no-op: removed=%d err=%v", removed, err)
	}
}

func TestRedisStoreScanReadsKeysIndividually(t *testing.T) {
	s, mr := newRedisStoreTest(t)
	ctx := context.Background()

	for i := 0; i < 3*scanBatch; i++ {
		k := "rev:" + strconv.Itoa(i)
		if _, _, err := s.GetOrInit(ctx, k, counter{N: i}, time.Minute); err != nil {
			t.Fatalf("init %s: %v", k, err)
		}
	}
	if err := mr.Set("cg:rev:corrupt", "short"); err != nil {
		t.Fatalf("seed corrupt: %v", err)
	}

	seen := 0
	err := s.Scan(ctx, "rev:", func(key string, e store.Entry[counter]) bool {
		if key == "corrupt" {
			t.Fatalf("corrupt entry must be skipped")
		}
		if e.ExpiresAt.IsZero() {
			t.Fatalf("%s: scan must report the remaining TTL", key)
		}
		seen++
		return true
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if seen != 3*scanBatch {
		t.Fatalf("expected %d entries, got %d", 3*scanBatch, seen)
	}

	seen = 0
	_ = s.Scan(ctx, "rev:", func(string, store.Entry[counter]) bool {
		seen++
		return seen < 5
	})
	if seen != 5 {
		t.Fatalf("scan must stop when the callback returns false, saw %d", seen)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	defer rdb.Close()
	s := New[counter](rdb, "cg", nil)

	_, err := s.Get(context.Background(), "k")
	if err == nil {
		t.Fatalf("expected error with closed backend")
	}
	if err == store.ErrNotFound {
		t.Fatalf("backend failure must not look like a miss")
	}
}
