package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/clinicguard/store"
	"github.com/redis/go-redis/v9"
)

// versionWidth is the width of the zero-padded decimal version prefix stored
// in front of every payload. Fixed width keeps the Lua comparison a plain
// substring check.
const versionWidth = 20

const scanBatch = 128

const getOrInitScript = `
local cur = redis.call("GET", KEYS[1])
if cur then
  return {1, cur}
end
local ttl = tonumber(ARGV[2])
if ttl > 0 then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ttl)
else
  redis.call("SET", KEYS[1], ARGV[1])
end
return {0, ARGV[1]}
`

const compareAndSwapScript = `
local cur = redis.call("GET", KEYS[1])
if not cur then
  return 0
end
if string.sub(cur, 1, 20) ~= ARGV[1] then
  return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call("SET", KEYS[1], ARGV[2], "PX", ttl)
else
  redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`

const compareAndDeleteScript = `
local cur = redis.call("GET", KEYS[1])
if not cur then
  return 0
end
if string.sub(cur, 1, 20) ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
return 1
`

var (
	getOrInitLua        = redis.NewScript(getOrInitScript)
	compareAndSwapLua   = redis.NewScript(compareAndSwapScript)
	compareAndDeleteLua = redis.NewScript(compareAndDeleteScript)
)

// ErrCorrupt is returned when a stored blob cannot be decoded.
var ErrCorrupt = errors.New("redisstore: corrupt entry")

// Codec converts values to and from their stored byte form.
type Codec[V any] interface {
	Marshal(v V) ([]byte, error)
	Unmarshal(data []byte) (V, error)
}

// JSONCodec stores values as JSON.
type JSONCodec[V any] struct{}

// Marshal implements [Codec].
func (JSONCodec[V]) Marshal(v V) ([]byte, error) { return json.Marshal(v) }

// Unmarshal implements [Codec].
func (JSONCodec[V]) Unmarshal(data []byte) (V, error) {
	var v V
	err := json.Unmarshal(data, &v)
	return v, err
}

// Store is a [store.Store] backed by Redis. Multiple processes sharing the
// same Redis and namespace see the same state.
type Store[V any] struct {
	redis     redis.UniversalClient
	namespace string
	codec     Codec[V]
	now       func() time.Time
}

// New creates a Redis-backed store. namespace prefixes every key; a nil
// codec selects [JSONCodec].
func New[V any](client redis.UniversalClient, namespace string, codec Codec[V]) *Store[V] {
	if codec == nil {
		codec = JSONCodec[V]{}
	}
	return &Store[V]{
		redis:     client,
		namespace: namespace,
		codec:     codec,
		now:       time.Now,
	}
}

func (s *Store[V]) key(k string) string {
	return s.namespace + ":" + k
}

func formatVersion(v uint64) string {
	out := strconv.FormatUint(v, 10)
	return strings.Repeat("0", versionWidth-len(out)) + out
}

func (s *Store[V]) encode(version uint64, v V) (string, error) {
	payload, err := s.codec.Marshal(v)
	if err != nil {
		return "", err
	}
	return formatVersion(version) + string(payload), nil
}

func (s *Store[V]) decode(blob string) (V, uint64, error) {
	var zero V
	if len(blob) < versionWidth {
		return zero, 0, ErrCorrupt
	}
	version, err := strconv.ParseUint(blob[:versionWidth], 10, 64)
	if err != nil {
		return zero, 0, ErrCorrupt
	}
	v, err := s.codec.Unmarshal([]byte(blob[versionWidth:]))
	if err != nil {
		return zero, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return v, version, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

func ttlMillis(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	ms := ttl.Milliseconds()
	if ms == 0 {
		ms = 1
	}
	return ms
}

// Get implements [store.Store].
func (s *Store[V]) Get(ctx context.Context, key string) (store.Entry[V], error) {
	k := s.key(key)
	var getCmd *redis.StringCmd
	var ttlCmd *redis.DurationCmd
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, k)
		ttlCmd = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return store.Entry[V]{}, unavailable(err)
	}

	blob, err := getCmd.Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.Entry[V]{}, store.ErrNotFound
		}
		return store.Entry[V]{}, unavailable(err)
	}

	v, version, err := s.decode(blob)
	if err != nil {
		return store.Entry[V]{}, err
	}

	e := store.Entry[V]{Value: v, Version: version}
	if ttl, err := ttlCmd.Result(); err == nil && ttl > 0 {
		e.ExpiresAt = s.now().Add(ttl)
	}
	return e, nil
}

// GetOrInit implements [store.Store].
func (s *Store[V]) GetOrInit(ctx context.Context, key string, init V, ttl time.Duration) (store.Entry[V], bool, error) {
	blob, err := s.encode(1, init)
	if err != nil {
		return store.Entry[V]{}, false, err
	}

	res, err := getOrInitLua.Run(ctx, s.redis, []string{s.key(key)}, blob, ttlMillis(ttl)).Slice()
	if err != nil {
		return store.Entry[V]{}, false, unavailable(err)
	}
	if len(res) != 2 {
		return store.Entry[V]{}, false, ErrCorrupt
	}
	loaded, _ := res[0].(int64)
	stored, _ := res[1].(string)

	v, version, err := s.decode(stored)
	if err != nil {
		return store.Entry[V]{}, false, err
	}
	e := store.Entry[V]{Value: v, Version: version}
	if loaded == 0 && ttl > 0 {
		e.ExpiresAt = s.now().Add(ttl)
	}
	return e, loaded == 1, nil
}

// CompareAndSwap implements [store.Store].
func (s *Store[V]) CompareAndSwap(ctx context.Context, key string, version uint64, next V, ttl time.Duration) (bool, error) {
	blob, err := s.encode(version+1, next)
	if err != nil {
		return false, err
	}

	n, err := compareAndSwapLua.Run(ctx, s.redis, []string{s.key(key)}, formatVersion(version), blob, ttlMillis(ttl)).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// CompareAndDelete implements [store.Store].
func (s *Store[V]) CompareAndDelete(ctx context.Context, key string, version uint64) (bool, error) {
	n, err := compareAndDeleteLua.Run(ctx, s.redis, []string{s.key(key)}, formatVersion(version)).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// Delete implements [store.Store].
func (s *Store[V]) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Scan implements [store.Store] with SCAN and a pipelined GET/PTTL per key.
// On a cluster client every master is scanned in turn. Entries that vanish
// between the two calls are skipped; corrupt entries are skipped too.
func (s *Store[V]) Scan(ctx context.Context, prefix string, fn func(key string, e store.Entry[V]) bool) error {
	cc, ok := s.redis.(*redis.ClusterClient)
	if !ok {
		_, err := s.scanNode(ctx, s.redis, prefix, fn)
		return err
	}

	var (
		mu    sync.Mutex
		nodes []*redis.Client
	)
	err := cc.ForEachMaster(ctx, func(_ context.Context, node *redis.Client) error {
		mu.Lock()
		nodes = append(nodes, node)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	for _, node := range nodes {
		more, err := s.scanNode(ctx, node, prefix, fn)
		if err != nil || !more {
			return err
		}
	}
	return nil
}

// scanNode walks one node's keyspace. more is false once fn asked to stop.
func (s *Store[V]) scanNode(ctx context.Context, node redis.Cmdable, prefix string, fn func(key string, e store.Entry[V]) bool) (more bool, err error) {
	pattern := escapeGlob(s.key(prefix)) + "*"
	strip := len(s.namespace) + 1

	var cursor uint64
	for {
		keys, next, err := node.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return false, unavailable(err)
		}

		if len(keys) > 0 {
			gets := make([]*redis.StringCmd, len(keys))
			ttls := make([]*redis.DurationCmd, len(keys))
			_, err := node.Pipelined(ctx, func(pipe redis.Pipeliner) error {
				for i, k := range keys {
					gets[i] = pipe.Get(ctx, k)
					ttls[i] = pipe.PTTL(ctx, k)
				}
				return nil
			})
			if err != nil && !errors.Is(err, redis.Nil) {
				return false, unavailable(err)
			}
			now := s.now()
			for i, k := range keys {
				blob, err := gets[i].Result()
				if err != nil {
					continue
				}
				v, version, err := s.decode(blob)
				if err != nil {
					continue
				}
				e := store.Entry[V]{Value: v, Version: version}
				if ttl, err := ttls[i].Result(); err == nil && ttl > 0 {
					e.ExpiresAt = now.Add(ttl)
				}
				if !fn(k[strip:], e) {
					return false, nil
				}
			}
		}

		cursor = next
		if cursor == 0 {
			return true, nil
		}
	}
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
