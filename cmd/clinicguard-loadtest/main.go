// Command clinicguard-loadtest drives session validation, class rate
// limiting and token validation concurrently against Redis-backed state.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/clinicguard"
	"github.com/MrEthical07/clinicguard/jwt"
	"github.com/MrEthical07/clinicguard/ratelimit"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	loadOrigin = "198.51.100.20"
	loadAgent  = "clinicguard-loadtest"
)

var secret = []byte("loadtest-secret-loadtest-secret-")

func main() {
	var (
		sessions    = flag.Int("sessions", 10000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		namespace   = flag.String("namespace", "cg-load", "key namespace")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	engine, signer, err := buildEngine(client, *namespace, *sessions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = engine.Close(ctx) }()

	ids := make([]string, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := range ids {
		id, err := engine.CreateSession(ctx, fmt.Sprintf("pat-%d", i), clinicguard.SessionMetadata{
			TenantID:  "clinic-load",
			Role:      "subject",
			Origin:    loadOrigin,
			UserAgent: loadAgent,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "create session failed: %v\n", err)
			os.Exit(1)
		}
		ids[i] = id
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	tokens := make([]string, 64)
	for i := range tokens {
		tok, _, err := signer.Sign(jwt.SignRequest{Subject: fmt.Sprintf("pat-%d", i), Role: "subject", TenantID: "clinic-load"})
		if err != nil {
			fmt.Fprintf(os.Stderr, "sign failed: %v\n", err)
			os.Exit(1)
		}
		tokens[i] = tok
	}

	sessionStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand) error {
		_, err := engine.ValidateSession(ctx, ids[r.Intn(len(ids))], loadOrigin, loadAgent)
		return err
	})
	rateStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand) error {
		_, err := engine.CheckRateLimit(ctx, ratelimit.ClassSensitive, ratelimit.Key(fmt.Sprintf("pat-%d", r.Intn(len(ids))), loadOrigin))
		return err
	})
	tokenStats := runPhase(*ops, *concurrency, 4099, func(r *rand.Rand) error {
		_, err := engine.ValidateToken(ctx, tokens[r.Intn(len(tokens))], clinicguard.TokenContext{Secure: true, ClientKey: loadOrigin})
		return err
	})

	fmt.Println("---- results ----")
	printStats("session-validate", sessionStats)
	printStats("rate-limit", rateStats)
	printStats("token-validate", tokenStats)
}

func buildEngine(client redis.UniversalClient, namespace string, sessions int) (*clinicguard.Engine, *jwt.Signer, error) {
	key, err := jwt.NewHMACKey("load", jwt.AlgHS256, secret)
	if err != nil {
		return nil, nil, err
	}
	keys, err := jwt.NewStaticKeys(key)
	if err != nil {
		return nil, nil, err
	}
	signer, err := jwt.NewSigner(key, "https://id.load.test", []string{"load-api"}, time.Hour)
	if err != nil {
		return nil, nil, err
	}

	cfg := clinicguard.DefaultConfig()
	cfg.Token.Issuers = []string{"https://id.load.test"}
	cfg.Token.Audiences = []string{"load-api"}
	cfg.MasterSecret = secret
	cfg.Store.Namespace = namespace
	cfg.Audit.Async = true
	cfg.Metrics.Enabled = true
	// Load runs measure the backend, not the default policies.
	cfg.RateLimits.Sensitive.MaxRequests = 1 << 30
	cfg.RateLimits.Validation = ratelimit.BurstPolicy{PerSecond: 1e9, Burst: 1 << 30, IdleTTL: time.Minute}
	cfg.Session.MaxConcurrent = 2

	engine, err := clinicguard.New().WithConfig(cfg).WithKeys(keys).WithRedis(client).Build()
	if err != nil {
		return nil, nil, err
	}
	return engine, signer, nil
}

func runPhase(ops, concurrency int, seed int64, op func(*rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
