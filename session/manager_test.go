package session

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/clinicguard/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, mutate func(*Config), opts ...Option) (*Manager, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Unix(1_760_000_000, 0)}
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	sessions := store.NewSharded[Session](store.WithClock(clock.Now))
	index := store.NewSharded[Index](store.WithClock(clock.Now))
	m, err := NewManager(sessions, index, cfg, append([]Option{WithClock(clock.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, clock
}

const (
	testOrigin = "203.0.113.10:51000"
	testAgent  = "Mozilla/5.0 (X11; Linux x86_64)"
)

func mustCreate(t *testing.T, m *Manager, principal string) string {
	t.Helper()
	id, err := m.Create(context.Background(), principal, Metadata{
		TenantID:  "clinic-1",
		Role:      "professional",
		Origin:    testOrigin,
		UserAgent: testAgent,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return id
}

func TestIdleTimeoutSlidesWithActivity(t *testing.T) {
	m, clock := newTestManager(t, nil)
	ctx := context.Background()
	id := mustCreate(t, m, "u-1")

	clock.Advance(29 * time.Minute)
	info, err := m.Validate(ctx, id, testOrigin, testAgent)
	if err != nil {
		t.Fatalf("validate at +29m: %v", err)
	}
	if !info.LastActivityAt.Equal(clock.Now()) {
		t.Fatalf("last activity not updated")
	}

	clock.Advance(32 * time.Minute)
	if _, err := m.Validate(ctx, id, testOrigin, testAgent); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired at +61m, got %v", err)
	}
	if _, err := m.Validate(ctx, id, testOrigin, testAgent); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expired session must be gone, got %v", err)
	}
	if n, _ := m.Count(ctx, "u-1"); n != 0 {
		t.Fatalf("expected no live sessions, got %d", n)
	}
}

func TestAbsoluteTimeoutIgnoresActivity(t *testing.T) {
	m, clock := newTestManager(t, func(c *Config) {
		c.IdleTimeout = 10 * time.Minute
		c.AbsoluteTimeout = 25 * time.Minute
	})
	ctx := context.Background()
	id := mustCreate(t, m, "u-1")

	for i := 0; i < 2; i++ {
		clock.Advance(9 * time.Minute)
		if _, err := m.Validate(ctx, id, testOrigin, testAgent); err != nil {
			t.Fatalf("validate %d: %v", i, err)
		}
	}
	clock.Advance(9 * time.Minute)
	if _, err := m.Validate(ctx, id, testOrigin, testAgent); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected absolute expiry, got %v", err)
	}
}

func TestTimeoutsExpireOnlyPastDeadline(t *testing.T) {
	m, clock := newTestManager(t, func(c *Config) {
		c.IdleTimeout = 10 * time.Minute
		c.AbsoluteTimeout = 20 * time.Minute
	})
	ctx := context.Background()
	id := mustCreate(t, m, "u-1")

	clock.Advance(10 * time.Minute)
	if _, err := m.Validate(ctx, id, testOrigin, testAgent); err != nil {
		t.Fatalf("validate exactly at the idle deadline: %v", err)
	}
	clock.Advance(10 * time.Minute)
	if _, err := m.Validate(ctx, id, testOrigin, testAgent); err != nil {
		t.Fatalf("validate exactly at the absolute deadline: %v", err)
	}
	clock.Advance(time.Nanosecond)
	if _, err := m.Validate(ctx, id, testOrigin, testAgent); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired past the absolute deadline, got %v", err)
	}

	other := mustCreate(t, m, "u-2")
	clock.Advance(10*time.Minute + time.Nanosecond)
	if _, err := m.Validate(ctx, other, testOrigin, testAgent); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired past the idle deadline, got %v", err)
	}
}

func TestRegenerateInvalidatesOldID(t *testing.T) {
	m, clock := newTestManager(t, nil)
	ctx := context.Background()
	oldID := mustCreate(t, m, "u-1")
	created := clock.Now()

	clock.Advance(time.Minute)
	newID, err := m.Regenerate(ctx, oldID)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if newID == oldID {
		t.Fatalf("regenerated id must differ")
	}
	if _, err := m.Validate(ctx, oldID, testOrigin, testAgent); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("old id must fail, got %v", err)
	}
	info, err := m.Validate(ctx, newID, testOrigin, testAgent)
	if err != nil {
		t.Fatalf("new id must validate: %v", err)
	}
	if !info.CreatedAt.Equal(created) {
		t.Fatalf("created at must be preserved")
	}
	if info.PrincipalID != "u-1" || info.TenantID != "clinic-1" {
		t.Fatalf("metadata not preserved: %+v", info.Session)
	}
	if n, _ := m.Count(ctx, "u-1"); n != 1 {
		t.Fatalf("regenerate must not change the session count, got %d", n)
	}
	if _, err := m.Regenerate(ctx, oldID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("regenerating a dead id must fail, got %v", err)
	}
}

func TestElevateMarksSession(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()
	id := mustCreate(t, m, "u-1")

	elevated, err := m.Elevate(ctx, id)
	if err != nil {
		t.Fatalf("elevate: %v", err)
	}
	info, err := m.Validate(ctx, elevated, testOrigin, testAgent)
	if err != nil {
		t.Fatalf("validate elevated: %v", err)
	}
	if !info.Elevated || elevated == id {
		t.Fatalf("expected elevated session under a new id")
	}
}

func TestCapEvictsOldest(t *testing.T) {
	m, clock := newTestManager(t, func(c *Config) { c.MaxConcurrent = 2 })
	ctx := context.Background()

	first := mustCreate(t, m, "u-1")
	clock.Advance(time.Second)
	second := mustCreate(t, m, "u-1")
	clock.Advance(time.Second)
	third := mustCreate(t, m, "u-1")

	if _, err := m.Validate(ctx, first, testOrigin, testAgent); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("oldest session must be evicted, got %v", err)
	}
	for _, id := range []string{second, third} {
		if _, err := m.Validate(ctx, id, testOrigin, testAgent); err != nil {
			t.Fatalf("remaining session must validate: %v", err)
		}
	}
	if n, _ := m.Count(ctx, "u-1"); n != 2 {
		t.Fatalf("expected 2 sessions, got %d", n)
	}
}

func TestCapReject(t *testing.T) {
	m, _ := newTestManager(t, func(c *Config) {
		c.MaxConcurrent = 1
		c.CapPolicy = CapReject
	})
	ctx := context.Background()
	id := mustCreate(t, m, "u-1")

	if _, err := m.Create(ctx, "u-1", Metadata{}); !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("expected ErrTooManySessions, got %v", err)
	}
	if err := m.Remove(ctx, id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := m.Create(ctx, "u-1", Metadata{}); err != nil {
		t.Fatalf("create after remove: %v", err)
	}
}

func TestConcurrentCreatesRespectCap(t *testing.T) {
	m, _ := newTestManager(t, func(c *Config) {
		c.MaxConcurrent = 3
		c.CapPolicy = CapReject
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Create(ctx, "u-1", Metadata{}); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if created != 3 {
		t.Fatalf("expected exactly 3 sessions, got %d", created)
	}
}

func TestConcurrentValidateSameSession(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()
	id := mustCreate(t, m, "u-1")

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Validate(ctx, id, testOrigin, testAgent); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent validate failed: %v", err)
	}
}

func TestAnomalyRejectTerminatesSession(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()
	id := mustCreate(t, m, "u-1")

	if _, err := m.Validate(ctx, id, "198.51.100.7", testAgent); !errors.Is(err, ErrOriginMismatch) {
		t.Fatalf("expected ErrOriginMismatch, got %v", err)
	}
	if _, err := m.Validate(ctx, id, testOrigin, testAgent); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session must be terminated, got %v", err)
	}
}

func TestAnomalyStepUpKeepsSession(t *testing.T) {
	m, _ := newTestManager(t, func(c *Config) { c.Anomaly = AnomalyStepUp })
	ctx := context.Background()
	id := mustCreate(t, m, "u-1")

	_, err := m.Validate(ctx, id, testOrigin, "curl/8.0")
	if !errors.Is(err, ErrStepUpRequired) || !errors.Is(err, ErrOriginMismatch) {
		t.Fatalf("expected step-up wrapping origin mismatch, got %v", err)
	}
	if _, err := m.Validate(ctx, id, testOrigin, testAgent); err != nil {
		t.Fatalf("session must survive a step-up anomaly: %v", err)
	}
}

func TestSameNetworkIsTolerated(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()
	id := mustCreate(t, m, "u-1")

	if _, err := m.Validate(ctx, id, "203.0.113.200", testAgent); err != nil {
		t.Fatalf("same /24 must be tolerated: %v", err)
	}
}

func TestRemoveAllAndSweep(t *testing.T) {
	m, clock := newTestManager(t, nil)
	ctx := context.Background()
	mustCreate(t, m, "u-1")
	mustCreate(t, m, "u-1")
	other := mustCreate(t, m, "u-2")

	n, err := m.RemoveAll(ctx, "u-1")
	if err != nil || n != 2 {
		t.Fatalf("remove all: n=%d err=%v", n, err)
	}
	if c, _ := m.Count(ctx, "u-1"); c != 0 {
		t.Fatalf("expected 0 sessions after remove all, got %d", c)
	}

	clock.Advance(31 * time.Minute)
	removed, err := m.Sweep(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("first sweep: removed=%d err=%v", removed, err)
	}
	removed, err = m.Sweep(ctx)
	if err != nil || removed != 0 {
		t.Fatalf("second sweep must be a no-op: removed=%d err=%v", removed, err)
	}
	if _, err := m.Validate(ctx, other, testOrigin, testAgent); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("swept session must be gone, got %v", err)
	}
	if _, err := m.index.Get(ctx, indexKey("u-2")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("empty index must be pruned, got %v", err)
	}
}

type staticGeo map[netip.Addr]string

func (g staticGeo) Country(_ context.Context, a netip.Addr) (string, error) {
	return g[a], nil
}

func TestCountryToleranceUsesResolver(t *testing.T) {
	geo := staticGeo{
		netip.MustParseAddr("203.0.113.10"): "BR",
		netip.MustParseAddr("192.0.2.44"):   "BR",
		netip.MustParseAddr("198.51.100.9"): "PT",
	}
	m, _ := newTestManager(t, func(c *Config) { c.Tolerance = ToleranceCountry }, WithGeoResolver(geo))
	ctx := context.Background()
	id := mustCreate(t, m, "u-1")

	if _, err := m.Validate(ctx, id, "192.0.2.44", testAgent); err != nil {
		t.Fatalf("same country must be tolerated: %v", err)
	}
	if _, err := m.Validate(ctx, id, "198.51.100.9", testAgent); !errors.Is(err, ErrOriginMismatch) {
		t.Fatalf("different country must be rejected, got %v", err)
	}
}

func TestOriginMatcher(t *testing.T) {
	bound := func(s string) Origin { return Origin{Addr: netip.MustParseAddr(s)} }
	addr := netip.MustParseAddr

	tests := []struct {
		name      string
		tolerance Tolerance
		bound     Origin
		cur       netip.Addr
		want      bool
	}{
		{"exact same", ToleranceExact, bound("10.1.2.3"), addr("10.1.2.3"), true},
		{"exact neighbour", ToleranceExact, bound("10.1.2.3"), addr("10.1.2.4"), false},
		{"network /24", ToleranceNetwork, bound("10.1.2.3"), addr("10.1.2.250"), true},
		{"network other /24", ToleranceNetwork, bound("10.1.2.3"), addr("10.1.3.3"), false},
		{"network /48", ToleranceNetwork, bound("2001:db8:1::1"), addr("2001:db8:1:ffff::9"), true},
		{"network other /48", ToleranceNetwork, bound("2001:db8:1::1"), addr("2001:db8:2::1"), false},
		{"family change", ToleranceNetwork, bound("10.1.2.3"), addr("2001:db8::1"), false},
		{"carrier group", ToleranceCarrier, bound("100.64.1.1"), addr("100.127.9.9"), true},
		{"carrier outside", ToleranceCarrier, bound("100.64.1.1"), addr("100.128.0.1"), false},
		{"carrier not under network", ToleranceNetwork, bound("100.64.1.1"), addr("100.127.9.9"), false},
		{"unbound", ToleranceExact, Origin{}, addr("10.0.0.1"), true},
		{"missing current", ToleranceNetwork, bound("10.1.2.3"), netip.Addr{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := originMatcher{tolerance: tt.tolerance, carriers: DefaultCarrierPrefixes}
			if got := m.allows(tt.bound, tt.cur, ""); got != tt.want {
				t.Fatalf("allows() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseOrigin(t *testing.T) {
	for in, want := range map[string]string{
		"203.0.113.10":       "203.0.113.10",
		"203.0.113.10:443":   "203.0.113.10",
		"[2001:db8::1]:8443": "2001:db8::1",
		"::ffff:192.0.2.1":   "192.0.2.1",
	} {
		got, err := ParseOrigin(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got.String() != want {
			t.Fatalf("parse %q = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseOrigin("not-an-ip"); !errors.Is(err, ErrInvalidOrigin) {
		t.Fatalf("expected ErrInvalidOrigin, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AbsoluteTimeout = time.Minute
	if err := cfg.Validate(); err == nil {
		t.Fatalf("absolute below idle must fail")
	}
	cfg = DefaultConfig()
	cfg.MaxConcurrent = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("zero cap must fail")
	}
}
