package clinicguard

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/clinicguard/audit"
	"github.com/MrEthical07/clinicguard/ratelimit"
)

func TestCheckRateLimitChatDualWindow(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimits.Chat = ratelimit.DualPolicy{
			Name:  "chat",
			Short: ratelimit.Policy{Name: "chat-short", Window: 10 * time.Second, MaxRequests: 2, Algorithm: ratelimit.SlidingWindow},
			Long:  ratelimit.Policy{Name: "chat-long", Window: time.Minute, MaxRequests: 3, Algorithm: ratelimit.SlidingWindow},
		}
	})
	ctx := context.Background()
	key := ratelimit.Key("pat-1", testOrigin)

	for i := 0; i < 2; i++ {
		res, err := env.engine.CheckRateLimit(ctx, ratelimit.ClassChat, key)
		if err != nil || !res.Allowed {
			t.Fatalf("message %d: allowed=%v err=%v", i, res.Allowed, err)
		}
	}
	res, err := env.engine.CheckRateLimit(ctx, ratelimit.ClassChat, key)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Allowed || res.Dual == nil || res.Dual.Denied != ratelimit.WindowShort {
		t.Fatalf("expected short window denial, got %+v", res)
	}

	env.clock.Advance(11 * time.Second)
	if res, _ = env.engine.CheckRateLimit(ctx, ratelimit.ClassChat, key); !res.Allowed {
		t.Fatal("short window should have reset")
	}
	res, _ = env.engine.CheckRateLimit(ctx, ratelimit.ClassChat, key)
	if res.Allowed || res.Dual.Denied != ratelimit.WindowLong {
		t.Fatalf("expected long window denial, got %+v", res.Dual)
	}
	if res.Decision.RetryAfter <= 0 {
		t.Fatal("expected retry hint from the long window")
	}
}

func TestCheckRateLimitUnknownClass(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.engine.CheckRateLimit(context.Background(), ratelimit.Class("bulk"), "k"); err == nil {
		t.Fatal("expected unknown class error")
	}
}

func TestLoginAttempts(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	limit := env.engine.config.RateLimits.Auth.MaxRequests

	for i := 0; i < limit-1; i++ {
		d, err := env.engine.RecordLoginAttempt(ctx, LoginAttempt{Key: "alice", Origin: testOrigin, Reason: "bad password"})
		if err != nil || !d.Allowed {
			t.Fatalf("failure %d: allowed=%v err=%v", i, d.Allowed, err)
		}
	}
	d, err := env.engine.RecordLoginAttempt(ctx, LoginAttempt{Key: "alice", Origin: testOrigin, Reason: "bad password"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected key blocked after the failure budget")
	}

	d, err = env.engine.LoginBlocked(ctx, "alice")
	if err != nil || d.Allowed {
		t.Fatalf("expected blocked, allowed=%v err=%v", d.Allowed, err)
	}
	res, err := env.engine.CheckRateLimit(ctx, ratelimit.ClassAuth, "alice")
	if err != nil || res.Allowed {
		t.Fatalf("auth class must report the block, allowed=%v err=%v", res.Allowed, err)
	}
	if d, _ := env.engine.LoginBlocked(ctx, "bob"); !d.Allowed {
		t.Fatal("other keys are independent")
	}

	env.clock.Advance(env.engine.config.RateLimits.AuthBlock + time.Second)
	d, err = env.engine.RecordLoginAttempt(ctx, LoginAttempt{Key: "alice", PrincipalID: "u-alice", Success: true})
	if err != nil || !d.Allowed {
		t.Fatalf("success: allowed=%v err=%v", d.Allowed, err)
	}
	if got := env.engine.metrics.Value(MetricLoginBlocked); got != 1 {
		t.Fatalf("expected 1 blocked login, got %d", got)
	}

	events := env.sink.ofType(audit.TypeLogin)
	if len(events) != limit+1 {
		t.Fatalf("expected %d login events, got %d", limit+1, len(events))
	}
	if last := events[len(events)-1]; !last.Granted() || last.PrincipalID != "u-alice" {
		t.Fatalf("unexpected success event: %+v", last)
	}
}

func TestSweepRemovesExpiredState(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	createTestSession(t, env, "pat-1")
	if _, err := env.engine.Revoke(ctx, RevokeRequest{TokenID: "jti-1", TTL: time.Minute}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := env.engine.CheckRateLimit(ctx, ratelimit.ClassGeneral, "p:pat-1"); err != nil {
		t.Fatalf("check: %v", err)
	}
	_, _ = env.engine.ValidateToken(ctx, "a.b.c", secure)

	report, err := env.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Total() != 0 {
		t.Fatalf("nothing should expire yet: %+v", report)
	}

	env.clock.Advance(45 * time.Minute)
	report, err = env.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	want := SweepReport{Revocations: 1, Counters: 1, Buckets: 1, Sessions: 1}
	if report != want {
		t.Fatalf("expected %+v, got %+v", want, report)
	}
	if got := env.engine.metrics.Value(MetricSweepRemoved); got != 4 {
		t.Fatalf("expected 4 swept items, got %d", got)
	}

	report, _ = env.engine.Sweep(ctx)
	if report.Total() != 0 {
		t.Fatalf("second sweep must be a no-op: %+v", report)
	}
}

func TestSweeperStartStop(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Sweep.Enabled = true
		c.Sweep.Schedule = "@every 1h"
	})
	if err := env.engine.StartSweeper(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := env.engine.StartSweeper(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := env.engine.StopSweeper(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
