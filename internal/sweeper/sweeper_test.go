package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunOnceContinuesAfterFailure(t *testing.T) {
	calls := 0
	s, err := New("", 0, nil,
		Job{Name: "broken", Run: func(context.Context) (int, error) { return 0, errors.New("backend down") }},
		Job{Name: "ok", Run: func(context.Context) (int, error) { calls++; return 3, nil }},
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	res := s.RunOnce(context.Background())
	if len(res) != 2 {
		t.Fatalf("expected 2 results, got %d", len(res))
	}
	if res[0].Err == nil || res[1].Removed != 3 || calls != 1 {
		t.Fatalf("unexpected results: %+v", res)
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	job := Job{Name: "x", Run: func(context.Context) (int, error) { return 0, nil }}
	if _, err := New("every sometimes", 0, nil, job); err == nil {
		t.Fatal("expected schedule parse error")
	}
	if _, err := New("", 0, nil); err == nil {
		t.Fatal("expected error without jobs")
	}
}

func TestScheduledPass(t *testing.T) {
	ran := make(chan struct{}, 1)
	s, err := New("@every 1s", 0, nil, Job{Name: "tick", Run: func(context.Context) (int, error) {
		select {
		case ran <- struct{}{}:
		default:
		}
		return 0, nil
	}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Start()
	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.Stop(ctx); err != nil {
			t.Fatalf("stop: %v", err)
		}
	}()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled pass did not run")
	}
}
