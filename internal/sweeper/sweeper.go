// Package sweeper runs the periodic cleanup of expired revocations,
// counters and sessions on a cron schedule.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule runs every five minutes.
const DefaultSchedule = "@every 5m"

// Job removes stale state and reports how many items it removed.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Result is the outcome of one job in one pass.
type Result struct {
	Name    string
	Removed int
	Err     error
}

// Sweeper owns a cron scheduler. Passes never overlap.
type Sweeper struct {
	cron    *cron.Cron
	jobs    []Job
	log     *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	running bool
}

// New schedules jobs on spec. timeout bounds one pass; zero means one
// minute.
func New(spec string, timeout time.Duration, log *zap.Logger, jobs ...Job) (*Sweeper, error) {
	if len(jobs) == 0 {
		return nil, errors.New("sweeper requires at least one job")
	}
	if spec == "" {
		spec = DefaultSchedule
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Sweeper{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		jobs:    jobs,
		log:     log.Named("sweeper"),
		timeout: timeout,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins scheduling. It is a no-op when already started.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
}

// Stop stops scheduling and waits for a running pass to finish or ctx
// to end.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs every job in order. A failing job does not stop the
// following ones.
func (s *Sweeper) RunOnce(ctx context.Context) []Result {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	results := make([]Result, 0, len(s.jobs))
	for _, job := range s.jobs {
		start := time.Now()
		n, err := job.Run(ctx)
		results = append(results, Result{Name: job.Name, Removed: n, Err: err})
		if err != nil {
			s.log.Warn("sweep failed", zap.String("job", job.Name), zap.Error(err))
			continue
		}
		s.log.Debug("sweep finished",
			zap.String("job", job.Name),
			zap.Int("removed", n),
			zap.Duration("took", time.Since(start)))
	}
	return results
}
