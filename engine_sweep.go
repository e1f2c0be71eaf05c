package clinicguard

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/clinicguard/internal/sweeper"
)

const (
	sweepRevocations = "revocations"
	sweepCounters    = "counters"
	sweepBuckets     = "buckets"
	sweepSessions    = "sessions"
)

func (e *Engine) sweepJobs() []sweeper.Job {
	counted := func(run func(context.Context) (int, error)) func(context.Context) (int, error) {
		return func(ctx context.Context) (int, error) {
			n, err := run(ctx)
			if n > 0 {
				e.metrics.Add(MetricSweepRemoved, uint64(n))
			}
			return n, err
		}
	}
	return []sweeper.Job{
		{Name: sweepRevocations, Run: counted(e.revocations.Sweep)},
		{Name: sweepCounters, Run: counted(e.limiter.Sweep)},
		{Name: sweepBuckets, Run: counted(e.burst.Sweep)},
		{Name: sweepSessions, Run: counted(e.sessions.Sweep)},
	}
}

// Sweep removes expired revocations, stale rate-limit counters, idle
// validation buckets and expired sessions. Every job runs even when an
// earlier one fails; the errors are joined.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	var (
		report SweepReport
		errs   []error
	)
	for _, job := range e.sweepJobs() {
		n, err := job.Run(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep %s: %w", job.Name, err))
		}
		report.add(job.Name, n)
	}
	return report, errors.Join(errs...)
}

// SweepRevocations removes expired blacklist entries only.
func (e *Engine) SweepRevocations(ctx context.Context) (int, error) {
	return e.revocations.Sweep(ctx)
}

func (r *SweepReport) add(job string, n int) {
	switch job {
	case sweepRevocations:
		r.Revocations += n
	case sweepCounters:
		r.Counters += n
	case sweepBuckets:
		r.Buckets += n
	case sweepSessions:
		r.Sessions += n
	}
}

// StartSweeper schedules [Engine.Sweep] on the configured cron schedule.
// It is a no-op when sweeping is disabled or already running.
func (e *Engine) StartSweeper() error {
	if !e.config.Sweep.Enabled {
		return nil
	}
	if e.closed.Load() {
		return ErrEngineClosed
	}

	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()
	if e.sweeper == nil {
		s, err := sweeper.New(e.config.Sweep.Schedule, e.config.Sweep.Timeout, e.log, e.sweepJobs()...)
		if err != nil {
			return err
		}
		e.sweeper = s
	}
	e.sweeper.Start()
	return nil
}

// StopSweeper stops the schedule and waits for a running pass or ctx.
func (e *Engine) StopSweeper(ctx context.Context) error {
	e.sweepMu.Lock()
	s := e.sweeper
	e.sweepMu.Unlock()
	if s == nil {
		return nil
	}
	return s.Stop(ctx)
}
