// Package scheduler computes the next scheduled run instant from a set of
// wall-clock times and drives the sleep-and-run daemon loop.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Clock is the time source injected into the scheduler, defaulting to
// time.Now. Tests substitute a fixed or steppable function.
type Clock func() time.Time

// ParseTimes validates and parses a list of "HH:MM" strings against
// time.Local, rejecting malformed entries. Order of the result mirrors
// the input order; Next sorts internally.
func ParseTimes(raw []string) ([]time.Time, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("scheduler: no scrape times configured")
	}
	parsed := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		t, err := time.ParseInLocation("15:04", s, time.Local)
		if err != nil {
			return nil, fmt.Errorf("scheduler: invalid time %q: %w", s, err)
		}
		parsed = append(parsed, t)
	}
	return parsed, nil
}

// Next computes the smallest instant >= now whose local HH:MM matches one
// of times. If no time today is >= now, the smallest time rolls to
// tomorrow.
func Next(now time.Time, times []time.Time) time.Time {
	todayCandidates := make([]time.Time, 0, len(times))
	for _, t := range times {
		candidate := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
		todayCandidates = append(todayCandidates, candidate)
	}
	sort.Slice(todayCandidates, func(i, j int) bool { return todayCandidates[i].Before(todayCandidates[j]) })

	for _, c := range todayCandidates {
		if !c.Before(now) {
			return c
		}
	}

	earliest := todayCandidates[0]
	return earliest.AddDate(0, 0, 1)
}

// Runner is the unit of work executed once per scheduled instant.
type Runner func(ctx context.Context)

// Scheduler drives the daemon loop: compute next, sleep, run, repeat.
// Cycles run sequentially; an overrunning cycle causes the following
// next() call to naturally skip the instant it ran past.
type Scheduler struct {
	times  []time.Time
	clock  Clock
	run    Runner
	logger *zap.Logger
}

// New builds a Scheduler over the given wall-clock times. clock defaults
// to time.Now when nil; logger defaults to a no-op logger when nil.
func New(times []time.Time, clock Clock, run Runner, logger *zap.Logger) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{times: times, clock: clock, run: run, logger: logger}
}

// Run loops next -> sleep -> run until ctx is cancelled. Sleep is
// interruptible by ctx cancellation.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		now := s.clock()
		next := Next(now, s.times)
		wait := next.Sub(now)
		s.logger.Info("next cycle scheduled", zap.Time("at", next), zap.Duration("in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopping")
			return
		case <-timer.C:
		}

		s.run(ctx)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
