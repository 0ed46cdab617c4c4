// Package scheduler bounds concurrent work with a weighted semaphore so that
// every fan-out level of a run shares one ceiling on simultaneous tasks.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/paper-harvester/internal/metrics"
)

// DefaultConcurrency matches the historical fifty-worker pool.
const DefaultConcurrency = 50

// Stats is a point-in-time view of scheduler activity.
type Stats struct {
	Limit     int64 `json:"limit"`
	InFlight  int64 `json:"in_flight"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Panicked  int64 `json:"panicked"`
}

// Scheduler runs tasks with at most Limit of them holding a slot at once.
// Submit blocks while the pool is saturated, which applies backpressure to
// producers instead of queueing without bound.
type Scheduler struct {
	name   string
	limit  int64
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger *zap.Logger

	inFlight  atomic.Int64
	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
}

// New builds a Scheduler. A non-positive limit falls back to DefaultConcurrency.
func New(name string, limit int, logger *zap.Logger) *Scheduler {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		name:   name,
		limit:  int64(limit),
		sem:    semaphore.NewWeighted(int64(limit)),
		logger: logger,
	}
}

// Submit waits for a free slot and then runs task on its own goroutine.
// It returns ctx.Err() without running the task if ctx ends first. A panicking
// task is recovered and logged; it never takes the process down.
func (s *Scheduler) Submit(ctx context.Context, task func(ctx context.Context)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.submitted.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release()
		s.enter()
		defer func() {
			if r := recover(); r != nil {
				s.panicked.Add(1)
				metrics.ObserveTask(s.name, "panic")
				s.logger.Error("scheduled task panicked",
					zap.String("pool", s.name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
			}
		}()
		task(ctx)
		metrics.ObserveTask(s.name, "done")
	}()
	return nil
}

// Do runs task on the calling goroutine while holding a slot and returns its
// error. Panics are converted into errors.
func (s *Scheduler) Do(ctx context.Context, task func(ctx context.Context) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.submitted.Add(1)
	defer s.release()
	s.enter()
	defer func() {
		if r := recover(); r != nil {
			s.panicked.Add(1)
			metrics.ObserveTask(s.name, "panic")
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	err = task(ctx)
	metrics.ObserveTask(s.name, "done")
	return err
}

// Wait blocks until every submitted task has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Stats reports current counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Limit:     s.limit,
		InFlight:  s.inFlight.Load(),
		Submitted: s.submitted.Load(),
		Completed: s.completed.Load(),
		Panicked:  s.panicked.Load(),
	}
}

func (s *Scheduler) enter() {
	s.inFlight.Add(1)
	metrics.IncInFlight(s.name)
}

func (s *Scheduler) release() {
	s.inFlight.Add(-1)
	s.completed.Add(1)
	metrics.DecInFlight(s.name)
	s.sem.Release(1)
}
