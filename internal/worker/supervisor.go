// Package worker runs the background phase of transfers as supervised,
// drainable goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/richardliu001/transaction-service/internal/metrics"
)

// ErrDraining is returned by Go once Drain has been called.
var ErrDraining = errors.New("supervisor is draining")

// Task is one unit of background work. ctx is cancelled if a drain times out.
type Task func(ctx context.Context) error

// ErrorHook receives every error or recovered panic from a task.
type ErrorHook func(name string, err error)

// Supervisor tracks in-flight tasks and reports their failures.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.SugaredLogger
	hook   ErrorHook

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// NewSupervisor returns a Supervisor. hook may be nil.
func NewSupervisor(log *zap.SugaredLogger, hook ErrorHook) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{ctx: ctx, cancel: cancel, log: log, hook: hook}
}

// Go starts fn in its own goroutine unless the supervisor is draining.
func (s *Supervisor) Go(name string, fn Task) error {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return ErrDraining
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.inFlight.Add(1)
	metrics.BackgroundTasksInFlight.Inc()

	go func() {
		defer func() {
			s.inFlight.Add(-1)
			metrics.BackgroundTasksInFlight.Dec()
			s.wg.Done()
		}()
		if err := s.run(fn); err != nil {
			s.report(name, err)
		}
	}()
	return nil
}

func (s *Supervisor) run(fn Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(s.ctx)
}

func (s *Supervisor) report(name string, err error) {
	metrics.BackgroundTaskErrors.Inc()
	s.log.Errorw("background task failed", "task", name, "error", err)
	if s.hook != nil {
		s.hook(name, err)
	}
}

// InFlight returns the number of running tasks.
func (s *Supervisor) InFlight() int {
	return int(s.inFlight.Load())
}

// Drain stops accepting tasks and waits for running ones. If ctx expires
// first, running tasks are cancelled and ctx.Err() is returned.
func (s *Supervisor) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		s.log.Warnw("drain timed out, cancelling background tasks", "in_flight", s.InFlight())
		return ctx.Err()
	}
}

// Draining reports whether Drain has been called.
func (s *Supervisor) Draining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}
