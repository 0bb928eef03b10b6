// Package supervisor runs the process's long-lived goroutines (scheduler
// loop, config watcher, event consumers) under one cancellable context.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "newsbot/pkg/logx"
)

// Supervisor owns named goroutines: panics are recovered and recorded, the
// first error is kept, and optionally cancels the others.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	active   atomic.Int64
	panics   atomic.Uint64
	errOnce  sync.Once
	firstErr atomic.Value // error

	wg       sync.WaitGroup
	doneOnce sync.Once
	done     chan struct{}
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithCancelOnError cancels every goroutine when one returns an error or panics.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop(), done: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }
func (s *Supervisor) Cancel()                  { s.cancel() }
func (s *Supervisor) Active() int64            { return s.active.Load() }
func (s *Supervisor) Panics() uint64           { return s.panics.Load() }

func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

func (s *Supervisor) fail(err error) {
	s.errOnce.Do(func() { s.firstErr.Store(err) })
	if s.cancelOnErr {
		s.cancel()
	}
}

// run calls fn, converting a panic into an error.
func (s *Supervisor) run(name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

// Go starts fn. A non-nil error other than context.Canceled is recorded.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	s.active.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		s.log.Debug("goroutine started", logx.String("name", name))
		err := s.run(name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// GoRestart reruns fn after an error or panic with exponential backoff
// (min doubling up to max) until the context ends. A clean return stops it.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, min, max time.Duration) {
	if fn == nil {
		return
	}
	if min <= 0 {
		min = 250 * time.Millisecond
	}
	if max < min {
		max = min
	}
	s.Go0(name, func(ctx context.Context) {
		backoff := min
		for {
			started := time.Now()
			err := s.run(name, fn)
			if ctx.Err() != nil || err == nil || errors.Is(err, context.Canceled) {
				return
			}
			if time.Since(started) >= 30*time.Second {
				backoff = min
			}
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", backoff), logx.Err(err))

			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff = backoff * 2
			if backoff > max {
				backoff = max
			}
		}
	})
}

// Stop cancels and waits.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine returned or ctx ends, then reports the
// first recorded error.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}
