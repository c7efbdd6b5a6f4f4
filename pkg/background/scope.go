package background

import (
	"context"
	"sync"
	"time"
)

// Scope - joins a group of background goroutines under single cancellable context.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScope - builds scope derived from given parent context.
// Nil parent is allowed and replaced with context.Background().
func NewScope(parent context.Context) *Scope {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Scope{ctx: ctx, cancel: cancel}
}

// Context - returns scope context to watch for cancellation.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Err - returns scope context error, non-nil after cancellation.
func (s *Scope) Err() error {
	return s.ctx.Err()
}

// Go - launches fn as a member of the scope.
// The scope context is passed to let fn stop on cancellation.
func (s *Scope) Go(fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// Add - registers delta members joined manually, see Done.
func (s *Scope) Add(delta int) {
	s.wg.Add(delta)
}

// Done - marks manually joined member as finished.
func (s *Scope) Done() {
	s.wg.Done()
}

// Cancel - cancels the scope without waiting for members.
func (s *Scope) Cancel() {
	s.cancel()
}

// Stop - cancels the scope and waits no longer than timeout until all members are finished.
// Returns time spent for stopping.
func (s *Scope) Stop(timeout time.Duration) time.Duration {
	from := time.Now()
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
	return time.Since(from)
}
