// Package uow implements units of work: side effects buffered while an
// operation runs and committed together when it ends.
package uow

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"
)

// Work is a deferred side effect.
type Work func(ctx context.Context) error

// ErrClosed is returned when work is added to a finished unit of work.
var ErrClosed = errors.New("unit of work already ended")

// UnitOfWork buffers Work until End or Abort.
type UnitOfWork struct {
	mu      sync.Mutex
	pending []Work
	closed  bool
}

// New returns an open unit of work.
func New() *UnitOfWork {
	return &UnitOfWork{}
}

// Intercept buffers w.
func (u *UnitOfWork) Intercept(w Work) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrClosed
	}
	u.pending = append(u.pending, w)
	return nil
}

// End runs the buffered work in order. Every item runs even when an earlier
// one fails; the failures are combined.
func (u *UnitOfWork) End(ctx context.Context) error {
	pending, err := u.close()
	if err != nil {
		return err
	}
	var errs error
	for _, w := range pending {
		errs = multierr.Append(errs, w(ctx))
	}
	return errs
}

// Abort discards the buffered work.
func (u *UnitOfWork) Abort() {
	_, _ = u.close()
}

// Len returns the number of buffered items.
func (u *UnitOfWork) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.pending)
}

func (u *UnitOfWork) close() ([]Work, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil, ErrClosed
	}
	u.closed = true
	pending := u.pending
	u.pending = nil
	return pending, nil
}

type ctxKey struct{}

// WithUnitOfWork returns a context carrying u.
func WithUnitOfWork(ctx context.Context, u *UnitOfWork) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the unit of work carried by ctx.
func FromContext(ctx context.Context) (*UnitOfWork, bool) {
	u, ok := ctx.Value(ctxKey{}).(*UnitOfWork)
	return u, ok
}

// Run executes fn inside a unit of work. When ctx already carries one, fn
// joins it and the outermost Run commits. Otherwise a new unit of work
// commits when fn succeeds and is aborted when it fails.
func Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := FromContext(ctx); ok {
		return fn(ctx)
	}
	u := New()
	if err := fn(WithUnitOfWork(ctx, u)); err != nil {
		u.Abort()
		return err
	}
	// Commit outside the caller's cancellation: the operation already
	// happened.
	return u.End(context.WithoutCancel(ctx))
}

// Perform buffers w in the unit of work carried by ctx, or runs it
// immediately when there is none.
func Perform(ctx context.Context, w Work) error {
	if u, ok := FromContext(ctx); ok {
		if err := u.Intercept(w); err == nil {
			return nil
		}
	}
	return w(ctx)
}
