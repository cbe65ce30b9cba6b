// Package guard provides the vault's single-flight mutation lock.
//
// A Guard admits one state-mutating operation at a time. Operations queued
// from other goroutines wait their turn; an operation that calls back into
// the same guard through the context it was handed (for example an asset
// transfer hook re-entering the vault) is rejected with ErrReentrantCall
// instead of deadlocking.
//
// A hook may also re-enter with a context it did not inherit. While the
// holder is inside an external call (see CallOut), waiters queue for at most
// the guard's call-out wait; if the same external call is still running
// when it expires they are turned away with ErrReentrantCall.
package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tokenvault/pkg/errors"
)

// DefaultCallOutWait bounds how long Enter queues behind an external call.
const DefaultCallOutWait = 2 * time.Second

type Guard struct {
	slot     chan struct{}
	rejected atomic.Int64
	wait     time.Duration

	mu      sync.Mutex
	calling chan struct{} // closed while the holder is inside an external call
	out     bool
}

type markerKey struct{ g *Guard }

func New() *Guard {
	return NewWithWait(DefaultCallOutWait)
}

// NewWithWait returns a guard whose waiters give up after wait once the
// holder has called out.
func NewWithWait(wait time.Duration) *Guard {
	if wait <= 0 {
		wait = DefaultCallOutWait
	}
	return &Guard{
		slot:    make(chan struct{}, 1),
		wait:    wait,
		calling: make(chan struct{}),
	}
}

// Enter acquires the guard. The returned context carries the entered marker
// and must be passed to everything the operation calls; release must be
// called exactly once, normally via defer.
func (g *Guard) Enter(ctx context.Context) (context.Context, func(), error) {
	if Entered(ctx, g) {
		g.rejected.Add(1)
		return ctx, func() {}, errors.ErrReentrantCall
	}

	if err := g.acquire(ctx); err != nil {
		return ctx, func() {}, err
	}

	var once atomic.Bool
	release := func() {
		if once.CompareAndSwap(false, true) {
			<-g.slot
		}
	}
	return context.WithValue(ctx, markerKey{g}, true), release, nil
}

func (g *Guard) acquire(ctx context.Context) error {
	for {
		calling := g.current()
		select {
		case g.slot <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-calling:
		}

		timer := time.NewTimer(g.wait)
		select {
		case g.slot <- struct{}{}:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if g.current() == calling {
			g.rejected.Add(1)
			return errors.Wrapf(errors.ErrReentrantCall, "guard held across an external call for over %s", g.wait)
		}
	}
}

func (g *Guard) current() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calling
}

// CallOut marks the holder as inside an external call until the returned
// func runs. Nested call-outs are folded into the outermost one.
func (g *Guard) CallOut() func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.out {
		return func() {}
	}
	g.out = true
	close(g.calling)

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			g.out = false
			g.calling = make(chan struct{})
		})
	}
}

// Entered reports whether ctx belongs to an operation currently holding g.
func Entered(ctx context.Context, g *Guard) bool {
	v, _ := ctx.Value(markerKey{g}).(bool)
	return v
}

// Rejected counts re-entrant attempts turned away since construction.
func (g *Guard) Rejected() int64 {
	return g.rejected.Load()
}
