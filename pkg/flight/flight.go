// Package flight provides single-flight admission: at most one run is in
// progress at a time and concurrent requests are dropped, not queued.
package flight

import (
	"fmt"
	"sync/atomic"
)

// Guard admits one run at a time. The zero value is ready to use and a Guard
// must not be copied after first use.
type Guard struct {
	active   atomic.Bool
	rejected atomic.Uint64
}

// TryRun runs fn if no other run is active and reports whether it did.
// A call that finds a run in progress returns false immediately without
// blocking. The guard is released when fn returns or panics; a panic is
// re-raised after release.
func (g *Guard) TryRun(fn func()) bool {
	if !g.active.CompareAndSwap(false, true) {
		g.rejected.Add(1)
		return false
	}
	defer g.active.Store(false)
	fn()
	return true
}

// TryRunErr is TryRun for functions that can fail. A panic inside fn is
// recovered into the returned error.
func (g *Guard) TryRunErr(fn func() error) (ran bool, err error) {
	ran = g.TryRun(func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("flight: panic during run: %v", r)
			}
		}()
		err = fn()
	})
	return ran, err
}

// TryAcquire claims the guard for work that outlives the calling function,
// such as a goroutine. On success the caller must call release exactly once
// when the work ends.
func (g *Guard) TryAcquire() (release func(), ok bool) {
	if !g.active.CompareAndSwap(false, true) {
		g.rejected.Add(1)
		return nil, false
	}
	return func() { g.active.Store(false) }, true
}

// Active reports whether a run is in progress.
func (g *Guard) Active() bool {
	return g.active.Load()
}

// Rejected returns how many requests were dropped since the guard was
// created.
func (g *Guard) Rejected() uint64 {
	return g.rejected.Load()
}
