package flight

import (
	"errors"
	"sync"
	"testing"
)

func TestTryRunRuns(t *testing.T) {
	var g Guard
	called := false
	if !g.TryRun(func() { called = true }) {
		t.Fatal("TryRun() = false on idle guard")
	}
	if !called {
		t.Error("fn was not called")
	}
	if g.Active() {
		t.Error("guard still active after run")
	}
}

func TestTryRunRejectsConcurrent(t *testing.T) {
	var g Guard
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan bool)

	go func() {
		done <- g.TryRun(func() {
			close(started)
			<-release
		})
	}()
	<-started

	secondCalled := false
	if g.TryRun(func() { secondCalled = true }) {
		t.Error("second TryRun() = true while first is active")
	}
	if secondCalled {
		t.Error("second fn ran while first is active")
	}
	if g.Rejected() != 1 {
		t.Errorf("Rejected() = %d, want 1", g.Rejected())
	}

	close(release)
	if !<-done {
		t.Error("first TryRun() = false")
	}
	if !g.TryRun(func() {}) {
		t.Error("TryRun() after completion = false")
	}
}

func TestTryRunRejectsReentrant(t *testing.T) {
	var g Guard
	inner := true
	g.TryRun(func() {
		inner = g.TryRun(func() {})
	})
	if inner {
		t.Error("reentrant TryRun() = true")
	}
}

func TestTryRunReleasesOnPanic(t *testing.T) {
	var g Guard
	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		g.TryRun(func() { panic("boom") })
	}()
	if g.Active() {
		t.Fatal("guard still active after panic")
	}
	if !g.TryRun(func() {}) {
		t.Error("TryRun() after panic = false")
	}
}

func TestTryRunErr(t *testing.T) {
	var g Guard
	want := errors.New("failed")

	ran, err := g.TryRunErr(func() error { return want })
	if !ran || !errors.Is(err, want) {
		t.Errorf("TryRunErr() = %v, %v; want true, %v", ran, err, want)
	}

	ran, err = g.TryRunErr(func() error { panic("boom") })
	if !ran || err == nil {
		t.Errorf("TryRunErr() with panic = %v, %v; want true, error", ran, err)
	}
	if g.Active() {
		t.Error("guard still active after recovered panic")
	}
}

func TestTryRunManyGoroutines(t *testing.T) {
	var g Guard
	release := make(chan struct{})
	started := make(chan struct{})
	go g.TryRun(func() {
		close(started)
		<-release
	})
	<-started

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryRun(func() {}) {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(release)

	if accepted != 0 {
		t.Errorf("%d requests admitted while a run was active", accepted)
	}
}

func TestTryAcquire(t *testing.T) {
	var g Guard
	release, ok := g.TryAcquire()
	if !ok {
		t.Fatal("TryAcquire() on an idle guard failed")
	}
	if !g.Active() {
		t.Error("guard should be active while held")
	}
	if g.TryRun(func() {}) {
		t.Error("TryRun admitted while the guard was held")
	}
	if _, ok := g.TryAcquire(); ok {
		t.Error("second TryAcquire admitted while held")
	}
	if g.Rejected() != 2 {
		t.Errorf("Rejected() = %d, want 2", g.Rejected())
	}

	release()
	if g.Active() {
		t.Error("guard still active after release")
	}
	if !g.TryRun(func() {}) {
		t.Error("TryRun rejected after release")
	}
}
