package mapengine

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type manualTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// fire runs every live timer callback.
func (c *manualClock) fire() {
	c.mu.Lock()
	var fns []func()
	for _, t := range c.timers {
		if !t.stopped {
			t.stopped = true
			fns = append(fns, t.f)
		}
	}
	c.mu.Unlock()
	for _, f := range fns {
		f()
	}
}

// fireAll runs every callback, including stopped ones that lost the race.
func (c *manualClock) fireAll() {
	c.mu.Lock()
	fns := make([]func(), len(c.timers))
	for i, t := range c.timers {
		fns[i] = t.f
	}
	c.mu.Unlock()
	for _, f := range fns {
		f()
	}
}

type renderLog struct {
	mu    sync.Mutex
	calls []Fidelity
}

func (r *renderLog) render(f Fidelity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, f)
	return nil
}

func (r *renderLog) got() []Fidelity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Fidelity(nil), r.calls...)
}

func TestSchedulerDebounceCoalesces(t *testing.T) {
	clock := &manualClock{}
	var rl renderLog
	s := NewRenderScheduler(300*time.Millisecond, rl.render).WithAfterFunc(clock.AfterFunc)

	for range 5 {
		s.Tick()
	}
	if got := s.State(); got != StatePending {
		t.Errorf("state after ticks = %v, want pending", got)
	}
	live := 0
	for _, tm := range clock.timers {
		if tm.d != 300*time.Millisecond {
			t.Errorf("timer delay = %v, want 300ms", tm.d)
		}
		if !tm.stopped {
			live++
		}
	}
	if live != 1 {
		t.Errorf("%d live timers, want 1", live)
	}

	clock.fire()
	if got := rl.got(); len(got) != 1 || got[0] != FidelityDeferred {
		t.Errorf("renders = %v, want one deferred", got)
	}
	if got := s.State(); got != StateIdle {
		t.Errorf("state after commit = %v, want idle", got)
	}
}

func TestSchedulerStaleTimerIgnored(t *testing.T) {
	clock := &manualClock{}
	var rl renderLog
	s := NewRenderScheduler(time.Second, rl.render).WithAfterFunc(clock.AfterFunc)

	s.Tick()
	s.Tick()
	s.Tick()
	clock.fireAll()
	if got := rl.got(); len(got) != 1 {
		t.Errorf("renders = %v, want exactly one", got)
	}
}

func TestSchedulerGestureEnd(t *testing.T) {
	clock := &manualClock{}
	var rl renderLog
	s := NewRenderScheduler(300*time.Millisecond, rl.render).WithAfterFunc(clock.AfterFunc)

	s.Tick()
	s.GestureEnd()
	if got := rl.got(); len(got) != 1 || got[0] != FidelityFull {
		t.Fatalf("renders = %v, want one full render", got)
	}
	if got := s.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	// the cancelled debounce must not produce a second render
	clock.fireAll()
	if got := rl.got(); len(got) != 1 {
		t.Errorf("renders after stale fire = %v", got)
	}
}

func TestSchedulerRenderPanicIsolated(t *testing.T) {
	clock := &manualClock{}
	calls := 0
	render := func(Fidelity) error {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return nil
	}
	var errs []error
	s := NewRenderScheduler(time.Millisecond, render).WithAfterFunc(clock.AfterFunc)
	s.OnError = func(err error) { errs = append(errs, err) }

	s.Tick()
	clock.fire()
	if len(errs) != 1 {
		t.Fatalf("errors = %v, want one", errs)
	}
	if got := s.State(); got != StateIdle {
		t.Errorf("state after panic = %v, want idle", got)
	}

	s.Tick()
	clock.fire()
	if calls != 2 || len(errs) != 1 {
		t.Errorf("calls = %d errors = %d, want 2 and 1", calls, len(errs))
	}
}

func TestSchedulerRenderError(t *testing.T) {
	wantErr := errors.New("no data")
	var got error
	s := NewRenderScheduler(time.Millisecond, func(Fidelity) error { return wantErr })
	s.OnError = func(err error) { got = err }
	s.GestureEnd()
	if !errors.Is(got, wantErr) {
		t.Errorf("OnError got %v, want %v", got, wantErr)
	}
}

func TestSchedulerStop(t *testing.T) {
	clock := &manualClock{}
	var rl renderLog
	s := NewRenderScheduler(time.Millisecond, rl.render).WithAfterFunc(clock.AfterFunc)

	s.Tick()
	s.Stop()
	clock.fireAll()
	s.Tick()
	s.GestureEnd()
	if got := rl.got(); len(got) != 0 {
		t.Errorf("renders after Stop = %v, want none", got)
	}
	if len(clock.timers) != 1 {
		t.Errorf("%d timers scheduled, want 1", len(clock.timers))
	}
}

func TestSchedulerRealTimer(t *testing.T) {
	done := make(chan Fidelity, 4)
	s := NewRenderScheduler(10*time.Millisecond, func(f Fidelity) error {
		done <- f
		return nil
	})
	defer s.Stop()

	s.Tick()
	s.Tick()
	s.Tick()
	select {
	case f := <-done:
		if f != FidelityDeferred {
			t.Errorf("fidelity = %v, want deferred", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("debounced render never ran")
	}
	time.Sleep(50 * time.Millisecond)
	if n := len(done); n != 0 {
		t.Errorf("%d extra renders", n)
	}
}
