package mapengine

import (
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
)

type Fidelity int

const (
	// FidelityDeferred is a quiescence render after a burst of ticks.
	FidelityDeferred Fidelity = iota
	// FidelityFull is the forced render when a gesture is released.
	FidelityFull
)

func (f Fidelity) String() string {
	if f == FidelityFull {
		return "full"
	}
	return "deferred"
}

type SchedulerState int

const (
	StateIdle SchedulerState = iota
	StatePending
	StateCommitting
)

func (s SchedulerState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCommitting:
		return "committing"
	}
	return "idle"
}

// RenderFunc recomputes the map layers at the requested fidelity.
type RenderFunc func(Fidelity) error

// Timer is the subset of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFuncFactory schedules f after d. time.AfterFunc satisfies it once
// wrapped; tests substitute a manual clock.
type AfterFuncFactory func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RenderScheduler debounces recomputes during continuous pan and zoom input
// and forces a full render once the gesture ends.
type RenderScheduler struct {
	debounce  time.Duration
	render    RenderFunc
	afterFunc AfterFuncFactory

	mu      sync.Mutex
	state   SchedulerState
	timer   Timer
	gen     uint64
	stopped bool

	// commits are serialised so a timer firing during a gesture-end render
	// waits rather than interleaving
	commitMu sync.Mutex

	OnError func(error)
}

func NewRenderScheduler(debounce time.Duration, render RenderFunc) *RenderScheduler {
	return &RenderScheduler{debounce: debounce, render: render, afterFunc: realAfterFunc}
}

// WithAfterFunc replaces the timer source.
func (s *RenderScheduler) WithAfterFunc(f AfterFuncFactory) *RenderScheduler {
	s.afterFunc = f
	return s
}

func (s *RenderScheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tick records one unit of gesture input. Any pending render is pushed back by
// the full debounce window.
func (s *RenderScheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.state = StatePending
	s.timer = s.afterFunc(s.debounce, func() { s.fire(gen) })
}

// GestureEnd cancels any pending render and recomputes at full fidelity
// before returning.
func (s *RenderScheduler) GestureEnd() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	gen := s.gen
	s.state = StateCommitting
	s.mu.Unlock()

	s.commit(gen, FidelityFull)
}

// Stop cancels any pending render. Later calls to Tick and GestureEnd do
// nothing.
func (s *RenderScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.state = StateIdle
}

func (s *RenderScheduler) fire(gen uint64) {
	s.mu.Lock()
	// A stopped timer may still fire if it raced Stop; the generation tells.
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.state = StateCommitting
	s.mu.Unlock()

	s.commit(gen, FidelityDeferred)
}

func (s *RenderScheduler) commit(gen uint64, f Fidelity) {
	s.commitMu.Lock()
	err := s.safeRender(f)
	s.commitMu.Unlock()

	if err != nil {
		log.WithError(err).WithField("fidelity", f.String()).Error("[scheduler] render failed")
		if s.OnError != nil {
			s.OnError(err)
		}
	}

	s.mu.Lock()
	if gen == s.gen && s.state == StateCommitting {
		s.state = StateIdle
	}
	s.mu.Unlock()
}

func (s *RenderScheduler) safeRender(f Fidelity) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render panicked: %v", r)
		}
	}()
	if s.render == nil {
		return nil
	}
	return s.render(f)
}
