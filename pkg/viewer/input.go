package viewer

import (
	"math"
	"time"
)

const (
	// dragThreshold separates a click from the start of a pan, in pixels.
	dragThreshold = 4.0
	// wheelIdle is how long the wheel must rest before a zoom gesture ends.
	wheelIdle = 150 * time.Millisecond
	// wheelStep is the zoom factor for one wheel notch.
	wheelStep = 1.2
)

// gesture turns raw pointer samples into pans, clicks and gesture ends.
type gesture struct {
	pressed  bool
	dragging bool
	startX   float64
	startY   float64
	lastX    float64
	lastY    float64

	wheeling  bool
	lastWheel time.Time
}

func (g *gesture) press(x, y float64) {
	g.pressed, g.dragging = true, false
	g.startX, g.startY = x, y
	g.lastX, g.lastY = x, y
}

// move returns the pan delta since the previous sample once the pointer has
// left the click threshold.
func (g *gesture) move(x, y float64) (dx, dy float64, ok bool) {
	if !g.pressed {
		return 0, 0, false
	}
	if !g.dragging {
		if math.Hypot(x-g.startX, y-g.startY) < dragThreshold {
			return 0, 0, false
		}
		g.dragging = true
	}
	dx, dy = x-g.lastX, y-g.lastY
	g.lastX, g.lastY = x, y
	return dx, dy, dx != 0 || dy != 0
}

// release ends the press. click is true when the pointer never left the
// threshold; ended is true when a drag finished.
func (g *gesture) release() (click, ended bool) {
	if !g.pressed {
		return false, false
	}
	click, ended = !g.dragging, g.dragging
	g.pressed, g.dragging = false, false
	return click, ended
}

// wheel returns the zoom factor for a wheel offset.
func (g *gesture) wheel(offset float64, now time.Time) float64 {
	g.wheeling = true
	g.lastWheel = now
	return math.Pow(wheelStep, offset)
}

// wheelEnded reports, once, that the wheel has rested long enough to treat the
// zoom as finished.
func (g *gesture) wheelEnded(now time.Time) bool {
	if !g.wheeling || now.Sub(g.lastWheel) < wheelIdle {
		return false
	}
	g.wheeling = false
	return true
}
