// Package mapengine is the rendering-independent core of the situational map:
// projection and pan/zoom transforms, clustering, the severity-weighted heat
// layer, region lookup and the debounced render scheduler.
package mapengine

import "math"

// maxMercatorLat is where the Mercator y coordinate reaches the square world.
const maxMercatorLat = 85.05112878

type Point struct {
	X, Y float64
}

// Projector is a Mercator projection with a fixed scale and an origin at
// (Width/2, Height/1.4), which keeps the populated northern hemisphere in view
// on a landscape viewport.
type Projector struct {
	Width, Height float64
	Scale         float64
}

func NewProjector(width, height, scale float64) Projector {
	return Projector{Width: width, Height: height, Scale: scale}
}

func (p Projector) origin() (float64, float64) {
	return p.Width / 2, p.Height / 1.4
}

// Project maps a geographic coordinate into map space. Latitudes beyond the
// Mercator limit are clamped so the poles stay finite.
func (p Projector) Project(lat, lng float64) (x, y float64) {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		lat, lng = 0, 0
	}
	if lat > maxMercatorLat {
		lat = maxMercatorLat
	}
	if lat < -maxMercatorLat {
		lat = -maxMercatorLat
	}
	tx, ty := p.origin()
	lambda := lng * math.Pi / 180
	phi := lat * math.Pi / 180
	x = tx + p.Scale*lambda
	y = ty - p.Scale*math.Log(math.Tan(math.Pi/4+phi/2))
	return x, y
}

// Invert maps a map-space point back to latitude and longitude.
func (p Projector) Invert(x, y float64) (lat, lng float64) {
	tx, ty := p.origin()
	lambda := (x - tx) / p.Scale
	phi := 2*math.Atan(math.Exp((ty-y)/p.Scale)) - math.Pi/2
	return phi * 180 / math.Pi, lambda * 180 / math.Pi
}

// Transform is the pan/zoom affine: screen = map*K + (X, Y).
type Transform struct {
	X, Y float64
	K    float64
}

var Identity = Transform{K: 1}

func (t Transform) scale() float64 {
	if t.K <= 0 {
		return 1
	}
	return t.K
}

func (t Transform) Apply(x, y float64) (float64, float64) {
	k := t.scale()
	return x*k + t.X, y*k + t.Y
}

func (t Transform) Invert(sx, sy float64) (float64, float64) {
	k := t.scale()
	return (sx - t.X) / k, (sy - t.Y) / k
}

// Translate pans by a screen-space delta.
func (t Transform) Translate(dx, dy float64) Transform {
	return Transform{X: t.X + dx, Y: t.Y + dy, K: t.scale()}
}

// ScaleAround zooms by factor keeping the screen point (ax, ay) fixed. The
// resulting scale is clamped to [minK, maxK].
func (t Transform) ScaleAround(factor, ax, ay, minK, maxK float64) Transform {
	k := clamp(t.scale()*factor, minK, maxK)
	mx, my := t.Invert(ax, ay)
	return Transform{X: ax - mx*k, Y: ay - my*k, K: k}
}

// ProjectScreen projects a coordinate all the way to screen space.
func (p Projector) ProjectScreen(lat, lng float64, t Transform) (float64, float64) {
	return t.Apply(p.Project(lat, lng))
}

// InvertScreen is the hit-testing inverse of ProjectScreen.
func (p Projector) InvertScreen(sx, sy float64, t Transform) (lat, lng float64) {
	return p.Invert(t.Invert(sx, sy))
}

// Bounds is an axis-aligned map-space rectangle.
type Bounds struct {
	Min, Max Point
}

func (b Bounds) Empty() bool {
	return b.Max.X < b.Min.X || b.Max.Y < b.Min.Y
}

func (b Bounds) Center() Point {
	return Point{X: (b.Min.X + b.Max.X) / 2, Y: (b.Min.Y + b.Max.Y) / 2}
}

// ZoomToBounds centres b in a width x height viewport, scaled so it fills the
// given fraction of the tighter axis and never beyond maxK.
func ZoomToBounds(b Bounds, width, height, fill, maxK float64) Transform {
	dx, dy := b.Max.X-b.Min.X, b.Max.Y-b.Min.Y
	ratio := math.Max(dx/width, dy/height)
	k := maxK
	if ratio > 0 {
		k = math.Min(maxK, fill/ratio)
	}
	c := b.Center()
	return Transform{X: width/2 - k*c.X, Y: height/2 - k*c.Y, K: k}
}

// ZoomToPoint centres the map-space point (x, y) at scale k.
func ZoomToPoint(x, y, k, width, height float64) Transform {
	return Transform{X: width/2 - k*x, Y: height/2 - k*y, K: k}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
