package mapengine

import (
	"image/color"
	"math"

	"github.com/sentinelcore/sentinel-stream/pkg/config"
	"github.com/sentinelcore/sentinel-stream/pkg/intel"
)

// maxGridSide bounds the density grid; the cell size grows past it.
const maxGridSide = 512

type HeatPoint struct {
	X, Y     float64
	Severity intel.Severity
}

// Contour is one iso-density level. Rings are closed (the last point connects
// back to the first) and should be filled with the even-odd rule.
type Contour struct {
	Threshold float64
	Rings     [][]Point
	Color     color.RGBA
}

// HeatmapEstimator turns event positions into severity-weighted density
// contours.
type HeatmapEstimator struct {
	BandwidthBase float64
	BandwidthMin  float64
	Thresholds    int
	CellSize      float64
	Weights       config.Weights
}

func NewHeatmapEstimator(c config.HeatmapConfig) HeatmapEstimator {
	return HeatmapEstimator{
		BandwidthBase: c.BandwidthBase,
		BandwidthMin:  c.BandwidthMin,
		Thresholds:    c.Thresholds,
		CellSize:      c.CellSize,
		Weights:       c.Weights,
	}
}

// Weight is the number of samples an event of severity s contributes.
func (h HeatmapEstimator) Weight(s intel.Severity) float64 {
	switch s {
	case intel.SeverityMedium:
		return h.Weights.Medium
	case intel.SeverityHigh:
		return h.Weights.High
	case intel.SeverityCritical:
		return h.Weights.Critical
	}
	return h.Weights.Low
}

// Bandwidth narrows with zoom so contours sharpen instead of blurring.
func (h HeatmapEstimator) Bandwidth(k float64) float64 {
	if k <= 0 || math.IsNaN(k) {
		k = 1
	}
	return math.Max(h.BandwidthMin, h.BandwidthBase/math.Sqrt(k))
}

// Estimate returns contours ordered from the lowest threshold to the highest.
// Zero points, or points that carry no weight, produce no contours.
func (h HeatmapEstimator) Estimate(points []HeatPoint, k float64) []Contour {
	if len(points) == 0 || h.Thresholds < 1 {
		return nil
	}
	g := h.density(points, h.Bandwidth(k))
	if g == nil || g.max <= 0 {
		return nil
	}

	levels := make([]float64, h.Thresholds)
	for i := range levels {
		levels[i] = g.max * float64(i+1) / float64(h.Thresholds+1)
	}
	top := levels[len(levels)-1]

	out := make([]Contour, 0, len(levels))
	for _, th := range levels {
		rings := g.isoRings(th)
		if len(rings) == 0 {
			continue
		}
		out = append(out, Contour{Threshold: th, Rings: rings, Color: Inferno(th / top)})
	}
	return out
}

type densityGrid struct {
	nx, ny int
	x0, y0 float64
	cell   float64
	v      []float64
	max    float64
}

func (g *densityGrid) at(i, j int) float64 { return g.v[j*g.nx+i] }

func (h HeatmapEstimator) density(points []HeatPoint, bw float64) *densityGrid {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	total := 0.0
	for _, p := range points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			continue
		}
		total += h.Weight(p.Severity)
		minX, minY = math.Min(minX, p.X), math.Min(minY, p.Y)
		maxX, maxY = math.Max(maxX, p.X), math.Max(maxY, p.Y)
	}
	if total <= 0 {
		return nil
	}

	cell := h.CellSize
	if cell <= 0 {
		cell = 4
	}
	cell = math.Max(1, math.Min(cell, bw/2))
	pad := 3*bw + 2*cell
	spanX, spanY := maxX-minX+2*pad, maxY-minY+2*pad
	if side := math.Max(spanX, spanY) / cell; side > maxGridSide {
		cell *= side / maxGridSide
	}

	g := &densityGrid{
		nx:   int(math.Ceil(spanX/cell)) + 1,
		ny:   int(math.Ceil(spanY/cell)) + 1,
		x0:   minX - pad,
		y0:   minY - pad,
		cell: cell,
	}
	g.v = make([]float64, g.nx*g.ny)

	// Bilinear splat keeps the surface continuous under sub-cell movement.
	for _, p := range points {
		w := h.Weight(p.Severity)
		if w <= 0 || math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			continue
		}
		fx, fy := (p.X-g.x0)/cell, (p.Y-g.y0)/cell
		i, j := int(fx), int(fy)
		tx, ty := fx-float64(i), fy-float64(j)
		g.add(i, j, w*(1-tx)*(1-ty))
		g.add(i+1, j, w*tx*(1-ty))
		g.add(i, j+1, w*(1-tx)*ty)
		g.add(i+1, j+1, w*tx*ty)
	}

	g.blur(bw / cell)

	// Zero the frame so every iso-line closes inside the grid.
	for i := 0; i < g.nx; i++ {
		g.v[i] = 0
		g.v[(g.ny-1)*g.nx+i] = 0
	}
	for j := 0; j < g.ny; j++ {
		g.v[j*g.nx] = 0
		g.v[j*g.nx+g.nx-1] = 0
	}
	for _, v := range g.v {
		g.max = math.Max(g.max, v)
	}
	return g
}

func (g *densityGrid) add(i, j int, w float64) {
	if i < 0 || j < 0 || i >= g.nx || j >= g.ny {
		return
	}
	g.v[j*g.nx+i] += w
}

// blur applies a separable Gaussian with standard deviation sigma (in cells).
func (g *densityGrid) blur(sigma float64) {
	if sigma <= 0 {
		return
	}
	r := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*r+1)
	sum := 0.0
	for i := -r; i <= r; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+r] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	tmp := make([]float64, len(g.v))
	for j := 0; j < g.ny; j++ {
		row := j * g.nx
		for i := 0; i < g.nx; i++ {
			acc := 0.0
			for d := -r; d <= r; d++ {
				if ii := i + d; ii >= 0 && ii < g.nx {
					acc += g.v[row+ii] * kernel[d+r]
				}
			}
			tmp[row+i] = acc
		}
	}
	for i := 0; i < g.nx; i++ {
		for j := 0; j < g.ny; j++ {
			acc := 0.0
			for d := -r; d <= r; d++ {
				if jj := j + d; jj >= 0 && jj < g.ny {
					acc += tmp[jj*g.nx+i] * kernel[d+r]
				}
			}
			g.v[j*g.nx+i] = acc
		}
	}
}

// Edge keys identify the grid edge a contour vertex sits on; horizontal edges
// are even and vertical edges odd, so two cells sharing an edge agree on it.
func (g *densityGrid) hKey(i, j int) int { return (j*g.nx + i) * 2 }
func (g *densityGrid) vKey(i, j int) int { return (j*g.nx+i)*2 + 1 }

func (g *densityGrid) edgePoint(key int, th float64) Point {
	n := key / 2
	i, j := n%g.nx, n/g.nx
	a := g.at(i, j)
	var b float64
	if key%2 == 0 {
		b = g.at(i+1, j)
	} else {
		b = g.at(i, j+1)
	}
	t := 0.5
	if d := b - a; d != 0 {
		t = clamp((th-a)/d, 0, 1)
	}
	x, y := g.x0+float64(i)*g.cell, g.y0+float64(j)*g.cell
	if key%2 == 0 {
		return Point{X: x + t*g.cell, Y: y}
	}
	return Point{X: x, Y: y + t*g.cell}
}

type segment struct{ a, b int }

// isoRings runs marching squares at threshold th and stitches the segments
// into closed rings through their shared edge keys.
func (g *densityGrid) isoRings(th float64) [][]Point {
	var segs []segment
	for j := 0; j < g.ny-1; j++ {
		for i := 0; i < g.nx-1; i++ {
			tl, tr := g.at(i, j), g.at(i+1, j)
			bl, br := g.at(i, j+1), g.at(i+1, j+1)
			c := 0
			if tl >= th {
				c |= 8
			}
			if tr >= th {
				c |= 4
			}
			if br >= th {
				c |= 2
			}
			if bl >= th {
				c |= 1
			}
			if c == 0 || c == 15 {
				continue
			}
			top, bottom := g.hKey(i, j), g.hKey(i, j+1)
			left, right := g.vKey(i, j), g.vKey(i+1, j)
			centreHigh := (tl+tr+bl+br)/4 >= th
			switch c {
			case 1, 14:
				segs = append(segs, segment{left, bottom})
			case 2, 13:
				segs = append(segs, segment{bottom, right})
			case 3, 12:
				segs = append(segs, segment{left, right})
			case 4, 11:
				segs = append(segs, segment{top, right})
			case 6, 9:
				segs = append(segs, segment{top, bottom})
			case 7, 8:
				segs = append(segs, segment{left, top})
			case 5:
				if centreHigh {
					segs = append(segs, segment{left, top}, segment{bottom, right})
				} else {
					segs = append(segs, segment{top, right}, segment{left, bottom})
				}
			case 10:
				if centreHigh {
					segs = append(segs, segment{top, right}, segment{left, bottom})
				} else {
					segs = append(segs, segment{left, top}, segment{bottom, right})
				}
			}
		}
	}
	if len(segs) == 0 {
		return nil
	}

	byKey := make(map[int][]int, len(segs)*2)
	for si, s := range segs {
		byKey[s.a] = append(byKey[s.a], si)
		byKey[s.b] = append(byKey[s.b], si)
	}
	used := make([]bool, len(segs))
	var rings [][]Point
	for si := range segs {
		if used[si] {
			continue
		}
		used[si] = true
		start, cur := segs[si].a, segs[si].b
		keys := []int{start, cur}
		for cur != start {
			next := -1
			for _, cand := range byKey[cur] {
				if !used[cand] {
					next = cand
					break
				}
			}
			if next < 0 {
				break
			}
			used[next] = true
			if segs[next].a == cur {
				cur = segs[next].b
			} else {
				cur = segs[next].a
			}
			if cur != start {
				keys = append(keys, cur)
			}
		}
		if len(keys) < 3 {
			continue
		}
		ring := make([]Point, len(keys))
		for i, k := range keys {
			ring[i] = g.edgePoint(k, th)
		}
		rings = append(rings, ring)
	}
	return rings
}

// ContourContains reports whether p is inside the contour using the even-odd
// rule across all rings.
func ContourContains(c Contour, p Point) bool {
	inside := false
	for _, ring := range c.Rings {
		n := len(ring)
		for i, j := 0, n-1; i < n; j, i = i, i+1 {
			a, b := ring[i], ring[j]
			if (a.Y > p.Y) != (b.Y > p.Y) && p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
				inside = !inside
			}
		}
	}
	return inside
}
