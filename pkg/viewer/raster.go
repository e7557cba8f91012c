package viewer

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sort"

	"github.com/sentinelcore/sentinel-stream/pkg/mapengine"
)

var (
	colorWater        = color.RGBA{8, 10, 15, 255}
	colorLand         = color.RGBA{26, 29, 35, 255}
	colorLandSelected = color.RGBA{30, 41, 59, 255}
	colorOutline      = color.RGBA{36, 42, 53, 255}
	colorSubregion    = color.RGBA{56, 66, 83, 255}
)

// heatOpacity is applied per contour band, so overlapping bands build up
// towards the hot spots.
const heatOpacity = 0.3

// projectRings turns GeoJSON rings ([lng, lat] pairs) into screen rings.
func projectRings(poly [][][]float64, p mapengine.Projector, t mapengine.Transform) [][]mapengine.Point {
	out := make([][]mapengine.Point, 0, len(poly))
	for _, ring := range poly {
		pts := make([]mapengine.Point, 0, len(ring))
		for _, c := range ring {
			if len(c) < 2 {
				continue
			}
			x, y := p.ProjectScreen(c[1], c[0], t)
			pts = append(pts, mapengine.Point{X: x, Y: y})
		}
		if len(pts) >= 3 {
			out = append(out, pts)
		}
	}
	return out
}

// fillRings fills the rings with the even-odd rule, sampling each scanline at
// the pixel centre.
func fillRings(img *image.RGBA, rings [][]mapengine.Point, c color.RGBA, alpha float64) {
	if len(rings) == 0 {
		return
	}
	bounds := img.Bounds()
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, ring := range rings {
		for _, p := range ring {
			minY = math.Min(minY, p.Y)
			maxY = math.Max(maxY, p.Y)
		}
	}
	y0 := max(int(math.Floor(minY)), bounds.Min.Y)
	y1 := min(int(math.Ceil(maxY)), bounds.Max.Y-1)

	var nodes []float64
	for y := y0; y <= y1; y++ {
		fy := float64(y) + 0.5
		nodes = nodes[:0]
		for _, ring := range rings {
			for i := range ring {
				a, b := ring[i], ring[(i+1)%len(ring)]
				if (a.Y < fy && b.Y >= fy) || (b.Y < fy && a.Y >= fy) {
					nodes = append(nodes, a.X+(fy-a.Y)/(b.Y-a.Y)*(b.X-a.X))
				}
			}
		}
		sort.Float64s(nodes)
		for i := 0; i+1 < len(nodes); i += 2 {
			xs := max(int(math.Round(nodes[i])), bounds.Min.X)
			xe := min(int(math.Round(nodes[i+1])), bounds.Max.X)
			for x := xs; x < xe; x++ {
				blendPixel(img, x, y, c, alpha)
			}
		}
	}
}

// blendPixel composites c at the given opacity over the premultiplied pixel.
func blendPixel(img *image.RGBA, x, y int, c color.RGBA, alpha float64) {
	off := img.PixOffset(x, y)
	px := img.Pix[off : off+4 : off+4]
	if alpha >= 1 {
		px[0], px[1], px[2], px[3] = c.R, c.G, c.B, 255
		return
	}
	inv := 1 - alpha
	px[0] = uint8(float64(c.R)*alpha + float64(px[0])*inv)
	px[1] = uint8(float64(c.G)*alpha + float64(px[1])*inv)
	px[2] = uint8(float64(c.B)*alpha + float64(px[2])*inv)
	px[3] = uint8(255*alpha + float64(px[3])*inv)
}

// strokeRing draws the closed outline of ring with Bresenham lines.
func strokeRing(img *image.RGBA, ring []mapengine.Point, c color.RGBA) {
	for i := range ring {
		a, b := ring[i], ring[(i+1)%len(ring)]
		drawLine(img, int(a.X), int(a.Y), int(b.X), int(b.Y), c)
	}
}

func drawLine(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	bounds := img.Bounds()
	// skip segments that lie entirely off one side of the canvas
	if (x1 < bounds.Min.X && x2 < bounds.Min.X) || (x1 >= bounds.Max.X && x2 >= bounds.Max.X) ||
		(y1 < bounds.Min.Y && y2 < bounds.Min.Y) || (y1 >= bounds.Max.Y && y2 >= bounds.Max.Y) {
		return
	}
	dx, dy := abs(x2-x1), abs(y2-y1)
	sx, sy := -1, -1
	if x1 < x2 {
		sx = 1
	}
	if y1 < y2 {
		sy = 1
	}
	err := dx - dy
	for {
		if image.Pt(x1, y1).In(bounds) {
			blendPixel(img, x1, y1, c, 1)
		}
		if x1 == x2 && y1 == y2 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// basemap is what renderBasemap needs besides the projection.
type basemap struct {
	World      *mapengine.RegionIndex
	Subregions *mapengine.RegionIndex
	Selected   string
}

func renderBasemap(m basemap, p mapengine.Projector, t mapengine.Transform, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{colorWater}, image.Point{}, draw.Src)
	if m.World == nil {
		return img
	}
	view := mapengine.Bounds{Max: mapengine.Point{X: float64(w), Y: float64(h)}}
	for _, r := range m.World.Regions() {
		if !visible(r.ProjectedBounds(p), t, view) {
			continue
		}
		fill := colorLand
		if r.Name == m.Selected {
			fill = colorLandSelected
		}
		for _, poly := range r.Polygons {
			rings := projectRings(poly, p, t)
			fillRings(img, rings, fill, 1)
			for _, ring := range rings {
				strokeRing(img, ring, colorOutline)
			}
		}
	}
	if m.Subregions != nil {
		for _, r := range m.Subregions.Regions() {
			for _, poly := range r.Polygons {
				for _, ring := range projectRings(poly, p, t) {
					strokeRing(img, ring, colorSubregion)
				}
			}
		}
	}
	return img
}

// visible reports whether map-space bounds b intersect the screen under t.
func visible(b mapengine.Bounds, t mapengine.Transform, view mapengine.Bounds) bool {
	if b.Empty() {
		return false
	}
	x0, y0 := t.Apply(b.Min.X, b.Min.Y)
	x1, y1 := t.Apply(b.Max.X, b.Max.Y)
	return x1 >= view.Min.X && x0 <= view.Max.X && y1 >= view.Min.Y && y0 <= view.Max.Y
}

// renderHeat rasterises contour bands onto a transparent canvas, lowest
// threshold first.
func renderHeat(contours []mapengine.Contour, t mapengine.Transform, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for _, c := range contours {
		rings := make([][]mapengine.Point, 0, len(c.Rings))
		for _, ring := range c.Rings {
			pts := make([]mapengine.Point, len(ring))
			for i, p := range ring {
				x, y := t.Apply(p.X, p.Y)
				pts[i] = mapengine.Point{X: x, Y: y}
			}
			rings = append(rings, pts)
		}
		fillRings(img, rings, c.Color, heatOpacity)
	}
	return img
}

// relativeTransform maps screen positions rendered under from onto where the
// same map point sits under to: screen' = s*screen + (tx, ty).
func relativeTransform(from, to mapengine.Transform) (s, tx, ty float64) {
	fk := from.K
	if fk <= 0 {
		fk = 1
	}
	s = to.K / fk
	return s, to.X - from.X*s, to.Y - from.Y*s
}
