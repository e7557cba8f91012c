package mapengine

import (
	"image/color"
	"math"
	"slices"
	"strconv"

	"github.com/sentinelcore/sentinel-stream/pkg/intel"
)

// ProjectedPoint is an event placed on the map for the current pass.
type ProjectedPoint struct {
	Event *intel.Event
	X, Y  float64
}

type Cluster struct {
	X, Y    float64
	Count   int
	Members []ProjectedPoint
}

type ClusterResult struct {
	Clusters    []Cluster
	Unclustered []ProjectedPoint
}

// ClusterEngine groups nearby points into clusters. The radius is given at
// zoom 1 and shrinks as R/k when zooming in.
type ClusterEngine struct {
	Radius    float64
	MinPoints int
	MinVolume int
}

func NewClusterEngine(radius float64, minPoints, minVolume int) ClusterEngine {
	return ClusterEngine{Radius: radius, MinPoints: minPoints, MinVolume: minVolume}
}

// Cluster partitions points at zoom k. Points are claimed greedily in input
// order, so the result is deterministic for a given input slice.
func (c ClusterEngine) Cluster(points []ProjectedPoint, k float64) ClusterResult {
	if len(points) == 0 {
		return ClusterResult{}
	}
	if len(points) < c.MinVolume {
		return ClusterResult{Unclustered: append([]ProjectedPoint(nil), points...)}
	}
	if k <= 0 || math.IsNaN(k) {
		k = 1
	}
	radius := c.Radius / k
	minPoints := max(c.MinPoints, 1)

	pts := make([]Point, len(points))
	for i, p := range points {
		pts[i] = Point{X: p.X, Y: p.Y}
	}
	tree := NewQuadtree(pts)

	assigned := make([]bool, len(points))
	var res ClusterResult
	var nearby []int
	for i := range points {
		if assigned[i] {
			continue
		}
		nearby = nearby[:0]
		tree.Within(pts[i], radius, func(idx int) {
			if !assigned[idx] {
				nearby = append(nearby, idx)
			}
		})
		if len(nearby) < minPoints {
			continue
		}
		slices.Sort(nearby)

		cl := Cluster{Count: len(nearby), Members: make([]ProjectedPoint, 0, len(nearby))}
		var sx, sy float64
		for _, idx := range nearby {
			assigned[idx] = true
			cl.Members = append(cl.Members, points[idx])
			sx += points[idx].X
			sy += points[idx].Y
		}
		cl.X = sx / float64(len(nearby))
		cl.Y = sy / float64(len(nearby))
		res.Clusters = append(res.Clusters, cl)
	}
	for i, p := range points {
		if !assigned[i] {
			res.Unclustered = append(res.Unclustered, p)
		}
	}
	return res
}

// ClusterLabel abbreviates a member count for display.
func ClusterLabel(count int) string {
	switch {
	case count >= 1000:
		s := strconv.FormatFloat(math.Floor(float64(count)/100)/10, 'f', 1, 64)
		if len(s) > 2 && s[len(s)-2:] == ".0" {
			s = s[:len(s)-2]
		}
		return s + "k"
	case count > 99:
		return "99+"
	}
	return strconv.Itoa(count)
}

var (
	ClusterSmall   = color.RGBA{0x3b, 0x82, 0xf6, 0xff}
	ClusterMedium  = color.RGBA{0x8b, 0x5c, 0xf6, 0xff}
	ClusterLarge   = color.RGBA{0xec, 0x48, 0x99, 0xff}
	ClusterMassive = color.RGBA{0xef, 0x44, 0x44, 0xff}
)

func ClusterColor(count int) color.RGBA {
	switch {
	case count < 10:
		return ClusterSmall
	case count < 50:
		return ClusterMedium
	case count < 100:
		return ClusterLarge
	}
	return ClusterMassive
}

// ClusterRadiusPx is the marker radius in map units for a cluster of count
// members drawn at zoom k.
func ClusterRadiusPx(count int, k float64) float64 {
	if k <= 0 {
		k = 1
	}
	return (15 + 5*math.Log(float64(max(count, 1)))) / math.Sqrt(k)
}
